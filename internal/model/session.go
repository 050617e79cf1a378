package model

import "time"

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionSucceeded SessionStatus = "succeeded"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
	SessionTimedOut  SessionStatus = "timed_out"
)

// OAuthSession is the correlation state of one in-flight authorization.
// It lives only in process memory.
type OAuthSession struct {
	CorrelationID string        `json:"correlationId"`
	Platform      Platform      `json:"platform"`
	Slot          string        `json:"slot"`
	OpenedAt      time.Time     `json:"openedAt"`
	Status        SessionStatus `json:"status"`
}

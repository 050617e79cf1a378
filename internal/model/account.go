// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Platform identifies a social network.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTwitter   Platform = "twitter"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{
	PlatformFacebook,
	PlatformInstagram,
	PlatformYouTube,
	PlatformLinkedIn,
	PlatformTwitter,
}

// ParsePlatform normalizes a platform name. "x" is accepted for twitter.
func ParsePlatform(s string) (Platform, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "x" {
		s = string(PlatformTwitter)
	}
	for _, p := range Platforms {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

type AccountType string

const (
	AccountTypePersonal     AccountType = "personal"
	AccountTypeOrganization AccountType = "organization"
)

type TokenType string

const (
	TokenShortLived        TokenType = "short_lived"
	TokenLongLived         TokenType = "long_lived"
	TokenNeverExpiringPage TokenType = "never_expiring_page_token"
)

type TokenStatus string

const (
	TokenActive           TokenStatus = "active"
	TokenInvalidUserToken TokenStatus = "invalid_user_token"
	TokenInvalidPageToken TokenStatus = "invalid_page_token"
	TokenExpired          TokenStatus = "expired"
)

// Profile is the display identity of a connected account.
type Profile struct {
	Name       string `json:"name"`
	Headline   string `json:"headline,omitempty"`
	Email      string `json:"email,omitempty"`
	PictureURL string `json:"pictureUrl,omitempty"`
}

// Page is a Facebook Page managed by the account. Each page carries its own
// page-scoped token.
type Page struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category,omitempty"`
	AccessToken    string    `json:"accessToken,omitempty"`
	TokenType      TokenType `json:"tokenType,omitempty"`
	PictureURL     string    `json:"pictureUrl,omitempty"`
	FollowersCount int64     `json:"followersCount"`
}

// Channel is a YouTube channel owned by the account.
type Channel struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	ThumbnailURL    string `json:"thumbnailUrl,omitempty"`
	SubscriberCount int64  `json:"subscriberCount"`
	VideoCount      int64  `json:"videoCount"`
	ViewCount       int64  `json:"viewCount"`
}

// ConnectedAccount is one external social identity bound to a customer.
//
// ID is unique per (customer, platform). Organization accounts use
// "<platform>_<organizationId>"; personal accounts use the provider user id.
// Pages and Channels are never nil so they serialise as [].
type ConnectedAccount struct {
	ID                string      `json:"id"`
	Platform          Platform    `json:"platform"`
	AccountType       AccountType `json:"accountType"`
	Token             string      `json:"token"`
	TokenType         TokenType   `json:"tokenType"`
	TokenExpiresAt    *time.Time  `json:"tokenExpiresAt"`
	OrganizationID    string      `json:"organizationId,omitempty"`
	Profile           Profile     `json:"profile"`
	Pages             []Page      `json:"pages"`
	Channels          []Channel   `json:"channels"`
	ConnectedAt       time.Time   `json:"connectedAt"`
	LastRefreshed     time.Time   `json:"lastRefreshed"`
	NeedsReconnection bool        `json:"needsReconnection"`
	TokenStatus       TokenStatus `json:"tokenStatus"`
	RefreshError      *string     `json:"refreshError"`
}

// Clone returns a deep copy, so callers can mutate without touching
// registry state.
func (a ConnectedAccount) Clone() ConnectedAccount {
	out := a
	out.Pages = append(make([]Page, 0, len(a.Pages)), a.Pages...)
	out.Channels = append(make([]Channel, 0, len(a.Channels)), a.Channels...)
	if a.TokenExpiresAt != nil {
		t := *a.TokenExpiresAt
		out.TokenExpiresAt = &t
	}
	if a.RefreshError != nil {
		s := *a.RefreshError
		out.RefreshError = &s
	}
	return out
}

// RawAccount is a provider-shaped (or previously persisted) account payload
// before normalization.
type RawAccount map[string]any

// IngestResult reports what happened to each raw account offered to the
// registry. AlreadyConnected is informational, not a failure.
type IngestResult struct {
	Added            []ConnectedAccount `json:"added"`
	AlreadyConnected []ConnectedAccount `json:"alreadyConnected"`
	Failed           []IngestFailure    `json:"failed"`
}

// IngestFailure is one account that could not be normalized or persisted.
type IngestFailure struct {
	ID       string   `json:"id,omitempty"`
	Platform Platform `json:"platform,omitempty"`
	Message  string   `json:"message"`
	Err      error    `json:"-"`
}

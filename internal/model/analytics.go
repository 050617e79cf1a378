package model

import "time"

// PostMetrics is the engagement snapshot of a single post.
type PostMetrics struct {
	LikeCount              int64   `json:"likeCount"`
	CommentCount           int64   `json:"commentCount"`
	ShareCount             int64   `json:"shareCount"`
	ImpressionCount        int64   `json:"impressionCount"`
	UniqueImpressionsCount int64   `json:"uniqueImpressionsCount"`
	ClickCount             int64   `json:"clickCount"`
	Engagement             float64 `json:"engagement"`
	Liked                  bool    `json:"liked"`
}

// CacheEntry memoizes PostMetrics per (AccountID, PostID).
type CacheEntry struct {
	AccountID string      `json:"accountId"`
	PostID    string      `json:"postId"`
	Metrics   PostMetrics `json:"metrics"`
	CachedAt  time.Time   `json:"cachedAt"`
}

// RateLimitState is the persisted cooldown of one integration surface.
type RateLimitState struct {
	Surface   string    `json:"surface"`
	IsLimited bool      `json:"isLimited"`
	ResetAt   time.Time `json:"resetAt"`
}

// Active reports whether the cooldown still applies at now.
func (s RateLimitState) Active(now time.Time) bool {
	return s.IsLimited && now.Before(s.ResetAt)
}

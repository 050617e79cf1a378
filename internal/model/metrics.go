package model

import "time"

// PlatformDataset is the raw input of the aggregator for one account:
// the provider-shaped account info and its posts.
type PlatformDataset struct {
	Platform    Platform         `json:"platform"`
	AccountID   string           `json:"accountId,omitempty"`
	AccountInfo map[string]any   `json:"accountInfo"`
	Posts       []map[string]any `json:"posts"`
}

// Post is the canonical engagement view of one content item.
type Post struct {
	ID        string    `json:"id"`
	Platform  Platform  `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
	Likes     int64     `json:"likes"`
	Comments  int64     `json:"comments"`
	Shares    int64     `json:"shares"`
	Views     int64     `json:"views"`
}

// Engagement is likes + comments + shares.
func (p Post) Engagement() int64 {
	return p.Likes + p.Comments + p.Shares
}

type Summary struct {
	Followers            int64   `json:"followers"`
	Posts                int64   `json:"posts"`
	TotalEngagement      int64   `json:"totalEngagement"`
	TotalViews           int64   `json:"totalViews"`
	EngagementRate       float64 `json:"engagementRate"`
	RateCapped           bool    `json:"rateCapped"`
	AvgEngagementPerPost int64   `json:"avgEngagementPerPost"`
}

type PlatformSummary struct {
	Platform Platform `json:"platform"`
	Accounts int      `json:"accounts"`
	Summary
	Growth GrowthMetrics `json:"growth"`
}

type GrowthMetrics struct {
	FirstHalfMean    float64 `json:"firstHalfMean"`
	SecondHalfMean   float64 `json:"secondHalfMean"`
	EngagementGrowth float64 `json:"engagementGrowth"`
	Improvement      bool    `json:"improvement"`
}

// ValueReport is the linear ROI model shown in the value report view.
type ValueReport struct {
	ReachValue   float64 `json:"reachValue"`
	BrandValue   float64 `json:"brandValue"`
	ContentValue float64 `json:"contentValue"`
	TotalValue   float64 `json:"totalValue"`
	MonthlyFee   float64 `json:"monthlyFee"`
	ROIPercent   float64 `json:"roiPercent"`
}

type AggregatedMetrics struct {
	Platforms []PlatformSummary `json:"platforms"`
	Total     Summary           `json:"total"`
	Growth    GrowthMetrics     `json:"growth"`
	Value     ValueReport       `json:"value"`
}

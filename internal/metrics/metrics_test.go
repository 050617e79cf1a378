package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/social-insights/internal/model"
)

func post(likes, comments, shares int, at time.Time) map[string]any {
	return map[string]any{
		"id":           fmt.Sprintf("p-%d", at.Unix()),
		"likeCount":    likes,
		"commentCount": comments,
		"shareCount":   shares,
		"createdAt":    at.Format(time.RFC3339),
	}
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return base.AddDate(0, 0, n) }

// =========================================================================
// ENGAGEMENT RATE
// =========================================================================

func TestRateCapProperty(t *testing.T) {
	a := New(DefaultParams())

	for followers := int64(1); followers <= 10; followers++ {
		for _, eng := range []int64{0, 1, 5, 10, 11, 50, 1000} {
			rate, capped := a.Rate(eng, followers)
			raw := float64(eng) / float64(followers) * 100
			assert.True(t, capped, "followers=%d", followers)
			assert.InDelta(t, min(raw, 100), rate, 0.005, "followers=%d eng=%d", followers, eng)
		}
	}
	for _, followers := range []int64{11, 50, 1000} {
		for _, eng := range []int64{0, 5, 20, 5000} {
			rate, capped := a.Rate(eng, followers)
			assert.False(t, capped)
			assert.InDelta(t, float64(eng)/float64(followers)*100, rate, 0.005, "no cap above the threshold")
		}
	}
}

func TestRateWithoutFollowers(t *testing.T) {
	a := New(DefaultParams())

	rate, capped := a.Rate(0, 0)
	assert.Equal(t, 0.0, rate)
	assert.True(t, capped)

	rate, _ = a.Rate(3, 0)
	assert.Equal(t, 100.0, rate)
}

func TestCapThresholdIsTunable(t *testing.T) {
	p := DefaultParams()
	p.CapThreshold = 100
	rate, capped := New(p).Rate(500, 50)
	assert.True(t, capped)
	assert.Equal(t, 100.0, rate)
}

// =========================================================================
// AGGREGATE
// =========================================================================

func TestAggregateTwoPlatformScenario(t *testing.T) {
	a := New(DefaultParams())

	out := a.Aggregate([]model.PlatformDataset{
		{
			Platform:    model.PlatformLinkedIn,
			AccountInfo: map[string]any{"followers_count": 5},
			Posts:       []map[string]any{post(10, 2, 0, day(1))},
		},
		{
			Platform:    model.PlatformTwitter,
			AccountInfo: map[string]any{"followers_count": 1000},
			Posts: []map[string]any{
				{"id": "t1", "public_metrics": map[string]any{"like_count": 15, "reply_count": 3, "retweet_count": 2}},
			},
		},
	})

	require.Len(t, out.Platforms, 2)
	li, tw := out.Platforms[0], out.Platforms[1]
	assert.Equal(t, model.PlatformLinkedIn, li.Platform)
	assert.Equal(t, int64(12), li.TotalEngagement)
	assert.Equal(t, 100.0, li.EngagementRate)
	assert.True(t, li.RateCapped)

	assert.Equal(t, int64(20), tw.TotalEngagement)
	assert.Equal(t, 2.0, tw.EngagementRate)
	assert.False(t, tw.RateCapped)

	assert.Equal(t, int64(1005), out.Total.Followers)
	assert.Equal(t, int64(32), out.Total.TotalEngagement)
	assert.Equal(t, 3.18, out.Total.EngagementRate)
	assert.False(t, out.Total.RateCapped)
	assert.Equal(t, int64(16), out.Total.AvgEngagementPerPost)
}

func TestAggregateSumsAccountsOfOnePlatform(t *testing.T) {
	out := New(DefaultParams()).Aggregate([]model.PlatformDataset{
		{Platform: model.PlatformLinkedIn, AccountInfo: map[string]any{"followers_count": 400}, Posts: []map[string]any{post(1, 0, 0, day(1))}},
		{Platform: model.PlatformLinkedIn, AccountInfo: map[string]any{"followerCount": 600}, Posts: []map[string]any{post(2, 0, 0, day(2))}},
		{Platform: "myspace", AccountInfo: map[string]any{"followers_count": 1}},
	})

	require.Len(t, out.Platforms, 1)
	assert.Equal(t, 2, out.Platforms[0].Accounts)
	assert.Equal(t, int64(1000), out.Platforms[0].Followers)
	assert.Equal(t, int64(2), out.Platforms[0].Posts)
}

func TestAggregateEmpty(t *testing.T) {
	out := New(DefaultParams()).Aggregate(nil)
	assert.Empty(t, out.Platforms)
	assert.Equal(t, int64(0), out.Total.AvgEngagementPerPost)
	assert.Equal(t, 0.0, out.Total.EngagementRate)
}

func TestAverageIsRounded(t *testing.T) {
	out := New(DefaultParams()).Aggregate([]model.PlatformDataset{{
		Platform:    model.PlatformLinkedIn,
		AccountInfo: map[string]any{"followers_count": 100},
		Posts:       []map[string]any{post(1, 0, 0, day(1)), post(1, 0, 0, day(2)), post(3, 0, 0, day(3))},
	}})
	// 5 / 3 = 1.67
	assert.Equal(t, int64(2), out.Total.AvgEngagementPerPost)
}

// =========================================================================
// GROWTH
// =========================================================================

func TestGrowthNeedsTwoPosts(t *testing.T) {
	for _, posts := range [][]model.Post{nil, {{Likes: 50}}} {
		g := Growth(posts)
		assert.False(t, g.Improvement)
		assert.Equal(t, 0.0, g.EngagementGrowth)
	}
}

func TestGrowthSplitsTimeOrderedPosts(t *testing.T) {
	// Given out of order; the older half is {2, 4}, the newer {10, 6}.
	posts := []model.Post{
		{Likes: 10, CreatedAt: day(3)},
		{Likes: 2, CreatedAt: day(1)},
		{Likes: 6, CreatedAt: day(4)},
		{Likes: 4, CreatedAt: day(2)},
	}
	g := Growth(posts)
	assert.Equal(t, 3.0, g.FirstHalfMean)
	assert.Equal(t, 8.0, g.SecondHalfMean)
	assert.InDelta(t, 166.67, g.EngagementGrowth, 0.001)
	assert.True(t, g.Improvement)
}

func TestGrowthFromZero(t *testing.T) {
	g := Growth([]model.Post{{CreatedAt: day(1)}, {Likes: 3, CreatedAt: day(2)}})
	assert.Equal(t, 100.0, g.EngagementGrowth)
	assert.True(t, g.Improvement)

	g = Growth([]model.Post{{CreatedAt: day(1)}, {CreatedAt: day(2)}})
	assert.Equal(t, 0.0, g.EngagementGrowth)
	assert.False(t, g.Improvement)
}

func TestGrowthDecline(t *testing.T) {
	g := Growth([]model.Post{{Likes: 10, CreatedAt: day(1)}, {Likes: 5, CreatedAt: day(2)}})
	assert.Equal(t, -50.0, g.EngagementGrowth)
	assert.False(t, g.Improvement)
}

// =========================================================================
// VALUE REPORT
// =========================================================================

func TestValueReport(t *testing.T) {
	p := DefaultParams()
	p.MonthlyFee = 100
	v := New(p).Value(model.Summary{TotalEngagement: 500, Followers: 1000, Posts: 4})

	assert.Equal(t, 50.0, v.ReachValue)
	assert.Equal(t, 50.0, v.BrandValue)
	assert.Equal(t, 100.0, v.ContentValue)
	assert.Equal(t, 200.0, v.TotalValue)
	assert.Equal(t, 100.0, v.ROIPercent)
}

func TestValueReportWithoutFee(t *testing.T) {
	v := New(DefaultParams()).Value(model.Summary{TotalEngagement: 500})
	assert.Equal(t, 0.0, v.ROIPercent)
	assert.Equal(t, 50.0, v.TotalValue)
}

// Package metrics aggregates engagement across platforms. Everything here is
// pure: no I/O, no clock, so the same datasets always give the same numbers.
//
// ENGAGEMENT RATE:
//
//	rate = totalEngagement / followers * 100
//
// Near-zero follower counts (test and demo accounts) blow that fraction up,
// so at or below Params.CapThreshold followers the rate is clamped to
// Params.RateCap and flagged as capped. The same rule applies to the
// cross-platform total using total followers.
//
// VALUE REPORT:
// A fixed linear model with tunable coefficients. They are business
// assumptions, not measurements.
package metrics

import (
	"math"
	"slices"

	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/provider"
)

type Params struct {
	CapThreshold       int64
	RateCap            float64
	ReachPerEngagement float64
	BrandPerFollower   float64
	ContentPerPost     float64
	MonthlyFee         float64
}

func DefaultParams() Params {
	return Params{
		CapThreshold:       10,
		RateCap:            100,
		ReachPerEngagement: 0.10,
		BrandPerFollower:   0.05,
		ContentPerPost:     25,
	}
}

type Aggregator struct {
	params Params
}

func New(p Params) *Aggregator {
	return &Aggregator{params: p}
}

func (a *Aggregator) Params() Params { return a.params }

type bucket struct {
	accounts  int
	followers int64
	posts     []model.Post
}

// Aggregate folds the datasets into per-platform and total figures.
// Datasets of the same platform (several accounts) are summed. Platforms
// without an adapter are ignored.
func (a *Aggregator) Aggregate(datasets []model.PlatformDataset) model.AggregatedMetrics {
	buckets := make(map[model.Platform]*bucket)
	for _, ds := range datasets {
		ad, ok := provider.For(ds.Platform)
		if !ok {
			continue
		}
		b := buckets[ds.Platform]
		if b == nil {
			b = &bucket{}
			buckets[ds.Platform] = b
		}
		b.accounts++
		b.followers += ad.Followers(ds.AccountInfo)
		for _, raw := range ds.Posts {
			b.posts = append(b.posts, ad.Post(raw))
		}
	}

	out := model.AggregatedMetrics{Platforms: []model.PlatformSummary{}}
	var all []model.Post
	var totalFollowers int64
	for _, p := range model.Platforms {
		b, ok := buckets[p]
		if !ok {
			continue
		}
		out.Platforms = append(out.Platforms, model.PlatformSummary{
			Platform: p,
			Accounts: b.accounts,
			Summary:  a.summarize(b.followers, b.posts),
			Growth:   Growth(b.posts),
		})
		totalFollowers += b.followers
		all = append(all, b.posts...)
	}

	out.Total = a.summarize(totalFollowers, all)
	out.Growth = Growth(all)
	out.Value = a.Value(out.Total)
	return out
}

func (a *Aggregator) summarize(followers int64, posts []model.Post) model.Summary {
	s := model.Summary{Followers: followers, Posts: int64(len(posts))}
	for _, p := range posts {
		s.TotalEngagement += p.Engagement()
		s.TotalViews += p.Views
	}
	s.EngagementRate, s.RateCapped = a.Rate(s.TotalEngagement, followers)
	if s.Posts > 0 {
		s.AvgEngagementPerPost = int64(math.Round(float64(s.TotalEngagement) / float64(s.Posts)))
	}
	return s
}

// Rate returns the engagement rate in percent, rounded to two decimals, and
// whether the low-follower cap applied.
func (a *Aggregator) Rate(engagement, followers int64) (float64, bool) {
	if followers > a.params.CapThreshold {
		return round2(float64(engagement) / float64(followers) * 100), false
	}
	if followers <= 0 {
		if engagement > 0 {
			return a.params.RateCap, true
		}
		return 0, true
	}
	raw := float64(engagement) / float64(followers) * 100
	return round2(math.Min(raw, a.params.RateCap)), true
}

// Growth compares the mean engagement of the older and newer halves of
// posts. Posts are ordered by CreatedAt; the newer half gets the middle post
// when the count is odd.
func Growth(posts []model.Post) model.GrowthMetrics {
	if len(posts) < 2 {
		return model.GrowthMetrics{}
	}
	ordered := slices.Clone(posts)
	slices.SortStableFunc(ordered, func(x, y model.Post) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})

	mid := len(ordered) / 2
	first := meanEngagement(ordered[:mid])
	second := meanEngagement(ordered[mid:])

	g := model.GrowthMetrics{
		FirstHalfMean:  round2(first),
		SecondHalfMean: round2(second),
		Improvement:    second > first,
	}
	switch {
	case first > 0:
		g.EngagementGrowth = round2((second - first) / first * 100)
	case second > 0:
		g.EngagementGrowth = 100
	}
	return g
}

func meanEngagement(posts []model.Post) float64 {
	var sum int64
	for _, p := range posts {
		sum += p.Engagement()
	}
	return float64(sum) / float64(len(posts))
}

// Value applies the linear ROI model to a total summary.
func (a *Aggregator) Value(total model.Summary) model.ValueReport {
	v := model.ValueReport{
		ReachValue:   round2(float64(total.TotalEngagement) * a.params.ReachPerEngagement),
		BrandValue:   round2(float64(total.Followers) * a.params.BrandPerFollower),
		ContentValue: round2(float64(total.Posts) * a.params.ContentPerPost),
		MonthlyFee:   a.params.MonthlyFee,
	}
	v.TotalValue = round2(v.ReachValue + v.BrandValue + v.ContentValue)
	if a.params.MonthlyFee > 0 {
		v.ROIPercent = round2((v.TotalValue - a.params.MonthlyFee) / a.params.MonthlyFee * 100)
	}
	return v
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

package analytics

import (
	"context"
	"net/url"

	"github.com/sakif/social-insights/internal/gateway"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/provider"
)

// HTTPSource reads post metrics from the backend proxy:
//
//	GET /social/posts/{postId}/metrics?platform=…&accountId=…
//
// The proxy answers with the provider's own shape (optionally wrapped in
// "data"), so counts are read through several known field names.
type HTTPSource struct {
	gw *gateway.Client
}

var _ Source = (*HTTPSource)(nil)

func NewHTTPSource(gw *gateway.Client) *HTTPSource {
	return &HTTPSource{gw: gw}
}

func (s *HTTPSource) PostMetrics(ctx context.Context, acc model.ConnectedAccount, postID string) (model.PostMetrics, error) {
	q := url.Values{}
	q.Set("platform", string(acc.Platform))
	q.Set("accountId", acc.ID)
	path := "/social/posts/" + url.PathEscape(postID) + "/metrics?" + q.Encode()

	tok, _ := Credential(acc)
	res := s.gw.Get(ctx, s.gw.At(path), tok)
	if err := res.AsError(); err != nil {
		return model.PostMetrics{}, err
	}

	var body map[string]any
	if err := res.Decode(&body); err != nil {
		return model.PostMetrics{}, err
	}
	if inner, ok := body["data"].(map[string]any); ok {
		body = inner
	}
	return decodeMetrics(body), nil
}

func decodeMetrics(m map[string]any) model.PostMetrics {
	pm := model.PostMetrics{
		LikeCount:              provider.Count(m, "likeCount", "likesSummary.totalLikes", "likes.summary.total_count", "public_metrics.like_count", "statistics.likeCount", "like_count", "likes"),
		CommentCount:           provider.Count(m, "commentCount", "commentsSummary.totalFirstLevelComments", "comments.summary.total_count", "public_metrics.reply_count", "statistics.commentCount", "comments_count", "comments"),
		ShareCount:             provider.Count(m, "shareCount", "shares.count", "public_metrics.retweet_count", "share_count", "shares"),
		ImpressionCount:        provider.Count(m, "impressionCount", "public_metrics.impression_count", "statistics.viewCount", "impressions", "views"),
		UniqueImpressionsCount: provider.Count(m, "uniqueImpressionsCount", "reach", "uniqueImpressions"),
		ClickCount:             provider.Count(m, "clickCount", "clicks"),
	}
	pm.Liked, _ = provider.Bool(m, "liked", "likedByCurrentUser", "has_liked")

	if v, ok := m["engagement"].(float64); ok {
		pm.Engagement = v
	} else {
		pm.Engagement = float64(pm.LikeCount + pm.CommentCount + pm.ShareCount)
	}
	return pm
}

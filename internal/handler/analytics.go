package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/social-insights/internal/analytics"
	"github.com/sakif/social-insights/internal/apperror"
)

// maxBatchPosts bounds one batch request.
const maxBatchPosts = 100

// AnalyticsHandler serves per-post analytics.
//
// The fetcher never fails because a platform did: rate limits, rejected
// tokens and outages come back as a 200 whose body says what happened
// (rateLimited + resetAt, needsReconnection, stale cached numbers).
type AnalyticsHandler struct {
	scopes Scopes
	logger *slog.Logger
}

func NewAnalyticsHandler(scopes Scopes, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{scopes: scopes, logger: logger}
}

// HandlePost returns one post's metrics.
//
// HTTP: GET /api/accounts/{id}/posts/{postId}/analytics[?cached=true]
//
// cached=true never calls the platform; it returns whatever the cache has.
func (h *AnalyticsHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	ctx, cancel := userContext(r, s)
	defer cancel()

	accountID, postID := chi.URLParam(r, "id"), chi.URLParam(r, "postId")

	var (
		res analytics.Result
		err error
	)
	if r.URL.Query().Get("cached") == "true" {
		res, err = s.Analytics.Cached(ctx, accountID, postID)
	} else {
		res, err = s.Analytics.FetchPostAnalytics(ctx, accountID, postID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type batchRequest struct {
	PostIDs    []string `json:"postIds"`
	FirstBatch int      `json:"firstBatch"`
	StaggerMs  int      `json:"staggerMs"`
}

// HandleBatch fetches a list of posts, newest first.
//
// HTTP: POST /api/accounts/{id}/analytics/batch
// REQUEST BODY: {"postIds": ["p9", "p8", ...], "firstBatch": 5, "staggerMs": 2000}
//
// Only the first firstBatch posts may hit the platform, staggered; the rest
// come from cache. The call holds the request open while staggering, so
// clients should size firstBatch*staggerMs below their own timeout.
func (h *AnalyticsHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.PostIDs) == 0 {
		writeError(w, apperror.ValidationFailed("postIds", "at least one post id is required"))
		return
	}
	if len(req.PostIDs) > maxBatchPosts {
		writeError(w, apperror.ValidationFailed("postIds", "too many post ids in one batch"))
		return
	}
	if req.FirstBatch < 0 || req.StaggerMs < 0 {
		writeError(w, apperror.ValidationFailed("firstBatch", "batch options must not be negative"))
		return
	}

	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	ctx, cancel := userContext(r, s)
	defer cancel()

	accountID := chi.URLParam(r, "id")
	out, err := s.Analytics.FetchBatch(ctx, accountID, req.PostIDs, analytics.BatchOptions{
		FirstBatch: req.FirstBatch,
		Stagger:    time.Duration(req.StaggerMs) * time.Millisecond,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Debug("analytics batch served",
		slog.String("accountID", accountID),
		slog.Int("posts", len(req.PostIDs)),
		slog.Int("fetched", out.Fetched),
		slog.Bool("stopped", out.Stopped),
	)
	writeJSON(w, http.StatusOK, out)
}

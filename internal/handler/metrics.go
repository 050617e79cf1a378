package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/metrics"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/service"
)

// MetricsHandler serves the cross-platform numbers.
//
// Two entry points share the aggregator:
//   - POST /api/metrics/aggregate takes datasets the caller already has
//   - GET /api/dashboard loads every connected account's overview first
type MetricsHandler struct {
	scopes     Scopes
	aggregator *metrics.Aggregator
	dashboard  *service.DashboardService
	logger     *slog.Logger
}

func NewMetricsHandler(scopes Scopes, aggregator *metrics.Aggregator, dashboard *service.DashboardService, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{scopes: scopes, aggregator: aggregator, dashboard: dashboard, logger: logger}
}

type aggregateRequest struct {
	Datasets []model.PlatformDataset `json:"datasets"`
}

// HandleAggregate aggregates the posted datasets. Unknown platforms are
// skipped, an empty list gives all-zero metrics.
//
// HTTP: POST /api/metrics/aggregate
func (h *MetricsHandler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	for i, ds := range req.Datasets {
		if p, ok := model.ParsePlatform(string(ds.Platform)); ok {
			req.Datasets[i].Platform = p
		}
		if ds.AccountInfo == nil {
			req.Datasets[i].AccountInfo = map[string]any{}
		}
	}
	writeJSON(w, http.StatusOK, h.aggregator.Aggregate(req.Datasets))
}

// HandleDashboard aggregates every connected account of the caller.
//
// HTTP: GET /api/dashboard
func (h *MetricsHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if h.dashboard == nil {
		writeError(w, apperror.NotFound("dashboard", "default"))
		return
	}
	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	ctx, cancel := userContext(r, s)
	defer cancel()

	d, err := h.dashboard.Load(ctx, s.Registry, s.Tokens)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Package service contains the business logic that spans several domain
// packages. Handlers call it; it never touches HTTP.
//
// THE DASHBOARD FLOW:
//
//	registry accounts → overview per account (concurrent) → metrics.Aggregate
//
// One failing account never fails the dashboard. It is reported in Failed
// and left out of the figures; a rejected token also flags the account for
// reconnection, exactly as the analytics fetcher does.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/social-insights/internal/analytics"
	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/gateway"
	"github.com/sakif/social-insights/internal/metrics"
	"github.com/sakif/social-insights/internal/model"
)

// DefaultConcurrency bounds how many overviews load at once.
const DefaultConcurrency = 4

// AccountStore is the registry surface the dashboard uses.
type AccountStore interface {
	List(platform model.Platform) []model.ConnectedAccount
	Replace(ctx context.Context, acc model.ConnectedAccount) error
}

// OverviewSource loads one account's info and recent posts.
type OverviewSource interface {
	Overview(ctx context.Context, acc model.ConnectedAccount) (model.PlatformDataset, error)
}

// DatasetFailure is an account left out of the dashboard.
type DatasetFailure struct {
	AccountID string         `json:"accountId"`
	Platform  model.Platform `json:"platform"`
	Message   string         `json:"message"`
}

type Dashboard struct {
	Metrics model.AggregatedMetrics `json:"metrics"`
	// Reconnect lists accounts that need the user to authorize again.
	Reconnect []model.ConnectedAccount `json:"reconnect"`
	Failed    []DatasetFailure         `json:"failed"`
}

type DashboardService struct {
	overviews   OverviewSource
	aggregator  *metrics.Aggregator
	logger      *slog.Logger
	concurrency int
}

func NewDashboardService(overviews OverviewSource, aggregator *metrics.Aggregator, logger *slog.Logger) *DashboardService {
	return &DashboardService{
		overviews:   overviews,
		aggregator:  aggregator,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}
}

// Load builds the dashboard of every connected account.
//
// The errgroup is used for its concurrency limit, not for error
// propagation: per-account errors are collected, so the group only returns
// an error when ctx ends.
func (s *DashboardService) Load(ctx context.Context, accounts AccountStore, tokens analytics.Invalidator) (Dashboard, error) {
	all := accounts.List("")
	datasets := make([]*model.PlatformDataset, len(all))
	failures := make([]*DatasetFailure, len(all))

	out := Dashboard{Reconnect: []model.ConnectedAccount{}, Failed: []DatasetFailure{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, acc := range all {
		if acc.NeedsReconnection {
			out.Reconnect = append(out.Reconnect, acc)
			continue
		}
		g.Go(func() error {
			ds, err := s.overviews.Overview(gctx, acc)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failures[i] = s.fail(gctx, accounts, tokens, acc, err)
				return nil
			}
			ds.Platform = acc.Platform
			ds.AccountID = acc.ID
			datasets[i] = &ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	var ready []model.PlatformDataset
	for i := range all {
		switch {
		case datasets[i] != nil:
			ready = append(ready, *datasets[i])
		case failures[i] != nil:
			out.Failed = append(out.Failed, *failures[i])
		}
	}
	out.Metrics = s.aggregator.Aggregate(ready)

	// Accounts flagged during this load.
	for _, acc := range accounts.List("") {
		if acc.NeedsReconnection && !slices.ContainsFunc(out.Reconnect, sameID(acc.ID)) {
			out.Reconnect = append(out.Reconnect, acc)
		}
	}

	s.logger.Info("dashboard loaded",
		slog.Int("accounts", len(all)),
		slog.Int("aggregated", len(ready)),
		slog.Int("failed", len(out.Failed)),
	)
	return out, nil
}

func (s *DashboardService) fail(ctx context.Context, accounts AccountStore, tokens analytics.Invalidator, acc model.ConnectedAccount, err error) *DatasetFailure {
	s.logger.Warn("dashboard: account overview failed",
		slog.String("accountID", acc.ID),
		slog.String("platform", string(acc.Platform)),
		slog.String("error", err.Error()),
	)
	if errors.Is(err, apperror.ErrInvalidToken) && tokens != nil {
		_, scope := analytics.Credential(acc)
		tokens.Invalidate(&acc, scope, err.Error())
		if rerr := accounts.Replace(ctx, acc); rerr != nil {
			s.logger.Warn("dashboard: recording reconnection flag failed",
				slog.String("accountID", acc.ID),
				slog.String("error", rerr.Error()),
			)
		}
	}

	msg := err.Error()
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	return &DatasetFailure{AccountID: acc.ID, Platform: acc.Platform, Message: msg}
}

func sameID(id string) func(model.ConnectedAccount) bool {
	return func(a model.ConnectedAccount) bool { return a.ID == id }
}

// HTTPOverviews loads overviews from the backend proxy:
//
//	GET /social/{platform}/accounts/{id}/overview → {accountInfo, posts}
type HTTPOverviews struct {
	gw *gateway.Client
}

var _ OverviewSource = (*HTTPOverviews)(nil)

func NewHTTPOverviews(gw *gateway.Client) *HTTPOverviews {
	return &HTTPOverviews{gw: gw}
}

func (h *HTTPOverviews) Overview(ctx context.Context, acc model.ConnectedAccount) (model.PlatformDataset, error) {
	path := "/social/" + string(acc.Platform) + "/accounts/" + url.PathEscape(acc.ID) + "/overview"
	tok, _ := analytics.Credential(acc)
	res := h.gw.Get(ctx, h.gw.At(path), tok)
	if err := res.AsError(); err != nil {
		return model.PlatformDataset{}, err
	}

	var body struct {
		AccountInfo map[string]any   `json:"accountInfo"`
		Posts       []map[string]any `json:"posts"`
	}
	if err := res.Decode(&body); err != nil {
		return model.PlatformDataset{}, err
	}
	if body.AccountInfo == nil {
		body.AccountInfo = map[string]any{}
	}
	return model.PlatformDataset{
		Platform:    acc.Platform,
		AccountID:   acc.ID,
		AccountInfo: body.AccountInfo,
		Posts:       body.Posts,
	}, nil
}

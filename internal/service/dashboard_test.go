package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/gateway"
	"github.com/sakif/social-insights/internal/metrics"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/token"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written fakes: the service only sees the two small interfaces, so an
// in-memory account list and a map of canned overviews are enough.

type memAccounts struct {
	mu       sync.Mutex
	accounts []model.ConnectedAccount
}

func (m *memAccounts) List(model.Platform) []model.ConnectedAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ConnectedAccount(nil), m.accounts...)
}

func (m *memAccounts) Replace(_ context.Context, acc model.ConnectedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.accounts {
		if m.accounts[i].ID == acc.ID {
			m.accounts[i] = acc
			return nil
		}
	}
	return apperror.NotFound("account", acc.ID)
}

type cannedOverviews struct {
	byID     map[string]model.PlatformDataset
	errs     map[string]error
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *cannedOverviews) Overview(_ context.Context, acc model.ConnectedAccount) (model.PlatformDataset, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if err := c.errs[acc.ID]; err != nil {
		return model.PlatformDataset{}, err
	}
	return c.byID[acc.ID], nil
}

func newDashboard(src OverviewSource) *DashboardService {
	return NewDashboardService(src, metrics.New(metrics.DefaultParams()), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// =========================================================================
// LOAD TESTS
// =========================================================================

func TestLoadAggregatesEveryAccount(t *testing.T) {
	accounts := &memAccounts{accounts: []model.ConnectedAccount{
		{ID: "li", Platform: model.PlatformLinkedIn, Token: "a"},
		{ID: "tw", Platform: model.PlatformTwitter, Token: "b"},
	}}
	src := &cannedOverviews{byID: map[string]model.PlatformDataset{
		"li": {AccountInfo: map[string]any{"followers_count": 5}, Posts: []map[string]any{{"likeCount": 12}}},
		"tw": {AccountInfo: map[string]any{"followers_count": 1000}, Posts: []map[string]any{{"public_metrics": map[string]any{"like_count": 20}}}},
	}}

	d, err := newDashboard(src).Load(context.Background(), accounts, nil)
	require.NoError(t, err)

	assert.Empty(t, d.Failed)
	require.Len(t, d.Metrics.Platforms, 2)
	assert.Equal(t, int64(1005), d.Metrics.Total.Followers)
	assert.Equal(t, 3.18, d.Metrics.Total.EngagementRate)
}

func TestLoadSkipsFailedAccounts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	accounts := &memAccounts{accounts: []model.ConnectedAccount{
		{ID: "ok", Platform: model.PlatformTwitter, Token: "a"},
		{ID: "down", Platform: model.PlatformTwitter, Token: "b"},
		{ID: "revoked", Platform: model.PlatformLinkedIn, Token: "c"},
		{ID: "flagged", Platform: model.PlatformLinkedIn, Token: "d", NeedsReconnection: true},
	}}
	src := &cannedOverviews{
		byID: map[string]model.PlatformDataset{"ok": {AccountInfo: map[string]any{"followers_count": 50}}},
		errs: map[string]error{
			"down":    apperror.Network("overview", errors.New("connection refused")),
			"revoked": apperror.InvalidToken(401, "token revoked"),
		},
	}

	d, err := newDashboard(src).Load(context.Background(), accounts, token.NewManager(nil, logger))
	require.NoError(t, err)

	require.Len(t, d.Failed, 2)
	assert.Equal(t, "down", d.Failed[0].AccountID)
	assert.Equal(t, "revoked", d.Failed[1].AccountID)
	assert.Equal(t, "token revoked", d.Failed[1].Message)

	require.Len(t, d.Metrics.Platforms, 1)
	assert.Equal(t, int64(50), d.Metrics.Total.Followers)

	var reconnect []string
	for _, a := range d.Reconnect {
		reconnect = append(reconnect, a.ID)
	}
	assert.ElementsMatch(t, []string{"flagged", "revoked"}, reconnect)

	for _, a := range accounts.List("") {
		if a.ID == "revoked" {
			assert.True(t, a.NeedsReconnection)
			assert.Equal(t, model.TokenInvalidUserToken, a.TokenStatus)
		}
	}
}

func TestLoadBoundsConcurrency(t *testing.T) {
	accounts := &memAccounts{}
	for i := range 20 {
		accounts.accounts = append(accounts.accounts, model.ConnectedAccount{ID: string(rune('a' + i)), Platform: model.PlatformTwitter})
	}
	src := &cannedOverviews{byID: map[string]model.PlatformDataset{}}

	_, err := newDashboard(src).Load(context.Background(), accounts, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, src.peak.Load(), int32(DefaultConcurrency))
}

func TestHTTPOverviews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/social/youtube/accounts/UC1/overview", r.URL.Path)
		assert.Equal(t, "Bearer yt", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"accountInfo": map[string]any{"statistics": map[string]any{"subscriberCount": "1200"}},
			"posts":       []any{map[string]any{"id": "v1"}},
		})
	}))
	defer srv.Close()

	gw := gateway.New(gateway.Config{Primary: srv.URL}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ds, err := NewHTTPOverviews(gw).Overview(context.Background(), model.ConnectedAccount{ID: "UC1", Platform: model.PlatformYouTube, Token: "yt"})
	require.NoError(t, err)
	assert.Equal(t, model.PlatformYouTube, ds.Platform)
	assert.Equal(t, "UC1", ds.AccountID)
	assert.Len(t, ds.Posts, 1)
}

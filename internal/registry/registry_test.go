package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/cache"
	"github.com/sakif/social-insights/internal/gateway"
	"github.com/sakif/social-insights/internal/linkstore"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/token"
)

// =========================================================================
// FAKES
// =========================================================================

type fakeLinks struct {
	mu        sync.Mutex
	stored    []model.ConnectedAccount
	createErr error
	deleteErr error
	listErr   error
	listRaw   []model.RawAccount
	creates   int
}

func (f *fakeLinks) List(context.Context, string) ([]model.RawAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listRaw, nil
}

func (f *fakeLinks) Create(_ context.Context, _ string, acc model.ConnectedAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	f.stored = append(f.stored, acc)
	return nil
}

func (f *fakeLinks) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

type fakeTokens struct{ err error }

func (f fakeTokens) Upgrade(_ context.Context, acc model.ConnectedAccount) (model.ConnectedAccount, error) {
	out := acc.Clone()
	if f.err != nil {
		return out, f.err
	}
	if out.Platform == model.PlatformFacebook {
		out.Token += "-long"
		out.TokenType = model.TokenLongLived
	}
	return out, nil
}

// Apply uses the real classifier; only the exchanges are faked.
func (fakeTokens) Apply(acc *model.ConnectedAccount) {
	token.NewManager(nil, testLogger()).Apply(acc)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(links LinkStore) (*Registry, *cache.Scoped) {
	store := cache.NewScoped(cache.NewMemoryStore(), "user-1")
	return New("cust-1", links, fakeTokens{}, store, testLogger()), store
}

func rawLinkedInOrg(id string) model.RawAccount {
	return model.RawAccount{"platform": "linkedin", "id": id, "name": "Acme", "token": "AQX"}
}

func ids(accounts []model.ConnectedAccount) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.ID
	}
	return out
}

// =========================================================================
// INGEST TESTS
// =========================================================================

func TestIngestDeduplicatesAgainstRegistry(t *testing.T) {
	links := &fakeLinks{}
	r, _ := newTestRegistry(links)
	ctx := context.Background()

	res, err := r.Ingest(ctx, []model.RawAccount{rawLinkedInOrg("urn:li:organization:12345")})
	require.NoError(t, err)
	require.Len(t, res.Added, 1)
	before := r.List("")

	res, err = r.Ingest(ctx, []model.RawAccount{rawLinkedInOrg("urn:li:organization:12345")})
	require.NoError(t, err)
	assert.Empty(t, res.Added, "already-registered ids are dropped")
	require.Len(t, res.AlreadyConnected, 1)
	assert.Equal(t, "linkedin_12345", res.AlreadyConnected[0].ID)
	assert.Empty(t, res.Failed, "a duplicate is not a failure")
	assert.Equal(t, before, r.List(""), "registry unchanged")
	assert.Equal(t, 1, links.creates, "duplicates never reach the backend")
}

func TestIngestSameExtractedIDInOneBatch(t *testing.T) {
	r, _ := newTestRegistry(&fakeLinks{})

	res, err := r.Ingest(context.Background(), []model.RawAccount{
		rawLinkedInOrg("urn:li:organization:12345"),
		{"platform": "linkedin", "accountType": "organization", "organizationId": "12345", "token": "AQY"},
	})
	require.NoError(t, err)

	assert.Len(t, res.Added, 1)
	assert.Len(t, res.AlreadyConnected, 1)
	assert.Equal(t, []string{"linkedin_12345"}, ids(r.List("")), "registry grows by exactly one")
}

func TestIngestPersistsUpgradedTokenBeforeAddingLocally(t *testing.T) {
	links := &fakeLinks{}
	r, store := newTestRegistry(links)

	res, err := r.Ingest(context.Background(), []model.RawAccount{
		{"platform": "facebook", "id": "10001", "token": "short", "name": "Ada"},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 1)

	require.Len(t, links.stored, 1)
	assert.Equal(t, "short-long", links.stored[0].Token)
	assert.Equal(t, model.TokenLongLived, links.stored[0].TokenType)

	var cached []model.ConnectedAccount
	ok, err := store.GetJSON(context.Background(), cache.AccountsKey("facebook"), &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"10001"}, ids(cached))

	sel, ok := r.Selected(model.PlatformFacebook)
	require.True(t, ok, "the first account of a platform is selected")
	assert.Equal(t, "10001", sel.ID)
}

func TestIngestUpgradeFailureStillConnects(t *testing.T) {
	links := &fakeLinks{}
	store := cache.NewScoped(cache.NewMemoryStore(), "user-1")
	r := New("cust-1", links, fakeTokens{err: errors.New("exchange down")}, store, testLogger())

	res, err := r.Ingest(context.Background(), []model.RawAccount{
		{"platform": "facebook", "id": "10001", "token": "short"},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 1)
	assert.Equal(t, "short", res.Added[0].Token)
}

func TestIngestBackendFailureLeavesStateUntouched(t *testing.T) {
	links := &fakeLinks{createErr: apperror.Persistence("saving social link", errors.New("backend status 500"))}
	r, store := newTestRegistry(links)

	res, err := r.Ingest(context.Background(), []model.RawAccount{rawLinkedInOrg("urn:li:organization:1")})
	require.NoError(t, err)

	assert.Empty(t, res.Added)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, apperror.ErrPersistence)
	assert.Empty(t, r.List(""))

	_, ok, _ := store.Get(context.Background(), cache.AccountsKey("linkedin"))
	assert.False(t, ok, "nothing is cached for an unacknowledged create")
}

func TestIngestReportsNormalizationFailures(t *testing.T) {
	r, _ := newTestRegistry(&fakeLinks{})

	res, err := r.Ingest(context.Background(), []model.RawAccount{
		{"platform": "myspace", "id": "1"},
		{"platform": "twitter", "id": "t1"},
	})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, apperror.ErrValidation)
	assert.Len(t, res.Added, 1)
}

// =========================================================================
// SELECTION & DISCONNECT TESTS
// =========================================================================

func seed(t *testing.T, r *Registry, raws ...model.RawAccount) {
	t.Helper()
	res, err := r.Ingest(context.Background(), raws)
	require.NoError(t, err)
	require.Len(t, res.Added, len(raws))
}

func TestSelectAndFallbackOnDisconnect(t *testing.T) {
	r, store := newTestRegistry(&fakeLinks{})
	ctx := context.Background()
	seed(t, r,
		model.RawAccount{"platform": "twitter", "id": "a"},
		model.RawAccount{"platform": "twitter", "id": "b"},
		model.RawAccount{"platform": "twitter", "id": "c"},
	)

	require.NoError(t, r.Select(ctx, "b"))
	assert.ErrorIs(t, r.Select(ctx, "zzz"), apperror.ErrNotFound)

	require.NoError(t, r.Disconnect(ctx, "b"))
	sel, ok := r.Selected(model.PlatformTwitter)
	require.True(t, ok)
	assert.Equal(t, "a", sel.ID, "selection falls back to the first remaining account")

	var cached string
	_, err := store.GetJSON(ctx, cache.SelectedKey("twitter"), &cached)
	require.NoError(t, err)
	assert.Equal(t, "a", cached)

	require.NoError(t, r.Disconnect(ctx, "a"))
	require.NoError(t, r.Disconnect(ctx, "c"))
	_, ok = r.Selected(model.PlatformTwitter)
	assert.False(t, ok, "no account left, no selection")
	_, ok, _ = store.Get(ctx, cache.SelectedKey("twitter"))
	assert.False(t, ok)
}

func TestDisconnectFailureRestoresAccount(t *testing.T) {
	links := &fakeLinks{}
	r, _ := newTestRegistry(links)
	ctx := context.Background()
	seed(t, r,
		model.RawAccount{"platform": "twitter", "id": "a"},
		model.RawAccount{"platform": "twitter", "id": "b"},
		model.RawAccount{"platform": "twitter", "id": "c"},
	)
	require.NoError(t, r.Select(ctx, "b"))

	links.deleteErr = apperror.Network("deleting social link", errors.New("connection refused"))
	err := r.Disconnect(ctx, "b")
	assert.ErrorIs(t, err, apperror.ErrNetwork)

	assert.Equal(t, []string{"a", "b", "c"}, ids(r.List("")), "re-added at its original position")
	sel, _ := r.Selected(model.PlatformTwitter)
	assert.Equal(t, "b", sel.ID, "selection restored")
}

func TestDisconnectAll(t *testing.T) {
	r, _ := newTestRegistry(&fakeLinks{})
	seed(t, r,
		model.RawAccount{"platform": "twitter", "id": "a"},
		model.RawAccount{"platform": "youtube", "id": "UC1"},
	)

	require.NoError(t, r.DisconnectAll(context.Background()))
	assert.Empty(t, r.List(""))
}

func TestReplace(t *testing.T) {
	r, _ := newTestRegistry(&fakeLinks{})
	seed(t, r, model.RawAccount{"platform": "twitter", "id": "a"})

	acc, _ := r.Get("a")
	acc.NeedsReconnection = true
	acc.TokenStatus = model.TokenInvalidUserToken
	require.NoError(t, r.Replace(context.Background(), acc))

	got, _ := r.Get("a")
	assert.True(t, got.NeedsReconnection)
	assert.ErrorIs(t, r.Replace(context.Background(), model.ConnectedAccount{ID: "nope"}), apperror.ErrNotFound)
}

// =========================================================================
// HYDRATE TESTS
// =========================================================================

func TestHydratePrefersBackend(t *testing.T) {
	links := &fakeLinks{listRaw: []model.RawAccount{{"platform": "twitter", "id": "from-backend"}}}
	r, store := newTestRegistry(links)
	ctx := context.Background()
	require.NoError(t, store.SetJSON(ctx, cache.AccountsKey("twitter"), []model.ConnectedAccount{{ID: "stale-cache", Platform: model.PlatformTwitter}}))

	src, err := r.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceBackend, src)
	assert.Equal(t, []string{"from-backend"}, ids(r.List("")))

	var cached []model.ConnectedAccount
	_, err = store.GetJSON(ctx, cache.AccountsKey("twitter"), &cached)
	require.NoError(t, err)
	assert.Equal(t, []string{"from-backend"}, ids(cached), "cache is refreshed from the backend")
}

func TestHydrateFallsBackToCacheOnlyOnNetworkError(t *testing.T) {
	ctx := context.Background()

	links := &fakeLinks{listErr: apperror.Network("listing social links", errors.New("dial tcp: refused"))}
	r, store := newTestRegistry(links)
	require.NoError(t, store.SetJSON(ctx, cache.AccountsKey("twitter"), []model.ConnectedAccount{{ID: "cached", Platform: model.PlatformTwitter}}))

	src, err := r.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, []string{"cached"}, ids(r.List("")))
	sel, ok := r.Selected(model.PlatformTwitter)
	require.True(t, ok)
	assert.Equal(t, "cached", sel.ID)

	links.listErr = apperror.Persistence("listing social links", errors.New("backend status 400"))
	r2, store2 := newTestRegistry(links)
	require.NoError(t, store2.SetJSON(ctx, cache.AccountsKey("twitter"), []model.ConnectedAccount{{ID: "cached"}}))

	_, err = r2.Hydrate(ctx)
	assert.ErrorIs(t, err, apperror.ErrPersistence)
	assert.Empty(t, r2.List(""), "a non-network failure must not surface cached state")
}

// =========================================================================
// ROUND TRIP
// =========================================================================

// backend is an in-memory customer-social-links API.
func backend(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	links := map[string][]map[string]any{}

	r := chi.NewRouter()
	r.Post("/customer-social-links", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		cust := body["customerId"].(string)
		links[cust] = append(links[cust], body)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	r.Get("/customer-social-links/{customerId}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": true, "accounts": links[chi.URLParam(r, "customerId")]})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRoundTripThroughBackend(t *testing.T) {
	srv := backend(t)
	ctx := context.Background()
	logger := testLogger()
	links := linkstore.New(gateway.New(gateway.Config{Primary: srv.URL}, nil, logger), logger)

	first := New("cust-1", links, nil, cache.NewScoped(cache.NewMemoryStore(), "u1"), logger)
	res, err := first.Ingest(ctx, []model.RawAccount{
		rawLinkedInOrg("urn:li:organization:12345"),
		{"platform": "linkedin", "sub": "abc", "given_name": "Ada"},
		{"platform": "facebook", "id": "10001", "pages": []any{map[string]any{"id": "p1", "access_token": "pt"}}},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 3)

	// A second device hydrates from the backend and re-ingests what it got.
	raws, err := links.List(ctx, "cust-1")
	require.NoError(t, err)
	second := New("cust-2", &fakeLinks{}, nil, cache.NewScoped(cache.NewMemoryStore(), "u2"), logger)
	again, err := second.Ingest(ctx, raws)
	require.NoError(t, err)
	require.Len(t, again.Added, 3)

	for i, want := range res.Added {
		got := again.Added[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Platform, got.Platform)
		assert.Equal(t, want.AccountType, got.AccountType)
	}
	assert.Equal(t, "pt", again.Added[2].Pages[0].AccessToken)
}

// =========================================================================
// TOKEN STATUS TESTS
// =========================================================================

func TestIngestFlagsExpiredTokens(t *testing.T) {
	links := &fakeLinks{}
	r, _ := newTestRegistry(links)

	res, err := r.Ingest(context.Background(), []model.RawAccount{
		{"platform": "twitter", "id": "old", "token": "t", "tokenExpiresAt": "2020-01-01T00:00:00Z"},
		{"platform": "twitter", "id": "new", "token": "t", "tokenExpiresAt": "2999-01-01T00:00:00Z"},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 2)

	old, _ := r.Get("old")
	assert.Equal(t, model.TokenExpired, old.TokenStatus)
	assert.True(t, old.NeedsReconnection)

	fresh, _ := r.Get("new")
	assert.Equal(t, model.TokenActive, fresh.TokenStatus)
	assert.False(t, fresh.NeedsReconnection)

	links.mu.Lock()
	defer links.mu.Unlock()
	require.Len(t, links.stored, 2)
	assert.Equal(t, model.TokenExpired, links.stored[0].TokenStatus, "the backend stores the classified status")
}

func TestHydrateClassifiesTokens(t *testing.T) {
	expired := model.RawAccount{"platform": "twitter", "id": "old", "token": "t", "tokenExpiresAt": "2020-01-01T00:00:00Z"}

	t.Run("backend", func(t *testing.T) {
		r, _ := newTestRegistry(&fakeLinks{listRaw: []model.RawAccount{expired}})
		src, err := r.Hydrate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, SourceBackend, src)

		got, ok := r.Get("old")
		require.True(t, ok)
		assert.Equal(t, model.TokenExpired, got.TokenStatus)
		assert.True(t, got.NeedsReconnection)
	})

	t.Run("cache", func(t *testing.T) {
		links := &fakeLinks{listErr: apperror.Network("listing social links", errors.New("offline"))}
		r, store := newTestRegistry(links)
		past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, store.SetJSON(context.Background(), cache.AccountsKey("twitter"), []model.ConnectedAccount{
			{ID: "old", Platform: model.PlatformTwitter, Token: "t", TokenStatus: model.TokenActive, TokenExpiresAt: &past},
		}))

		src, err := r.Hydrate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, SourceCache, src)

		got, ok := r.Get("old")
		require.True(t, ok)
		assert.Equal(t, model.TokenExpired, got.TokenStatus)
		assert.True(t, got.NeedsReconnection)
	})
}

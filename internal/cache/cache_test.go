package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSQLite opens a file-backed store in the test's temp dir so the
// migrations run exactly as they do in production.
func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// =========================================================================
// BACKEND CONTRACT TESTS
// =========================================================================

func TestStoreContract(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newTestSQLite(t) },
		"sealed": func(t *testing.T) Store { return NewSealed(NewMemoryStore(), "test-secret") },
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok, "missing key should report ok=false")

			require.NoError(t, s.Set(ctx, "accounts:linkedin", []byte(`[1]`)))
			require.NoError(t, s.Set(ctx, "accounts:linkedin", []byte(`[2]`)))
			got, ok, err := s.Get(ctx, "accounts:linkedin")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `[2]`, string(got), "last writer wins")

			require.NoError(t, s.Set(ctx, "accounts:facebook", []byte(`[]`)))
			require.NoError(t, s.Set(ctx, "selected:facebook", []byte(`"1"`)))
			keys, err := s.Keys(ctx, "accounts:")
			require.NoError(t, err)
			assert.Equal(t, []string{"accounts:facebook", "accounts:linkedin"}, keys)

			require.NoError(t, s.Delete(ctx, "accounts:linkedin"))
			require.NoError(t, s.Delete(ctx, "accounts:linkedin"), "deleting twice is a no-op")
			_, ok, err = s.Get(ctx, "accounts:linkedin")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSQLiteKeysEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Set(ctx, "u:a_b:x", []byte("1")))
	require.NoError(t, s.Set(ctx, "u:aXb:x", []byte("2")))

	keys, err := s.Keys(ctx, "u:a_b:")
	require.NoError(t, err)
	assert.Equal(t, []string{"u:a_b:x"}, keys, "underscore must not act as a LIKE wildcard")
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "ratelimit:linkedin", []byte(`{"isLimited":true}`)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err, "migrations must be idempotent")
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "ratelimit:linkedin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"isLimited":true}`, string(got))
}

// =========================================================================
// SEALED TESTS
// =========================================================================

func TestSealedStoresCiphertext(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()
	s := NewSealed(backend, "secret-one")

	require.NoError(t, s.Set(ctx, "accounts:facebook", []byte("EAAB-token")))

	raw, ok, err := backend.Get(ctx, "accounts:facebook")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "EAAB-token", "backend must only see ciphertext")

	wrong := NewSealed(backend, "secret-two")
	_, _, err = wrong.Get(ctx, "accounts:facebook")
	assert.ErrorIs(t, err, ErrUnsealable)
}

// =========================================================================
// SCOPED TESTS
// =========================================================================

func TestScopedIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()
	alice := NewScoped(backend, "alice")
	bob := NewScoped(backend, "bob")

	require.NoError(t, alice.SetJSON(ctx, SelectedKey("linkedin"), "linkedin_1"))

	var got string
	ok, err := bob.GetJSON(ctx, SelectedKey("linkedin"), &got)
	require.NoError(t, err)
	assert.False(t, ok, "bob must not see alice's keys")

	ok, err = alice.GetJSON(ctx, SelectedKey("linkedin"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "linkedin_1", got)
}

func TestScopedClearOnlyTouchesOwnNamespace(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()
	alice := NewScoped(backend, "alice")
	bob := NewScoped(backend, "bob")

	require.NoError(t, alice.Set(ctx, AccountsKey("facebook"), []byte("a")))
	require.NoError(t, alice.Set(ctx, AnalyticsKey("1", "p1"), []byte("a")))
	require.NoError(t, bob.Set(ctx, AccountsKey("facebook"), []byte("b")))

	require.NoError(t, alice.Clear(ctx))

	keys, err := backend.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"u:bob:accounts:facebook"}, keys)
}

func TestScopedDetachRefusesWritesButStillClears(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()
	alice := NewScoped(backend, "alice")
	require.NoError(t, alice.Set(ctx, AccountsKey("twitter"), []byte("a")))

	alice.Detach()

	assert.ErrorIs(t, alice.Set(ctx, SelectedKey("twitter"), []byte("t1")), ErrDetached)
	assert.ErrorIs(t, alice.SetJSON(ctx, SelectedKey("twitter"), "t1"), ErrDetached)
	assert.ErrorIs(t, alice.Delete(ctx, AccountsKey("twitter")), ErrDetached)

	got, ok, err := alice.Get(ctx, AccountsKey("twitter"))
	require.NoError(t, err)
	require.True(t, ok, "reads keep working")
	assert.Equal(t, []byte("a"), got)

	require.NoError(t, alice.Clear(ctx))
	keys, err := backend.Keys(ctx, "u:alice:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMigrateLegacyMovesOnceAndDeletes(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()
	require.NoError(t, backend.Set(ctx, "accounts:linkedin", []byte("legacy-accounts")))
	require.NoError(t, backend.Set(ctx, "selected:linkedin", []byte("legacy-selected")))

	s := NewScoped(backend, "alice")
	// A value already in the namespace wins over the legacy one.
	require.NoError(t, s.Set(ctx, SelectedKey("linkedin"), []byte("current")))

	moved, err := s.MigrateLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, ok, err := s.Get(ctx, AccountsKey("linkedin"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "legacy-accounts", string(got))

	got, _, _ = s.Get(ctx, SelectedKey("linkedin"))
	assert.Equal(t, "current", string(got))

	_, ok, _ = backend.Get(ctx, "accounts:linkedin")
	assert.False(t, ok, "legacy key must be deleted after the move")
	_, ok, _ = backend.Get(ctx, "selected:linkedin")
	assert.False(t, ok, "losing legacy key is deleted too")

	// A legacy key appearing later is not picked up again.
	require.NoError(t, backend.Set(ctx, "accounts:facebook", []byte("late")))
	moved, err = s.MigrateLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
}

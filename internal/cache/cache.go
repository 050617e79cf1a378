// Package cache implements the durable key-value Cache Store.
//
// The store holds account lists, selected-account pointers, per-post analytics
// and rate-limit cooldowns. Writes are last-writer-wins: every entry is keyed
// narrowly (per platform, per account/post) and values are recomputed, never
// accumulated, so no transactions are needed.
//
// Backends:
//   - SQLiteStore: a single file, survives restarts (default)
//   - RedisStore: shared between several server instances
//   - MemoryStore: tests and throwaway runs
//
// Callers never use a backend directly. They go through Scoped, which puts
// every key under the authenticated user's namespace.
package cache

import (
	"context"
	"fmt"
)

// Store is the minimal contract every backend implements.
type Store interface {
	// Get returns (nil, false, nil) when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
	// Keys lists every key that starts with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Key builders. Namespacing is added by Scoped; these are the bare keys.

func AccountsKey(platform string) string { return "accounts:" + platform }

func SelectedKey(platform string) string { return "selected:" + platform }

func AnalyticsKey(accountID, postID string) string {
	return fmt.Sprintf("analytics:%s:%s", accountID, postID)
}

func RateLimitKey(surface string) string { return "ratelimit:" + surface }

// LegacyPrefixes are the key families older clients wrote without a user
// namespace. MigrateLegacy moves them.
var LegacyPrefixes = []string{"accounts:", "selected:", "analytics:", "ratelimit:"}

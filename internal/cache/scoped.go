package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const migratedMarker = "meta:legacy-migrated"

// ErrDetached is returned by writes through a Scoped view after Detach.
var ErrDetached = errors.New("cache: scope detached")

// Scoped is a view of a Store restricted to one authenticated user.
// Two users sharing a device (or a server) never see each other's keys.
type Scoped struct {
	store  Store
	userID string

	// mu is held for reading by every write, so Detach waits them out.
	mu       sync.RWMutex
	detached bool
}

func NewScoped(store Store, userID string) *Scoped {
	return &Scoped{store: store, userID: userID}
}

func (s *Scoped) UserID() string { return s.userID }

func (s *Scoped) namespace() string { return "u:" + s.userID + ":" }

func (s *Scoped) key(k string) string { return s.namespace() + k }

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.store.Get(ctx, s.key(key))
}

func (s *Scoped) Set(ctx context.Context, key string, value []byte) error {
	return s.write(func() error { return s.store.Set(ctx, s.key(key), value) })
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.write(func() error { return s.store.Delete(ctx, s.key(key)) })
}

func (s *Scoped) write(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.detached {
		return ErrDetached
	}
	return fn()
}

// Detach makes every later Set or Delete through s fail with ErrDetached and
// returns once the writes already running have finished. Reads and Clear
// keep working, so a caller can detach and then wipe the namespace knowing
// nothing lands after the wipe.
func (s *Scoped) Detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

// GetJSON decodes the value at key into v. It reports false when the key is
// missing.
func (s *Scoped) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("cache: decoding %s: %w", key, err)
	}
	return true, nil
}

func (s *Scoped) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encoding %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// Clear removes every key in the user's namespace.
func (s *Scoped) Clear(ctx context.Context) error {
	keys, err := s.store.Keys(ctx, s.namespace())
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if err := s.store.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MigrateLegacy moves un-namespaced keys written by older clients into this
// user's namespace, then deletes the legacy key. A value already present in
// the namespace wins over the legacy one. It runs at most once per user and
// returns the number of keys moved.
func (s *Scoped) MigrateLegacy(ctx context.Context) (int, error) {
	if _, done, err := s.Get(ctx, migratedMarker); err != nil {
		return 0, err
	} else if done {
		return 0, nil
	}

	moved := 0
	for _, prefix := range LegacyPrefixes {
		keys, err := s.store.Keys(ctx, prefix)
		if err != nil {
			return moved, err
		}
		for _, legacy := range keys {
			if strings.HasPrefix(legacy, "u:") {
				continue
			}
			value, ok, err := s.store.Get(ctx, legacy)
			if err != nil && !errors.Is(err, ErrUnsealable) {
				return moved, err
			}
			if ok {
				_, exists, err := s.Get(ctx, legacy)
				if err != nil && !errors.Is(err, ErrUnsealable) {
					return moved, err
				}
				if !exists {
					if err := s.Set(ctx, legacy, value); err != nil {
						return moved, err
					}
					moved++
				}
			}
			if err := s.store.Delete(ctx, legacy); err != nil {
				return moved, err
			}
		}
	}

	if err := s.Set(ctx, migratedMarker, []byte("1")); err != nil {
		return moved, err
	}
	return moved, nil
}

// Package registry keeps the normalized list of a customer's connected
// accounts and the selected account per platform.
//
// WRITE ORDERING:
//   - create: backend first; the local list and cache change only after the
//     backend acknowledged the write
//   - delete: local first (the UI reacts at once); a failed backend delete
//     re-adds the account and restores the selection
//
// HYDRATION:
// The backend is the source of truth across devices. Hydrate asks it first
// and reads the local cache only when the backend is unreachable.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/cache"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/provider"
)

// LinkStore is the backend persistence the registry needs.
type LinkStore interface {
	List(ctx context.Context, customerID string) ([]model.RawAccount, error)
	Create(ctx context.Context, customerID string, acc model.ConnectedAccount) error
	Delete(ctx context.Context, accountID string) error
}

// Tokens upgrades and classifies account credentials. Upgrades are best
// effort; Apply records the token status and the reconnection flag.
type Tokens interface {
	Upgrade(ctx context.Context, acc model.ConnectedAccount) (model.ConnectedAccount, error)
	Apply(acc *model.ConnectedAccount)
}

// Source says where Hydrate got its data.
type Source string

const (
	SourceBackend Source = "backend"
	SourceCache   Source = "cache"
)

type Registry struct {
	customerID string
	links      LinkStore
	tokens     Tokens
	store      *cache.Scoped
	logger     *slog.Logger
	now        func() time.Time

	// writeMu serializes mutations that span a network call, so two ingests
	// cannot both pass the duplicate check for the same id.
	writeMu sync.Mutex

	mu       sync.RWMutex
	accounts []model.ConnectedAccount
	selected map[model.Platform]string
}

func New(customerID string, links LinkStore, tokens Tokens, store *cache.Scoped, logger *slog.Logger) *Registry {
	return &Registry{
		customerID: customerID,
		links:      links,
		tokens:     tokens,
		store:      store,
		logger:     logger,
		now:        time.Now,
		selected:   make(map[model.Platform]string),
	}
}

// Ingest normalizes, deduplicates and persists raw accounts. Duplicates of an
// already-registered id (or of an earlier item in the same batch) are
// reported as AlreadyConnected and leave the registry unchanged. The error is
// non-nil only when ctx ends.
func (r *Registry) Ingest(ctx context.Context, raws []model.RawAccount) (model.IngestResult, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	res := model.IngestResult{
		Added:            []model.ConnectedAccount{},
		AlreadyConnected: []model.ConnectedAccount{},
		Failed:           []model.IngestFailure{},
	}
	seen := make(map[string]bool)
	touched := make(map[model.Platform]bool)

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			r.flush(ctx, touched)
			return res, err
		}

		acc, err := provider.Normalize(raw, r.now())
		if err != nil {
			res.Failed = append(res.Failed, model.IngestFailure{
				ID:       provider.Str(raw, "id"),
				Platform: model.Platform(provider.Str(raw, "platform")),
				Message:  errMessage(err),
				Err:      err,
			})
			continue
		}

		if existing, ok := r.Get(acc.ID); ok {
			res.AlreadyConnected = append(res.AlreadyConnected, existing)
			continue
		}
		if seen[acc.ID] {
			res.AlreadyConnected = append(res.AlreadyConnected, acc)
			continue
		}
		seen[acc.ID] = true

		if r.tokens != nil {
			// Upgrade returns a usable copy even when an exchange failed.
			acc, _ = r.tokens.Upgrade(ctx, acc)
		}
		r.classify(&acc)

		if err := r.links.Create(ctx, r.customerID, acc); err != nil {
			r.logger.Warn("registry: account not persisted",
				slog.String("accountID", acc.ID),
				slog.String("platform", string(acc.Platform)),
				slog.String("error", err.Error()),
			)
			if !errors.Is(err, apperror.ErrPersistence) {
				err = apperror.Persistence("saving account "+acc.ID, err)
			}
			res.Failed = append(res.Failed, model.IngestFailure{
				ID:       acc.ID,
				Platform: acc.Platform,
				Message:  errMessage(err),
				Err:      err,
			})
			continue
		}

		r.mu.Lock()
		r.accounts = append(r.accounts, acc)
		if r.selected[acc.Platform] == "" {
			r.selected[acc.Platform] = acc.ID
		}
		r.mu.Unlock()

		touched[acc.Platform] = true
		res.Added = append(res.Added, acc.Clone())
		r.logger.Info("registry: account connected",
			slog.String("accountID", acc.ID),
			slog.String("platform", string(acc.Platform)),
			slog.String("accountType", string(acc.AccountType)),
		)
	}

	r.flush(ctx, touched)
	return res, nil
}

// List returns the accounts of platform, or all accounts when platform is
// empty, in connection order.
func (r *Registry) List(platform model.Platform) []model.ConnectedAccount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.ConnectedAccount{}
	for _, a := range r.accounts {
		if platform == "" || a.Platform == platform {
			out = append(out, a.Clone())
		}
	}
	return out
}

func (r *Registry) Get(id string) (model.ConnectedAccount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.index(id); i >= 0 {
		return r.accounts[i].Clone(), true
	}
	return model.ConnectedAccount{}, false
}

// Select makes id the selected account of its platform.
func (r *Registry) Select(ctx context.Context, id string) error {
	r.mu.Lock()
	i := r.index(id)
	if i < 0 {
		r.mu.Unlock()
		return apperror.NotFound("account", id)
	}
	platform := r.accounts[i].Platform
	r.selected[platform] = id
	r.mu.Unlock()

	r.flush(ctx, map[model.Platform]bool{platform: true})
	return nil
}

// Selected returns the selected account of platform, if any.
func (r *Registry) Selected(platform model.Platform) (model.ConnectedAccount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.index(r.selected[platform]); i >= 0 {
		return r.accounts[i].Clone(), true
	}
	return model.ConnectedAccount{}, false
}

// Replace overwrites the stored account with the same id. It carries token
// state changes (Invalidate, refresh) and is local plus cache only.
func (r *Registry) Replace(ctx context.Context, acc model.ConnectedAccount) error {
	r.mu.Lock()
	i := r.index(acc.ID)
	if i < 0 {
		r.mu.Unlock()
		return apperror.NotFound("account", acc.ID)
	}
	r.accounts[i] = acc.Clone()
	r.mu.Unlock()

	r.flush(ctx, map[model.Platform]bool{acc.Platform: true})
	return nil
}

// Disconnect removes the account locally, then deletes it on the backend.
// When the backend delete fails the account is put back where it was.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	i := r.index(id)
	if i < 0 {
		r.mu.Unlock()
		return apperror.NotFound("account", id)
	}
	removed := r.accounts[i]
	prevSelected := r.selected[removed.Platform]
	r.accounts = slices.Delete(r.accounts, i, i+1)
	if prevSelected == id {
		r.fallbackSelection(removed.Platform)
	}
	r.mu.Unlock()
	touched := map[model.Platform]bool{removed.Platform: true}
	r.flush(ctx, touched)

	if err := r.links.Delete(ctx, id); err != nil {
		r.logger.Warn("registry: backend delete failed, restoring account",
			slog.String("accountID", id),
			slog.String("error", err.Error()),
		)
		r.mu.Lock()
		r.accounts = slices.Insert(r.accounts, min(i, len(r.accounts)), removed)
		r.selected[removed.Platform] = prevSelected
		r.mu.Unlock()
		r.flush(ctx, touched)
		if !errors.Is(err, apperror.ErrPersistence) && !errors.Is(err, apperror.ErrNetwork) {
			err = apperror.Persistence("deleting account "+id, err)
		}
		return err
	}

	r.logger.Info("registry: account disconnected",
		slog.String("accountID", id),
		slog.String("platform", string(removed.Platform)),
	)
	return nil
}

// DisconnectAll disconnects every account and joins the failures.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, a := range r.List("") {
		if err := r.Disconnect(ctx, a.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hydrate loads the registry from the backend. Only a network failure makes
// it fall back to the cache; any other backend error is returned as is.
func (r *Registry) Hydrate(ctx context.Context) (Source, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	raws, err := r.links.List(ctx, r.customerID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNetwork) {
			return "", fmt.Errorf("registry: hydrating from backend: %w", err)
		}
		r.logger.Warn("registry: backend unreachable, hydrating from cache",
			slog.String("error", err.Error()),
		)
		if err := r.loadCache(ctx); err != nil {
			return "", err
		}
		return SourceCache, nil
	}

	accounts := make([]model.ConnectedAccount, 0, len(raws))
	ids := make(map[string]bool)
	for _, raw := range raws {
		acc, err := provider.Normalize(raw, r.now())
		if err != nil {
			r.logger.Warn("registry: skipping unreadable persisted account",
				slog.String("id", provider.Str(raw, "id")),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ids[acc.ID] {
			continue
		}
		ids[acc.ID] = true
		r.classify(&acc)
		accounts = append(accounts, acc)
	}

	// Selection pointers are per device, so they come from the cache.
	selected := make(map[model.Platform]string)
	for _, p := range model.Platforms {
		var id string
		if ok, err := r.store.GetJSON(ctx, cache.SelectedKey(string(p)), &id); err == nil && ok {
			selected[p] = id
		}
	}

	r.mu.Lock()
	r.accounts = accounts
	r.selected = selected
	for _, p := range model.Platforms {
		if r.index(r.selected[p]) < 0 {
			r.fallbackSelection(p)
		}
	}
	r.mu.Unlock()

	all := make(map[model.Platform]bool)
	for _, p := range model.Platforms {
		all[p] = true
	}
	r.flush(ctx, all)
	return SourceBackend, nil
}

func (r *Registry) loadCache(ctx context.Context) error {
	var accounts []model.ConnectedAccount
	selected := make(map[model.Platform]string)
	for _, p := range model.Platforms {
		var list []model.ConnectedAccount
		if _, err := r.store.GetJSON(ctx, cache.AccountsKey(string(p)), &list); err != nil {
			return fmt.Errorf("registry: reading cached %s accounts: %w", p, err)
		}
		for _, a := range list {
			if a.Pages == nil {
				a.Pages = []model.Page{}
			}
			if a.Channels == nil {
				a.Channels = []model.Channel{}
			}
			r.classify(&a)
			accounts = append(accounts, a)
		}
		var id string
		if ok, err := r.store.GetJSON(ctx, cache.SelectedKey(string(p)), &id); err == nil && ok {
			selected[p] = id
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = accounts
	r.selected = selected
	for _, p := range model.Platforms {
		if r.index(r.selected[p]) < 0 {
			r.fallbackSelection(p)
		}
	}
	return nil
}

// flush writes the account list and selection of each platform to the
// cache. The cache is secondary, so failures are only logged. Once the
// user's cache view is detached (logout) nothing is written.
func (r *Registry) flush(ctx context.Context, platforms map[model.Platform]bool) {
	for p := range platforms {
		accounts := r.List(p)
		r.mu.RLock()
		sel := r.selected[p]
		r.mu.RUnlock()

		err := r.store.SetJSON(ctx, cache.AccountsKey(string(p)), accounts)
		if errors.Is(err, cache.ErrDetached) {
			return
		}
		if err != nil {
			r.logger.Warn("registry: caching accounts failed",
				slog.String("platform", string(p)),
				slog.String("error", err.Error()),
			)
		}
		if sel == "" {
			err = r.store.Delete(ctx, cache.SelectedKey(string(p)))
		} else {
			err = r.store.SetJSON(ctx, cache.SelectedKey(string(p)), sel)
		}
		if err != nil && !errors.Is(err, cache.ErrDetached) {
			r.logger.Warn("registry: caching selection failed",
				slog.String("platform", string(p)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// classify marks expired or missing tokens before the account is served, so
// no analytics call is spent on a token known to be dead.
func (r *Registry) classify(acc *model.ConnectedAccount) {
	if r.tokens == nil {
		return
	}
	r.tokens.Apply(acc)
	if acc.NeedsReconnection {
		r.logger.Debug("registry: account needs reconnection",
			slog.String("accountID", acc.ID),
			slog.String("tokenStatus", string(acc.TokenStatus)),
		)
	}
}

// index must be called with mu held.
func (r *Registry) index(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(r.accounts, func(a model.ConnectedAccount) bool { return a.ID == id })
}

// fallbackSelection selects the first remaining account of platform, or
// clears the selection. mu must be held.
func (r *Registry) fallbackSelection(platform model.Platform) {
	delete(r.selected, platform)
	for _, a := range r.accounts {
		if a.Platform == platform {
			r.selected[platform] = a.ID
			return
		}
	}
}

func errMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

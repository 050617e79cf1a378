package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/model"
)

// AccountHandler exposes the caller's account registry.
//
// HANDLER RESPONSIBILITIES:
//   - HandleList       → every connected account, optionally one platform
//   - HandleIngest     → add raw accounts (a batch from an authorization)
//   - HandleSelected   → the selected account of a platform
//   - HandleSelect     → change the selection
//   - HandleDisconnect → remove one account (local first, restored if the backend refuses)
//   - HandleDisconnectAll
type AccountHandler struct {
	scopes Scopes
	logger *slog.Logger
}

func NewAccountHandler(scopes Scopes, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{scopes: scopes, logger: logger}
}

// HandleList returns the connected accounts.
//
// HTTP: GET /api/accounts?platform=linkedin
func (h *AccountHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var platform model.Platform
	if raw := r.URL.Query().Get("platform"); raw != "" {
		p, err := parsePlatform(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		platform = p
	}

	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": s.Registry.List(platform),
		"source":   s.Source,
	})
}

type ingestRequest struct {
	Accounts []model.RawAccount `json:"accounts"`
}

// HandleIngest connects a batch of raw accounts.
//
// HTTP: POST /api/accounts
// REQUEST BODY: {"accounts": [{"platform": "linkedin", "id": "...", ...}]}
//
// The response is always 200 when the batch was processed: duplicates land
// in alreadyConnected and bad items in failed, next to the added ones.
func (h *AccountHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Accounts) == 0 {
		writeError(w, apperror.ValidationFailed("accounts", "at least one account is required"))
		return
	}

	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	ctx, cancel := userContext(r, s)
	defer cancel()

	res, err := s.Registry.Ingest(ctx, req.Accounts)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("accounts ingested",
		slog.String("userID", s.UserID),
		slog.Int("added", len(res.Added)),
		slog.Int("alreadyConnected", len(res.AlreadyConnected)),
		slog.Int("failed", len(res.Failed)),
	)
	writeJSON(w, http.StatusOK, res)
}

// HandleSelected returns the selected account of a platform.
//
// HTTP: GET /api/accounts/selected?platform=facebook
func (h *AccountHandler) HandleSelected(w http.ResponseWriter, r *http.Request) {
	platform, err := parsePlatform(r.URL.Query().Get("platform"))
	if err != nil {
		writeError(w, err)
		return
	}
	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	acc, found := s.Registry.Selected(platform)
	if !found {
		writeError(w, apperror.NotFound("selected account", string(platform)))
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// HandleSelect makes an account the selected one of its platform.
//
// HTTP: POST /api/accounts/{id}/select
func (h *AccountHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := userContext(r, s)
	defer cancel()
	if err := s.Registry.Select(ctx, id); err != nil {
		writeError(w, err)
		return
	}
	acc, _ := s.Registry.Get(id)
	writeJSON(w, http.StatusOK, acc)
}

// HandleDisconnect removes one account.
//
// HTTP: DELETE /api/accounts/{id}
//
// The account leaves the local list at once, then the backend record is
// deleted. When the backend delete fails the account and its selection are
// restored and the error is returned.
func (h *AccountHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := userContext(r, s)
	defer cancel()
	if err := s.Registry.Disconnect(ctx, id); err != nil {
		h.logger.Warn("disconnect failed",
			slog.String("accountID", id),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDisconnectAll removes every account of the caller.
//
// HTTP: DELETE /api/accounts
func (h *AccountHandler) HandleDisconnectAll(w http.ResponseWriter, r *http.Request) {
	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	ctx, cancel := userContext(r, s)
	defer cancel()
	if err := s.Registry.DisconnectAll(ctx); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/oauth"
)

// Long-poll bounds for GET /api/oauth/sessions/{id}. MaxWait must stay below
// the server's WriteTimeout.
const (
	DefaultWait = 25 * time.Second
	MaxWait     = 55 * time.Second
)

// OAuthHandler drives the popup authorization flow.
//
// THE FLOW FROM THE BROWSER'S SIDE:
//  1. POST /api/oauth/{platform}/start      → {session, authUrl, window}
//  2. the front end opens window.url with the returned geometry
//  3. GET /api/oauth/sessions/{id}?wait=25  → long-poll until resolved
//  4. the provider redirects the popup to GET /oauth/{platform}/callback,
//     which exchanges the code and resolves the session
//  5. POST /api/oauth/sessions/{id}/events  → {"event":"closed"} when the
//     user shuts the popup, {"event":"blocked"} when window.open failed
//
// Step 3 either returns 200 with the ingested accounts, an error response
// (auth_denied, cancelled, timeout, popup_blocked) or 202 with the session
// when the wait ran out and the client should poll again.
type OAuthHandler struct {
	scopes Scopes
	// origin is the postMessage target of the callback page. Empty means
	// the page's own origin.
	origin string
	logger *slog.Logger
}

func NewOAuthHandler(scopes Scopes, origin string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{scopes: scopes, origin: origin, logger: logger}
}

type startRequest struct {
	Slot   string       `json:"slot"`
	Scopes []string     `json:"scopes"`
	Screen oauth.Screen `json:"screen"`
}

// HandleStart opens an authorization session.
//
// HTTP: POST /api/oauth/{platform}/start
func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	platform, err := parsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}

	pending, err := s.Broker.Begin(r.Context(), platform, oauth.BeginOptions{
		Slot:   req.Slot,
		Scopes: req.Scopes,
		Screen: req.Screen,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pending)
}

// HandleAwait long-polls a session.
//
// HTTP: GET /api/oauth/sessions/{id}?wait=<seconds>
//
// The access token never leaves the server: the registry already holds it,
// so the result is sent without it.
func (h *OAuthHandler) HandleAwait(w http.ResponseWriter, r *http.Request) {
	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	info, found := s.Broker.Session(id)
	if !found {
		writeError(w, apperror.NotFound("oauth session", id))
		return
	}

	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	res, err := s.Broker.Await(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
			info, _ = s.Broker.Session(id)
			writeJSON(w, http.StatusAccepted, info)
			return
		}
		writeError(w, err)
		return
	}
	if !res.Success {
		writeError(w, res.Err(info.Platform))
		return
	}
	res.Token = ""
	writeJSON(w, http.StatusOK, res)
}

// parseWait reads the wait parameter in whole seconds.
func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return DefaultWait, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, apperror.ValidationFailed("wait", "wait must be a non-negative number of seconds")
	}
	if secs == 0 {
		return DefaultWait, nil
	}
	return min(time.Duration(secs)*time.Second, MaxWait), nil
}

type eventRequest struct {
	Event oauth.WindowEvent `json:"event"`
}

// HandleEvent records what the front end saw happen to its popup.
//
// HTTP: POST /api/oauth/sessions/{id}/events
func (h *OAuthHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Event == "" {
		writeError(w, apperror.ValidationFailed("event", "event is required"))
		return
	}

	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}
	if err := s.Broker.Report(chi.URLParam(r, "id"), req.Event); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// callbackMessage is what the callback page posts to its opener. It carries
// the outcome only; the token stays on the server.
type callbackMessage struct {
	Source   string         `json:"source"`
	State    string         `json:"state"`
	Platform model.Platform `json:"platform"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
}

type callbackPage struct {
	Message callbackMessage
	Origin  string
}

// callbackTmpl is rendered into the popup. html/template escapes the
// message for the script context, so provider error text cannot inject
// markup.
var callbackTmpl = template.Must(template.New("callback").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Authorization</title></head>
<body>
<p>{{if .Message.Success}}Account connected. You can close this window.{{else}}Authorization did not complete: {{.Message.Error}}{{end}}</p>
<script>
(function () {
  var msg = {{.Message}};
  var target = {{.Origin}} || window.location.origin;
  if (window.opener) {
    window.opener.postMessage(msg, target);
  }
  window.close();
})();
</script>
</body>
</html>
`))

// HandleCallback is the provider's redirect target.
//
// HTTP: GET /oauth/{platform}/callback?state=...&code=...
//
// The popup is a top-level navigation, so the browser sends the session
// cookie and RequireAuth finds the user whose broker owns the state.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := callbackPage{
		Message: callbackMessage{Source: oauth.MessageSource, State: q.Get("state")},
		Origin:  h.origin,
	}

	platform, err := parsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		page.Message.Error = "unsupported platform"
		h.render(w, http.StatusBadRequest, page)
		return
	}
	page.Message.Platform = platform

	s, ok := openScope(w, r, h.scopes)
	if !ok {
		return
	}

	ctx, cancel := userContext(r, s)
	defer cancel()

	msg, err := s.Broker.Complete(ctx, platform, q.Get("state"), q.Get("code"), q.Get("error"))
	if err != nil {
		h.logger.Warn("oauth callback failed",
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		page.Message.Error = "this authorization session is unknown or has expired"
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && !errors.Is(err, apperror.ErrNotFound) {
			page.Message.Error = appErr.Message
		}
		h.render(w, http.StatusBadRequest, page)
		return
	}

	page.Message.Success = msg.Success
	page.Message.Error = msg.Error
	h.logger.Info("oauth callback handled",
		slog.String("platform", string(platform)),
		slog.String("state", msg.State),
		slog.Bool("success", msg.Success),
	)
	h.render(w, http.StatusOK, page)
}

func (h *OAuthHandler) render(w http.ResponseWriter, status int, page callbackPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := callbackTmpl.Execute(w, page); err != nil {
		h.logger.Error("failed to render callback page", slog.String("error", err.Error()))
	}
}

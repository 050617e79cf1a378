// Package oauth correlates provider authorizations opened in a separate
// window with the scope that started them.
//
// CORRELATION MAP:
// Begin registers a session under a fresh correlation id (the OAuth "state"
// nonce, or a session id for poll-channel platforms) and opens the popup.
// Whichever resolution arrives first settles the session:
//
//   - a tagged Message delivered by the callback page (message channel)
//   - a session record found by the poll loop (poll channel)
//   - the window reported closed → cancelled
//   - the popup refused by the host → popup_blocked
//   - nothing before the timeout → timed_out
//
// Every later resolution is ignored. On success the broker hands the profile
// and token to the registry's Ingest; it never persists anything itself.
//
// SLOTS:
// Only one authorization per (platform, slot) may be pending. A new Begin on
// a busy slot cancels the older session first so two completions never race
// to mutate the same account slot.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"golang.org/x/oauth2"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/model"
)

// MessageSource tags messages posted by our own callback page. Messages with
// any other source are not ours and are rejected.
const MessageSource = "social-insights-oauth"

// DefaultSlot is the slot used by StartAuthorization.
const DefaultSlot = "default"

// Reason explains an unsuccessful Result.
type Reason string

const (
	ReasonDenied       Reason = "denied"
	ReasonCancelled    Reason = "cancelled"
	ReasonTimedOut     Reason = "timed_out"
	ReasonPopupBlocked Reason = "popup_blocked"
	ReasonFailed       Reason = "failed"
)

// Message is what the callback page (or a poll record) carries.
type Message struct {
	Source  string           `json:"source"`
	State   string           `json:"state"`
	Success bool             `json:"success"`
	Token   string           `json:"token,omitempty"`
	Profile model.RawAccount `json:"profile,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Validate checks the tag and the fields a resolution needs.
func (m Message) Validate() error {
	if m.Source != MessageSource {
		return apperror.ValidationFailed("source", "message is not from the authorization callback")
	}
	if m.State == "" {
		return apperror.ValidationFailed("state", "message has no correlation id")
	}
	if m.Success && (m.Token == "" || len(m.Profile) == 0) {
		return apperror.ValidationFailed("token", "successful message needs a token and a profile")
	}
	return nil
}

// Result is the outcome of one authorization.
type Result struct {
	Success  bool                `json:"success"`
	Token    string              `json:"token,omitempty"`
	Profile  model.RawAccount    `json:"profile,omitempty"`
	Reason   Reason              `json:"reason,omitempty"`
	Message  string              `json:"message,omitempty"`
	Ingested *model.IngestResult `json:"ingested,omitempty"`
}

// Err maps an unsuccessful Result onto the error taxonomy.
func (r Result) Err(platform model.Platform) error {
	switch {
	case r.Success:
		return nil
	case r.Reason == ReasonDenied:
		return apperror.AuthDenied(string(platform))
	case r.Reason == ReasonCancelled:
		return apperror.Cancelled(string(platform) + " authorization")
	case r.Reason == ReasonTimedOut:
		return apperror.Timeout(string(platform) + " authorization")
	case r.Reason == ReasonPopupBlocked:
		return apperror.PopupBlocked()
	default:
		return apperror.ValidationFailed("authorization", r.Message)
	}
}

// Pending is returned by Begin: the session and the window to open.
type Pending struct {
	Session model.OAuthSession `json:"session"`
	AuthURL string             `json:"authUrl"`
	Window  WindowSpec         `json:"window"`
}

// Ingester receives successful authorizations. The registry implements it.
type Ingester interface {
	Ingest(ctx context.Context, raw []model.RawAccount) (model.IngestResult, error)
}

// Config tunes the broker's timers.
type Config struct {
	Providers map[model.Platform]ProviderConfig
	// Timeout bounds the whole authorization.
	Timeout time.Duration
	// WindowCheck is how often the popup handle is checked for closure.
	WindowCheck time.Duration
	// PollInterval and MaxPolls bound the poll channel.
	PollInterval time.Duration
	MaxPolls     int
	// Retention keeps resolved sessions around for a late Await.
	Retention time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.WindowCheck <= 0 {
		c.WindowCheck = 500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 150
	}
	if c.Retention <= 0 {
		c.Retention = time.Minute
	}
}

type slotKey struct {
	platform model.Platform
	slot     string
}

type session struct {
	info     model.OAuthSession
	provider ProviderConfig
	verifier string
	window   Window

	claimed bool
	result  Result
	done    chan struct{}
	stop    context.CancelFunc
}

// Broker is the correlation map. It belongs to one user scope.
type Broker struct {
	cfg      Config
	opener   Opener
	sessions SessionStore
	ingester Ingester
	profiles ProfileFetcher
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending map[string]*session
	slots   map[slotKey]string
}

// New creates a Broker. parent bounds every watcher the broker starts;
// cancelling it (or calling Close) stops them all.
func New(parent context.Context, cfg Config, opener Opener, sessions SessionStore, ingester Ingester, profiles ProfileFetcher, logger *slog.Logger) *Broker {
	cfg.setDefaults()
	if opener == nil {
		opener = HandoffOpener{}
	}
	if sessions == nil {
		sessions = NewMemorySessionStore(cfg.Timeout)
	}
	ctx, cancel := context.WithCancel(parent)
	return &Broker{
		cfg:      cfg,
		opener:   opener,
		sessions: sessions,
		ingester: ingester,
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*session),
		slots:    make(map[slotKey]string),
	}
}

// BeginOptions are the optional inputs of Begin.
type BeginOptions struct {
	Slot   string
	Scopes []string
	Screen Screen
}

// Begin opens a new authorization. The returned error covers only requests
// that could not start (unknown platform, broker closed); every other
// outcome, popup_blocked included, is reported through Await.
func (b *Broker) Begin(ctx context.Context, platform model.Platform, opts BeginOptions) (Pending, error) {
	pc, ok := b.cfg.Providers[platform]
	if !ok {
		return Pending{}, apperror.ValidationFailed("platform", fmt.Sprintf("%s is not configured for authorization", platform))
	}
	if opts.Slot == "" {
		opts.Slot = DefaultSlot
	}

	id := uuid.NewString()
	if pc.Channel == ChannelPoll {
		id = xid.New().String()
	}

	oc := pc.OAuth
	if len(opts.Scopes) > 0 {
		oc.Scopes = opts.Scopes
	}
	var authOpts []oauth2.AuthCodeOption
	var verifier string
	if pc.PKCE {
		verifier = oauth2.GenerateVerifier()
		authOpts = append(authOpts, oauth2.S256ChallengeOption(verifier))
	}
	authURL := oc.AuthCodeURL(id, authOpts...)

	s := &session{
		info: model.OAuthSession{
			CorrelationID: id,
			Platform:      platform,
			Slot:          opts.Slot,
			OpenedAt:      b.now().UTC(),
			Status:        model.SessionPending,
		},
		provider: pc,
		verifier: verifier,
		done:     make(chan struct{}),
	}
	key := slotKey{platform: platform, slot: opts.Slot}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Pending{}, apperror.Cancelled("authorization broker")
	}
	prev := b.pending[b.slots[key]]
	b.pending[id] = s
	b.slots[key] = id
	b.mu.Unlock()

	if prev != nil {
		b.logger.Info("oauth: superseding pending authorization",
			slog.String("platform", string(platform)),
			slog.String("slot", opts.Slot),
			slog.String("previous", prev.info.CorrelationID),
		)
		b.resolve(prev, Result{Reason: ReasonCancelled, Message: "superseded by a newer authorization"})
	}

	spec := Centered(authURL, "oauth_"+string(platform), opts.Screen)
	win, err := b.opener.Open(ctx, spec)
	if err != nil {
		b.logger.Warn("oauth: popup could not be opened",
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		b.resolve(s, Result{Reason: ReasonPopupBlocked, Message: apperror.PopupBlocked().Message})
		return Pending{Session: b.snapshot(s), AuthURL: authURL, Window: spec}, nil
	}

	wctx, stop := context.WithCancel(b.ctx)
	b.mu.Lock()
	s.window = win
	s.stop = stop
	settled := s.claimed
	b.mu.Unlock()
	if settled {
		// Resolved (superseded, closed) while the window was opening.
		stop()
		win.Close()
		return Pending{Session: b.snapshot(s), AuthURL: authURL, Window: spec}, nil
	}
	go b.watch(wctx, s)

	b.logger.Debug("oauth: authorization started",
		slog.String("platform", string(platform)),
		slog.String("correlationID", id),
		slog.String("channel", pc.Channel.String()),
	)
	return Pending{Session: b.snapshot(s), AuthURL: authURL, Window: spec}, nil
}

// watch runs the timers of one session until it resolves.
func (b *Broker) watch(ctx context.Context, s *session) {
	timeout := time.NewTimer(b.cfg.Timeout)
	defer timeout.Stop()
	check := time.NewTicker(b.cfg.WindowCheck)
	defer check.Stop()

	var poll <-chan time.Time
	if s.provider.Channel == ChannelPoll {
		t := time.NewTicker(b.cfg.PollInterval)
		defer t.Stop()
		poll = t.C
	}
	polls := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-timeout.C:
			b.resolve(s, Result{Reason: ReasonTimedOut, Message: "no answer from the authorization window"})
			return
		case <-check.C:
			if s.window.Closed() {
				b.resolve(s, Result{Reason: ReasonCancelled, Message: "authorization window was closed"})
				return
			}
		case <-poll:
			polls++
			msg, found, err := b.sessions.Lookup(ctx, s.info.CorrelationID)
			if err != nil {
				b.logger.Debug("oauth: session lookup failed",
					slog.String("correlationID", s.info.CorrelationID),
					slog.String("error", err.Error()),
				)
			}
			if found {
				b.accept(s, msg)
				return
			}
			if polls >= b.cfg.MaxPolls {
				b.resolve(s, Result{Reason: ReasonTimedOut, Message: "session lookup budget exhausted"})
				return
			}
		}
	}
}

// Deliver is the message channel. Invalid or foreign messages are rejected;
// messages for an already-settled session are ignored.
func (b *Broker) Deliver(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	s, ok := b.pending[msg.State]
	b.mu.Unlock()
	if !ok {
		return apperror.NotFound("oauth session", msg.State)
	}
	b.accept(s, msg)
	return nil
}

// WindowEvent is what the HTTP client can report about its popup.
type WindowEvent string

const (
	EventClosed  WindowEvent = "closed"
	EventBlocked WindowEvent = "blocked"
)

// Report records a window event observed by the client.
func (b *Broker) Report(correlationID string, event WindowEvent) error {
	b.mu.Lock()
	s, ok := b.pending[correlationID]
	var win Window
	if ok {
		win = s.window
	}
	b.mu.Unlock()
	if !ok {
		return apperror.NotFound("oauth session", correlationID)
	}
	switch event {
	case EventClosed:
		if win != nil {
			win.Close()
		}
		b.resolve(s, Result{Reason: ReasonCancelled, Message: "authorization window was closed"})
	case EventBlocked:
		b.resolve(s, Result{Reason: ReasonPopupBlocked, Message: apperror.PopupBlocked().Message})
	default:
		return apperror.ValidationFailed("event", fmt.Sprintf("unknown window event %q", event))
	}
	return nil
}

// accept turns a message into a resolution. Ingestion happens after the
// session is claimed, so a concurrent cancel cannot interleave with it.
func (b *Broker) accept(s *session, msg Message) {
	if !b.claim(s) {
		return
	}
	if !msg.Success {
		reason := ReasonFailed
		lower := strings.ToLower(msg.Error)
		if strings.Contains(lower, "denied") || strings.Contains(lower, "cancel") {
			reason = ReasonDenied
		}
		b.finish(s, Result{Reason: reason, Message: msg.Error})
		return
	}

	raw := model.RawAccount{}
	for k, v := range msg.Profile {
		raw[k] = v
	}
	raw["platform"] = string(s.info.Platform)
	if _, ok := raw["token"]; !ok {
		raw["token"] = msg.Token
	}

	res := Result{Success: true, Token: msg.Token, Profile: msg.Profile}
	if b.ingester != nil {
		ingested, err := b.ingester.Ingest(b.ctx, []model.RawAccount{raw})
		if err != nil {
			b.logger.Error("oauth: ingesting authorized account failed",
				slog.String("platform", string(s.info.Platform)),
				slog.String("error", err.Error()),
			)
			res.Message = err.Error()
		}
		res.Ingested = &ingested
	}
	b.finish(s, res)
}

func (b *Broker) resolve(s *session, res Result) {
	if b.claim(s) {
		b.finish(s, res)
	}
}

func (b *Broker) claim(s *session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.claimed {
		return false
	}
	s.claimed = true
	return true
}

func (b *Broker) finish(s *session, res Result) {
	b.mu.Lock()
	s.result = res
	switch {
	case res.Success:
		s.info.Status = model.SessionSucceeded
	case res.Reason == ReasonCancelled:
		s.info.Status = model.SessionCancelled
	case res.Reason == ReasonTimedOut:
		s.info.Status = model.SessionTimedOut
	default:
		s.info.Status = model.SessionFailed
	}
	key := slotKey{platform: s.info.Platform, slot: s.info.Slot}
	if b.slots[key] == s.info.CorrelationID {
		delete(b.slots, key)
	}
	win, stop := s.window, s.stop
	b.mu.Unlock()

	close(s.done)
	if stop != nil {
		stop()
	}
	if win != nil && !win.Closed() {
		win.Close()
	}

	b.logger.Info("oauth: authorization resolved",
		slog.String("platform", string(s.info.Platform)),
		slog.String("correlationID", s.info.CorrelationID),
		slog.String("status", string(s.info.Status)),
	)

	id := s.info.CorrelationID
	time.AfterFunc(b.cfg.Retention, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.pending[id] == s {
			delete(b.pending, id)
		}
	})
}

// Await blocks until the session resolves or ctx ends. ctx ending returns
// ctx.Err() and leaves the session pending.
func (b *Broker) Await(ctx context.Context, correlationID string) (Result, error) {
	b.mu.Lock()
	s, ok := b.pending[correlationID]
	b.mu.Unlock()
	if !ok {
		return Result{}, apperror.NotFound("oauth session", correlationID)
	}
	select {
	case <-s.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Session returns the current state of a session.
func (b *Broker) Session(correlationID string) (model.OAuthSession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.pending[correlationID]
	if !ok {
		return model.OAuthSession{}, false
	}
	return s.info, true
}

// StartAuthorization is Begin on the default slot followed by Await.
func (b *Broker) StartAuthorization(ctx context.Context, platform model.Platform, scopes []string) Result {
	p, err := b.Begin(ctx, platform, BeginOptions{Scopes: scopes})
	if err != nil {
		return Result{Reason: ReasonFailed, Message: err.Error()}
	}
	res, err := b.Await(ctx, p.Session.CorrelationID)
	if err != nil {
		b.mu.Lock()
		s := b.pending[p.Session.CorrelationID]
		b.mu.Unlock()
		if s != nil {
			b.resolve(s, Result{Reason: ReasonCancelled, Message: "caller stopped waiting"})
		}
		return Result{Reason: ReasonCancelled, Message: err.Error()}
	}
	return res
}

// Close cancels every pending authorization and stops all watchers. Later
// calls to Begin fail.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var open []*session
	for _, s := range b.pending {
		if !s.claimed {
			open = append(open, s)
		}
	}
	b.mu.Unlock()

	b.cancel()
	for _, s := range open {
		b.resolve(s, Result{Reason: ReasonCancelled, Message: "signed out"})
	}
}

func (b *Broker) snapshot(s *session) model.OAuthSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return s.info
}

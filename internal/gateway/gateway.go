// Package gateway is the thin HTTP/JSON layer every outbound call goes through.
//
// MULTI-ENDPOINT FALLBACK:
// Each request names an Endpoint with two forms:
//   - Absolute: a full URL (the primary backend, or a provider API)
//   - Relative: a path resolved against the fallback origin
//
// The absolute form is tried first. If it fails at the transport level, or
// answers 404 or 5xx, the relative form is tried. Any other answer (including
// 401, 403 and 429) is final, because a second host would only repeat it.
//
// UNIFORM RESULT:
// Do never returns a Go error. It returns a Result with {OK, Status, Body, Err}
// so callers decide how to degrade. AsError turns a failed Result into the
// apperror taxonomy when the caller does want an error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/social-insights/internal/apperror"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 4 << 20

// Endpoint is one logical resource reachable two ways.
type Endpoint struct {
	Absolute string
	Relative string
}

// Request describes one outbound call.
type Request struct {
	Method   string
	Endpoint Endpoint
	// Body is JSON-encoded when non-nil.
	Body any
	// Token, when set, is sent as "Authorization: Bearer <token>".
	Token  string
	Header http.Header
}

// Result is the uniform outcome of Do.
type Result struct {
	OK     bool
	Status int
	Body   []byte
	// Err is set only for transport failures (no HTTP status).
	Err error
	// URL is the endpoint that produced this result.
	URL string
}

// Decode unmarshals the body into v.
func (r Result) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("gateway: empty response body from %s", r.URL)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("gateway: decoding response from %s: %w", r.URL, err)
	}
	return nil
}

// AsError classifies a failed Result. It returns nil when r.OK.
//
//	transport failure / 5xx → ErrNetwork
//	429                     → ErrRateLimited
//	401 / 403               → ErrInvalidToken
//	404                     → ErrNotFound
//	other 4xx               → ErrValidation
func (r Result) AsError() error {
	if r.OK {
		return nil
	}
	if r.Err != nil {
		return apperror.Network(r.URL, r.Err)
	}
	msg := upstreamMessage(r.Body)
	switch {
	case r.Status == http.StatusTooManyRequests:
		if msg == "" {
			msg = "upstream rate limit reached"
		}
		return &apperror.AppError{Err: apperror.ErrRateLimited, Message: msg, Status: r.Status}
	case r.Status == http.StatusUnauthorized || r.Status == http.StatusForbidden:
		return apperror.InvalidToken(r.Status, msg)
	case r.Status == http.StatusNotFound:
		if msg == "" {
			msg = fmt.Sprintf("%s not found", r.URL)
		}
		return &apperror.AppError{Err: apperror.ErrNotFound, Message: msg, Status: r.Status}
	case r.Status >= 500:
		e := apperror.Network(r.URL, fmt.Errorf("upstream status %d", r.Status))
		e.Status = r.Status
		return e
	default:
		if msg == "" {
			msg = fmt.Sprintf("upstream rejected the request with status %d", r.Status)
		}
		return &apperror.AppError{Err: apperror.ErrValidation, Message: msg, Status: r.Status}
	}
}

// Client performs requests with the endpoint fallback.
type Client struct {
	http     *http.Client
	primary  string
	fallback string
	logger   *slog.Logger
}

// Config configures a Client. Primary is the backend base URL used to build
// absolute endpoints; Fallback is the origin relative paths resolve against.
type Config struct {
	Primary  string
	Fallback string
	Timeout  time.Duration
}

// New creates a Client. A nil httpClient gets a default with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		http:     httpClient,
		primary:  strings.TrimRight(cfg.Primary, "/"),
		fallback: strings.TrimRight(cfg.Fallback, "/"),
		logger:   logger,
	}
}

// At builds the Endpoint for a backend path: primary base first, then the
// same path on the fallback origin.
func (c *Client) At(path string) Endpoint {
	ep := Endpoint{Relative: path}
	if c.primary != "" {
		ep.Absolute = c.primary + path
	}
	return ep
}

// Get is shorthand for a bodiless GET.
func (c *Client) Get(ctx context.Context, ep Endpoint, token string) Result {
	return c.Do(ctx, Request{Method: http.MethodGet, Endpoint: ep, Token: token})
}

// Do runs the request against each candidate URL until one gives a final
// answer. The last Result is returned when every candidate falls through.
func (c *Client) Do(ctx context.Context, req Request) Result {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return Result{Err: fmt.Errorf("gateway: encoding request body: %w", err)}
		}
	}

	urls := c.candidates(req.Endpoint)
	if len(urls) == 0 {
		return Result{Err: fmt.Errorf("gateway: request has no usable endpoint")}
	}

	var res Result
	for i, u := range urls {
		res = c.once(ctx, req, u, payload)
		if !fallsThrough(res) || ctx.Err() != nil {
			return res
		}
		if i < len(urls)-1 {
			c.logger.Debug("gateway: falling back to next endpoint",
				slog.String("url", u),
				slog.Int("status", res.Status),
			)
		}
	}
	return res
}

func (c *Client) candidates(ep Endpoint) []string {
	var urls []string
	if ep.Absolute != "" {
		urls = append(urls, ep.Absolute)
	}
	if ep.Relative != "" {
		rel := ep.Relative
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		u := c.fallback + rel
		if len(urls) == 0 || urls[0] != u {
			if c.fallback != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}

func (c *Client) once(ctx context.Context, req Request, url string, payload []byte) Result {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Result{Err: fmt.Errorf("gateway: building request: %w", err), URL: url}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.clientFor(req.Token).Do(httpReq)
	if err != nil {
		return Result{Err: err, URL: url}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{Status: resp.StatusCode, Err: fmt.Errorf("gateway: reading body: %w", err), URL: url}
	}

	return Result{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   raw,
		URL:    url,
	}
}

// clientFor wraps the base transport with oauth2.Transport when a bearer
// token is supplied.
func (c *Client) clientFor(token string) *http.Client {
	if token == "" {
		return c.http
	}
	return &http.Client{
		Timeout: c.http.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.http.Transport,
		},
	}
}

func fallsThrough(r Result) bool {
	if r.Err != nil && r.Status == 0 {
		return true
	}
	return r.Status == http.StatusNotFound || r.Status >= 500
}

// upstreamMessage pulls a human-readable message out of common error shapes:
// {"message": "..."}, {"error": "..."} and {"error": {"message": "..."}}.
func upstreamMessage(body []byte) string {
	var shape struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &shape) != nil {
		return ""
	}
	if shape.Message != "" {
		return shape.Message
	}
	var s string
	if json.Unmarshal(shape.Error, &s) == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(shape.Error, &nested) == nil {
		return nested.Message
	}
	return ""
}

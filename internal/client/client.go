// Package client talks to the remote event source. Every operation is
// fail-soft: an unconfigured, unreachable or misbehaving remote yields a
// defined fallback value (with the reason attached) instead of an error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"espressomap/internal/events"
	appLog "espressomap/internal/log"
	"espressomap/internal/metrics"
	"espressomap/internal/model"
)

// DefaultTimeout bounds every request made by the client.
const DefaultTimeout = 5 * time.Second

// maxBodySize caps how much of a reply is read.
const maxBodySize = 16 << 20

// ErrNotConfigured is the reason attached to Unconfigured results.
var ErrNotConfigured = errors.New("event API URL not configured")

// ErrTimeout is the reason attached when a request hits the timeout.
var ErrTimeout = errors.New("request timed out")

// Config holds client settings. Zero values are usable: no BaseURL means
// every call resolves to its fallback value without touching the network.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Now stamps analytics payloads and drives type derivation; defaults
	// to time.Now.
	Now func() time.Time
}

// Client is the remote event source client.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	now     func() time.Time
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(timeout)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout: timeout,
		http:    hc,
		now:     now,
	}
}

// NewHTTPClient returns an http.Client with a tuned transport. The
// per-request deadline is enforced through the request context; the
// client-level timeout is only a backstop.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: timeout, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}
	return &http.Client{Timeout: 2 * timeout, Transport: tr}
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// FetchEvents loads the full event collection from GET /events.
func (c *Client) FetchEvents(ctx context.Context) Result[[]model.Event] {
	res := c.FetchRawEvents(ctx)
	if !res.OK() {
		return failure[[]model.Event](res.Outcome, res.Err)
	}
	return success(events.NormalizeAll(res.Value, c.now()))
}

// FetchRawEvents is FetchEvents without normalization, for callers that
// need to pre-process records (series expansion) before normalizing.
func (c *Client) FetchRawEvents(ctx context.Context) Result[[]events.Raw] {
	raws, res := c.fetchCollection(ctx, "events", "/events")
	if !res.OK() {
		return failure[[]events.Raw](res.Outcome, res.Err)
	}
	return success(raws)
}

// FetchEventByID loads a single event from GET /events/{id}.
func (c *Client) FetchEventByID(ctx context.Context, id string) Result[model.Event] {
	const op = "event"
	body, res := c.do(ctx, op, http.MethodGet, "/events/"+url.PathEscape(id), nil)
	if !res.OK() {
		return failure[model.Event](res.Outcome, res.Err)
	}
	raw, err := events.DecodeRecord(body)
	if err != nil {
		res := c.shapeFailure(op, err, "id", id)
		return failure[model.Event](res.Outcome, res.Err)
	}
	metrics.ObserveOutcome(op, string(OK))
	return success(events.NormalizeAt(raw, c.now()))
}

// SearchEvents queries GET /events/search?q=. Unlike FetchEvents it
// returns an empty slice on failure: "no results" is a natural state for
// a search.
func (c *Client) SearchEvents(ctx context.Context, query string) []model.Event {
	q := url.Values{"q": {query}}
	raws, res := c.fetchCollection(ctx, "search", "/events/search?"+q.Encode())
	if !res.OK() {
		return []model.Event{}
	}
	return events.NormalizeAll(raws, c.now())
}

// Ping checks GET /health for {"status": "ok"}.
func (c *Client) Ping(ctx context.Context) bool {
	body, res := c.do(ctx, "health", http.MethodGet, "/health", nil)
	if !res.OK() {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		c.shapeFailure("health", err)
		return false
	}
	metrics.ObserveOutcome("health", string(OK))
	return health.Status == "ok"
}

// TrackEvent posts {event, timestamp, ...data} to /analytics. Keys in
// data override event/timestamp. The reply is ignored and failures are
// only logged.
func (c *Client) TrackEvent(ctx context.Context, name string, data map[string]any) {
	payload := map[string]any{
		"event":     name,
		"timestamp": model.FormatDate(c.now()),
	}
	for k, v := range data {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		appLog.Warn("failed to track event", "event", name, "reason", err)
		return
	}
	if _, res := c.do(ctx, "analytics", http.MethodPost, "/analytics", body); !res.OK() {
		appLog.Warn("failed to track event", "event", name, "reason", res.Err)
		return
	}
	metrics.ObserveOutcome("analytics", string(OK))
}

func (c *Client) fetchCollection(ctx context.Context, op, path string) ([]events.Raw, Result[struct{}]) {
	body, res := c.do(ctx, op, http.MethodGet, path, nil)
	if !res.OK() {
		return nil, res
	}
	raws, err := events.DecodeCollection(body)
	if err != nil {
		return nil, c.shapeFailure(op, err)
	}
	metrics.ObserveOutcome(op, string(OK))
	appLog.Debug("event API response decoded", "op", op, "count", len(raws))
	return raws, success(struct{}{})
}

func (c *Client) shapeFailure(op string, err error, kv ...any) Result[struct{}] {
	metrics.ObserveOutcome(op, string(BadShape))
	appLog.Warn("invalid event API response format", append([]any{"op", op, "reason", err}, kv...)...)
	return failure[struct{}](BadShape, err)
}

// do performs one bounded request and classifies its failure mode. The
// returned body is only meaningful when the result is OK; recording the
// OK outcome is left to the caller once the body has been decoded.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, Result[struct{}]) {
	if !c.Configured() {
		metrics.ObserveOutcome(op, string(Unconfigured))
		appLog.Debug("event API not configured; skipping request", "op", op)
		return nil, failure[struct{}](Unconfigured, ErrNotConfigured)
	}

	started := time.Now()
	defer func() {
		metrics.ObserveDuration(op, time.Since(started))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, c.unreachable(op, target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, c.timeout, err)
		}
		return nil, c.unreachable(op, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, c.unreachable(op, target, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.unreachable(op, target, newStatusError(resp, data, target))
	}

	return data, success(struct{}{})
}

func (c *Client) unreachable(op, target string, err error) Result[struct{}] {
	metrics.ObserveOutcome(op, string(Unreachable))
	appLog.Warn("event API request failed", "op", op, "url", redactURL(target), "reason", err)
	return failure[struct{}](Unreachable, err)
}

// redactURL keeps scheme, host and path but drops the query string.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable url)"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

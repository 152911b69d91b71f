package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/sweepwatch/internal/clock"
	"github.com/psantana5/sweepwatch/internal/session"
	"github.com/psantana5/sweepwatch/pkg/logging"
	"github.com/psantana5/sweepwatch/pkg/tracing"
)

// ErrNoCredential is carried by results short-circuited for a missing key
var ErrNoCredential = errors.New("no API credential set")

// ReasonUnauthorized is the logout reason used for HTTP 401
const ReasonUnauthorized = "unauthorized: API key invalid or expired"

const maxBodyBytes = 8 << 20

// Config holds transport configuration
type Config struct {
	BaseURL       string
	HeaderName    string        // Credential header, X-API-Key by default
	FailureWindow time.Duration // Sustained failure duration before logout
	Timeout       time.Duration // Per-request timeout
	TLS           *tls.Config
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:8199",
		HeaderName:    "X-API-Key",
		FailureWindow: 10 * time.Second,
		Timeout:       15 * time.Second,
	}
}

// Observer receives one notification per settled call
type Observer interface {
	ObserveCall(endpoint, outcome string, latency time.Duration)
}

// Option customizes a Guard
type Option func(*Guard)

// WithClock overrides the clock used for failure tracking
func WithClock(c clock.Clock) Option { return func(g *Guard) { g.clock = c } }

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option { return func(g *Guard) { g.logger = l.Named("transport") } }

// WithTracer sets the tracing provider
func WithTracer(p *tracing.Provider) Option { return func(g *Guard) { g.tracer = p } }

// WithObserver sets the call observer (metrics)
func WithObserver(o Observer) Option { return func(g *Guard) { g.observer = o } }

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option { return func(g *Guard) { g.client = c } }

// Guard wraps every outbound call to the job server. It injects the
// credential, turns 401 into a logout and escalates sustained failures
// into a logout once they last longer than FailureWindow.
type Guard struct {
	cfg      Config
	session  session.Session
	client   *http.Client
	clock    clock.Clock
	logger   *logging.Logger
	tracer   *tracing.Provider
	observer Observer

	mu           sync.Mutex
	failures     int
	firstFailure time.Time
}

// NewGuard creates a transport guard
func NewGuard(cfg Config, sess session.Session, opts ...Option) *Guard {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HeaderName == "" {
		cfg.HeaderName = def.HeaderName
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	g := &Guard{
		cfg:     cfg,
		session: sess,
		clock:   clock.Real{},
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TLS != nil {
			tr.TLSClientConfig = cfg.TLS
		}
		g.client = &http.Client{Timeout: cfg.Timeout, Transport: tr}
	}
	if g.tracer == nil {
		g.tracer = tracing.Noop()
	}
	return g
}

// BaseURL returns the normalized server URL
func (g *Guard) BaseURL() string {
	return g.cfg.BaseURL
}

// Call performs one request. It never returns a Go error: every outcome is
// classified into Result.Kind.
func (g *Guard) Call(ctx context.Context, req Request) Result {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	key, ok := g.session.Credential()
	if !ok {
		g.observe(req.Path, KindUnauthenticated, 0)
		return Result{Kind: KindUnauthenticated, Status: http.StatusUnauthorized, Err: ErrNoCredential}
	}

	ctx, span := g.tracer.StartSpan(ctx, "sweepwatch.transport",
		attribute.String("http.method", method),
		attribute.String("http.target", req.Path),
	)
	defer span.End()

	start := g.clock.Now()
	res := g.do(ctx, method, key, req)
	latency := g.clock.Now().Sub(start)

	span.SetAttributes(
		attribute.Int("http.status_code", res.Status),
		attribute.String("sweepwatch.outcome", res.Kind.String()),
	)
	if res.Err != nil {
		tracing.SetError(span, res.Err)
	}

	g.settle(req.Path, res)
	g.observe(req.Path, res.Kind, latency)
	return res
}

func (g *Guard) do(ctx context.Context, method, key string, req Request) Result {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+req.Path, body)
	if err != nil {
		return Result{Kind: KindTransient, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	httpReq.Header.Set(g.cfg.HeaderName, key)
	httpReq.Header.Set("Accept", "application/json, text/plain")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHTTPHeaders(ctx, httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{Kind: KindTransient, Err: fmt.Errorf("request %s %s failed: %w", method, req.Path, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{Kind: KindTransient, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	res := Result{
		Status:      resp.StatusCode,
		Body:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		res.Kind = KindUnauthorized
		res.Err = errors.New("server rejected API key")
		return res
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		res.Kind = KindTransient
		res.Err = fmt.Errorf("request failed with status %d: %s", resp.StatusCode, snippet(data))
		return res
	}

	if req.Decode != nil {
		if err := req.Decode(data, res.ContentType); err != nil {
			res.Kind = KindMalformed
			res.Err = fmt.Errorf("failed to decode %s response: %w", req.Path, err)
			return res
		}
	}

	res.OK = true
	res.Kind = KindOK
	return res
}

// settle updates the failure streak and triggers logout when required
func (g *Guard) settle(path string, res Result) {
	switch res.Kind {
	case KindOK:
		g.Reset()
		return
	case KindUnauthorized:
		g.Reset()
		g.logger.Error("API key rejected", logging.Fields{"path": path})
		g.session.Logout(ReasonUnauthorized)
		return
	}
	if !res.Kind.Counted() {
		return
	}

	now := g.clock.Now()
	g.mu.Lock()
	g.failures++
	if g.firstFailure.IsZero() {
		g.firstFailure = now
	}
	failures := g.failures
	outage := now.Sub(g.firstFailure)
	g.mu.Unlock()

	g.logger.Warn("request failed", logging.Fields{
		"path":     path,
		"kind":     res.Kind.String(),
		"failures": failures,
		"error":    res.Err,
	})

	if outage >= g.cfg.FailureWindow {
		g.Reset()
		g.session.Logout(fmt.Sprintf("lost connection to API for more than %s", g.cfg.FailureWindow))
	}
}

func (g *Guard) observe(path string, kind Kind, latency time.Duration) {
	if g.observer != nil {
		g.observer.ObserveCall(path, kind.String(), latency)
	}
}

// Reset clears the failure streak. sweepctl also calls it on logout.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.failures = 0
	g.firstFailure = time.Time{}
	g.mu.Unlock()
}

// Failures returns the current failure streak length
func (g *Guard) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

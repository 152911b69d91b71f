// Package engine owns the watcher's state: both poll channels, the log
// window, the reconciler and the user actions. Fetches happen without the
// lock; every result is applied under it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/sweepwatch/internal/api"
	"github.com/psantana5/sweepwatch/internal/clock"
	"github.com/psantana5/sweepwatch/internal/eta"
	"github.com/psantana5/sweepwatch/internal/logfacts"
	"github.com/psantana5/sweepwatch/internal/logtail"
	"github.com/psantana5/sweepwatch/internal/metrics"
	"github.com/psantana5/sweepwatch/internal/poll"
	"github.com/psantana5/sweepwatch/internal/progress"
	"github.com/psantana5/sweepwatch/internal/session"
	"github.com/psantana5/sweepwatch/internal/transport"
	"github.com/psantana5/sweepwatch/pkg/logging"
	"github.com/psantana5/sweepwatch/pkg/retry"
)

var (
	// ErrActionInFlight is returned when a start or stop is already pending
	ErrActionInFlight = errors.New("another action is in progress")
	// ErrConfirmTimeout is returned when the server never confirmed an action
	ErrConfirmTimeout = errors.New("server did not confirm the action in time")
	// ErrUnauthenticated is returned when there is no usable credential
	ErrUnauthenticated = errors.New("not logged in")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("engine already started")
)

// Config configures the engine
type Config struct {
	Cadence         poll.Cadence
	LogCapacity     int
	ConfirmTimeout  time.Duration
	ConfirmInterval time.Duration
	ETA             eta.Params
	Facts           logfacts.Config
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Cadence:         poll.DefaultCadence(),
		LogCapacity:     logtail.DefaultCapacity,
		ConfirmTimeout:  10 * time.Minute,
		ConfirmInterval: 600 * time.Millisecond,
		ETA:             eta.DefaultParams(),
		Facts:           logfacts.DefaultConfig(),
	}
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock sets the time source
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics sets the collectors updated by the engine
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// Engine reconciles the remote job with its log and publishes render models
type Engine struct {
	cfg     Config
	client  *api.Client
	sess    session.Session
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	window     *logtail.Window
	reconciler *progress.Reconciler
	checking   bool
	statusRes  transport.Result
	logsRes    transport.Result
	onRender   []func(progress.RenderModel)

	actionInFlight atomic.Bool

	status *poll.Channel
	logs   *poll.Channel

	runMu   sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an engine. The poll loops start with Start.
func New(cfg Config, client *api.Client, sess session.Session, opts ...Option) *Engine {
	def := DefaultConfig()
	cfg.Cadence = cfg.Cadence.WithDefaults()
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = def.LogCapacity
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = def.ConfirmInterval
	}

	e := &Engine{
		cfg:    cfg,
		client: client,
		sess:   sess,
		clock:  clock.Real{},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNopLogger()
	}
	e.logger = e.logger.Named("engine")
	if e.metrics == nil {
		e.metrics = metrics.New()
	}

	e.window = logtail.NewWindow(cfg.LogCapacity)
	e.reconciler = progress.NewReconciler(
		logfacts.NewExtractor(cfg.Facts),
		eta.New(cfg.ETA),
		e.logger,
	)

	loggedIn := func() bool {
		_, ok := e.sess.Credential()
		return ok
	}
	e.status = poll.NewChannel(poll.Config{
		Name:     "status",
		Fetch:    e.refreshStatus,
		Interval: func() time.Duration { return e.cfg.Cadence.Status(e.Checking()) },
		Active:   loggedIn,
		Logger:   e.logger,
		Observer: e.metrics,
	})
	e.logs = poll.NewChannel(poll.Config{
		Name:     "logs",
		Fetch:    e.fetchLogs,
		Interval: func() time.Duration { return e.cfg.Cadence.Log(e.Checking()) },
		Active:   loggedIn,
		Logger:   e.logger,
		Observer: e.metrics,
	})

	if hooks, ok := sess.(interface{ OnLogout(func(string)) }); ok {
		hooks.OnLogout(e.handleLogout)
	}
	return e
}

// Start launches both poll loops. They stop when ctx ends, Stop is called
// or the session logs out.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	if _, ok := e.sess.Credential(); !ok {
		return ErrUnauthenticated
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	var wg sync.WaitGroup
	for _, ch := range []*poll.Channel{e.status, e.logs} {
		wg.Add(1)
		go func(ch *poll.Channel) {
			defer wg.Done()
			ch.Run(runCtx)
		}(ch)
	}
	go func() {
		wg.Wait()
		cancel()
		close(e.done)
		e.logger.Info("poll loops stopped")
	}()

	e.logger.Info("engine started", logging.Fields{
		"status_interval": e.cfg.Cadence.StatusSlow.String(),
		"log_interval":    e.cfg.Cadence.LogSlow.String(),
	})
	return nil
}

// Stop cancels the poll loops and waits for them to return
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, started := e.cancel, e.started
	e.runMu.Unlock()
	if !started {
		return
	}
	cancel()
	<-e.done
}

// Done is closed once both poll loops have returned
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// OnRender registers a callback that receives every new render model
func (e *Engine) OnRender(fn func(progress.RenderModel)) {
	e.mu.Lock()
	e.onRender = append(e.onRender, fn)
	e.mu.Unlock()
}

// Render returns the current render model
func (e *Engine) Render() progress.RenderModel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconciler.Model()
}

// Logs returns a copy of the log window
func (e *Engine) Logs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window.Lines()
}

// Checking reports the last observed server checking flag
func (e *Engine) Checking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checking
}

// Verify checks the credential against the server
func (e *Engine) Verify(ctx context.Context) error {
	return e.client.Verify(ctx, retry.DefaultConfig())
}

// Refresh runs one log poll followed by one status poll and returns the
// resulting model
func (e *Engine) Refresh(ctx context.Context) (progress.RenderModel, error) {
	if _, ok := e.sess.Credential(); !ok {
		return progress.RenderModel{}, ErrUnauthenticated
	}
	e.logs.Tick(ctx)
	e.status.Tick(ctx)

	e.mu.Lock()
	res := e.statusRes
	m := e.reconciler.Model()
	e.mu.Unlock()
	if !res.OK {
		return m, resultError("fetch status", res)
	}
	return m, nil
}

// RefreshLogs runs one log poll, unless one is already in flight, and
// returns the window
func (e *Engine) RefreshLogs(ctx context.Context) ([]string, error) {
	if _, ok := e.sess.Credential(); !ok {
		return nil, ErrUnauthenticated
	}
	ticked := e.logs.Tick(ctx)

	e.mu.Lock()
	res := e.logsRes
	lines := e.window.Lines()
	e.mu.Unlock()
	if ticked && !res.OK {
		return lines, resultError("fetch logs", res)
	}
	return lines, nil
}

// TriggerCheck starts a run and waits until the server reports it
func (e *Engine) TriggerCheck(ctx context.Context) error {
	return e.runAction(ctx, progress.ActionStarting, "trigger check", e.client.TriggerCheck, true)
}

// ForceClose stops the running check and waits until the server reports it
// stopped. Stopping is best-effort on the server side.
func (e *Engine) ForceClose(ctx context.Context) error {
	return e.runAction(ctx, progress.ActionStopping, "force close", e.client.ForceClose, false)
}

func (e *Engine) runAction(ctx context.Context, action progress.Action, name string,
	post func(context.Context) transport.Result, wantChecking bool) error {
	if _, ok := e.sess.Credential(); !ok {
		return ErrUnauthenticated
	}
	if !e.actionInFlight.CompareAndSwap(false, true) {
		return ErrActionInFlight
	}
	defer e.actionInFlight.Store(false)

	e.setAction(action)
	defer e.setAction(progress.ActionNone)

	logger := e.logger.WithField("action", name)
	logger.Info("action requested")

	if res := post(ctx); !res.OK {
		if isAuthFailure(res) {
			return ErrUnauthenticated
		}
		return resultError(name, res)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var lostAuth bool

	err := retry.Poll(pollCtx, retry.PollConfig{
		Interval: e.cfg.ConfirmInterval,
		Timeout:  e.cfg.ConfirmTimeout,
	}, func(ctx context.Context) (bool, error) {
		// A skipped tick means the loop's fetch may predate the post.
		if !e.status.Tick(ctx) {
			return false, nil
		}
		e.mu.Lock()
		res, checking := e.statusRes, e.checking
		e.mu.Unlock()

		if isAuthFailure(res) {
			lostAuth = true
			cancel()
			return false, ErrUnauthenticated
		}
		if !res.OK {
			return false, resultError("fetch status", res)
		}
		return checking == wantChecking, nil
	})

	switch {
	case lostAuth:
		return ErrUnauthenticated
	case errors.Is(err, retry.ErrTimeout):
		logger.Warn("action not confirmed", logging.Fields{"timeout": e.cfg.ConfirmTimeout.String()})
		return fmt.Errorf("failed to %s: %w", name, ErrConfirmTimeout)
	case err != nil:
		return fmt.Errorf("failed to %s: %w", name, err)
	}
	logger.Info("action confirmed")
	return nil
}

func (e *Engine) setAction(a progress.Action) {
	e.mu.Lock()
	m := e.reconciler.SetAction(a, e.clock.Now())
	hooks := e.hooks()
	e.mu.Unlock()
	e.publish(m, hooks)
}

func (e *Engine) refreshStatus(ctx context.Context) {
	snap, res := e.client.Status(ctx)
	now := e.clock.Now()

	e.mu.Lock()
	e.statusRes = res
	var m progress.RenderModel
	switch {
	case res.OK:
		e.checking = snap.Checking
		m = e.reconciler.Reconcile(snap, e.window.Lines(), now)
	case res.Kind == transport.KindUnauthenticated:
		e.mu.Unlock()
		return
	default:
		e.logger.Warn("status poll failed", logging.Fields{
			"kind":   res.Kind.String(),
			"status": res.Status,
			"error":  errString(res.Err),
		})
		m = e.reconciler.StatusFailed(now)
	}
	hooks := e.hooks()
	e.mu.Unlock()

	e.publish(m, hooks)
}

func (e *Engine) fetchLogs(ctx context.Context) {
	lines, res := e.client.Logs(ctx)

	e.mu.Lock()
	e.logsRes = res
	if !res.OK {
		e.mu.Unlock()
		if res.Kind != transport.KindUnauthenticated {
			e.logger.Warn("log poll failed", logging.Fields{
				"kind":   res.Kind.String(),
				"status": res.Status,
				"error":  errString(res.Err),
			})
		}
		return
	}
	u := e.window.Sync(lines)
	e.reconciler.ObserveLogs(u)
	size := e.window.Len()
	e.mu.Unlock()

	mode := "unchanged"
	switch {
	case u.Incremental:
		mode = "incremental"
	case u.Replaced:
		mode = "replace"
		e.logger.Debug("log window replaced", logging.Fields{"lines": size, "first": u.First})
	}
	e.metrics.ObserveLogSync(mode, size)
}

func (e *Engine) handleLogout(reason string) {
	e.mu.Lock()
	e.window.Reset()
	e.checking = false
	e.mu.Unlock()

	e.metrics.ObserveLogout()
	e.metrics.SetPhase(string(progress.PhaseIdle))
	e.metrics.SetProgress(0, 0)
	e.logger.Warn("session ended, polling stops", logging.Fields{"reason": reason})
}

// hooks must be called with e.mu held
func (e *Engine) hooks() []func(progress.RenderModel) {
	return append([]func(progress.RenderModel){}, e.onRender...)
}

func (e *Engine) publish(m progress.RenderModel, hooks []func(progress.RenderModel)) {
	e.metrics.SetPhase(string(m.Phase))
	if m.Progress != nil {
		e.metrics.SetProgress(m.Progress.Percent, m.Progress.Remaining)
	} else {
		e.metrics.SetProgress(0, 0)
	}
	for _, fn := range hooks {
		fn(m)
	}
}

func isAuthFailure(res transport.Result) bool {
	return res.Kind == transport.KindUnauthorized || res.Kind == transport.KindUnauthenticated
}

func resultError(op string, res transport.Result) error {
	if res.Err != nil {
		return fmt.Errorf("failed to %s: %w", op, res.Err)
	}
	return fmt.Errorf("failed to %s: server returned %s (status %d)", op, res.Kind, res.Status)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

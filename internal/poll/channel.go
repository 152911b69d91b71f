// Package poll runs the self-rescheduling status and log poll loops.
package poll

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/psantana5/sweepwatch/pkg/logging"
)

// State is the channel state
type State int32

const (
	StateIdle State = iota
	StateInFlight
)

func (s State) String() string {
	if s == StateInFlight {
		return "in_flight"
	}
	return "idle"
}

// Observer is notified of every tick, including skipped ones
type Observer interface {
	ObserveTick(channel string, skipped bool, took time.Duration)
}

// Config describes one poll channel
type Config struct {
	Name string

	// Fetch performs one poll. It settles every outcome itself.
	Fetch func(ctx context.Context)

	// Interval is read after every settled tick
	Interval func() time.Duration

	// Active gates the loop; Run returns once it reports false
	Active func() bool

	Logger   *logging.Logger
	Observer Observer
}

// Channel is one poll loop with a single-flight guard
type Channel struct {
	cfg   Config
	state atomic.Int32
	ticks atomic.Int64
	skips atomic.Int64
}

// NewChannel creates a poll channel
func NewChannel(cfg Config) *Channel {
	if cfg.Fetch == nil {
		cfg.Fetch = func(context.Context) {}
	}
	if cfg.Interval == nil {
		cfg.Interval = func() time.Duration { return 3 * time.Second }
	}
	if cfg.Active == nil {
		cfg.Active = func() bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	cfg.Logger = cfg.Logger.Named("poll").WithField("channel", cfg.Name)
	return &Channel{cfg: cfg}
}

// Name returns the channel name
func (c *Channel) Name() string {
	return c.cfg.Name
}

// State returns the current state
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Ticks returns the number of fetches performed
func (c *Channel) Ticks() int64 {
	return c.ticks.Load()
}

// Skips returns the number of ticks dropped while in flight
func (c *Channel) Skips() int64 {
	return c.skips.Load()
}

// Tick runs one fetch unless one is already in flight. It reports whether
// a fetch ran.
func (c *Channel) Tick(ctx context.Context) bool {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateInFlight)) {
		c.skips.Add(1)
		c.cfg.Logger.Debug("tick skipped, fetch in flight")
		if c.cfg.Observer != nil {
			c.cfg.Observer.ObserveTick(c.cfg.Name, true, 0)
		}
		return false
	}
	defer c.state.Store(int32(StateIdle))

	start := time.Now()
	c.ticks.Add(1)
	c.cfg.Fetch(ctx)
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveTick(c.cfg.Name, false, time.Since(start))
	}
	return true
}

// Run ticks until ctx ends or the channel becomes inactive. The next tick
// is scheduled Interval after the previous one settled, so slow responses
// lower the poll rate.
func (c *Channel) Run(ctx context.Context) {
	c.cfg.Logger.Debug("poll loop started")
	defer c.cfg.Logger.Debug("poll loop stopped")

	for {
		if ctx.Err() != nil || !c.cfg.Active() {
			return
		}

		c.Tick(ctx)

		timer := time.NewTimer(c.cfg.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Cadence holds the fast and slow intervals of both channels
type Cadence struct {
	StatusFast time.Duration
	StatusSlow time.Duration
	LogFast    time.Duration
	LogSlow    time.Duration
}

// DefaultCadence returns the default intervals
func DefaultCadence() Cadence {
	return Cadence{
		StatusFast: 800 * time.Millisecond,
		StatusSlow: 3 * time.Second,
		LogFast:    time.Second,
		LogSlow:    3 * time.Second,
	}
}

// WithDefaults fills zero intervals
func (c Cadence) WithDefaults() Cadence {
	def := DefaultCadence()
	if c.StatusFast <= 0 {
		c.StatusFast = def.StatusFast
	}
	if c.StatusSlow <= 0 {
		c.StatusSlow = def.StatusSlow
	}
	if c.LogFast <= 0 {
		c.LogFast = def.LogFast
	}
	if c.LogSlow <= 0 {
		c.LogSlow = def.LogSlow
	}
	return c
}

// Status returns the status interval; fast while a run is active
func (c Cadence) Status(fast bool) time.Duration {
	if fast {
		return c.StatusFast
	}
	return c.StatusSlow
}

// Log returns the log interval; fast while a run is active
func (c Cadence) Log(fast bool) time.Duration {
	if fast {
		return c.LogFast
	}
	return c.LogSlow
}

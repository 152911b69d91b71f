// Package eta estimates the remaining time of a run from a trailing window
// of progress samples and the throughput of the previous completed run.
package eta

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Fixed texts shown instead of a computed duration
const (
	TextCalculating   = "calculating..."
	TextSaving        = "saving results..."
	TextStopping      = "stopping..."
	TextLimitReached  = "limit reached, finishing..."
	TextNoComputation = "..."
)

// Params tunes the estimator. The blending constants are empirical.
type Params struct {
	WarmUp             time.Duration // forced "calculating..." after a start
	SampleInterval     time.Duration // minimum spacing of recorded samples
	RecomputeInterval  time.Duration // minimum spacing of text recomputation
	Window             time.Duration // trailing sample window
	StartTolerance     time.Duration // start time correction threshold
	LowProgressPercent float64       // below this, trust the global average
	BaseWeight         float64       // real-time weight at LowProgressPercent
}

// DefaultParams returns the default tuning
func DefaultParams() Params {
	return Params{
		WarmUp:             3 * time.Second,
		SampleInterval:     500 * time.Millisecond,
		RecomputeInterval:  time.Second,
		Window:             60 * time.Second,
		StartTolerance:     time.Second,
		LowProgressPercent: 15,
		BaseWeight:         0.3,
	}
}

// Baseline is the previous completed run used as the historical rate
type Baseline struct {
	Total    int
	Duration time.Duration
}

// Input is one estimator tick
type Input struct {
	Total     int
	Processed int
	Running   bool

	// ServerStart is the run start recovered from the server (zero if unknown)
	ServerStart time.Time
	History     *Baseline

	ProcessingResults bool
	ForceClose        bool
	SuccessLimited    bool
}

// Estimate is the estimator output for one tick
type Estimate struct {
	Text      string        `json:"text"`
	Remaining time.Duration `json:"remaining"`
	Rate      float64       `json:"rate"`
	Percent   float64       `json:"percent"`
	Elapsed   time.Duration `json:"elapsed"`
	StartedAt time.Time     `json:"startedAt,omitempty"`
}

type sample struct {
	at        time.Time
	processed int
}

// Estimator holds the ETA state of the run being observed. It is not safe
// for concurrent use; the engine serializes calls.
type Estimator struct {
	params Params

	running   bool
	start     time.Time
	samples   []sample
	cached    string
	remaining time.Duration
	rate      float64
	baseline  float64

	// sampler survives run resets; recompute is replaced on every reset
	// so that a fresh run computes on its first eligible tick.
	sampler   *rate.Limiter
	recompute *rate.Limiter
}

// New creates an estimator; zero params take defaults
func New(params Params) *Estimator {
	def := DefaultParams()
	if params.WarmUp <= 0 {
		params.WarmUp = def.WarmUp
	}
	if params.SampleInterval <= 0 {
		params.SampleInterval = def.SampleInterval
	}
	if params.RecomputeInterval <= 0 {
		params.RecomputeInterval = def.RecomputeInterval
	}
	if params.Window <= 0 {
		params.Window = def.Window
	}
	if params.StartTolerance <= 0 {
		params.StartTolerance = def.StartTolerance
	}
	if params.LowProgressPercent <= 0 {
		params.LowProgressPercent = def.LowProgressPercent
	}
	if params.BaseWeight <= 0 {
		params.BaseWeight = def.BaseWeight
	}

	return &Estimator{
		params:    params,
		sampler:   rate.NewLimiter(rate.Every(params.SampleInterval), 1),
		recompute: rate.NewLimiter(rate.Every(params.RecomputeInterval), 1),
	}
}

// Params returns the effective tuning
func (e *Estimator) Params() Params {
	return e.params
}

// Start returns the start time of the run being estimated
func (e *Estimator) Start() (time.Time, bool) {
	return e.start, e.running
}

// Stop clears the run state, as when the server reports no run
func (e *Estimator) Stop() {
	e.running = false
	e.start = time.Time{}
	e.samples = nil
}

// Update feeds one tick and returns the estimate to display
func (e *Estimator) Update(now time.Time, in Input) Estimate {
	pct := 0.0
	if in.Total > 0 {
		pct = math.Min(100, float64(in.Processed)/float64(in.Total)*100)
	}

	if !in.Running {
		e.Stop()
		return Estimate{Percent: pct}
	}

	if !e.running || in.Processed == 0 || e.startCorrected(in.ServerStart) {
		e.reset(now, in)
	}

	if e.sampler.AllowN(now, 1) {
		e.samples = append(e.samples, sample{at: now, processed: in.Processed})
		threshold := now.Add(-e.params.Window)
		drop := 0
		for drop < len(e.samples) && e.samples[drop].at.Before(threshold) {
			drop++
		}
		e.samples = e.samples[drop:]
	}

	est := Estimate{
		Percent:   pct,
		Elapsed:   now.Sub(e.start),
		StartedAt: e.start,
	}

	switch {
	case in.ProcessingResults:
		e.cached = TextSaving
		est.Text = e.cached
		return est
	case in.ForceClose:
		e.cached = TextStopping
		est.Text = e.cached
		return est
	case in.SuccessLimited:
		e.cached = TextLimitReached
		est.Text = e.cached
		return est
	case in.Total <= 0 || in.Processed >= in.Total:
		return est
	}

	if est.Elapsed < e.params.WarmUp {
		e.cached = TextCalculating
	} else if e.recompute.AllowN(now, 1) {
		e.compute(now, est.Elapsed, pct, in)
	}

	est.Text = e.cached
	est.Remaining = e.remaining
	est.Rate = e.rate
	return est
}

func (e *Estimator) startCorrected(serverStart time.Time) bool {
	if serverStart.IsZero() {
		return false
	}
	diff := e.start.Sub(serverStart)
	if diff < 0 {
		diff = -diff
	}
	return diff > e.params.StartTolerance
}

func (e *Estimator) reset(now time.Time, in Input) {
	e.running = true
	e.start = now
	if !in.ServerStart.IsZero() {
		e.start = in.ServerStart
	}
	e.recompute = rate.NewLimiter(rate.Every(e.params.RecomputeInterval), 1)
	e.samples = []sample{{at: e.start, processed: 0}}
	e.cached = TextCalculating
	e.remaining = 0
	e.rate = 0

	e.baseline = 0
	if h := in.History; h != nil && h.Total > 0 && h.Duration > 0 {
		e.baseline = float64(h.Total) / h.Duration.Seconds()
	}
}

func (e *Estimator) compute(now time.Time, elapsed time.Duration, pct float64, in Input) {
	var realtime float64
	if len(e.samples) <= 1 || pct < e.params.LowProgressPercent {
		realtime = float64(in.Processed) / elapsed.Seconds()
	} else {
		oldest := e.samples[0]
		span := now.Sub(oldest.at).Seconds()
		if span > 0 {
			realtime = float64(in.Processed-oldest.processed) / span
		}
	}

	final := realtime
	if e.baseline > 0 {
		if pct < e.params.LowProgressPercent {
			final = math.Min(realtime, e.baseline)
		} else {
			w := e.params.BaseWeight + (pct-e.params.LowProgressPercent)/(100-e.params.LowProgressPercent)*(1-e.params.BaseWeight)
			w = math.Max(0, math.Min(1, w))
			final = realtime*w + e.baseline*(1-w)
		}
	}

	if final > 0 {
		seconds := float64(in.Total-in.Processed) / final
		e.remaining = time.Duration(seconds * float64(time.Second))
		e.rate = final
		e.cached = FormatDuration(seconds)
	}
}

// FormatDuration renders seconds as a short human duration
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || seconds <= 0 {
		return TextNoComputation
	}
	switch {
	case seconds > 3600:
		h := math.Floor(seconds / 3600)
		m := math.Round(math.Mod(seconds, 3600) / 60)
		return fmt.Sprintf("%dh %dm", int(h), int(m))
	case seconds >= 60:
		return fmt.Sprintf("%dm", int(math.Round(seconds/60)))
	default:
		return fmt.Sprintf("%ds", int(math.Floor(seconds)))
	}
}

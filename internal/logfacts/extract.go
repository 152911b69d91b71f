package logfacts

import (
	"time"
)

// Config holds extractor configuration
type Config struct {
	// Location is the zone of the server's log timestamps
	Location *time.Location

	// Freshness bounds how old a subscription totals line may be when no
	// start marker precedes it in the window. Compared against the local
	// clock, so server clock skew narrows or widens it.
	Freshness time.Duration
}

// DefaultConfig returns default extractor configuration
func DefaultConfig() Config {
	return Config{
		Location:  time.Local,
		Freshness: 5 * time.Second,
	}
}

// RunFacts describes one completed run recovered from the log
type RunFacts struct {
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	TotalNodes     int           `json:"totalNodes"`
	AvailableNodes int           `json:"availableNodes"`
	Duration       time.Duration `json:"duration"`
}

// Extractor scans log windows for run facts. It holds no state between
// calls; each call returns a fresh value or nil.
type Extractor struct {
	cfg Config
}

// NewExtractor creates an extractor
func NewExtractor(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	return &Extractor{cfg: cfg}
}

// ExtractCompletedRun returns the facts of the most recent completed run,
// or nil unless every fact was found inside the same run.
//
// Scanning backwards it looks for, in order: a timestamped completion
// marker, the available count, the deduplicated total, and the run start.
// Meeting another completion or a run start before the set is complete
// means the markers belong to different runs.
func (e *Extractor) ExtractCompletedRun(lines []string) *RunFacts {
	const (
		wantEnd = iota
		wantAvailable
		wantTotal
		wantStart
	)

	var facts RunFacts
	stage := wantEnd

	typed := e.ClassifyAll(lines)
	for i := len(typed) - 1; i >= 0; i-- {
		l := typed[i]

		if stage == wantEnd {
			if l.Kind == KindCompletion && l.HasTime {
				facts.End = l.Time
				stage = wantAvailable
			}
			continue
		}

		if l.Kind == KindCompletion {
			return nil
		}
		runStart := l.Kind == KindStart && l.Source.RunStart()

		switch stage {
		case wantAvailable:
			if runStart {
				return nil
			}
			if l.Kind == KindAvailableCount {
				facts.AvailableNodes = l.Count
				stage = wantTotal
			}
		case wantTotal:
			if runStart {
				return nil
			}
			if l.Kind == KindTotalCount {
				facts.TotalNodes = l.Count
				stage = wantStart
			}
		case wantStart:
			if runStart && l.HasTime {
				facts.Start = l.Time
				facts.Duration = facts.End.Sub(facts.Start).Round(time.Second)
				if facts.Duration < 0 {
					facts.Duration = 0
				}
				return &facts
			}
		}
	}
	return nil
}

// ExtractSubscriptionStats returns the subscription counts of the run in
// progress, or nil when none were printed yet or the newest ones cannot be
// attributed to the current run.
func (e *Extractor) ExtractSubscriptionStats(lines []string, now time.Time) *SubscriptionStats {
	typed := e.ClassifyAll(lines)
	for i := len(typed) - 1; i >= 0; i-- {
		l := typed[i]

		switch l.Kind {
		case KindStart:
			return nil
		case KindSubscriptionTotals:
			if !startPrecedes(typed, i) && !(l.HasTime && now.Sub(l.Time) <= e.cfg.Freshness) {
				return nil
			}
			stats := l.Stats
			return &stats
		}
	}
	return nil
}

// startPrecedes reports whether, scanning back from lines[i], a start
// marker shows up before any completion marker
func startPrecedes(lines []Line, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch lines[j].Kind {
		case KindStart:
			return true
		case KindCompletion:
			return false
		}
	}
	return false
}

// FindActiveStart returns the probing start time of the run in progress.
// It reports false when the newest marker closes a run or when the run has
// not reached the probing stage.
func (e *Extractor) FindActiveStart(lines []string) (time.Time, bool) {
	typed := e.ClassifyAll(lines)
	for i := len(typed) - 1; i >= 0; i-- {
		l := typed[i]
		if l.Kind == KindCompletion || (l.Kind == KindStart && l.Source == SourceScheduled) {
			return time.Time{}, false
		}
		if l.Kind == KindStart && l.Source == SourceProbing && l.HasTime {
			return l.Time, true
		}
	}
	return time.Time{}, false
}

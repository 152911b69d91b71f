package progress

import (
	"time"

	"github.com/psantana5/sweepwatch/internal/logfacts"
)

// Phase is the canonical job phase shown to the user
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreparing Phase = "preparing"
	PhaseRunning   Phase = "running"
	PhaseFinishing Phase = "finishing"
	PhaseDone      Phase = "done"
)

// Active reports whether the phase belongs to a run in progress
func (p Phase) Active() bool {
	return p == PhasePreparing || p == PhaseRunning || p == PhaseFinishing
}

// Action is a user action awaiting server confirmation
type Action string

const (
	ActionNone     Action = ""
	ActionStarting Action = "starting"
	ActionStopping Action = "stopping"
)

// Status texts
const (
	StatusIdle           = "idle"
	StatusComplete       = "check complete"
	StatusParsing        = "parsing subscriptions..."
	StatusCalculating    = "started, calculating remaining time..."
	StatusSaving         = "saving results..."
	StatusRunningPrefix  = "running, ETA: "
	StatusFetchFailed    = "failed to fetch status"
	StatusStarting       = "starting check..."
	StatusStopping       = "stopping check..."
	HistoryNotFoundLabel = "no history found"
)

// SummarySource tells where a history summary came from
type SummarySource string

const (
	SourceServer SummarySource = "server" // lastCheck in the status snapshot
	SourceLocal  SummarySource = "local"  // timed locally when the run ended
	SourceLogs   SummarySource = "logs"   // last completed run in the log
)

// ProgressView is the progress surface of a running or finishing run
type ProgressView struct {
	Percent   float64       `json:"percent"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Available int           `json:"available"`
	ETA       string        `json:"eta"`
	Remaining time.Duration `json:"remaining"`
	Elapsed   time.Duration `json:"elapsed"`
	Message   string        `json:"message,omitempty"`
}

// HistoryView is the summary surface shown while no run is active
type HistoryView struct {
	Found        bool          `json:"found"`
	Source       SummarySource `json:"source,omitempty"`
	Time         time.Time     `json:"time,omitempty"`
	Duration     time.Duration `json:"duration"`
	Total        int           `json:"total"`
	Available    int           `json:"available"`
	DurationText string        `json:"durationText"`
	TotalText    string        `json:"totalText"`
}

// PreparingView replaces both surfaces before the first node is processed
type PreparingView struct {
	Subscriptions *logfacts.SubscriptionStats `json:"subscriptions,omitempty"`
	Fetching      bool                        `json:"fetching"`
}

// RenderModel is everything a renderer needs. At most one of Progress,
// History and Preparing is set.
type RenderModel struct {
	Phase       Phase          `json:"phase"`
	RunID       string         `json:"runId,omitempty"`
	Checking    bool           `json:"checking"`
	StatusText  string         `json:"statusText"`
	StatusError bool           `json:"statusError,omitempty"`
	Action      Action         `json:"action,omitempty"`
	ETA         string         `json:"eta"`
	StartedAt   time.Time      `json:"startedAt,omitempty"`
	Progress    *ProgressView  `json:"progress,omitempty"`
	History     *HistoryView   `json:"history,omitempty"`
	Preparing   *PreparingView `json:"preparing,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Surfaces counts how many surfaces are set
func (m RenderModel) Surfaces() int {
	n := 0
	if m.Progress != nil {
		n++
	}
	if m.History != nil {
		n++
	}
	if m.Preparing != nil {
		n++
	}
	return n
}

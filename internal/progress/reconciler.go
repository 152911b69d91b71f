// Package progress merges the status snapshot and the log facts into the
// phase and surfaces a renderer shows.
package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/sweepwatch/internal/api"
	"github.com/psantana5/sweepwatch/internal/eta"
	"github.com/psantana5/sweepwatch/internal/logfacts"
	"github.com/psantana5/sweepwatch/internal/logtail"
	"github.com/psantana5/sweepwatch/pkg/logging"
)

// Reconciler is the single author of the render model. It is not safe for
// concurrent use; the engine serializes calls.
type Reconciler struct {
	extractor *logfacts.Extractor
	estimator *eta.Estimator
	logger    *logging.Logger
	newID     func() string

	lastCompletedRun *logfacts.RunFacts

	observing bool
	runStart  time.Time
	runID     string
	action    Action

	baseStatus string
	last       RenderModel
}

// NewReconciler creates a reconciler
func NewReconciler(extractor *logfacts.Extractor, estimator *eta.Estimator, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reconciler{
		extractor:  extractor,
		estimator:  estimator,
		logger:     logger.Named("progress"),
		newID:      func() string { return uuid.New().String() },
		baseStatus: StatusIdle,
		last:       RenderModel{Phase: PhaseIdle, StatusText: StatusIdle},
	}
}

// Model returns the most recent render model
func (r *Reconciler) Model() RenderModel {
	return r.last
}

// LastCompletedRun returns the cached facts of the last completed run
func (r *Reconciler) LastCompletedRun() *logfacts.RunFacts {
	return r.lastCompletedRun
}

// ObserveLogs re-extracts completed-run facts when the window was rebuilt
// or a completion marker just arrived. A rebuilt window only supersedes the
// cache with a run that ended later; a full window shifts on every fetch,
// so each sync there is a rebuild.
func (r *Reconciler) ObserveLogs(u logtail.Update) {
	if !u.CompletionSeen && !u.First && !u.Replaced {
		return
	}
	facts := r.extractor.ExtractCompletedRun(u.Lines)
	if facts == nil {
		return
	}
	if cached := r.lastCompletedRun; cached != nil && !u.CompletionSeen && !facts.End.After(cached.End) {
		return
	}
	r.lastCompletedRun = facts
	r.logger.Info("completed run found in log", logging.Fields{
		"total":     facts.TotalNodes,
		"available": facts.AvailableNodes,
		"duration":  facts.Duration.String(),
	})
}

// SetAction records the user action in flight. Starting also stamps the
// local run start, used when the log cannot provide one.
func (r *Reconciler) SetAction(a Action, now time.Time) RenderModel {
	r.action = a
	if a == ActionStarting {
		r.runStart = now
	}
	m := r.last
	m.Action = a
	m.StatusText = r.statusWithAction(r.baseStatus)
	m.UpdatedAt = now
	r.last = m
	return m
}

// StatusFailed keeps the last model but flags the failed status poll
func (r *Reconciler) StatusFailed(now time.Time) RenderModel {
	r.baseStatus = StatusFetchFailed
	m := r.last
	m.StatusText = StatusFetchFailed
	m.StatusError = true
	m.UpdatedAt = now
	r.last = m
	return m
}

// Reconcile derives the render model from a fresh snapshot and the current
// log window
func (r *Reconciler) Reconcile(snap api.Snapshot, lines []string, now time.Time) RenderModel {
	var m RenderModel
	if snap.Checking {
		m = r.reconcileActive(snap, lines, now)
	} else {
		m = r.reconcileIdle(snap, now)
	}

	m.Checking = snap.Checking
	m.Action = r.action
	r.baseStatus = m.StatusText
	m.StatusText = r.statusWithAction(m.StatusText)
	m.UpdatedAt = now

	if m.Phase != r.last.Phase {
		r.logger.Info("phase changed", logging.Fields{
			"from":   string(r.last.Phase),
			"to":     string(m.Phase),
			"run_id": m.RunID,
		})
	}
	r.last = m
	return m
}

func (r *Reconciler) reconcileActive(snap api.Snapshot, lines []string, now time.Time) RenderModel {
	if !r.observing {
		r.observing = true
		r.runID = r.newID()
		r.logger.Info("run observed", logging.Fields{"run_id": r.runID})
	}

	var start time.Time
	if len(lines) > 0 {
		if t, ok := r.extractor.FindActiveStart(lines); ok {
			start = t
		}
	}
	if start.IsZero() {
		start = r.runStart
	}

	m := RenderModel{RunID: r.runID}

	if snap.ProcessedCount == 0 && !snap.Finishing() {
		stats := r.extractor.ExtractSubscriptionStats(lines, now)
		m.Phase = PhasePreparing
		m.StatusText = StatusParsing
		m.ETA = eta.TextCalculating
		m.Preparing = &PreparingView{Subscriptions: stats, Fetching: stats == nil}
	} else {
		est := r.estimator.Update(now, eta.Input{
			Total:             snap.TotalCount,
			Processed:         snap.ProcessedCount,
			Running:           true,
			ServerStart:       start,
			History:           r.baseline(snap),
			ProcessingResults: snap.ProcessingResults,
			ForceClose:        snap.ForceClose,
			SuccessLimited:    snap.SuccessLimited,
		})

		m.Phase = PhaseRunning
		if snap.Finishing() {
			m.Phase = PhaseFinishing
		}
		m.StartedAt = est.StartedAt
		m.ETA = est.Text
		m.Progress = &ProgressView{
			Percent:   est.Percent,
			Processed: snap.ProcessedCount,
			Total:     snap.TotalCount,
			Available: snap.AvailableCount,
			ETA:       est.Text,
			Remaining: est.Remaining,
			Elapsed:   est.Elapsed,
		}
		if m.Phase == PhaseFinishing {
			m.Progress.Message = est.Text
		}
		m.StatusText = runningStatus(snap, est.Text)

		if !start.IsZero() && r.runStart.IsZero() {
			r.runStart = start
		}
	}

	if r.runStart.IsZero() {
		r.runStart = now
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = r.runStart
	}
	return m
}

func (r *Reconciler) reconcileIdle(snap api.Snapshot, now time.Time) RenderModel {
	r.estimator.Update(now, eta.Input{Total: snap.TotalCount, Processed: snap.ProcessedCount})

	wasObserving := r.observing
	runID := r.runID
	r.observing = false
	r.runID = ""

	history := r.summary(snap, now, wasObserving)
	// A start the user just requested survives until the server confirms it.
	if r.action != ActionStarting {
		r.runStart = time.Time{}
	}

	m := RenderModel{Phase: PhaseIdle, History: history, StatusText: StatusIdle}
	if snap.LastCheck != nil || (snap.TotalCount > 0 && snap.ProcessedCount >= snap.TotalCount) {
		m.StatusText = StatusComplete
	}
	if wasObserving && history.Found {
		m.Phase = PhaseDone
		m.RunID = runID
		m.StatusText = StatusComplete
	}
	return m
}

// summary picks the history source: server lastCheck, then a locally timed
// summary of the run that just ended, then the cached log facts.
func (r *Reconciler) summary(snap api.Snapshot, now time.Time, runEnded bool) *HistoryView {
	cached := r.lastCompletedRun

	switch {
	case snap.LastCheck != nil:
		lc := snap.LastCheck
		total := lc.Total
		if total == 0 {
			total = snap.TotalCount
		}
		available := lc.Available
		if available == 0 {
			available = snap.AvailableCount
		}
		return newHistory(SourceServer, lc.Time, lc.Duration, total, available)

	case runEnded && !r.runStart.IsZero() && cached != nil:
		total := snap.TotalCount
		if total == 0 {
			total = cached.TotalNodes
		}
		available := snap.AvailableCount
		if available == 0 {
			available = cached.AvailableNodes
		}
		return newHistory(SourceLocal, now, now.Sub(r.runStart).Round(time.Second), total, available)

	case cached != nil:
		return newHistory(SourceLogs, cached.End, cached.Duration, cached.TotalNodes, cached.AvailableNodes)
	}
	return &HistoryView{Found: false}
}

func (r *Reconciler) baseline(snap api.Snapshot) *eta.Baseline {
	if run := r.lastCompletedRun; run != nil {
		return &eta.Baseline{Total: run.TotalNodes, Duration: run.Duration}
	}
	if lc := snap.LastCheck; lc != nil {
		return &eta.Baseline{Total: lc.Total, Duration: lc.Duration}
	}
	return nil
}

func (r *Reconciler) statusWithAction(text string) string {
	switch r.action {
	case ActionStarting:
		return StatusStarting
	case ActionStopping:
		return StatusStopping
	}
	return text
}

func runningStatus(snap api.Snapshot, etaText string) string {
	switch {
	case snap.Finishing():
		return etaText
	case etaText == eta.TextCalculating:
		return StatusCalculating
	case etaText == "":
		return StatusSaving
	default:
		return StatusRunningPrefix + etaText
	}
}

func newHistory(source SummarySource, at time.Time, d time.Duration, total, available int) *HistoryView {
	return &HistoryView{
		Found:        true,
		Source:       source,
		Time:         at,
		Duration:     d,
		Total:        total,
		Available:    available,
		DurationText: FormatSummaryDuration(d),
		TotalText:    CompactCount(total),
	}
}

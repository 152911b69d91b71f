// Package logtail keeps a bounded window over the server log tail and works
// out which lines are new on each fetch.
package logtail

import (
	"strings"

	"github.com/psantana5/sweepwatch/internal/logfacts"
)

// DefaultCapacity is the number of lines kept by default
const DefaultCapacity = 1000

// Update is the outcome of one synchronization
type Update struct {
	// Lines is the full window after the sync. It must not be modified.
	Lines []string
	// Delta holds the appended lines when the fetch extended the window
	Delta []string
	// Incremental is true when only Delta changed
	Incremental bool
	// Replaced is true when the window was rebuilt from the fetch
	Replaced bool
	// First is true for the very first non-empty sync
	First bool
	// CompletionSeen is true when a delta line carries the completion marker
	CompletionSeen bool
}

// Changed reports whether the window differs from before the sync
func (u Update) Changed() bool {
	return u.Incremental || u.Replaced
}

// Window is a capacity-bounded copy of the most recent log lines
type Window struct {
	capacity int
	lines    []string
	joined   string
}

// NewWindow creates an empty window. capacity <= 0 means DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{capacity: capacity}
}

// Capacity returns the window bound
func (w *Window) Capacity() int {
	return w.capacity
}

// Lines returns the current window
func (w *Window) Lines() []string {
	return w.lines
}

// Len returns the number of lines held
func (w *Window) Len() int {
	return len(w.lines)
}

// Reset empties the window, so the next sync counts as first
func (w *Window) Reset() {
	w.lines = nil
	w.joined = ""
}

// Sync folds a freshly fetched tail into the window. When the joined new
// tail strictly extends the joined old one only the suffix is reported as
// Delta; rotation, truncation or divergence replaces the window.
func (w *Window) Sync(tail []string) Update {
	if len(tail) > w.capacity {
		tail = tail[len(tail)-w.capacity:]
	}
	next := make([]string, len(tail))
	copy(next, tail)
	joined := strings.Join(next, "\n")

	if len(w.lines) == 0 {
		w.lines, w.joined = next, joined
		return Update{Lines: w.lines, Replaced: true, First: len(next) > 0}
	}

	// The byte after the old text must be a separator, otherwise the old
	// last line grew and the window is rebuilt.
	if len(joined) > len(w.joined) && strings.HasPrefix(joined, w.joined) && joined[len(w.joined)] == '\n' {
		var delta []string
		for _, line := range strings.Split(joined[len(w.joined)+1:], "\n") {
			if line != "" {
				delta = append(delta, line)
			}
		}
		if len(delta) > 0 {
			w.lines, w.joined = next, joined

			u := Update{Lines: w.lines, Delta: delta, Incremental: true}
			for _, line := range delta {
				if logfacts.IsCompletion(line) {
					u.CompletionSeen = true
					break
				}
			}
			return u
		}
	}

	if joined == w.joined {
		w.lines = next
		return Update{Lines: w.lines}
	}

	w.lines, w.joined = next, joined
	return Update{Lines: w.lines, Replaced: true}
}

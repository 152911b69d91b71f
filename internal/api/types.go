package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the server's log and lastCheck timestamp format
const TimeLayout = "2006-01-02 15:04:05"

// Snapshot is one /api/status response. It replaces the previous one
// wholesale on every poll.
type Snapshot struct {
	Checking          bool       `json:"checking"`
	ProcessedCount    int        `json:"progress"`
	TotalCount        int        `json:"proxyCount"`
	AvailableCount    int        `json:"available"`
	LastCheck         *LastCheck `json:"lastCheck,omitempty"`
	ForceClose        bool       `json:"forceClose"`
	SuccessLimited    bool       `json:"successlimited"`
	ProcessingResults bool       `json:"processResults"`
}

// LastCheck summarizes the most recent completed run as reported by the server
type LastCheck struct {
	Time      time.Time     `json:"time"`
	RawTime   string        `json:"rawTime,omitempty"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Available int           `json:"available"`
}

// Finishing reports whether any wind-down flag is set
func (s Snapshot) Finishing() bool {
	return s.ForceClose || s.SuccessLimited || s.ProcessingResults
}

type rawSnapshot struct {
	Checking          bool                   `json:"checking"`
	Progress          float64                `json:"progress"`
	ProxyCount        float64                `json:"proxyCount"`
	Available         float64                `json:"available"`
	LastCheck         map[string]interface{} `json:"lastCheck"`
	ForceClose        bool                   `json:"forceClose"`
	SuccessLimited    bool                   `json:"successlimited"`
	ProcessingResults bool                   `json:"processResults"`
}

// DecodeSnapshot parses a status payload. lastCheck is kept only when it
// carries a numeric total; the server sends {} before the first run.
func DecodeSnapshot(body []byte, loc *time.Location) (Snapshot, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(body, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse status: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}

	snap := Snapshot{
		Checking:          raw.Checking,
		ProcessedCount:    int(raw.Progress),
		TotalCount:        int(raw.ProxyCount),
		AvailableCount:    int(raw.Available),
		ForceClose:        raw.ForceClose,
		SuccessLimited:    raw.SuccessLimited,
		ProcessingResults: raw.ProcessingResults,
	}

	if total, ok := number(raw.LastCheck["total"]); ok {
		lc := &LastCheck{Total: int(total)}
		if d, ok := number(raw.LastCheck["duration"]); ok {
			lc.Duration = time.Duration(d * float64(time.Second))
		}
		if a, ok := number(raw.LastCheck["available"]); ok {
			lc.Available = int(a)
		}
		ts, _ := raw.LastCheck["time"].(string)
		if ts == "" {
			ts, _ = raw.LastCheck["timestamp"].(string)
		}
		lc.RawTime = ts
		if t, err := time.ParseInLocation(TimeLayout, ts, loc); err == nil {
			lc.Time = t
		}
		snap.LastCheck = lc
	}

	return snap, nil
}

func number(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// DecodeLogs normalizes a /api/logs payload into lines. JSON bodies may
// carry logs as an array or as one newline-joined string; anything that is
// not JSON is treated as plain text.
func DecodeLogs(body []byte, contentType string) ([]string, error) {
	if !strings.Contains(contentType, "json") {
		return splitLines(string(body)), nil
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse logs: %w", err)
	}

	switch p := payload.(type) {
	case map[string]interface{}:
		switch logs := p["logs"].(type) {
		case []interface{}:
			return stringify(logs), nil
		case string:
			return splitLines(logs), nil
		}
	case []interface{}:
		return stringify(p), nil
	case string:
		return splitLines(p), nil
	}

	// Unknown shape: surface it as a single line.
	return []string{strings.TrimSpace(string(body))}, nil
}

func stringify(items []interface{}) []string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			lines = append(lines, s)
			continue
		}
		lines = append(lines, fmt.Sprint(item))
	}
	return lines
}

// splitLines drops one trailing empty line so that a newline-terminated
// text body and its array form synchronize the same way.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Version is the /api/version payload
type Version struct {
	Version       string `json:"version"`
	LatestVersion string `json:"latest_version"`
}

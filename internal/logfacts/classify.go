// Package logfacts recovers run facts from the server log tail.
//
// Every raw line is first classified into a closed set of kinds; the
// extractors then walk the typed sequence backwards, newest first.
package logfacts

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the leading timestamp written by the server logger
const TimeLayout = "2006-01-02 15:04:05"

// Log markers written by the job server
const (
	markerManualTrigger = "手动触发检测"
	markerScheduled     = "启动检测任务"
	markerProbing       = "开始检测"
	markerCompletion    = "检测完成"
	markerSubsCount     = "订阅数量"
	markerSubsLinkCount = "订阅链接数量"
	markerSubsTotal     = "总计"
)

var (
	ansiPattern      = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	availablePattern = regexp.MustCompile(`可用节点数量:\s*(\d+)`)
	totalPattern     = regexp.MustCompile(`去重后节点数量:\s*(\d+)`)
	localPattern     = regexp.MustCompile(`本地=(\d+)`)
	remotePattern    = regexp.MustCompile(`远程=(\d+)`)
	historyPattern   = regexp.MustCompile(`历史=(\d+)`)
	subsTotalPattern = regexp.MustCompile(`总计.*?=(\d+)`)
	dedupPattern     = regexp.MustCompile(`去重=(\d+)`)
)

// Kind is the classification of a log line
type Kind int

const (
	KindOther Kind = iota
	KindStart
	KindCompletion
	KindAvailableCount
	KindTotalCount
	KindSubscriptionTotals
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindCompletion:
		return "completion"
	case KindAvailableCount:
		return "available_count"
	case KindTotalCount:
		return "total_count"
	case KindSubscriptionTotals:
		return "subscription_totals"
	default:
		return "other"
	}
}

// StartSource tells which start marker a KindStart line carries
type StartSource int

const (
	SourceNone      StartSource = iota
	SourceManual                // user triggered a run
	SourceScheduled             // the run task itself started
	SourceProbing               // node probing began inside a run
)

// RunStart reports whether the marker opens a run, as opposed to the
// probing stage inside one.
func (s StartSource) RunStart() bool {
	return s == SourceManual || s == SourceScheduled
}

// Line is one classified log line
type Line struct {
	Kind    Kind
	Source  StartSource
	Time    time.Time
	HasTime bool
	Count   int               // AvailableCount, TotalCount
	Stats   SubscriptionStats // SubscriptionTotals
}

// SubscriptionStats are the subscription source counts printed while a run
// is fetching its inputs
type SubscriptionStats struct {
	Local   int `json:"local"`
	Remote  int `json:"remote"`
	History int `json:"history"`
	Total   int `json:"total"`
}

// StripANSI removes terminal color escapes
func StripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return ansiPattern.ReplaceAllString(s, "")
}

// Classify maps a raw line to its kind
func (e *Extractor) Classify(raw string) Line {
	text := StripANSI(raw)

	var l Line
	if len(text) >= len(TimeLayout) {
		if t, err := time.ParseInLocation(TimeLayout, text[:len(TimeLayout)], e.cfg.Location); err == nil {
			l.Time = t
			l.HasTime = true
		}
	}

	switch {
	case strings.Contains(text, markerCompletion):
		l.Kind = KindCompletion
	case strings.Contains(text, markerManualTrigger):
		l.Kind, l.Source = KindStart, SourceManual
	case strings.Contains(text, markerScheduled):
		l.Kind, l.Source = KindStart, SourceScheduled
	case strings.Contains(text, markerProbing):
		l.Kind, l.Source = KindStart, SourceProbing
	case (strings.Contains(text, markerSubsCount) || strings.Contains(text, markerSubsLinkCount)) &&
		strings.Contains(text, markerSubsTotal):
		l.Kind = KindSubscriptionTotals
		l.Stats = SubscriptionStats{
			Local:   capture(localPattern, text),
			Remote:  capture(remotePattern, text),
			History: capture(historyPattern, text),
			Total:   capture(subsTotalPattern, text),
		}
		if l.Stats.Total == 0 {
			l.Stats.Total = capture(dedupPattern, text)
		}
	default:
		if m := availablePattern.FindStringSubmatch(text); m != nil {
			l.Kind = KindAvailableCount
			l.Count, _ = strconv.Atoi(m[1])
		} else if m := totalPattern.FindStringSubmatch(text); m != nil {
			l.Kind = KindTotalCount
			l.Count, _ = strconv.Atoi(m[1])
		}
	}
	return l
}

// ClassifyAll classifies every line, preserving order
func (e *Extractor) ClassifyAll(lines []string) []Line {
	out := make([]Line, len(lines))
	for i, raw := range lines {
		out[i] = e.Classify(raw)
	}
	return out
}

// IsCompletion reports whether raw carries the run completion marker
func IsCompletion(raw string) bool {
	return strings.Contains(StripANSI(raw), markerCompletion)
}

func capture(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

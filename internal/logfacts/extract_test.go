package logfacts

import (
	"fmt"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(offset time.Duration, msg string) string {
	return fmt.Sprintf("%s INF %s", base.Add(offset).Format(TimeLayout), msg)
}

func newTestExtractor() *Extractor {
	return NewExtractor(Config{Location: time.UTC, Freshness: 5 * time.Second})
}

// run renders the markers of one full run starting at offset
func run(offset time.Duration, total, available int, length time.Duration) []string {
	return []string{
		at(offset, "手动触发检测"),
		at(offset, "启动检测任务 进度=显示"),
		at(offset+time.Second, "订阅链接数量 本地=3 远程=2 总计=5"),
		at(offset+2*time.Second, fmt.Sprintf("去重后节点数量: %d", total)),
		at(offset+2*time.Second, "开始检测节点"),
		at(offset+length-time.Second, fmt.Sprintf("可用节点数量: %d", available)),
		at(offset+length, "检测完成"),
		at(offset+length, "下次检查时间: 2026-03-01 11:00:00"),
	}
}

func TestClassify(t *testing.T) {
	e := newTestExtractor()

	tests := []struct {
		line   string
		kind   Kind
		source StartSource
		count  int
	}{
		{at(0, "手动触发检测"), KindStart, SourceManual, 0},
		{at(0, "启动检测任务 进度=隐藏"), KindStart, SourceScheduled, 0},
		{at(0, "开始检测节点"), KindStart, SourceProbing, 0},
		{at(0, "检测完成"), KindCompletion, SourceNone, 0},
		{at(0, "可用节点数量: 42"), KindAvailableCount, SourceNone, 42},
		{at(0, "去重后节点数量: 1234"), KindTotalCount, SourceNone, 1234},
		{"\x1b[32m" + at(0, "可用节点数量: 7") + "\x1b[0m", KindAvailableCount, SourceNone, 7},
		{at(0, "下次检查时间: 2026-03-01 11:00:00"), KindOther, SourceNone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			l := e.Classify(tt.line)
			if l.Kind != tt.kind || l.Source != tt.source || l.Count != tt.count {
				t.Errorf("Classify(%q) = %+v", tt.line, l)
			}
			if !l.HasTime || !l.Time.Equal(base) {
				t.Errorf("timestamp not parsed: %+v", l)
			}
		})
	}
}

func TestClassifySubscriptionTotals(t *testing.T) {
	e := newTestExtractor()

	tests := []struct {
		line string
		want SubscriptionStats
	}{
		{"订阅链接数量 本地=10 远程=5 历史=0 总计=15", SubscriptionStats{10, 5, 0, 15}},
		{"订阅链接数量 远程=8 总计（去重）=6", SubscriptionStats{0, 8, 0, 6}},
		{"订阅数量 本地=1 总计 去重=1", SubscriptionStats{1, 0, 0, 1}},
	}
	for _, tt := range tests {
		l := e.Classify(tt.line)
		if l.Kind != KindSubscriptionTotals {
			t.Fatalf("Classify(%q) kind = %v", tt.line, l.Kind)
		}
		if l.Stats != tt.want {
			t.Errorf("Classify(%q) stats = %+v, want %+v", tt.line, l.Stats, tt.want)
		}
		if l.HasTime {
			t.Errorf("line without timestamp reported one: %+v", l)
		}
	}
}

func TestExtractCompletedRun(t *testing.T) {
	e := newTestExtractor()

	facts := e.ExtractCompletedRun(run(0, 200, 30, 20*time.Second))
	if facts == nil {
		t.Fatal("expected facts")
	}
	if facts.TotalNodes != 200 || facts.AvailableNodes != 30 {
		t.Errorf("unexpected counts: %+v", facts)
	}
	if facts.Duration != 20*time.Second {
		t.Errorf("duration = %v, want 20s", facts.Duration)
	}
	if !facts.Start.Equal(base) || !facts.End.Equal(base.Add(20*time.Second)) {
		t.Errorf("unexpected bounds: %+v", facts)
	}
}

func TestExtractCompletedRunAllOrNothing(t *testing.T) {
	e := newTestExtractor()
	full := run(0, 200, 30, 20*time.Second)

	// Dropping any single marker line must yield nil, never partial facts.
	markers := []int{1, 3, 5, 6}
	for _, drop := range markers {
		lines := make([]string, 0, len(full)-1)
		lines = append(lines, full[:drop]...)
		lines = append(lines, full[drop+1:]...)
		// Keep the manual trigger out of play when the scheduled start is dropped.
		if drop == 1 {
			lines = lines[1:]
		}

		if facts := e.ExtractCompletedRun(lines); facts != nil {
			t.Errorf("dropping line %d (%q) produced partial facts %+v", drop, full[drop], facts)
		}
	}

	if facts := e.ExtractCompletedRun(nil); facts != nil {
		t.Errorf("empty window produced %+v", facts)
	}
}

func TestExtractCompletedRunIsolatesRunBoundary(t *testing.T) {
	e := newTestExtractor()

	lines := append(run(0, 100, 10, 30*time.Second), run(time.Minute, 500, 60, 40*time.Second)...)
	facts := e.ExtractCompletedRun(lines)
	if facts == nil {
		t.Fatal("expected facts for the second run")
	}
	if facts.TotalNodes != 500 || facts.AvailableNodes != 60 || facts.Duration != 40*time.Second {
		t.Errorf("expected run B facts, got %+v", facts)
	}
	if !facts.Start.Equal(base.Add(time.Minute)) {
		t.Errorf("start leaked from another run: %v", facts.Start)
	}
}

func TestExtractCompletedRunRejectsStraddle(t *testing.T) {
	e := newTestExtractor()

	// Run B finished without printing its available count: reaching B's start
	// before the count must not borrow run A's figure.
	b := run(time.Minute, 500, 60, 40*time.Second)
	b = append(b[:5], b[6:]...)
	lines := append(run(0, 100, 10, 30*time.Second), b...)

	if facts := e.ExtractCompletedRun(lines); facts != nil {
		t.Errorf("expected nil for facts straddling runs, got %+v", facts)
	}
}

func TestExtractCompletedRunIgnoresRunInProgress(t *testing.T) {
	e := newTestExtractor()

	lines := append(run(0, 100, 10, 30*time.Second),
		at(time.Minute, "手动触发检测"),
		at(time.Minute, "启动检测任务"),
		at(time.Minute+time.Second, "去重后节点数量: 900"),
	)
	facts := e.ExtractCompletedRun(lines)
	if facts == nil || facts.TotalNodes != 100 {
		t.Errorf("expected the last completed run, got %+v", facts)
	}
}

func TestExtractCompletedRunClampsNegativeDuration(t *testing.T) {
	e := newTestExtractor()

	lines := []string{
		at(10*time.Second, "启动检测任务"),
		at(0, "去重后节点数量: 5"),
		at(0, "可用节点数量: 1"),
		at(0, "检测完成"),
	}
	facts := e.ExtractCompletedRun(lines)
	if facts == nil || facts.Duration != 0 {
		t.Errorf("expected zero duration, got %+v", facts)
	}
}

func TestExtractSubscriptionStats(t *testing.T) {
	e := newTestExtractor()
	now := base.Add(time.Hour)

	t.Run("start marker precedes totals", func(t *testing.T) {
		lines := []string{
			at(0, "手动触发检测"),
			at(time.Second, "订阅链接数量 本地=10 远程=5 历史=0 总计=15"),
		}
		stats := e.ExtractSubscriptionStats(lines, now)
		want := SubscriptionStats{Local: 10, Remote: 5, History: 0, Total: 15}
		if stats == nil || *stats != want {
			t.Errorf("got %+v, want %+v", stats, want)
		}
	})

	t.Run("stale totals from a finished run", func(t *testing.T) {
		lines := []string{
			at(0, "启动检测任务"),
			at(time.Second, "订阅链接数量 本地=3 总计=3"),
			at(40*time.Second, "检测完成"),
			at(50*time.Second, "订阅链接数量 本地=1 总计=1"),
		}
		if stats := e.ExtractSubscriptionStats(lines, now); stats != nil {
			t.Errorf("expected nil for stale totals, got %+v", stats)
		}
	})

	t.Run("fresh totals after truncation", func(t *testing.T) {
		lines := []string{
			at(0, "检测完成"),
			at(time.Hour-3*time.Second, "订阅链接数量 远程=4 总计=4"),
		}
		stats := e.ExtractSubscriptionStats(lines, now)
		if stats == nil || stats.Total != 4 || stats.Remote != 4 {
			t.Errorf("expected fresh totals, got %+v", stats)
		}
	})

	t.Run("just past the freshness window", func(t *testing.T) {
		lines := []string{
			at(time.Hour-6*time.Second, "订阅链接数量 远程=4 总计=4"),
		}
		if stats := e.ExtractSubscriptionStats(lines, now); stats != nil {
			t.Errorf("expected nil past freshness, got %+v", stats)
		}
	})

	t.Run("start without totals yet", func(t *testing.T) {
		lines := []string{
			at(0, "订阅链接数量 本地=9 总计=9"),
			at(time.Second, "检测完成"),
			at(time.Hour, "手动触发检测"),
		}
		if stats := e.ExtractSubscriptionStats(lines, now); stats != nil {
			t.Errorf("expected nil before totals are printed, got %+v", stats)
		}
	})
}

func TestFindActiveStart(t *testing.T) {
	e := newTestExtractor()

	tests := []struct {
		name   string
		lines  []string
		want   time.Time
		wantOK bool
	}{
		{
			name: "probing in progress",
			lines: []string{
				at(0, "启动检测任务"),
				at(2*time.Second, "去重后节点数量: 10"),
				at(3*time.Second, "开始检测节点"),
			},
			want:   base.Add(3 * time.Second),
			wantOK: true,
		},
		{
			name:  "still fetching subscriptions",
			lines: []string{at(0, "手动触发检测"), at(0, "启动检测任务")},
		},
		{
			name:  "run finished",
			lines: run(0, 10, 1, 10*time.Second),
		},
		{
			name:  "empty",
			lines: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := e.FindActiveStart(tt.lines)
			if ok != tt.wantOK || !got.Equal(tt.want) {
				t.Errorf("FindActiveStart = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestClassifyAllKeepsOrder(t *testing.T) {
	e := newTestExtractor()
	lines := run(0, 120, 12, time.Minute)

	typed := e.ClassifyAll(lines)
	if len(typed) != len(lines) {
		t.Fatalf("ClassifyAll returned %d lines, want %d", len(typed), len(lines))
	}
	want := []Kind{KindStart, KindStart, KindSubscriptionTotals, KindTotalCount,
		KindStart, KindAvailableCount, KindCompletion, KindOther}
	for i, l := range typed {
		if l.Kind != want[i] {
			t.Errorf("line %d kind = %v, want %v", i, l.Kind, want[i])
		}
	}
	if typed[3].Count != 120 || typed[5].Count != 12 {
		t.Errorf("counts not carried: total=%d available=%d", typed[3].Count, typed[5].Count)
	}
	if len(e.ClassifyAll(nil)) != 0 {
		t.Error("expected no lines for nil input")
	}
}

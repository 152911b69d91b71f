package eta

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestScenarioBlendedEstimate(t *testing.T) {
	e := New(DefaultParams())
	now := t0.Add(10 * time.Second)

	est := e.Update(now, Input{
		Total:       100,
		Processed:   50,
		Running:     true,
		ServerStart: t0,
		History:     &Baseline{Total: 200, Duration: 20 * time.Second},
	})

	if est.Percent != 50 {
		t.Errorf("percent = %v, want 50", est.Percent)
	}
	// w = 0.3 + 35/85*0.7, rate = 5*w + 10*(1-w)
	w := 0.3 + 35.0/85.0*0.7
	wantRate := 5*w + 10*(1-w)
	if math.Abs(est.Rate-wantRate) > 1e-9 {
		t.Errorf("rate = %v, want %v", est.Rate, wantRate)
	}
	if est.Text != "7s" {
		t.Errorf("text = %q, want 7s", est.Text)
	}
	if est.Elapsed != 10*time.Second {
		t.Errorf("elapsed = %v", est.Elapsed)
	}
}

func TestWarmUpShowsCalculating(t *testing.T) {
	e := New(DefaultParams())

	if est := e.Update(t0, Input{Total: 100, Running: true}); est.Text != TextCalculating {
		t.Errorf("text at start = %q", est.Text)
	}
	est := e.Update(t0.Add(2*time.Second), Input{Total: 100, Processed: 10, Running: true})
	if est.Text != TextCalculating {
		t.Errorf("text during warm-up = %q", est.Text)
	}
}

func TestRecomputeIsThrottled(t *testing.T) {
	e := New(DefaultParams())
	e.Update(t0, Input{Total: 1000, Running: true})

	first := e.Update(t0.Add(5*time.Second), Input{Total: 1000, Processed: 50, Running: true})
	second := e.Update(t0.Add(5500*time.Millisecond), Input{Total: 1000, Processed: 500, Running: true})
	if second.Text != first.Text || second.Remaining != first.Remaining {
		t.Errorf("estimate recomputed within interval: %+v then %+v", first, second)
	}

	third := e.Update(t0.Add(6100*time.Millisecond), Input{Total: 1000, Processed: 500, Running: true})
	if third.Remaining == first.Remaining {
		t.Error("estimate not recomputed after interval")
	}
}

func TestOverrides(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want string
	}{
		{"saving", Input{Total: 10, Processed: 5, Running: true, ProcessingResults: true, ForceClose: true}, TextSaving},
		{"stopping", Input{Total: 10, Processed: 5, Running: true, ForceClose: true, SuccessLimited: true}, TextStopping},
		{"limit", Input{Total: 10, Processed: 5, Running: true, SuccessLimited: true}, TextLimitReached},
		{"complete", Input{Total: 10, Processed: 10, Running: true}, ""},
		{"idle", Input{Total: 10, Processed: 5}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(DefaultParams())
			est := e.Update(t0.Add(time.Minute), tt.in)
			if est.Text != tt.want {
				t.Errorf("text = %q, want %q", est.Text, tt.want)
			}
		})
	}
}

func TestIdleClearsRun(t *testing.T) {
	e := New(DefaultParams())
	e.Update(t0, Input{Total: 10, Running: true})
	if _, running := e.Start(); !running {
		t.Fatal("expected running estimator")
	}
	e.Update(t0.Add(time.Second), Input{Total: 10})
	if _, running := e.Start(); running {
		t.Error("idle tick should stop the estimator")
	}
}

func TestStartCorrectionResets(t *testing.T) {
	e := New(DefaultParams())
	e.Update(t0.Add(30*time.Second), Input{Total: 100, Processed: 10, Running: true, ServerStart: t0})

	// Within tolerance: start kept
	e.Update(t0.Add(31*time.Second), Input{Total: 100, Processed: 11, Running: true, ServerStart: t0.Add(800 * time.Millisecond)})
	if start, _ := e.Start(); !start.Equal(t0) {
		t.Errorf("start moved within tolerance: %v", start)
	}

	corrected := t0.Add(5 * time.Second)
	e.Update(t0.Add(32*time.Second), Input{Total: 100, Processed: 12, Running: true, ServerStart: corrected})
	if start, _ := e.Start(); !start.Equal(corrected) {
		t.Errorf("start = %v, want %v", start, corrected)
	}
}

func TestLowProgressBlending(t *testing.T) {
	tests := []struct {
		name     string
		history  *Baseline
		wantRate float64
	}{
		// real-time rate is 10/s in every case
		{"faster than history uses history", &Baseline{Total: 100, Duration: 20 * time.Second}, 5},
		{"slower than history stays real", &Baseline{Total: 1000, Duration: 10 * time.Second}, 10},
		{"no history", nil, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(DefaultParams())
			est := e.Update(t0.Add(10*time.Second), Input{
				Total:       1000,
				Processed:   100,
				Running:     true,
				ServerStart: t0,
				History:     tt.history,
			})
			if math.Abs(est.Rate-tt.wantRate) > 1e-9 {
				t.Errorf("rate = %v, want %v", est.Rate, tt.wantRate)
			}
		})
	}
}

// With constant throughput the remaining time must strictly decrease after
// warm-up and reach zero at completion.
func TestRemainingDecreasesAtConstantRate(t *testing.T) {
	e := New(DefaultParams())
	const total = 1000
	step := 1200 * time.Millisecond

	var prev time.Duration = -1
	for i := 0; ; i++ {
		now := t0.Add(time.Duration(i) * step)
		processed := 12 * i
		est := e.Update(now, Input{Total: total, Processed: processed, Running: true})

		if processed >= total {
			if est.Remaining != 0 || est.Text != "" {
				t.Errorf("completed run still reports %+v", est)
			}
			break
		}
		if now.Sub(t0) < 3*time.Second {
			continue
		}
		if est.Remaining <= 0 {
			t.Fatalf("tick %d: no estimate (%+v)", i, est)
		}
		if prev >= 0 && est.Remaining >= prev {
			t.Fatalf("tick %d: remaining %v did not decrease from %v", i, est.Remaining, prev)
		}
		prev = est.Remaining
	}
	if prev > 2*time.Second {
		t.Errorf("estimate did not converge, last remaining %v", prev)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "..."},
		{-5, "..."},
		{math.NaN(), "..."},
		{7.9, "7s"},
		{59.9, "59s"},
		{60, "1m"},
		{89, "1m"},
		{90, "2m"},
		{3600, "60m"},
		{3661, "1h 1m"},
		{2*3600 + 30*60, "2h 30m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

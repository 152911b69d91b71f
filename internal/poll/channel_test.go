package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Overlapping ticks while a fetch is outstanding must produce one fetch.
func TestTickIsSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls int32

	c := NewChannel(Config{
		Name: "status",
		Fetch: func(ctx context.Context) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(started)
			}
			<-release
		},
	})

	done := make(chan bool)
	go func() { done <- c.Tick(context.Background()) }()
	<-started

	if c.State() != StateInFlight {
		t.Fatalf("state = %v, want in_flight", c.State())
	}

	const overlapping = 10
	var wg sync.WaitGroup
	var ran int32
	for i := 0; i < overlapping; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Tick(context.Background()) {
				atomic.AddInt32(&ran, 1)
			}
		}()
	}
	wg.Wait()
	close(release)

	if !<-done {
		t.Error("first tick should have run")
	}
	if ran != 0 {
		t.Errorf("%d overlapping ticks ran a fetch", ran)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch called %d times, want 1", got)
	}
	if c.Skips() != overlapping {
		t.Errorf("skips = %d, want %d", c.Skips(), overlapping)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v after settle, want idle", c.State())
	}
}

func TestRunStopsWhenInactive(t *testing.T) {
	var calls int32
	c := NewChannel(Config{
		Name:     "logs",
		Fetch:    func(ctx context.Context) { atomic.AddInt32(&calls, 1) },
		Interval: func() time.Duration { return time.Millisecond },
		Active:   func() bool { return atomic.LoadInt32(&calls) < 3 },
	})

	finished := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop once inactive")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("fetch called %d times, want 3", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewChannel(Config{
		Name:     "status",
		Fetch:    func(ctx context.Context) {},
		Interval: func() time.Duration { return time.Hour },
	})

	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()

	for c.Ticks() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
}

func TestCadence(t *testing.T) {
	c := Cadence{StatusFast: 100 * time.Millisecond}.WithDefaults()
	if c.Status(true) != 100*time.Millisecond || c.Status(false) != 3*time.Second {
		t.Errorf("unexpected status cadence %+v", c)
	}
	if c.Log(true) != time.Second || c.Log(false) != 3*time.Second {
		t.Errorf("unexpected log cadence %+v", c)
	}
}

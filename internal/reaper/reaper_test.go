package reaper

import (
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	sweeps atomic.Int32
}

func (c *countingSweeper) SweepIdle(time.Duration) int {
	c.sweeps.Add(1)
	return 1
}

type countingPurger struct {
	purges atomic.Int32
}

func (c *countingPurger) PurgeOlderThan(time.Duration) int {
	c.purges.Add(1)
	return 0
}

func TestReaperSweepsImmediatelyAndPeriodically(t *testing.T) {
	sweeper := &countingSweeper{}
	purger := &countingPurger{}

	r := New(sweeper, purger, 20*time.Millisecond, time.Hour, time.Hour)
	r.Start()
	defer r.Stop()

	// The first sweep happens at start, not after the first tick
	deadline := time.Now().Add(2 * time.Second)
	for sweeper.sweeps.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no immediate sweep")
		}
		time.Sleep(time.Millisecond)
	}

	for sweeper.sweeps.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d sweeps, want periodic sweeps", sweeper.sweeps.Load())
		}
		time.Sleep(time.Millisecond)
	}
	if purger.purges.Load() == 0 {
		t.Error("job purge never ran")
	}
}

type panickySweeper struct {
	calls atomic.Int32
}

func (p *panickySweeper) SweepIdle(time.Duration) int {
	p.calls.Add(1)
	panic("sweep exploded")
}

func TestReaperSurvivesPanickingSweep(t *testing.T) {
	sweeper := &panickySweeper{}
	purger := &countingPurger{}

	r := New(sweeper, purger, 20*time.Millisecond, time.Hour, time.Hour)
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper called %d times, want it to keep running after a panic", sweeper.calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

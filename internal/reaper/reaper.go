// Package reaper periodically reclaims idle sessions and expired job
// records.
package reaper

import (
	"sync"
	"time"

	"github.com/drewfead/hermes/internal/logging"
)

// SessionSweeper ends sessions idle beyond the threshold.
type SessionSweeper interface {
	SweepIdle(maxIdle time.Duration) int
}

// JobPurger drops terminal job records older than the retention window.
type JobPurger interface {
	PurgeOlderThan(retention time.Duration) int
}

// Reaper runs fixed-period sweeps. Sweep failures are logged, never fatal.
type Reaper struct {
	sessions  SessionSweeper
	jobs      JobPurger
	period    time.Duration
	maxIdle   time.Duration
	retention time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a reaper. Zero durations fall back to the defaults: 30m
// period, 3h idle threshold, 24h job retention.
func New(sessions SessionSweeper, jobs JobPurger, period, maxIdle, retention time.Duration) *Reaper {
	if period <= 0 {
		period = 30 * time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = 3 * time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Reaper{
		sessions:  sessions,
		jobs:      jobs,
		period:    period,
		maxIdle:   maxIdle,
		retention: retention,
		done:      make(chan struct{}),
	}
}

// Start begins sweeping: once immediately, then every period.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop halts the sweep loop.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	r.sweep()

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	defer func() {
		if rec := recover(); rec != nil {
			logging.CapturePanic(rec, "component", "reaper")
		}
	}()

	ended := r.sessions.SweepIdle(r.maxIdle)
	purged := r.jobs.PurgeOlderThan(r.retention)
	if ended > 0 || purged > 0 {
		logging.Info("sweep complete", "sessions_ended", ended, "jobs_purged", purged)
	}
}

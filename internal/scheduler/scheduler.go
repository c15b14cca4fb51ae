// Package scheduler queues jobs per conversation and executes them with
// bounded global concurrency.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drewfead/hermes/internal/approval"
	"github.com/drewfead/hermes/internal/bridge"
	"github.com/drewfead/hermes/internal/logging"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is a point-in-time snapshot of one submitted message. Jobs live in
// memory only and do not survive a daemon restart.
type Job struct {
	ID      string
	Key     string
	UserID  string
	Text    string
	Status  Status
	Output  string
	Err     string
	Created time.Time
	Started time.Time
	Ended   time.Time
}

// job is the scheduler-owned mutable record behind a Job snapshot.
type job struct {
	Job
	cancel context.CancelFunc
}

// ErrConversationBusy means a message is already waiting for this
// conversation; the caller should tell the human to wait.
var ErrConversationBusy = errors.New("a job is already queued for this conversation")

// Runner executes one job body. Implemented by the daemon's executor over
// the agent bridge.
type Runner interface {
	Run(ctx context.Context, key, text string, onProgress bridge.ProgressFunc, onApproval bridge.ApprovalFunc) (string, error)
}

// Callbacks fan job activity out to the notifier boundary.
type Callbacks struct {
	OnProgress func(job Job, output string, elapsed time.Duration)
	OnApproval func(ctx context.Context, job Job, req bridge.ApprovalRequest) (approval.Decision, error)
	OnResult   func(job Job)
}

// Scheduler admits queued jobs into a bounded worker pool. At most one job
// per conversation key runs at a time; admission may interleave across keys.
type Scheduler struct {
	runner Runner
	cb     Callbacks
	cap    int

	mu           sync.Mutex
	jobs         map[string]*job
	queue        []*job
	queuedByKey  map[string]*job
	runningByKey map[string]*job
	running      int

	wake     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a scheduler with the given concurrency cap.
func New(maxConcurrent int, runner Runner, cb Callbacks) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Scheduler{
		runner:       runner,
		cb:           cb,
		cap:          maxConcurrent,
		jobs:         make(map[string]*job),
		queuedByKey:  make(map[string]*job),
		runningByKey: make(map[string]*job),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.dispatch()
}

// Stop cancels running jobs and waits for everything to settle.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.runningByKey))
	for _, j := range s.runningByKey {
		cancels = append(cancels, j.cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}

// Submit enqueues a message for a conversation. Returns the job snapshot
// and its queue position (the number of still-queued jobs ahead of it).
// A key with a job already queued is refused with ErrConversationBusy;
// a key with only a running job may queue one message behind it.
func (s *Scheduler) Submit(key, userID, text string) (Job, int, error) {
	s.mu.Lock()

	if _, busy := s.queuedByKey[key]; busy {
		s.mu.Unlock()
		return Job{}, 0, ErrConversationBusy
	}

	j := &job{Job: Job{
		ID:      uuid.NewString()[:8],
		Key:     key,
		UserID:  userID,
		Text:    text,
		Status:  StatusQueued,
		Created: time.Now(),
	}}
	// Cancelled entries linger in the queue until the next dispatch pass;
	// they do not count toward the reported position
	pos := 0
	for _, q := range s.queue {
		if q.Status == StatusQueued {
			pos++
		}
	}
	s.queue = append(s.queue, j)
	s.queuedByKey[key] = j
	s.jobs[j.ID] = j
	snap := j.Job

	s.mu.Unlock()

	logging.Info("job submitted", "job", snap.ID, "key", key, "position", pos)
	s.wakeUp()
	return snap, pos, nil
}

// Cancel aborts the running job and drops the queued job for a key.
// Returns the number of jobs affected.
func (s *Scheduler) Cancel(key string) int {
	n := 0
	var dropped []Job
	var cancelRunning context.CancelFunc

	s.mu.Lock()
	if j, ok := s.queuedByKey[key]; ok {
		j.Status = StatusCancelled
		j.Ended = time.Now()
		delete(s.queuedByKey, key)
		dropped = append(dropped, j.Job)
		n++
	}
	if j, ok := s.runningByKey[key]; ok {
		cancelRunning = j.cancel
		n++
	}
	s.mu.Unlock()

	// Running jobs reach their terminal state through the execute path
	if cancelRunning != nil {
		cancelRunning()
	}
	for _, snap := range dropped {
		if s.cb.OnResult != nil {
			s.cb.OnResult(snap)
		}
	}

	if n > 0 {
		logging.Info("cancelled jobs", "key", key, "count", n)
	}
	return n
}

// Get returns a job snapshot by id.
func (s *Scheduler) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.Job, true
}

// List returns snapshots of all known jobs, newest first.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Job)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Created.After(out[k].Created) })
	return out
}

// PurgeOlderThan removes terminal job records that ended before the
// retention window. Returns the number removed.
func (s *Scheduler) PurgeOlderThan(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && !j.Ended.IsZero() && j.Ended.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

func (s *Scheduler) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.admit()
	}
}

// admit moves queued jobs into execution while slots are free.
func (s *Scheduler) admit() {
	for {
		s.mu.Lock()
		j := s.nextLocked()
		if j == nil {
			s.mu.Unlock()
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		j.Status = StatusRunning
		j.Started = time.Now()
		j.cancel = cancel
		delete(s.queuedByKey, j.Key)
		s.runningByKey[j.Key] = j
		s.running++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.execute(ctx, j)
	}
}

// nextLocked picks the oldest admissible queued job: a free slot must exist
// and the job's key must not already be running. Cancelled entries are
// dropped in passing.
func (s *Scheduler) nextLocked() *job {
	if s.running >= s.cap {
		return nil
	}

	var picked *job
	remaining := make([]*job, 0, len(s.queue))
	for _, j := range s.queue {
		if j.Status != StatusQueued {
			continue
		}
		if picked == nil {
			if _, busy := s.runningByKey[j.Key]; !busy {
				picked = j
				continue
			}
		}
		remaining = append(remaining, j)
	}
	s.queue = remaining
	return picked
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	defer s.wg.Done()

	// The slot and the per-key marker are always released, whatever the
	// job body did
	defer func() {
		j.cancel()
		s.mu.Lock()
		if s.runningByKey[j.Key] == j {
			delete(s.runningByKey, j.Key)
		}
		s.running--
		s.mu.Unlock()
		s.wakeUp()
	}()

	snap := func() Job {
		s.mu.Lock()
		defer s.mu.Unlock()
		return j.Job
	}()

	onProgress := func(out string, elapsed time.Duration) {
		if s.cb.OnProgress != nil {
			s.cb.OnProgress(snap, out, elapsed)
		}
	}
	onApproval := func(ctx context.Context, req bridge.ApprovalRequest) (approval.Decision, error) {
		if s.cb.OnApproval == nil {
			return approval.Deny, nil
		}
		return s.cb.OnApproval(ctx, snap, req)
	}

	out, err := func() (out string, err error) {
		defer func() {
			if r := recover(); r != nil {
				logging.CapturePanic(r, "job", j.ID, "key", j.Key)
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return s.runner.Run(ctx, j.Key, j.Text, onProgress, onApproval)
	}()

	s.mu.Lock()
	j.Ended = time.Now()
	switch {
	case ctx.Err() != nil:
		j.Status = StatusCancelled
	case err != nil:
		j.Status = StatusFailed
		j.Err = truncateStr(err.Error(), 500)
	default:
		j.Status = StatusCompleted
		j.Output = out
	}
	final := j.Job
	s.mu.Unlock()

	logging.Info("job finished", "job", final.ID, "key", final.Key, "status", final.Status)
	if s.cb.OnResult != nil {
		s.cb.OnResult(final)
	}
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

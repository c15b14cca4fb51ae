package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drewfead/hermes/internal/bridge"
)

// fakeRunner blocks each job until released, so tests control admission.
type fakeRunner struct {
	started chan string
	proceed chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		started: make(chan string, 16),
		proceed: make(chan struct{}),
	}
}

func (r *fakeRunner) Run(ctx context.Context, key, text string, onProgress bridge.ProgressFunc, onApproval bridge.ApprovalFunc) (string, error) {
	r.started <- key
	select {
	case <-r.proceed:
		return "done: " + text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// release lets one blocked job finish.
func (r *fakeRunner) release(t *testing.T) {
	t.Helper()
	select {
	case r.proceed <- struct{}{}:
	case <-time.After(5 * time.Second):
		t.Fatal("no job waiting to be released")
	}
}

func (r *fakeRunner) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case key := <-r.started:
		return key
	case <-time.After(5 * time.Second):
		t.Fatal("no job started in time")
		return ""
	}
}

func (r *fakeRunner) expectNoStart(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case key := <-r.started:
		t.Fatalf("unexpected job start for key %s", key)
	case <-time.After(within):
	}
}

func setupScheduler(t *testing.T, maxConcurrent int, runner Runner) (*Scheduler, chan Job) {
	t.Helper()

	results := make(chan Job, 16)
	s := New(maxConcurrent, runner, Callbacks{
		OnResult: func(j Job) { results <- j },
	})
	s.Start()
	t.Cleanup(s.Stop)
	return s, results
}

func waitResult(t *testing.T, results chan Job) Job {
	t.Helper()
	select {
	case j := <-results:
		return j
	case <-time.After(5 * time.Second):
		t.Fatal("no job result in time")
		return Job{}
	}
}

func TestSubmitRunsJob(t *testing.T) {
	r := newFakeRunner()
	s, results := setupScheduler(t, 2, r)

	snap, pos, err := s.Submit("chat:1", "user-1", "ping")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if pos != 0 {
		t.Errorf("queue position = %d, want 0", pos)
	}
	if snap.Status != StatusQueued {
		t.Errorf("status = %q, want queued", snap.Status)
	}

	r.waitStarted(t)
	r.release(t)

	final := waitResult(t, results)
	if final.Status != StatusCompleted {
		t.Errorf("final status = %q, want completed", final.Status)
	}
	if final.Output != "done: ping" {
		t.Errorf("output = %q", final.Output)
	}

	got, ok := s.Get(snap.ID)
	if !ok {
		t.Fatal("job not found after completion")
	}
	if got.Status != StatusCompleted {
		t.Errorf("Get status = %q, want completed", got.Status)
	}
}

func TestConcurrencyCap(t *testing.T) {
	r := newFakeRunner()
	s, results := setupScheduler(t, 2, r)

	for i, key := range []string{"chat:a", "chat:b", "chat:c"} {
		if _, _, err := s.Submit(key, "u", "msg"); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	// Only two jobs may run at once
	r.waitStarted(t)
	r.waitStarted(t)
	r.expectNoStart(t, 200*time.Millisecond)

	// A slot frees and the third is admitted
	r.release(t)
	waitResult(t, results)
	r.waitStarted(t)

	r.release(t)
	r.release(t)
	waitResult(t, results)
	waitResult(t, results)
}

func TestSingleFlightPerKey(t *testing.T) {
	r := newFakeRunner()
	s, results := setupScheduler(t, 2, r)

	if _, _, err := s.Submit("chat:1", "u", "first"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r.waitStarted(t)

	// One message may wait behind the running job
	if _, _, err := s.Submit("chat:1", "u", "second"); err != nil {
		t.Fatalf("Submit while running: %v", err)
	}

	// But never two runs for the same key at once, even with free slots
	r.expectNoStart(t, 200*time.Millisecond)

	// And a second waiting message is refused
	if _, _, err := s.Submit("chat:1", "u", "third"); !errors.Is(err, ErrConversationBusy) {
		t.Fatalf("err = %v, want ErrConversationBusy", err)
	}

	// First finishes, the queued one is admitted
	r.release(t)
	if got := waitResult(t, results); got.Output != "done: first" {
		t.Errorf("first result = %q", got.Output)
	}
	r.waitStarted(t)
	r.release(t)
	if got := waitResult(t, results); got.Output != "done: second" {
		t.Errorf("second result = %q", got.Output)
	}
}

func TestSubmitPositionSkipsCancelledEntries(t *testing.T) {
	r := newFakeRunner()
	s, results := setupScheduler(t, 1, r)

	if _, _, err := s.Submit("chat:a", "u", "running"); err != nil {
		t.Fatal(err)
	}
	r.waitStarted(t)

	if _, _, err := s.Submit("chat:b", "u", "waiting"); err != nil {
		t.Fatal(err)
	}
	// The cancelled entry stays in the queue until the next dispatch pass
	if n := s.Cancel("chat:b"); n != 1 {
		t.Fatalf("Cancel = %d, want 1", n)
	}
	if got := waitResult(t, results); got.Status != StatusCancelled {
		t.Fatalf("cancelled job status = %q", got.Status)
	}

	_, pos, err := s.Submit("chat:c", "u", "msg")
	if err != nil {
		t.Fatal(err)
	}
	if pos != 0 {
		t.Errorf("position = %d, want 0 with only a cancelled entry ahead", pos)
	}

	// A genuinely queued entry still counts
	_, pos, err = s.Submit("chat:d", "u", "msg")
	if err != nil {
		t.Fatal(err)
	}
	if pos != 1 {
		t.Errorf("position = %d, want 1 behind the queued job", pos)
	}

	for i := 0; i < 3; i++ {
		r.release(t)
		waitResult(t, results)
		if i < 2 {
			r.waitStarted(t)
		}
	}
}

func TestCancelQueuedAndRunning(t *testing.T) {
	r := newFakeRunner()
	s, results := setupScheduler(t, 2, r)

	if _, _, err := s.Submit("chat:1", "u", "running"); err != nil {
		t.Fatal(err)
	}
	r.waitStarted(t)
	if _, _, err := s.Submit("chat:1", "u", "queued"); err != nil {
		t.Fatal(err)
	}

	if n := s.Cancel("chat:1"); n != 2 {
		t.Errorf("Cancel = %d, want 2", n)
	}

	for i := 0; i < 2; i++ {
		if got := waitResult(t, results); got.Status != StatusCancelled {
			t.Errorf("result %d status = %q, want cancelled", i, got.Status)
		}
	}

	// Nothing left to cancel
	if n := s.Cancel("chat:1"); n != 0 {
		t.Errorf("second Cancel = %d, want 0", n)
	}
}

func TestFailedJobCarriesError(t *testing.T) {
	failing := runnerFunc(func(ctx context.Context, key, text string, _ bridge.ProgressFunc, _ bridge.ApprovalFunc) (string, error) {
		return "", errors.New("runtime blew up")
	})
	s, results := setupScheduler(t, 2, failing)

	if _, _, err := s.Submit("chat:1", "u", "msg"); err != nil {
		t.Fatal(err)
	}

	final := waitResult(t, results)
	if final.Status != StatusFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}
	if final.Err != "runtime blew up" {
		t.Errorf("err = %q", final.Err)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	r := newFakeRunner()
	s, results := setupScheduler(t, 2, r)

	snap, _, err := s.Submit("chat:done", "u", "msg")
	if err != nil {
		t.Fatal(err)
	}
	r.waitStarted(t)
	r.release(t)
	waitResult(t, results)

	if _, _, err := s.Submit("chat:live", "u", "msg"); err != nil {
		t.Fatal(err)
	}
	r.waitStarted(t)

	// Zero retention purges every terminal job but spares the live one
	if n := s.PurgeOlderThan(0); n != 1 {
		t.Errorf("PurgeOlderThan = %d, want 1", n)
	}
	if _, ok := s.Get(snap.ID); ok {
		t.Error("terminal job survived purge")
	}
	if len(s.List()) != 1 {
		t.Errorf("jobs remaining = %d, want 1", len(s.List()))
	}

	r.release(t)
	waitResult(t, results)
}

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, key, text string, onProgress bridge.ProgressFunc, onApproval bridge.ApprovalFunc) (string, error)

func (f runnerFunc) Run(ctx context.Context, key, text string, onProgress bridge.ProgressFunc, onApproval bridge.ApprovalFunc) (string, error) {
	return f(ctx, key, text, onProgress, onApproval)
}

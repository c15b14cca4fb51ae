package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewfead/hermes/internal/bridge"
	"github.com/drewfead/hermes/internal/config"
	"github.com/drewfead/hermes/internal/control"
	"github.com/drewfead/hermes/internal/scheduler"
	"github.com/drewfead/hermes/internal/session"
	"github.com/drewfead/hermes/internal/store"
	"github.com/drewfead/hermes/internal/workspace"
)

// blockingRunner marks the session busy and holds the job until cancelled,
// standing in for a bridge call against a live runtime.
type blockingRunner struct {
	registry *session.Registry
	started  chan string
}

func (r *blockingRunner) Run(ctx context.Context, key, text string, _ bridge.ProgressFunc, _ bridge.ApprovalFunc) (string, error) {
	sess, _, err := r.registry.GetOrCreate(key)
	if err != nil {
		return "", err
	}
	sess.SetBusy(true)
	defer sess.SetBusy(false)

	r.started <- key
	<-ctx.Done()
	return "", ctx.Err()
}

func setupDaemon(t *testing.T) (*Daemon, *blockingRunner) {
	t.Helper()

	root := t.TempDir()
	st, err := store.New(filepath.Join(root, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ws := workspace.NewManager(filepath.Join(root, "sessions"), "")
	registry := session.NewRegistry(st, ws)
	runner := &blockingRunner{registry: registry, started: make(chan string, 4)}

	d := &Daemon{
		config:       config.DefaultConfig(),
		store:        st,
		server:       control.NewServer(filepath.Join(root, "hermes.sock")),
		workspaces:   ws,
		registry:     registry,
		lastProgress: make(map[string]time.Time),
	}
	d.scheduler = scheduler.New(2, runner, scheduler.Callbacks{})
	d.scheduler.Start()
	t.Cleanup(d.scheduler.Stop)
	d.registerHandlers()
	return d, runner
}

func submitJob(t *testing.T, d *Daemon, key string) string {
	t.Helper()

	params, err := json.Marshal(control.SubmitRequest{Key: key, UserID: "u", Text: "work"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.handleSubmit(params)
	if err != nil {
		t.Fatalf("handleSubmit: %v", err)
	}
	return res.(*control.SubmitResult).JobID
}

func waitStarted(t *testing.T, runner *blockingRunner) {
	t.Helper()
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
}

func waitJobStatus(t *testing.T, d *Daemon, id string, want scheduler.Status) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := d.scheduler.Get(id); ok && j.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	j, _ := d.scheduler.Get(id)
	t.Fatalf("job status = %q, want %q", j.Status, want)
}

func TestEndSessionWaitsForRunningJob(t *testing.T) {
	d, runner := setupDaemon(t)

	jobID := submitJob(t, d, "chat:1")
	waitStarted(t, runner)

	params, err := json.Marshal(control.KeyRequest{Key: "chat:1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.handleEndSession(params); err != nil {
		t.Fatalf("handleEndSession: %v", err)
	}

	if _, ok := d.registry.Get("chat:1"); ok {
		t.Error("session still registered after end")
	}
	// The running job was cancelled cleanly, not failed by the teardown
	waitJobStatus(t, d, jobID, scheduler.StatusCancelled)
}

func TestNewSessionWaitsForRunningJob(t *testing.T) {
	d, runner := setupDaemon(t)

	jobID := submitJob(t, d, "chat:1")
	waitStarted(t, runner)

	old, ok := d.registry.Get("chat:1")
	if !ok {
		t.Fatal("no session for running job")
	}

	params, err := json.Marshal(control.KeyRequest{Key: "chat:1"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.handleNewSession(params)
	if err != nil {
		t.Fatalf("handleNewSession: %v", err)
	}

	info := res.(*control.SessionInfo)
	if info.ID == old.ID {
		t.Error("recreate reused the old session id")
	}
	if _, err := os.Stat(old.Dirs.Root); !os.IsNotExist(err) {
		t.Error("old workspace survived recreate")
	}
	waitJobStatus(t, d, jobID, scheduler.StatusCancelled)
}

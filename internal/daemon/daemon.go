// Package daemon implements the hermesd background service.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/drewfead/hermes/internal/approval"
	"github.com/drewfead/hermes/internal/bridge"
	"github.com/drewfead/hermes/internal/config"
	"github.com/drewfead/hermes/internal/control"
	"github.com/drewfead/hermes/internal/logging"
	"github.com/drewfead/hermes/internal/reaper"
	"github.com/drewfead/hermes/internal/scheduler"
	"github.com/drewfead/hermes/internal/session"
	"github.com/drewfead/hermes/internal/store"
	"github.com/drewfead/hermes/internal/workspace"
)

// DrainTimeout is how long to wait for in-flight jobs to complete on
// shutdown.
const DrainTimeout = 60 * time.Second

// progressInterval throttles progress broadcasts per job.
const progressInterval = time.Second

// Daemon is the orchestrator service: it owns the session registry, the
// job scheduler, and the control socket.
type Daemon struct {
	config     *config.Config
	store      *store.Store
	server     *control.Server
	workspaces *workspace.Manager
	registry   *session.Registry
	bridge     *bridge.Bridge
	scheduler  *scheduler.Scheduler
	reaper     *reaper.Reaper

	progressMu   sync.Mutex
	lastProgress map[string]time.Time

	shutdownOnce sync.Once
}

// New creates a new daemon instance.
func New(cfg *config.Config) (*Daemon, error) {
	st, err := store.New(cfg.Daemon.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ws := workspace.NewManager(cfg.Sessions.BaseDir, cfg.Sessions.CredentialFile)
	registry := session.NewRegistry(st, ws)

	d := &Daemon{
		config:       cfg,
		store:        st,
		server:       control.NewServer(cfg.Daemon.Socket),
		workspaces:   ws,
		registry:     registry,
		bridge:       bridge.New(registry, ws, cfg.Runtime),
		lastProgress: make(map[string]time.Time),
	}
	d.scheduler = scheduler.New(cfg.Jobs.MaxConcurrent, &executor{registry: registry, bridge: d.bridge}, scheduler.Callbacks{
		OnProgress: d.onProgress,
		OnApproval: d.onApproval,
		OnResult:   d.onResult,
	})
	d.reaper = reaper.New(d.registry, d.scheduler,
		cfg.Sessions.SweepInterval, cfg.Sessions.IdleTimeout, cfg.Jobs.Retention)

	d.registerHandlers()
	return d, nil
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run() error {
	if err := d.registry.LoadPersisted(); err != nil {
		logging.Warn("failed to restore sessions", "error", err)
	}

	if err := d.server.Start(); err != nil {
		return err
	}
	logging.Info("control server listening", "socket", d.config.Daemon.Socket)

	d.scheduler.Start()
	d.reaper.Start()

	sigCh := make(chan os.Signal, 2) // Buffer of 2 for second signal
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.signalLoop(sigCh)
}

// signalLoop handles OS signals for graceful shutdown.
func (d *Daemon) signalLoop(sigCh <-chan os.Signal) error {
	sig := <-sigCh
	logging.Info("received shutdown signal, starting graceful shutdown", "signal", sig.String())

	shutdownDone := make(chan struct{})
	go func() {
		d.gracefulShutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		logging.Info("graceful shutdown complete")
		return nil

	case sig2 := <-sigCh:
		// Second signal - force immediate exit
		logging.Warn("received second signal, forcing immediate shutdown", "signal", sig2.String())
		d.forceShutdown()
		return fmt.Errorf("forced shutdown by signal: %s", sig2.String())
	}
}

// gracefulShutdown performs a clean shutdown with job draining.
func (d *Daemon) gracefulShutdown() {
	d.shutdownOnce.Do(func() {
		// Stop accepting new work
		d.server.Stop()
		d.reaper.Stop()

		// Cancel running jobs and wait for them to settle
		done := make(chan struct{})
		go func() {
			d.scheduler.Stop()
			close(done)
		}()
		select {
		case <-done:
			logging.Info("all jobs settled")
		case <-time.After(DrainTimeout):
			logging.Warn("drain timeout exceeded, some jobs may not have completed")
		}

		// Kill runtime processes without ending sessions; they resume on
		// the next daemon start
		d.registry.Shutdown()

		if err := d.store.Close(); err != nil {
			logging.Error("error closing database", "error", err)
		}

		logging.Flush(2 * time.Second)
	})
}

// forceShutdown performs an immediate shutdown without waiting.
func (d *Daemon) forceShutdown() {
	d.registry.Shutdown()
	d.server.Stop()
	d.store.Close()
	logging.Flush(500 * time.Millisecond)
}

// onProgress relays job output to clients, at most once per second per job.
func (d *Daemon) onProgress(j scheduler.Job, output string, elapsed time.Duration) {
	d.progressMu.Lock()
	if time.Since(d.lastProgress[j.ID]) < progressInterval {
		d.progressMu.Unlock()
		return
	}
	d.lastProgress[j.ID] = time.Now()
	d.progressMu.Unlock()

	d.server.Broadcast(control.Event{
		Type: control.EventJobProgress,
		Payload: &control.ProgressPayload{
			JobID:          j.ID,
			Key:            j.Key,
			Output:         output,
			ElapsedSeconds: int(elapsed.Seconds()),
		},
	})
}

// onApproval announces a pending tool approval and suspends the job until
// an operator answers via approval.decide or the request is torn down.
func (d *Daemon) onApproval(ctx context.Context, j scheduler.Job, req bridge.ApprovalRequest) (approval.Decision, error) {
	sess, ok := d.registry.Get(j.Key)
	if !ok {
		return "", fmt.Errorf("no session for conversation %s", j.Key)
	}

	// Register the pending entry before announcing it, so an instant
	// operator reply finds it
	sess.Approvals.Create(req.ID)

	d.server.Broadcast(control.Event{
		Type: control.EventApprovalRequired,
		Payload: &control.ApprovalPayload{
			JobID:     j.ID,
			Key:       j.Key,
			RequestID: req.ID,
			Tool:      req.Tool,
			Input:     req.Input,
		},
	})

	return sess.Approvals.Wait(ctx, req.ID)
}

func (d *Daemon) onResult(j scheduler.Job) {
	d.progressMu.Lock()
	delete(d.lastProgress, j.ID)
	d.progressMu.Unlock()

	d.server.Broadcast(control.Event{
		Type:    control.EventJobResult,
		Payload: jobToInfo(j),
	})
}

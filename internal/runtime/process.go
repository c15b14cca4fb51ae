package runtime

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/drewfead/hermes/internal/executil"
	"github.com/drewfead/hermes/internal/logging"
)

// PolicyFileName is where the permission document lands inside a session's
// data directory.
const PolicyFileName = "permissions.json"

const healthPollInterval = 250 * time.Millisecond

// LaunchSpec describes one runtime process bound to a session's directories.
type LaunchSpec struct {
	Command        string
	WorkspaceDir   string
	DataDir        string
	LogDir         string
	Policy         *Policy
	StartupTimeout time.Duration
}

// Process is a running agent runtime owned by a single session.
type Process struct {
	cmd     *exec.Cmd
	port    int
	client  *Client
	logFile *os.File
	done    chan struct{}
	exitErr error
	killed  atomic.Bool
}

// Launch starts a runtime process for a session and waits until its health
// endpoint responds or the startup timeout elapses. On timeout or early exit
// the process is killed and ErrRuntimeStartFailed returned.
func Launch(ctx context.Context, spec LaunchSpec) (*Process, error) {
	// 1. Pick a free local port for the runtime to bind
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("%w: allocate port: %v", ErrRuntimeStartFailed, err)
	}

	// 2. Write the permission policy document into the session data dir
	if spec.Policy != nil {
		policyPath := filepath.Join(spec.DataDir, PolicyFileName)
		if err := spec.Policy.Write(policyPath); err != nil {
			return nil, fmt.Errorf("%w: write policy: %v", ErrRuntimeStartFailed, err)
		}
	}

	// 3. Build the command scoped to the session's directories
	cmd, err := executil.Command(spec.Command,
		"serve",
		"--hostname", "127.0.0.1",
		"--port", strconv.Itoa(port),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeStartFailed, err)
	}
	cmd.Dir = spec.WorkspaceDir
	cmd.Env = append(cmd.Env,
		"XDG_DATA_HOME="+spec.DataDir,
		"XDG_CONFIG_HOME="+spec.DataDir,
	)

	logFile, err := os.OpenFile(filepath.Join(spec.LogDir, "runtime.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: open log: %v", ErrRuntimeStartFailed, err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	// 4. Start and supervise
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("%w: %v", ErrRuntimeStartFailed, err)
	}

	p := &Process{
		cmd:     cmd,
		port:    port,
		client:  NewClient(port),
		logFile: logFile,
		done:    make(chan struct{}),
	}
	go p.waitLoop()

	// 5. Poll health until ready or startup deadline
	timeout := spec.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			p.Kill()
			return nil, fmt.Errorf("%w: %v", ErrRuntimeStartFailed, ctx.Err())
		case <-p.done:
			return nil, fmt.Errorf("%w: exited before ready: %v", ErrRuntimeStartFailed, p.exitErr)
		case <-time.After(healthPollInterval):
		}

		healthCtx, cancel := context.WithTimeout(ctx, healthPollInterval*4)
		err := p.client.Health(healthCtx)
		cancel()
		if err == nil {
			logging.Info("runtime ready", "pid", cmd.Process.Pid, "port", port)
			return p, nil
		}

		if time.Now().After(deadline) {
			p.Kill()
			return nil, fmt.Errorf("%w: health check timed out after %s", ErrRuntimeStartFailed, timeout)
		}
	}
}

// Client returns the HTTP client bound to this process.
func (p *Process) Client() *Client {
	return p.client
}

// Port returns the local port the runtime listens on.
func (p *Process) Port() int {
	return p.port
}

// PID returns the runtime process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the wait error after Done is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Kill terminates the process and waits for it to exit.
func (p *Process) Kill() error {
	p.killed.Store(true)
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	<-p.done
	return nil
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	p.exitErr = err
	p.logFile.Close()
	close(p.done)

	if err != nil && !p.killed.Load() {
		logging.Warn("runtime exited", "pid", p.cmd.Process.Pid, "error", err)
	}
}

// freePort asks the kernel for an unused local TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

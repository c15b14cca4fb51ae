// Package authflow drives the agent runtime's interactive provider login
// through pipes, pattern-matching its output against configured rules.
package authflow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/drewfead/hermes/internal/config"
	"github.com/drewfead/hermes/internal/executil"
	"github.com/drewfead/hermes/internal/logging"
)

// EventKind discriminates login flow events.
type EventKind string

const (
	EventURL       EventKind = "url"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
)

// Event is one observation from the login flow, relayed to the operator.
type Event struct {
	Kind   EventKind
	URL    string
	Reason string
}

// PerformLogin runs `<command> auth login [provider]`, feeding keystrokes
// on configured prompts and relaying detected URLs to the events channel.
// Returns nil once a success phrase is seen. The whole flow is bounded by
// the configured timeout. PerformLogin closes events before returning; the
// caller must not close it.
func PerformLogin(ctx context.Context, command, provider string, cfg config.AuthConfig, events chan<- Event) error {
	if events != nil {
		defer close(events)
	}

	m, err := newMatcher(cfg)
	if err != nil {
		return fmt.Errorf("auth rules: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"auth", "login"}
	if provider != "" {
		args = append(args, provider)
	}
	cmd, err := executil.CommandContext(ctx, command, args...)
	if err != nil {
		return err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("start login: %w", err)
	}
	// The child holds its own copy of the write end
	pw.Close()

	logging.Info("login flow started", "provider", provider, "pid", cmd.Process.Pid)

	result := make(chan error, 1)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		defer pr.Close()

		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			line := scanner.Text()
			evs, sends := m.scan(line)

			for _, ev := range evs {
				if events != nil {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
				switch ev.Kind {
				case EventSucceeded:
					result <- nil
					return
				case EventFailed:
					result <- fmt.Errorf("login failed: %s", ev.Reason)
					return
				}
			}
			for _, s := range sends {
				io.WriteString(stdin, s)
			}
		}
		result <- fmt.Errorf("login ended without confirmation")
	}()

	var outcome error
	select {
	case outcome = <-result:
	case <-ctx.Done():
		outcome = fmt.Errorf("login timed out after %s", timeout)
	}

	// The scanner is the only sender on events; it must exit before the
	// deferred close
	cancel()
	cmd.Process.Kill()
	cmd.Wait()
	<-scanDone
	return outcome
}

// Package bridge drives one human message through a session's agent
// runtime, translating the runtime's event stream into progress updates,
// approval prompts, and a final output.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drewfead/hermes/internal/approval"
	"github.com/drewfead/hermes/internal/config"
	"github.com/drewfead/hermes/internal/logging"
	"github.com/drewfead/hermes/internal/runtime"
	"github.com/drewfead/hermes/internal/session"
	"github.com/drewfead/hermes/internal/workspace"
)

// ProgressFunc receives the accumulated output so far. Called on every
// change; callers are expected to debounce.
type ProgressFunc func(output string, elapsed time.Duration)

// ApprovalRequest is a tool call awaiting a human decision.
type ApprovalRequest struct {
	ID    string
	Tool  string
	Input json.RawMessage
}

// ApprovalFunc blocks until the human decides. An error means no decision
// was obtained and no reply is sent to the runtime.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (approval.Decision, error)

// Bridge connects sessions to their agent runtime processes.
type Bridge struct {
	registry *session.Registry
	ws       *workspace.Manager
	cfg      config.RuntimeConfig
}

// New creates a Bridge.
func New(registry *session.Registry, ws *workspace.Manager, cfg config.RuntimeConfig) *Bridge {
	return &Bridge{registry: registry, ws: ws, cfg: cfg}
}

// EnsureRuntime returns the session's live runtime process, launching one
// when none is attached or the previous one died.
func (b *Bridge) EnsureRuntime(ctx context.Context, sess *session.Session) (*runtime.Process, error) {
	if proc := sess.Proc(); proc != nil {
		if proc.Alive() {
			return proc, nil
		}
		// Stale handle from a crash; relaunch below
		sess.SetProc(nil)
		sess.SetRuntimeSessionID("")
	}

	policy := runtime.NewPolicy(policyRules(b.cfg.Permissions)).WithDecisions(sess.Decisions())

	proc, err := runtime.Launch(ctx, runtime.LaunchSpec{
		Command:        b.cfg.Command,
		WorkspaceDir:   sess.Dirs.Workspace,
		DataDir:        sess.Dirs.Data,
		LogDir:         sess.Dirs.Logs,
		Policy:         policy,
		StartupTimeout: b.cfg.StartupTimeout,
	})
	if err != nil {
		return nil, err
	}

	sess.SetProc(proc)
	logging.Info("launched runtime", "session", sess.ID, "port", proc.Port())
	return proc, nil
}

// RunMessage submits one human message to the session's runtime and blocks
// until the turn completes. Completion requires observing the runtime go
// idle, not just the prompt acknowledgment. Returns the accumulated
// assistant output, falling back to textual content from the ack.
func (b *Bridge) RunMessage(ctx context.Context, sess *session.Session, text string, onProgress ProgressFunc, onApproval ApprovalFunc) (string, error) {
	proc, err := b.EnsureRuntime(ctx, sess)
	if err != nil {
		return "", err
	}
	client := proc.Client()

	rsid := sess.RuntimeSessionID()
	if rsid == "" {
		rsid, err = client.CreateSession(ctx)
		if err != nil {
			return "", fmt.Errorf("create runtime session: %w", err)
		}
		sess.SetRuntimeSessionID(rsid)
		if perr := b.registry.Persist(sess); perr != nil {
			logging.Warn("failed to persist runtime session id", "session", sess.ID, "error", perr)
		}
	}

	model := sess.Model()
	if model == "" {
		model = b.cfg.Model
	}

	out, err := b.runTurn(ctx, sess, client, proc.Done(), rsid, model, text, onProgress, onApproval)
	if err != nil {
		if errors.Is(err, runtime.ErrRuntimeCrashed) {
			sess.SetProc(nil)
			sess.SetRuntimeSessionID("")
		}
		return "", err
	}

	// Best-effort: a login performed inside this session benefits others
	if serr := b.ws.SyncCredentials(sess.ID); serr != nil {
		logging.Warn("credential sync failed", "session", sess.ID, "error", serr)
	}
	return out, nil
}

// runTurn joins prompt submission with event consumption; the first failure
// wins and cancels the other side.
func (b *Bridge) runTurn(ctx context.Context, sess *session.Session, client *runtime.Client, procDone <-chan struct{}, rsid, model, text string, onProgress ProgressFunc, onApproval ApprovalFunc) (string, error) {
	// Subscribe before submitting so no events are missed
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	stream, err := client.Events(streamCtx)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	acc := newAccumulator()
	start := time.Now()
	var ackText string

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ack, err := client.Prompt(gctx, rsid, model, text)
		if err != nil {
			return fmt.Errorf("submit prompt: %w", err)
		}
		ackText = ack.Text
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-procDone:
				return runtime.ErrRuntimeCrashed
			case ev, ok := <-stream.Events():
				if !ok {
					select {
					case <-procDone:
						return runtime.ErrRuntimeCrashed
					default:
					}
					return fmt.Errorf("event stream ended before session idle")
				}
				if ev.SessionID != rsid {
					continue
				}

				switch ev.Kind {
				case runtime.KindTextPart:
					if acc.apply(ev.Part) && onProgress != nil {
						onProgress(acc.String(), time.Since(start))
					}
				case runtime.KindPermissionAsked, runtime.KindPermissionUpdated:
					// Awaited inline: later events queue behind the decision
					if err := b.handlePermission(gctx, sess, client, rsid, ev.Permission, onApproval); err != nil {
						return err
					}
				case runtime.KindSessionIdle:
					return nil
				case runtime.KindSessionError:
					return &runtime.SessionError{SessionID: rsid, Message: ev.ErrMessage}
				case runtime.KindOther:
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return "", err
	}

	out := acc.String()
	if out == "" {
		out = ackText
	}
	return out, nil
}

func (b *Bridge) handlePermission(ctx context.Context, sess *session.Session, client *runtime.Client, rsid string, perm *runtime.Permission, onApproval ApprovalFunc) error {
	if perm == nil || perm.ID == "" {
		logging.Warn("permission event missing request id, skipping", "session", rsid)
		return nil
	}

	// A cached decision answers without asking the human again
	if action, ok := sess.Decision(perm.Tool); ok {
		reply := runtime.ReplyReject
		if action == runtime.ActionAllow {
			reply = runtime.ReplyAlways
		}
		logging.Debug("answered permission from cache", "tool", perm.Tool, "reply", reply)
		return client.ReplyPermission(ctx, rsid, perm.ID, reply)
	}

	if onApproval == nil {
		return client.ReplyPermission(ctx, rsid, perm.ID, runtime.ReplyReject)
	}

	decision, err := onApproval(ctx, ApprovalRequest{ID: perm.ID, Tool: perm.Tool, Input: perm.Input})
	if err != nil {
		// Discarded or cancelled: no reply goes back to the runtime
		return err
	}

	var reply runtime.PermissionReply
	switch decision {
	case approval.ApproveOnce:
		reply = runtime.ReplyOnce
	case approval.ApproveAlways:
		reply = runtime.ReplyAlways
		sess.RememberDecision(perm.Tool, runtime.ActionAllow)
		if perr := b.registry.Persist(sess); perr != nil {
			logging.Warn("failed to persist cached decision", "session", sess.ID, "error", perr)
		}
	case approval.Deny:
		reply = runtime.ReplyReject
	default:
		logging.Warn("unknown approval decision, denying", "decision", decision)
		reply = runtime.ReplyReject
	}
	return client.ReplyPermission(ctx, rsid, perm.ID, reply)
}

// ListModels queries the runtime binary's model catalog.
func (b *Bridge) ListModels(ctx context.Context) ([]runtime.Model, error) {
	return runtime.ListModels(ctx, b.cfg.Command)
}

func policyRules(rules []config.PermissionRule) []runtime.Rule {
	out := make([]runtime.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, runtime.Rule{Pattern: r.Pattern, Action: runtime.Action(r.Action)})
	}
	return out
}

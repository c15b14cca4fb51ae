package daemon

import (
	"context"

	"github.com/drewfead/hermes/internal/bridge"
	"github.com/drewfead/hermes/internal/logging"
	"github.com/drewfead/hermes/internal/session"
)

// executor runs one job body: it resolves the conversation's session and
// drives the message through the agent bridge.
type executor struct {
	registry *session.Registry
	bridge   *bridge.Bridge
}

func (e *executor) Run(ctx context.Context, key, text string, onProgress bridge.ProgressFunc, onApproval bridge.ApprovalFunc) (string, error) {
	sess, created, err := e.registry.GetOrCreate(key)
	if err != nil {
		return "", err
	}
	if created {
		logging.Info("session created", "key", key, "session", sess.ID)
	}

	// Busy sessions are exempt from idle sweeps while the job runs
	sess.SetBusy(true)
	defer sess.SetBusy(false)

	e.registry.Touch(key)
	defer e.registry.Touch(key)

	return e.bridge.RunMessage(ctx, sess, text, onProgress, onApproval)
}

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drewfead/hermes/internal/approval"
	"github.com/drewfead/hermes/internal/authflow"
	"github.com/drewfead/hermes/internal/control"
	"github.com/drewfead/hermes/internal/scheduler"
	"github.com/drewfead/hermes/internal/session"
)

func (d *Daemon) registerHandlers() {
	d.server.Handle("job.submit", d.handleSubmit)
	d.server.Handle("job.cancel", d.handleCancel)
	d.server.Handle("job.get", d.handleGetJob)
	d.server.Handle("job.list", d.handleListJobs)
	d.server.Handle("session.list", d.handleListSessions)
	d.server.Handle("session.end", d.handleEndSession)
	d.server.Handle("session.new", d.handleNewSession)
	d.server.Handle("session.model", d.handleSetModel)
	d.server.Handle("models.list", d.handleListModels)
	d.server.Handle("approval.decide", d.handleDecide)
	d.server.Handle("auth.login", d.handleLogin)
}

func (d *Daemon) handleSubmit(params json.RawMessage) (any, error) {
	var req control.SubmitRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if req.Text == "" {
		return nil, fmt.Errorf("text is required")
	}

	j, pos, err := d.scheduler.Submit(req.Key, req.UserID, req.Text)
	if err != nil {
		return nil, err
	}

	d.server.Broadcast(control.Event{
		Type:    control.EventJobQueued,
		Payload: jobToInfo(j),
	})

	return &control.SubmitResult{JobID: j.ID, Position: pos}, nil
}

func (d *Daemon) handleCancel(params json.RawMessage) (any, error) {
	var req control.KeyRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, fmt.Errorf("key is required")
	}

	n := d.scheduler.Cancel(req.Key)
	return &control.CancelResult{Affected: n}, nil
}

func (d *Daemon) handleGetJob(params json.RawMessage) (any, error) {
	var req control.JobRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}

	j, ok := d.scheduler.Get(req.ID)
	if !ok {
		return nil, fmt.Errorf("job not found: %s", req.ID)
	}
	return jobToInfo(j), nil
}

func (d *Daemon) handleListJobs(_ json.RawMessage) (any, error) {
	jobs := d.scheduler.List()

	result := make([]*control.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		result = append(result, jobToInfo(j))
	}
	return result, nil
}

func (d *Daemon) handleListSessions(_ json.RawMessage) (any, error) {
	sessions := d.registry.List()

	result := make([]*control.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionToInfo(sess))
	}
	return result, nil
}

func (d *Daemon) handleEndSession(params json.RawMessage) (any, error) {
	var req control.KeyRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, fmt.Errorf("key is required")
	}

	if err := d.quiesce(req.Key); err != nil {
		return nil, err
	}
	if err := d.registry.End(req.Key); err != nil {
		return nil, err
	}

	d.server.Broadcast(control.Event{
		Type:    control.EventSessionEnded,
		Payload: map[string]string{"key": req.Key},
	})

	return map[string]bool{"success": true}, nil
}

func (d *Daemon) handleNewSession(params json.RawMessage) (any, error) {
	var req control.KeyRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, fmt.Errorf("key is required")
	}

	if err := d.quiesce(req.Key); err != nil {
		return nil, err
	}
	sess, err := d.registry.Recreate(req.Key)
	if err != nil {
		return nil, err
	}
	return sessionToInfo(sess), nil
}

// quiesceTimeout bounds how long an explicit teardown waits for the key's
// running job to exit after cancellation.
const quiesceTimeout = 30 * time.Second

// quiesce cancels the key's jobs and waits for the owning job to release the
// session, so teardown never kills a runtime a job is still using and no
// queued job recreates the session afterwards.
func (d *Daemon) quiesce(key string) error {
	d.scheduler.Cancel(key)

	sess, ok := d.registry.Get(key)
	if !ok || !sess.Busy() {
		return nil
	}

	deadline := time.NewTimer(quiesceTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline.C:
			return fmt.Errorf("job for %s did not stop in time", key)
		case <-tick.C:
			if !sess.Busy() {
				return nil
			}
		}
	}
}

func (d *Daemon) handleSetModel(params json.RawMessage) (any, error) {
	var req control.SetModelRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	if req.Key == "" || req.Model == "" {
		return nil, fmt.Errorf("key and model are required")
	}

	// Validate against the runtime's model list when it is reachable;
	// otherwise take the operator's word
	if models, err := d.bridge.ListModels(context.Background()); err == nil && len(models) > 0 {
		known := false
		for _, m := range models {
			if m.ID == req.Model {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown model: %s", req.Model)
		}
	}

	if err := d.registry.SetModel(req.Key, req.Model); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

func (d *Daemon) handleListModels(_ json.RawMessage) (any, error) {
	models, err := d.bridge.ListModels(context.Background())
	if err != nil {
		return nil, err
	}

	result := make([]*control.ModelInfo, 0, len(models))
	for _, m := range models {
		result = append(result, &control.ModelInfo{ID: m.ID, Name: m.Name})
	}
	return result, nil
}

func (d *Daemon) handleDecide(params json.RawMessage) (any, error) {
	var req control.DecideRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}

	decision := approval.Decision(req.Decision)
	if !decision.Valid() {
		return nil, fmt.Errorf("invalid decision: %s", req.Decision)
	}

	sess, ok := d.registry.Get(req.Key)
	if !ok {
		return nil, fmt.Errorf("no session for conversation %s", req.Key)
	}
	if !sess.Approvals.Resolve(req.RequestID, decision) {
		return nil, fmt.Errorf("no pending approval: %s", req.RequestID)
	}

	return map[string]bool{"success": true}, nil
}

func (d *Daemon) handleLogin(params json.RawMessage) (any, error) {
	var req control.LoginRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
	}

	events := make(chan authflow.Event, 8)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range events {
			d.server.Broadcast(control.Event{
				Type: control.EventAuthURL,
				Payload: &control.AuthPayload{
					Kind:   string(ev.Kind),
					URL:    ev.URL,
					Reason: ev.Reason,
				},
			})
		}
	}()

	// PerformLogin closes events when the flow ends
	err := authflow.PerformLogin(context.Background(), d.config.Runtime.Command, req.Provider, d.config.Auth, events)
	<-forwarded

	if err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

func jobToInfo(j scheduler.Job) *control.JobInfo {
	info := &control.JobInfo{
		ID:        j.ID,
		Key:       j.Key,
		UserID:    j.UserID,
		Text:      j.Text,
		Status:    string(j.Status),
		Output:    j.Output,
		Error:     j.Err,
		CreatedAt: j.Created.Format(time.RFC3339),
	}
	if !j.Started.IsZero() {
		info.StartedAt = j.Started.Format(time.RFC3339)
	}
	if !j.Ended.IsZero() {
		info.EndedAt = j.Ended.Format(time.RFC3339)
	}
	return info
}

func sessionToInfo(sess *session.Session) *control.SessionInfo {
	info := &control.SessionInfo{
		Key:              sess.Key,
		ID:               sess.ID,
		Model:            sess.Model(),
		RuntimeSessionID: sess.RuntimeSessionID(),
		Busy:             sess.Busy(),
		WorkspaceDir:     sess.Dirs.Workspace,
		LastActive:       sess.LastActive().Format(time.RFC3339),
		CreatedAt:        sess.CreatedAt.Format(time.RFC3339),
	}
	if p := sess.Proc(); p != nil && p.Alive() {
		info.RuntimePID = p.PID()
	}
	return info
}

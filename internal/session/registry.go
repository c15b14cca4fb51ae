package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drewfead/hermes/internal/approval"
	"github.com/drewfead/hermes/internal/logging"
	"github.com/drewfead/hermes/internal/runtime"
	"github.com/drewfead/hermes/internal/store"
	"github.com/drewfead/hermes/internal/workspace"
)

// Registry owns the mapping from conversation keys to active sessions.
// Every mutation persists the session record before returning, so a daemon
// restart reconstructs the active set (with no live processes attached).
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    *store.Store
	ws       *workspace.Manager
}

// NewRegistry creates a registry backed by the given store and workspace
// manager.
func NewRegistry(st *store.Store, ws *workspace.Manager) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		store:    st,
		ws:       ws,
	}
}

// LoadPersisted reconstructs active sessions from the store. Called once at
// daemon start, before any traffic.
func (r *Registry) LoadPersisted() error {
	records, err := r.store.ListSessions(store.SessionStatusActive)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		sess := &Session{
			ID:               rec.ID,
			Key:              rec.ConversationKey,
			Dirs:             r.ws.DirsFor(rec.ID),
			Approvals:        approval.NewCoordinator(),
			CreatedAt:        rec.CreatedAt,
			model:            rec.Model,
			runtimeSessionID: rec.RuntimeSessionID,
			lastActive:       rec.LastActive,
			decisions:        decisionsFromRecord(rec.Decisions),
		}
		r.sessions[rec.ConversationKey] = sess
	}

	if len(records) > 0 {
		logging.Info("restored sessions", "count", len(records))
	}
	return nil
}

// GetOrCreate returns the active session for a key, creating one when none
// exists. The second return value reports whether a new session was created.
func (r *Registry) GetOrCreate(key string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[key]; ok {
		return sess, false, nil
	}

	sess, err := r.createLocked(key)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (r *Registry) createLocked(key string) (*Session, error) {
	id := uuid.NewString()
	dirs, err := r.ws.Allocate(id)
	if err != nil {
		return nil, fmt.Errorf("allocate workspace: %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:         id,
		Key:        key,
		Dirs:       dirs,
		Approvals:  approval.NewCoordinator(),
		CreatedAt:  now,
		lastActive: now,
	}

	if err := r.store.SaveSession(sess.record(store.SessionStatusActive)); err != nil {
		r.ws.Remove(id)
		return nil, fmt.Errorf("persist session: %w", err)
	}

	r.sessions[key] = sess
	logging.Info("created session", "key", key, "session", id)
	return sess, nil
}

// Get returns the active session for a key, if any.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[key]
	return sess, ok
}

// List returns all active sessions ordered by key.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SetModel records a model override for future jobs on this session.
func (r *Registry) SetModel(key, model string) error {
	sess, ok := r.Get(key)
	if !ok {
		return fmt.Errorf("no active session for %s", key)
	}
	sess.setModel(model)
	return r.Persist(sess)
}

// Touch updates the session's last-active time.
func (r *Registry) Touch(key string) error {
	sess, ok := r.Get(key)
	if !ok {
		return fmt.Errorf("no active session for %s", key)
	}
	sess.touch(time.Now())
	return r.Persist(sess)
}

// Persist writes the session's current state to the store.
func (r *Registry) Persist(sess *Session) error {
	return r.store.SaveSession(sess.record(store.SessionStatusActive))
}

// End tears down the session for a key: kill the runtime, discard pending
// approvals, delete the workspace subtree, and mark the record ended.
// Ending a key with no active session is a no-op.
func (r *Registry) End(key string) error {
	r.mu.Lock()
	sess, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return r.teardown(sess)
}

func (r *Registry) teardown(sess *Session) error {
	if proc := sess.Proc(); proc != nil {
		proc.Kill()
		sess.SetProc(nil)
	}
	sess.Approvals.DiscardAll()

	if err := r.ws.Remove(sess.ID); err != nil {
		logging.Warn("failed to remove session workspace", "session", sess.ID, "error", err)
	}
	if err := r.store.SaveSession(sess.record(store.SessionStatusEnded)); err != nil {
		return fmt.Errorf("persist ended session: %w", err)
	}

	logging.Info("ended session", "key", sess.Key, "session", sess.ID)
	return nil
}

// Recreate ends any existing session for the key and creates a fresh one.
// Teardown and creation happen in one critical section: a concurrent
// GetOrCreate observes either the prior session or the replacement, never a
// second live session for the key.
func (r *Registry) Recreate(key string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.sessions[key]; ok {
		delete(r.sessions, key)
		if err := r.teardown(prior); err != nil {
			return nil, err
		}
	}
	return r.createLocked(key)
}

// SweepIdle ends sessions whose last activity is older than maxIdle.
// Sessions currently owned by a job are skipped. Returns the number of
// sessions ended.
func (r *Registry) SweepIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var victims []*Session
	for key, sess := range r.sessions {
		if sess.Busy() {
			continue
		}
		if sess.LastActive().Before(cutoff) {
			victims = append(victims, sess)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, sess := range victims {
		if err := r.teardown(sess); err != nil {
			logging.Error("idle sweep teardown failed", "session", sess.ID, "error", err)
		}
	}
	return len(victims)
}

// Shutdown kills live runtime processes without ending sessions, so they
// resume after a daemon restart.
func (r *Registry) Shutdown() {
	for _, sess := range r.List() {
		if proc := sess.Proc(); proc != nil {
			proc.Kill()
			sess.SetProc(nil)
		}
		sess.Approvals.DiscardAll()
	}
}

func decisionsFromRecord(in map[string]string) map[string]runtime.Action {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]runtime.Action, len(in))
	for k, v := range in {
		out[k] = runtime.Action(v)
	}
	return out
}

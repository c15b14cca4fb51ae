// Package session tracks conversation-scoped agent sessions and their
// lifecycle.
package session

import (
	"sync"
	"time"

	"github.com/drewfead/hermes/internal/approval"
	"github.com/drewfead/hermes/internal/runtime"
	"github.com/drewfead/hermes/internal/store"
	"github.com/drewfead/hermes/internal/workspace"
)

// Session is one conversation's agent context: isolated directories, an
// optional live runtime process, and cached permission decisions.
type Session struct {
	ID        string
	Key       string
	Dirs      workspace.Dirs
	Approvals *approval.Coordinator
	CreatedAt time.Time

	mu               sync.Mutex
	model            string
	runtimeSessionID string
	lastActive       time.Time
	decisions        map[string]runtime.Action
	proc             *runtime.Process
	busy             bool
}

// Model returns the configured model override, empty for the default.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Session) setModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// RuntimeSessionID returns the runtime-side session id, empty before the
// first prompt.
func (s *Session) RuntimeSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimeSessionID
}

// SetRuntimeSessionID records the runtime-side session id.
func (s *Session) SetRuntimeSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtimeSessionID = id
}

// LastActive returns the last recorded human activity time.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = t
}

// Proc returns the live runtime process, nil when none is attached.
func (s *Session) Proc() *runtime.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// SetProc attaches or clears the runtime process handle.
func (s *Session) SetProc(p *runtime.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = p
}

// Busy reports whether a job currently owns this session.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// SetBusy marks the session as owned (or released) by a running job.
func (s *Session) SetBusy(b bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = b
}

// Decision returns the cached decision for a tool, if any.
func (s *Session) Decision(tool string) (runtime.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.decisions[tool]
	return a, ok
}

// Decisions returns a copy of the cached per-tool decisions.
func (s *Session) Decisions() map[string]runtime.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]runtime.Action, len(s.decisions))
	for k, v := range s.decisions {
		out[k] = v
	}
	return out
}

// RememberDecision caches a per-tool decision for future tool calls.
func (s *Session) RememberDecision(tool string, action runtime.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decisions == nil {
		s.decisions = make(map[string]runtime.Action)
	}
	s.decisions[tool] = action
}

// record snapshots the session into its persistent form.
func (s *Session) record(status store.SessionStatus) *store.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	decisions := make(map[string]string, len(s.decisions))
	for k, v := range s.decisions {
		decisions[k] = string(v)
	}
	return &store.Session{
		ConversationKey:  s.Key,
		ID:               s.ID,
		Status:           status,
		Model:            s.model,
		RuntimeSessionID: s.runtimeSessionID,
		WorkspaceDir:     s.Dirs.Workspace,
		DataDir:          s.Dirs.Data,
		LogDir:           s.Dirs.Logs,
		Decisions:        decisions,
		LastActive:       s.lastActive,
		CreatedAt:        s.CreatedAt,
	}
}

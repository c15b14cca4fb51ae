// Package approval coordinates human decisions on runtime permission
// requests. A job suspends on a pending decision until the operator answers
// or the request is discarded.
package approval

import (
	"context"
	"errors"
	"sync"
)

// Decision is the operator's answer to a permission request.
type Decision string

const (
	ApproveOnce   Decision = "approve_once"
	ApproveAlways Decision = "approve_always"
	Deny          Decision = "deny"
)

// Valid reports whether d is a recognized decision value.
func (d Decision) Valid() bool {
	switch d {
	case ApproveOnce, ApproveAlways, Deny:
		return true
	}
	return false
}

// ErrDiscarded means the pending request was torn down before a decision
// arrived. No reply should be sent to the runtime in that case.
var ErrDiscarded = errors.New("approval request discarded")

// Coordinator tracks pending permission requests for one session.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]chan Decision
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{pending: make(map[string]chan Decision)}
}

// Create registers a pending request ahead of announcing it to operators,
// so a decision arriving immediately after the announcement finds the entry
// even if the waiter has not blocked yet.
func (c *Coordinator) Create(requestID string) {
	c.create(requestID)
}

// create registers requestID if new and returns its decision channel.
// A repeated id (the runtime re-announcing the same request) reuses the
// existing entry.
func (c *Coordinator) create(requestID string) chan Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.pending[requestID]; ok {
		return ch
	}
	ch := make(chan Decision, 1)
	c.pending[requestID] = ch
	return ch
}

// Resolve delivers a decision for a pending request. The entry stays
// registered until its waiter consumes the decision. Returns false when no
// such request is pending or it already has a decision; callers surface
// that as an error to the operator.
func (c *Coordinator) Resolve(requestID string, d Decision) bool {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	c.mu.Unlock()

	if !ok {
		return false
	}
	select {
	case ch <- d:
		return true
	default:
		return false
	}
}

// Discard removes a pending request without a decision. Its waiter, if any,
// receives ErrDiscarded.
func (c *Coordinator) Discard(requestID string) {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if ok {
		close(ch)
	}
}

// DiscardAll tears down every pending request. Used when the owning job or
// session ends while approvals are outstanding.
func (c *Coordinator) DiscardAll() {
	c.mu.Lock()
	chans := make([]chan Decision, 0, len(c.pending))
	for _, ch := range c.pending {
		chans = append(chans, ch)
	}
	c.pending = make(map[string]chan Decision)
	c.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
}

// Pending returns the ids of requests still awaiting a decision.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until requestID is resolved, discarded, or the context ends.
// A decision delivered before Wait starts (the operator answering the
// announcement first) is picked up from the entry's buffer.
func (c *Coordinator) Wait(ctx context.Context, requestID string) (Decision, error) {
	ch := c.create(requestID)

	select {
	case d, ok := <-ch:
		if !ok {
			return "", ErrDiscarded
		}
		c.remove(requestID)
		return d, nil
	case <-ctx.Done():
		c.Discard(requestID)
		return "", ctx.Err()
	}
}

func (c *Coordinator) remove(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

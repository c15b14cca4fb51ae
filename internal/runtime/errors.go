package runtime

import "errors"

var (
	// ErrRuntimeStartFailed indicates the runtime process exited or failed
	// its health check before becoming ready.
	ErrRuntimeStartFailed = errors.New("agent runtime failed to start")

	// ErrRuntimeCrashed indicates the runtime process exited while a job
	// was using it.
	ErrRuntimeCrashed = errors.New("agent runtime exited unexpectedly")

	// ErrModelListUnavailable indicates the out-of-band model listing
	// invocation failed.
	ErrModelListUnavailable = errors.New("model list unavailable")
)

// SessionError is a fatal error the runtime reported for a single session.
// It fails the current job but leaves the runtime process usable.
type SessionError struct {
	SessionID string
	Message   string
}

func (e *SessionError) Error() string {
	return "session error: " + e.Message
}

package control

import "encoding/json"

// Event types pushed to connected clients.
const (
	EventJobQueued        = "job_queued"
	EventJobProgress      = "job_progress"
	EventJobResult        = "job_result"
	EventApprovalRequired = "approval_required"
	EventSessionEnded     = "session_ended"
	EventAuthURL          = "auth_url"
)

// SubmitRequest asks the daemon to run a message in a conversation's session.
type SubmitRequest struct {
	Key    string `json:"key"`
	UserID string `json:"user_id,omitempty"`
	Text   string `json:"text"`
}

// SubmitResult reports the accepted job and its queue position
// (0 when it starts immediately).
type SubmitResult struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

// KeyRequest addresses a conversation by its key.
type KeyRequest struct {
	Key string `json:"key"`
}

// CancelResult reports how many jobs a cancel affected.
type CancelResult struct {
	Affected int `json:"affected"`
}

// JobRequest addresses a job by its short ID.
type JobRequest struct {
	ID string `json:"id"`
}

// SetModelRequest switches a conversation's model.
type SetModelRequest struct {
	Key   string `json:"key"`
	Model string `json:"model"`
}

// DecideRequest answers a pending tool approval.
type DecideRequest struct {
	Key       string `json:"key"`
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"` // approve_once | approve_always | deny
}

// LoginRequest starts a provider login flow on the daemon host.
type LoginRequest struct {
	Provider string `json:"provider,omitempty"`
}

// JobInfo represents job data for API responses.
type JobInfo struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	UserID    string `json:"user_id,omitempty"`
	Text      string `json:"text"`
	Status    string `json:"status"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	StartedAt string `json:"started_at,omitempty"`
	EndedAt   string `json:"ended_at,omitempty"`
}

// SessionInfo represents session data for API responses.
type SessionInfo struct {
	Key              string `json:"key"`
	ID               string `json:"id"`
	Model            string `json:"model,omitempty"`
	RuntimeSessionID string `json:"runtime_session_id,omitempty"`
	RuntimePID       int    `json:"runtime_pid,omitempty"`
	Busy             bool   `json:"busy"`
	WorkspaceDir     string `json:"workspace_dir"`
	LastActive       string `json:"last_active"`
	CreatedAt        string `json:"created_at"`
}

// ModelInfo represents one model the runtime can serve.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ProgressPayload is pushed while a job is running.
type ProgressPayload struct {
	JobID          string `json:"job_id"`
	Key            string `json:"key"`
	Output         string `json:"output"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

// ApprovalPayload is pushed when a tool call needs an operator decision.
type ApprovalPayload struct {
	JobID     string          `json:"job_id"`
	Key       string          `json:"key"`
	RequestID string          `json:"request_id"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// AuthPayload is pushed during a login flow.
type AuthPayload struct {
	Kind   string `json:"kind"` // url | succeeded | failed
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason,omitempty"`
}

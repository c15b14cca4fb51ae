package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/drewfead/hermes/internal/logging"
)

// Client speaks the agent runtime's local HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for a runtime listening on a local port.
func NewClient(port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		// No overall timeout: prompts and event streams are long-lived and
		// bounded by their contexts instead.
		http: &http.Client{},
	}
}

// Health checks the runtime's readiness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// CreateSession creates a new runtime session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	resp, err := c.postJSON(ctx, "/session", map[string]any{})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("create session: empty id in response")
	}
	return result.ID, nil
}

// Ack is the synchronous response to a prompt submission. Text holds any
// textual content carried on the ack itself; the authoritative output
// arrives on the event stream.
type Ack struct {
	MessageID string
	Text      string
}

// Prompt submits a user message to a runtime session. Blocks until the
// runtime acknowledges, which may be after the turn completes.
func (c *Client) Prompt(ctx context.Context, sessionID, model, text string) (*Ack, error) {
	body := map[string]any{
		"parts": []map[string]string{{"type": "text", "text": text}},
	}
	if model != "" {
		body["model"] = model
	}

	resp, err := c.postJSON(ctx, "/session/"+sessionID+"/message", body)
	if err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}

	var result struct {
		Info struct {
			ID string `json:"id"`
		} `json:"info"`
		Parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"parts"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}

	ack := &Ack{MessageID: result.Info.ID}
	var texts []string
	for _, p := range result.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	ack.Text = strings.Join(texts, "\n\n")
	return ack, nil
}

// PermissionReply is the answer sent back for a permission request.
type PermissionReply string

const (
	ReplyOnce   PermissionReply = "once"
	ReplyAlways PermissionReply = "always"
	ReplyReject PermissionReply = "reject"
)

// ReplyPermission answers a pending permission request.
func (c *Client) ReplyPermission(ctx context.Context, sessionID, permissionID string, reply PermissionReply) error {
	path := "/session/" + sessionID + "/permissions/" + permissionID
	_, err := c.postJSON(ctx, path, map[string]string{"response": string(reply)})
	if err != nil {
		return fmt.Errorf("reply permission: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

// EventStream is a live SSE subscription to the runtime's event feed.
type EventStream struct {
	events    chan *Event
	body      io.ReadCloser
	stop      chan struct{}
	closeOnce sync.Once
}

// Events subscribes to the runtime event stream. The returned stream's
// channel closes when the stream ends for any reason, including context
// cancellation and runtime exit.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream returned %d", resp.StatusCode)
	}

	s := &EventStream{
		events: make(chan *Event, 64),
		body:   resp.Body,
		stop:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events returns the decoded event channel. Closed when the stream ends.
func (s *EventStream) Events() <-chan *Event {
	return s.events
}

// Close tears down the subscription. Safe to call more than once.
func (s *EventStream) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.body.Close()
	})
}

func (s *EventStream) readLoop() {
	defer close(s.events)

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		data, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok {
			// Comments, blank separators, event/id fields
			continue
		}

		ev, err := ParseEvent(data)
		if err != nil {
			// Protocol anomalies are logged and skipped, never fatal
			logging.Warn("skipping malformed runtime event", "error", err)
			continue
		}

		// Consumers may pause on the channel while an approval is pending;
		// later events queue behind it rather than being dropped.
		select {
		case s.events <- ev:
		case <-s.stop:
			return
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

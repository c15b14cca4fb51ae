package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Client connects to the hermes daemon.
type Client struct {
	conn      net.Conn
	scanner   *bufio.Scanner
	mu        sync.Mutex
	pending   map[string]chan *Response
	events    chan Event
	done      chan struct{}
	connected atomic.Bool
}

// NewClient creates a new daemon client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	c := &Client{
		conn:    conn,
		scanner: bufio.NewScanner(conn),
		pending: make(map[string]chan *Response),
		events:  make(chan Event, 100),
		done:    make(chan struct{}),
	}
	c.connected.Store(true)

	go c.readLoop()
	return c, nil
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	c.connected.Store(false)
	close(c.done)
	return c.conn.Close()
}

// Events returns a channel of events from the daemon.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Call makes an RPC call to the daemon.
func (c *Client) Call(method string, params any) (*Response, error) {
	if !c.connected.Load() {
		return nil, fmt.Errorf("not connected to daemon")
	}

	id := uuid.NewString()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req := Request{
		Method: method,
		Params: paramsJSON,
		ID:     id,
	}

	respChan := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = respChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	encoded, _ := json.Marshal(req)
	c.mu.Lock()
	_, err = c.conn.Write(append(encoded, '\n'))
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	}
}

// call issues a request and decodes the response data into out (may be nil).
func (c *Client) call(method string, params, out any) error {
	resp, err := c.Call(method, params)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	if out == nil {
		return nil
	}
	data, _ := json.Marshal(resp.Data)
	return json.Unmarshal(data, out)
}

// Submit queues a message for a conversation.
func (c *Client) Submit(req SubmitRequest) (*SubmitResult, error) {
	var result SubmitResult
	if err := c.call("job.submit", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel cancels the queued and running jobs for a conversation.
func (c *Client) Cancel(key string) (int, error) {
	var result CancelResult
	if err := c.call("job.cancel", KeyRequest{Key: key}, &result); err != nil {
		return 0, err
	}
	return result.Affected, nil
}

// GetJob retrieves one job by ID.
func (c *Client) GetJob(id string) (*JobInfo, error) {
	var job JobInfo
	if err := c.call("job.get", JobRequest{ID: id}, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs retrieves all tracked jobs, newest first.
func (c *Client) ListJobs() ([]*JobInfo, error) {
	var jobs []*JobInfo
	if err := c.call("job.list", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListSessions retrieves all live sessions.
func (c *Client) ListSessions() ([]*SessionInfo, error) {
	var sessions []*SessionInfo
	if err := c.call("session.list", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// EndSession tears down a conversation's session and workspace.
func (c *Client) EndSession(key string) error {
	return c.call("session.end", KeyRequest{Key: key}, nil)
}

// NewSession replaces a conversation's session with a fresh one.
func (c *Client) NewSession(key string) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.call("session.new", KeyRequest{Key: key}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SetModel switches the model used for a conversation's next messages.
func (c *Client) SetModel(key, model string) error {
	return c.call("session.model", SetModelRequest{Key: key, Model: model}, nil)
}

// ListModels asks the runtime which models it can serve.
func (c *Client) ListModels() ([]*ModelInfo, error) {
	var models []*ModelInfo
	if err := c.call("models.list", nil, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// Decide answers a pending tool approval.
func (c *Client) Decide(req DecideRequest) error {
	return c.call("approval.decide", req, nil)
}

// Login runs a provider login flow on the daemon host. Progress (including
// the verification URL) arrives on the Events channel; the call returns
// when the flow ends.
func (c *Client) Login(provider string) error {
	return c.call("auth.login", LoginRequest{Provider: provider}, nil)
}

func (c *Client) readLoop() {
	for c.scanner.Scan() {
		select {
		case <-c.done:
			return
		default:
		}

		var resp Response
		if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
			// Try parsing as event
			var event Event
			if json.Unmarshal(c.scanner.Bytes(), &event) == nil && event.Type != "" {
				select {
				case c.events <- event:
				default: // Drop if channel full
				}
			}
			continue
		}

		// A line that decodes as Response but carries no ID is an event
		if resp.ID == "" {
			var event Event
			if json.Unmarshal(c.scanner.Bytes(), &event) == nil && event.Type != "" {
				select {
				case c.events <- event:
				default:
				}
			}
			continue
		}

		c.mu.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			ch <- &resp
		}
		c.mu.Unlock()
	}

	c.connected.Store(false)
}

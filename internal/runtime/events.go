package runtime

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the events Hermes cares about. Everything else the
// runtime emits maps to KindOther and is ignored by callers.
type Kind string

const (
	KindTextPart          Kind = "text_part"
	KindPermissionAsked   Kind = "permission_asked"
	KindPermissionUpdated Kind = "permission_updated"
	KindSessionIdle       Kind = "session_idle"
	KindSessionError      Kind = "session_error"
	KindOther             Kind = "other"
)

// TextPart is one text segment of an in-progress assistant message. Delta
// carries the increment when the runtime streams; Text is the full
// accumulated payload otherwise.
type TextPart struct {
	ID        string
	SessionID string
	MessageID string
	Text      string
	Delta     string
}

// Permission is a tool-call approval request surfaced by the runtime.
type Permission struct {
	ID        string
	SessionID string
	Tool      string
	Input     json.RawMessage
}

// Event is one decoded runtime stream event.
type Event struct {
	Kind       Kind
	SessionID  string
	Part       *TextPart
	Permission *Permission
	ErrMessage string
	Raw        json.RawMessage
}

// Wire envelope: {"type": "...", "properties": {...}}
type wireEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

type wirePartUpdated struct {
	Part struct {
		ID        string `json:"id"`
		SessionID string `json:"sessionID"`
		MessageID string `json:"messageID"`
		Type      string `json:"type"`
		Text      string `json:"text"`
	} `json:"part"`
	Delta string `json:"delta"`
}

type wirePermission struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionID"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input"`
}

type wireSession struct {
	SessionID string `json:"sessionID"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseEvent decodes one stream payload into an Event. Unknown event types
// and non-text parts decode to KindOther rather than an error.
func ParseEvent(data []byte) (*Event, error) {
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	ev := &Event{Raw: append(json.RawMessage(nil), data...)}

	switch we.Type {
	case "message.part.updated":
		var p wirePartUpdated
		if err := json.Unmarshal(we.Properties, &p); err != nil {
			return nil, fmt.Errorf("malformed part event: %w", err)
		}
		if p.Part.Type != "text" {
			ev.Kind = KindOther
			return ev, nil
		}
		ev.Kind = KindTextPart
		ev.SessionID = p.Part.SessionID
		ev.Part = &TextPart{
			ID:        p.Part.ID,
			SessionID: p.Part.SessionID,
			MessageID: p.Part.MessageID,
			Text:      p.Part.Text,
			Delta:     p.Delta,
		}

	case "permission.asked", "permission.updated":
		var p wirePermission
		if err := json.Unmarshal(we.Properties, &p); err != nil {
			return nil, fmt.Errorf("malformed permission event: %w", err)
		}
		ev.Kind = KindPermissionAsked
		if we.Type == "permission.updated" {
			ev.Kind = KindPermissionUpdated
		}
		ev.SessionID = p.SessionID
		ev.Permission = &Permission{
			ID:        p.ID,
			SessionID: p.SessionID,
			Tool:      p.Tool,
			Input:     p.Input,
		}

	case "session.idle":
		var p wireSession
		if err := json.Unmarshal(we.Properties, &p); err != nil {
			return nil, fmt.Errorf("malformed idle event: %w", err)
		}
		ev.Kind = KindSessionIdle
		ev.SessionID = p.SessionID

	case "session.error":
		var p wireSession
		if err := json.Unmarshal(we.Properties, &p); err != nil {
			return nil, fmt.Errorf("malformed error event: %w", err)
		}
		ev.Kind = KindSessionError
		ev.SessionID = p.SessionID
		ev.ErrMessage = p.Error.Message

	default:
		ev.Kind = KindOther
	}

	return ev, nil
}

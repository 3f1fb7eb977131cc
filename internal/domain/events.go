package domain

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the tagged events carried on the agent stream.
type EventType string

const (
	EventInit      EventType = "init"
	EventStatus    EventType = "status"
	EventAssistant EventType = "assistant"
	EventToolUse   EventType = "tool_use"
	EventUser      EventType = "user"
	EventSystem    EventType = "system"
	EventComplete  EventType = "complete"
	EventPDFReady  EventType = "pdf_ready"
	EventError     EventType = "error"
)

// FriendlyList decodes the backend's "friendly" payload, which is a single
// string on tool-result events and a list on tool-use events.
type FriendlyList []string

func (f *FriendlyList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*f = nil
		} else {
			*f = FriendlyList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("friendly: expected string or string list: %w", err)
	}
	*f = FriendlyList(many)
	return nil
}

// ToolCall mirrors one tool invocation reported inside a tool_use event.
type ToolCall struct {
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input,omitempty"`
	Friendly string          `json:"friendly,omitempty"`
}

// StreamEvent is the closed, typed form of one agent stream record. Untyped
// payload fields stop at this boundary; everything downstream switches on
// Type and reads only the fields that event carries.
type StreamEvent struct {
	Type EventType `json:"type"`

	// init, status and system events.
	Message string `json:"message,omitempty"`

	// assistant events: reasoning text.
	Text string `json:"text,omitempty"`

	// tool_use and user events.
	Friendly  FriendlyList `json:"friendly,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
	Content   string       `json:"content,omitempty"`

	// complete events.
	Success       bool              `json:"success,omitempty"`
	Result        string            `json:"result,omitempty"`
	MessageCount  int               `json:"message_count,omitempty"`
	AppliedCount  int               `json:"applied_count,omitempty"`
	AppliedEdits  map[string]string `json:"applied_edits,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	UserSessionID string            `json:"user_session_id,omitempty"`

	// pdf_ready events: hex-encoded document bytes.
	PDFBytes string `json:"pdf_bytes,omitempty"`

	// error events.
	Error string `json:"error,omitempty"`
}

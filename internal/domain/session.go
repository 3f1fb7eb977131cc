// Package domain holds the core types for a form-filling session: the
// durable session entity, its conversation messages, and the activity log
// entries produced while an agent turn streams.
package domain

import "time"

// MessageRole identifies who produced a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageStatus tracks the lifecycle of a single message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusError     MessageStatus = "error"
)

// LogEntryKind categorizes one activity log entry for display.
type LogEntryKind string

const (
	LogThinking   LogEntryKind = "thinking"
	LogToolCall   LogEntryKind = "tool_call"
	LogToolResult LogEntryKind = "tool_result"
	LogStatus     LogEntryKind = "status"
	LogComplete   LogEntryKind = "complete"
	LogError      LogEntryKind = "error"
)

// TurnState is the per-session state of the conversation state machine.
// Only one turn may be past Idle at a time.
type TurnState string

const (
	TurnIdle           TurnState = "idle"
	TurnAwaitingStream TurnState = "awaiting_stream"
	TurnStreaming      TurnState = "streaming"
	TurnFinalizing     TurnState = "finalizing"
)

// PreviewMode selects which PDF artifact a presentation layer should render.
type PreviewMode string

const (
	PreviewOriginal PreviewMode = "original"
	PreviewFilled   PreviewMode = "filled"
)

// FormField is one fillable field detected by the analysis service.
// Fields are set once by analysis and never mutated by chat turns.
type FormField struct {
	FieldID      string   `json:"field_id"`
	FieldType    string   `json:"field_type"`
	Page         int      `json:"page"`
	LabelContext string   `json:"label_context"`
	CurrentValue string   `json:"current_value,omitempty"`
	Options      []string `json:"options,omitempty"`
}

// ActivityLogEntry is one decoded stream event rendered for the user.
type ActivityLogEntry struct {
	ID        string       `json:"id"`
	Kind      LogEntryKind `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
	Content   string       `json:"content"`
	Detail    string       `json:"detail,omitempty"`
	ToolName  string       `json:"tool_name,omitempty"`
}

// Message is one turn in the conversation. ActivityLog is populated for
// assistant messages only. Content stays empty while streaming and is set
// exactly once at finalization.
type Message struct {
	ID          string             `json:"id"`
	Role        MessageRole        `json:"role"`
	Content     string             `json:"content"`
	Status      MessageStatus      `json:"status"`
	Timestamp   time.Time          `json:"timestamp"`
	ActivityLog []ActivityLogEntry `json:"activity_log,omitempty"`
}

// ContextDocument is an auxiliary document parsed by the backend to give the
// agent extra context (e.g. a resume used to fill a job application).
type ContextDocument struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Parsed   bool   `json:"parsed"`
	Error    string `json:"error,omitempty"`
}

// Session is the durable, restorable unit of work. SessionID is minted once
// and never reassigned; the backend identifiers in Identity come into
// existence later and are only ever replaced by newer backend values.
type Session struct {
	SessionID    string            `json:"session_id"`
	Identity     Identity          `json:"identity"`
	Fields       []FormField       `json:"fields"`
	Messages     []Message         `json:"messages"`
	AppliedEdits map[string]string `json:"applied_edits"`
	ContextDocs  []ContextDocument `json:"context_docs,omitempty"`

	// Renderable artifacts. FilledPDF is replaced wholesale whenever a
	// stream reports a new rendering; OriginalPDF is immutable once set.
	// Neither is persisted locally; restore re-fetches them by
	// user session id.
	FilledPDF   []byte `json:"-"`
	OriginalPDF []byte `json:"-"`

	IsProcessing bool `json:"is_processing"`
}

// MergeEdits folds a cumulative applied-edits map into the session.
// Entries are added or overwritten, never removed.
func (s *Session) MergeEdits(edits map[string]string) {
	if len(edits) == 0 {
		return
	}
	if s.AppliedEdits == nil {
		s.AppliedEdits = make(map[string]string, len(edits))
	}
	for k, v := range edits {
		s.AppliedEdits[k] = v
	}
}

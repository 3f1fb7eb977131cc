package fillagent

import "github.com/acroflow/acroflow/internal/domain"

// AnalyzeResult is the response of the one-shot field-detection call.
type AnalyzeResult struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Fields     []domain.FormField `json:"fields"`
	FieldCount int                `json:"field_count"`
}

// FillStreamRequest carries everything the backend needs to run one agent
// turn. PDF holds the current filled document on continuations and the
// original upload on fresh turns.
type FillStreamRequest struct {
	Instructions    string
	Filename        string
	PDF             []byte
	IsContinuation  bool
	PreviousEdits   map[string]string
	ResumeSessionID string
	UserSessionID   string
}

// UploadFile is one auxiliary context document to parse.
type UploadFile struct {
	Filename string
	Data     []byte
}

// ParseEvent is one record of the context-file parsing stream.
type ParseEvent struct {
	Type     string `json:"type"`
	Total    int    `json:"total,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Current  int    `json:"current,omitempty"`
	Filename string `json:"filename,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`

	// complete events only.
	Results []ParseResultEntry `json:"results,omitempty"`
}

// ParseResultEntry is one parsed context document in a parse-stream
// complete event.
type ParseResultEntry struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Parsed   bool   `json:"parsed"`
	Error    string `json:"error,omitempty"`
}

// ContextFile is one previously uploaded context document as reported by the
// backend session state service.
type ContextFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Parsed   bool   `json:"parsed"`
}

// StreamResult wraps one decoded agent stream event or a terminal transport
// or decode error. After a result with Err != nil no further results are
// delivered; a channel close without one means the stream ended normally.
type StreamResult struct {
	Event *domain.StreamEvent
	Err   error
}

// ParseStreamResult is the parse-stream counterpart of StreamResult.
type ParseStreamResult struct {
	Event *ParseEvent
	Err   error
}

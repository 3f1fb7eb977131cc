package session

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/acroflow/acroflow/internal/domain"
)

// thinkingPreviewLimit bounds the displayed length of agent reasoning text.
// It is a display bound only; nothing downstream needs the full text.
const thinkingPreviewLimit = 100

// turnAccumulator collects everything a stream hands over beyond the visible
// activity log: the turn's edit summary, backend identifiers to adopt at
// finalization, and the latest rendered PDF.
type turnAccumulator struct {
	appliedCount   int
	appliedEdits   map[string]string
	agentSessionID string
	userSessionID  string

	filledPDF  []byte
	pdfUpdated bool

	sawError bool
	errText  string

	transportErr error

	// status mirrors the latest init/status message for the transient
	// indicator shown outside the log. Consumed by the manager after
	// each fold.
	status string
}

func (acc *turnAccumulator) failed() bool {
	return acc.sawError || acc.transportErr != nil
}

// foldEvent maps one decoded stream event onto the in-flight turn: at most
// one activity log entry per event, with side data captured on acc. A nil
// return means the event carries nothing user-visible. Folding never stops
// stream consumption; unrecognized event types simply fold to nil.
func foldEvent(ev *domain.StreamEvent, acc *turnAccumulator) *domain.ActivityLogEntry {
	switch ev.Type {
	case domain.EventInit, domain.EventStatus:
		acc.status = ev.Message
		return newLogEntry(domain.LogStatus, ev.Message, "")

	case domain.EventToolUse:
		friendly := stripAll(ev.Friendly)
		switch len(friendly) {
		case 0:
			return nil
		case 1:
			entry := newLogEntry(domain.LogToolCall, friendly[0], "")
			if len(ev.ToolCalls) > 0 {
				entry.ToolName = ev.ToolCalls[0].Name
			}
			return entry
		default:
			entry := newLogEntry(domain.LogToolCall,
				fmt.Sprintf("Filling %d fields", len(friendly)),
				strings.Join(friendly, ", "))
			if len(ev.ToolCalls) > 0 {
				entry.ToolName = ev.ToolCalls[0].Name
			}
			return entry
		}

	case domain.EventUser:
		friendly := stripAll(ev.Friendly)
		if len(friendly) == 0 {
			return nil
		}
		return newLogEntry(domain.LogToolResult, strings.Join(friendly, ", "), "")

	case domain.EventAssistant:
		if ev.Text == "" {
			return nil
		}
		return newLogEntry(domain.LogThinking, truncate(ev.Text, thinkingPreviewLimit), "")

	case domain.EventComplete:
		acc.appliedCount = ev.AppliedCount
		acc.appliedEdits = ev.AppliedEdits
		acc.agentSessionID = ev.SessionID
		acc.userSessionID = ev.UserSessionID
		return newLogEntry(domain.LogComplete,
			fmt.Sprintf("Applied %d field edits", ev.AppliedCount), "")

	case domain.EventPDFReady:
		pdf, err := hex.DecodeString(ev.PDFBytes)
		if err != nil {
			return newLogEntry(domain.LogError, "Received an unreadable filled PDF", "")
		}
		acc.filledPDF = pdf
		acc.pdfUpdated = true
		return newLogEntry(domain.LogComplete, "Filled PDF updated", "")

	case domain.EventError:
		acc.sawError = true
		acc.errText = ev.Error
		return newLogEntry(domain.LogError, ev.Error, "")

	default:
		return nil
	}
}

func newLogEntry(kind domain.LogEntryKind, content, detail string) *domain.ActivityLogEntry {
	return &domain.ActivityLogEntry{
		ID:        "log_" + ulid.Make().String(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Content:   content,
		Detail:    detail,
	}
}

// stripEmphasis removes markdown bold markers from a friendly description,
// which the backend uses to highlight field labels.
func stripEmphasis(s string) string {
	return strings.ReplaceAll(s, "**", "")
}

func stripAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		out = append(out, stripEmphasis(s))
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/acroflow/acroflow/internal/api/fillagent"
	"github.com/acroflow/acroflow/internal/domain"
	"github.com/acroflow/acroflow/internal/store"
)

func TestRestore_StoreMiss(t *testing.T) {
	m := Restore(context.Background(), &fakeBackend{}, newMemSnapshots(), "sess_gone")

	if m.SessionID() != "sess_gone" {
		t.Errorf("SessionID = %q, want the requested id adopted", m.SessionID())
	}
	v := m.View()
	if len(v.Messages) != 0 || len(v.Fields) != 0 {
		t.Errorf("restored state = %+v, want fresh", v)
	}
}

func TestRestore_Snapshot(t *testing.T) {
	snapshots := newMemSnapshots()
	ctx := context.Background()
	snapshots.Save(ctx, "sess_1", &store.Snapshot{
		SchemaVersion: store.SchemaVersion,
		Identity:      domain.Identity{AgentSessionID: "abc", UserSessionID: "user-1"},
		Fields:        []domain.FormField{{FieldID: "page0_name"}},
		Messages: []domain.Message{
			{ID: "msg_1", Role: domain.RoleUser, Content: "fill it", Status: domain.StatusComplete},
			{ID: "msg_2", Role: domain.RoleAssistant, Status: domain.StatusStreaming},
		},
		AppliedEdits: map[string]string{"page0_name": "John Doe"},
		InProgress:   true,
	})

	backend := &fakeBackend{
		filledPDF:    []byte("%PDF-filled"),
		originalPDF:  []byte("%PDF-original"),
		contextFiles: []fillagent.ContextFile{{Filename: "resume.docx", Content: "text", Parsed: true}},
	}
	m := Restore(ctx, backend, snapshots, "sess_1")

	v := m.View()
	if v.Identity.AgentSessionID != "abc" || v.Identity.UserSessionID != "user-1" {
		t.Errorf("Identity = %+v", v.Identity)
	}
	if v.AppliedEdits["page0_name"] != "John Doe" {
		t.Errorf("AppliedEdits = %v", v.AppliedEdits)
	}
	if v.IsProcessing {
		t.Error("IsProcessing = true, want cleared on restore")
	}

	// The interrupted assistant message is finalized as errored.
	if len(v.Messages) != 2 {
		t.Fatalf("Messages length = %d, want 2", len(v.Messages))
	}
	if v.Messages[1].Status != domain.StatusError {
		t.Errorf("interrupted message status = %v, want error", v.Messages[1].Status)
	}
	if v.Messages[1].Content != transportFailureMessage {
		t.Errorf("interrupted message content = %q", v.Messages[1].Content)
	}
	if !hasErrorEntry(v.Messages[1].ActivityLog) {
		t.Error("interrupted message has no error activity entry")
	}

	if string(m.FilledPDF()) != "%PDF-filled" {
		t.Errorf("FilledPDF = %q", m.FilledPDF())
	}
	if string(m.OriginalPDF()) != "%PDF-original" {
		t.Errorf("OriginalPDF = %q", m.OriginalPDF())
	}
	if v.PreviewMode != domain.PreviewFilled {
		t.Errorf("PreviewMode = %v, want filled", v.PreviewMode)
	}
	if len(v.ContextDocs) != 1 || v.ContextDocs[0].Filename != "resume.docx" {
		t.Errorf("ContextDocs = %+v", v.ContextDocs)
	}
}

func TestRestore_PartialFetchFailure(t *testing.T) {
	snapshots := newMemSnapshots()
	ctx := context.Background()
	snapshots.Save(ctx, "sess_1", &store.Snapshot{
		SchemaVersion: store.SchemaVersion,
		Identity:      domain.Identity{UserSessionID: "user-1"},
	})

	backend := &fakeBackend{
		filledPDF:   []byte("%PDF-filled"),
		originalErr: errors.New("backend restarted"),
		contextErr:  errors.New("backend restarted"),
	}
	m := Restore(ctx, backend, snapshots, "sess_1")

	if string(m.FilledPDF()) != "%PDF-filled" {
		t.Errorf("FilledPDF = %q, want the successful fetch applied", m.FilledPDF())
	}
	if m.OriginalPDF() != nil {
		t.Errorf("OriginalPDF = %q, want absent after failed fetch", m.OriginalPDF())
	}
	if docs := m.View().ContextDocs; len(docs) != 0 {
		t.Errorf("ContextDocs = %+v, want none after failed fetch", docs)
	}
}

func TestRestore_NoUserSessionSkipsFetches(t *testing.T) {
	snapshots := newMemSnapshots()
	ctx := context.Background()
	snapshots.Save(ctx, "sess_1", &store.Snapshot{
		SchemaVersion: store.SchemaVersion,
		Fields:        []domain.FormField{{FieldID: "page0_name"}},
	})

	// Fetch errors would be logged if the fetches ran; with no user session
	// id they must not run at all, so the filled artifact stays nil even
	// though the fake would serve one.
	backend := &fakeBackend{filledPDF: []byte("%PDF-filled")}
	m := Restore(ctx, backend, snapshots, "sess_1")

	if m.FilledPDF() != nil {
		t.Error("FilledPDF fetched without a user session id")
	}
}

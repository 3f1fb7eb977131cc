// Package session implements the streaming session orchestrator: one
// Manager per form-filling session owns every mutation of the session state,
// runs the turn protocol against the agent backend, reconciles the backend
// identifiers, and persists snapshots through the store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acroflow/acroflow/internal/api/fillagent"
	"github.com/acroflow/acroflow/internal/domain"
	"github.com/acroflow/acroflow/internal/store"
)

// transportFailureMessage finalizes a turn whose stream broke before any
// terminal event was observed.
const transportFailureMessage = "The form-filling agent stream ended unexpectedly. Please try again."

// Backend is the collaborator API the orchestrator depends on. Implemented
// by fillagent.Client; tests substitute fakes.
type Backend interface {
	Analyze(ctx context.Context, filename string, pdf []byte) (*fillagent.AnalyzeResult, error)
	OpenFillStream(ctx context.Context, req *fillagent.FillStreamRequest) (<-chan fillagent.StreamResult, error)
	OpenParseStream(ctx context.Context, files []fillagent.UploadFile, parseMode, userSessionID string) (<-chan fillagent.ParseStreamResult, error)
	FetchSessionFilledPDF(ctx context.Context, userSessionID string) ([]byte, error)
	FetchSessionOriginalPDF(ctx context.Context, userSessionID string) ([]byte, error)
	FetchSessionContextFiles(ctx context.Context, userSessionID string) ([]fillagent.ContextFile, error)
}

// Snapshots is the persistence surface the orchestrator writes through.
// Implemented by store.Store.
type Snapshots interface {
	Save(ctx context.Context, sessionID string, snap *store.Snapshot) error
	Load(ctx context.Context, sessionID string) (*store.Snapshot, bool)
	Delete(ctx context.Context, sessionID string) error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for degraded-mode warnings.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager owns one session. All mutation funnels through its methods; reads
// go through View and observe a monotonically growing activity log, never a
// rollback.
type Manager struct {
	backend   Backend
	snapshots Snapshots
	logger    *slog.Logger

	mu            sync.RWMutex
	sess          *domain.Session
	turnState     domain.TurnState
	auxOps        int
	currentStatus string
	parseStatus   string
	previewMode   domain.PreviewMode
	filename      string
}

// New creates a Manager for a fresh session with a newly minted session id.
func New(backend Backend, snapshots Snapshots, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend:   backend,
		snapshots: snapshots,
		logger:    slog.Default(),
		sess: &domain.Session{
			SessionID:    "sess_" + uuid.New().String(),
			AppliedEdits: make(map[string]string),
		},
		turnState:   domain.TurnIdle,
		previewMode: domain.PreviewOriginal,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionID returns the browser-local session identifier. It is never
// reassigned for the lifetime of this Manager; Reset returns a new Manager.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.SessionID
}

// SubmitTurn runs one complete turn: it appends the user message and the
// streaming assistant placeholder, opens the agent stream, folds every event
// in arrival order, finalizes the placeholder exactly once, adopts any
// backend identifiers, and persists the snapshot before returning.
//
// A second instruction while a turn is in flight is rejected with
// ErrTurnInFlight, never queued or interleaved. Turn-level failures (broken
// stream, inline error event) are not returned as errors; they finalize the
// assistant message with StatusError per the error taxonomy.
func (m *Manager) SubmitTurn(ctx context.Context, instruction string) (*domain.Message, error) {
	m.mu.Lock()
	if m.turnState != domain.TurnIdle {
		m.mu.Unlock()
		return nil, domain.ErrTurnInFlight
	}
	// Analysis and context parsing may overlap each other, but a fill turn
	// may mutate the user session id and the persisted snapshot under them.
	if m.auxOps > 0 {
		m.mu.Unlock()
		return nil, domain.ErrSessionBusy
	}
	if len(m.sess.Fields) == 0 {
		m.mu.Unlock()
		return nil, domain.ErrNoFieldsLoaded
	}

	continuation := m.isContinuationLocked()

	now := time.Now().UTC()
	userMsg := domain.Message{
		ID:        "msg_" + uuid.New().String(),
		Role:      domain.RoleUser,
		Content:   instruction,
		Status:    domain.StatusComplete,
		Timestamp: now,
	}
	placeholder := domain.Message{
		ID:        "msg_" + uuid.New().String(),
		Role:      domain.RoleAssistant,
		Status:    domain.StatusStreaming,
		Timestamp: now,
	}
	m.sess.Messages = append(m.sess.Messages, userMsg, placeholder)
	placeholderIdx := len(m.sess.Messages) - 1

	m.sess.IsProcessing = true
	m.turnState = domain.TurnAwaitingStream

	req := &fillagent.FillStreamRequest{
		Instructions:  instruction,
		Filename:      m.filename,
		UserSessionID: m.sess.Identity.UserSessionID,
	}
	if continuation {
		req.PDF = m.sess.FilledPDF
		req.IsContinuation = true
		req.ResumeSessionID = m.sess.Identity.AgentSessionID
		req.PreviousEdits = make(map[string]string, len(m.sess.AppliedEdits))
		for k, v := range m.sess.AppliedEdits {
			req.PreviousEdits[k] = v
		}
	} else {
		req.PDF = m.sess.OriginalPDF
	}
	m.mu.Unlock()

	acc := &turnAccumulator{}

	stream, err := m.backend.OpenFillStream(ctx, req)
	if err != nil {
		acc.transportErr = err
		return m.finalizeTurn(ctx, placeholderIdx, continuation, acc), nil
	}

	m.setTurnState(domain.TurnStreaming)

	for result := range stream {
		if result.Err != nil {
			acc.transportErr = result.Err
			break
		}
		entry := foldEvent(result.Event, acc)

		m.mu.Lock()
		if entry != nil {
			msg := &m.sess.Messages[placeholderIdx]
			msg.ActivityLog = append(msg.ActivityLog, *entry)
		}
		if acc.status != "" {
			m.currentStatus = acc.status
			acc.status = ""
		}
		if acc.pdfUpdated {
			m.sess.FilledPDF = acc.filledPDF
			m.previewMode = domain.PreviewFilled
			acc.pdfUpdated = false
		}
		m.mu.Unlock()
	}

	return m.finalizeTurn(ctx, placeholderIdx, continuation, acc), nil
}

// finalizeTurn transitions the placeholder to its terminal status exactly
// once, absorbs the identifiers and edits the stream handed over, and
// persists synchronously so a process exit right after a turn loses nothing.
func (m *Manager) finalizeTurn(ctx context.Context, placeholderIdx int, continuation bool, acc *turnAccumulator) *domain.Message {
	m.setTurnState(domain.TurnFinalizing)

	m.mu.Lock()
	msg := &m.sess.Messages[placeholderIdx]

	if acc.failed() {
		msg.Status = domain.StatusError
		if acc.errText != "" {
			msg.Content = acc.errText
		} else {
			msg.Content = transportFailureMessage
		}
		if !hasErrorEntry(msg.ActivityLog) {
			msg.ActivityLog = append(msg.ActivityLog, *newLogEntry(domain.LogError, msg.Content, ""))
		}
	} else {
		m.sess.MergeEdits(acc.appliedEdits)
		msg.Status = domain.StatusComplete
		if continuation {
			msg.Content = fmt.Sprintf("Updated %d fields. Total: %d fields filled.",
				acc.appliedCount, len(m.sess.AppliedEdits))
		} else {
			msg.Content = fmt.Sprintf("Successfully filled %d form fields.", acc.appliedCount)
		}
	}

	m.sess.Identity = m.sess.Identity.Adopt(acc.agentSessionID, acc.userSessionID)
	m.sess.IsProcessing = false
	m.turnState = domain.TurnIdle
	m.currentStatus = ""

	final := copyMessage(*msg)
	snap := m.snapshotLocked()
	sessionID := m.sess.SessionID
	m.mu.Unlock()

	m.persist(ctx, sessionID, snap)

	if acc.transportErr != nil {
		m.logger.Warn("fill stream ended abnormally",
			slog.String("session_id", sessionID),
			slog.String("error", acc.transportErr.Error()),
		)
	}
	return &final
}

// AnalyzeDocument runs the one-shot field detection call and loads the
// document into the session. An analysis failure is surfaced as a
// system-role message; the session stays usable and the user may retry with
// another upload.
func (m *Manager) AnalyzeDocument(ctx context.Context, filename string, pdf []byte) (*fillagent.AnalyzeResult, error) {
	m.mu.Lock()
	if m.turnState != domain.TurnIdle {
		m.mu.Unlock()
		return nil, domain.ErrTurnInFlight
	}
	m.auxOps++
	m.mu.Unlock()
	defer m.endAuxOp()

	result, err := m.backend.Analyze(ctx, filename, pdf)

	m.mu.Lock()
	if err != nil {
		m.sess.Messages = append(m.sess.Messages, domain.Message{
			ID:        "msg_" + uuid.New().String(),
			Role:      domain.RoleSystem,
			Content:   fmt.Sprintf("Failed to analyze the PDF: %v", err),
			Status:    domain.StatusComplete,
			Timestamp: time.Now().UTC(),
		})
		m.mu.Unlock()
		return nil, err
	}

	m.sess.Fields = result.Fields
	m.filename = filename
	if m.sess.OriginalPDF == nil {
		m.sess.OriginalPDF = pdf
	}
	snap := m.snapshotLocked()
	sessionID := m.sess.SessionID
	m.mu.Unlock()

	m.persist(ctx, sessionID, snap)
	return result, nil
}

// Reset clears the whole session and returns a fresh Manager with a newly
// minted session id. The old snapshot is deleted; the old Manager must not
// be used afterwards.
func (m *Manager) Reset(ctx context.Context) (*Manager, error) {
	m.mu.Lock()
	if m.turnState != domain.TurnIdle {
		m.mu.Unlock()
		return nil, domain.ErrTurnInFlight
	}
	sessionID := m.sess.SessionID
	m.mu.Unlock()

	if err := m.snapshots.Delete(ctx, sessionID); err != nil {
		m.logger.Warn("failed to delete snapshot on reset",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	return New(m.backend, m.snapshots, WithLogger(m.logger)), nil
}

// View is a read-only copy of the observable session state.
type View struct {
	SessionID     string
	Identity      domain.Identity
	Fields        []domain.FormField
	Messages      []domain.Message
	AppliedEdits  map[string]string
	ContextDocs   []domain.ContextDocument
	IsProcessing  bool
	TurnState     domain.TurnState
	CurrentStatus string
	ParseStatus   string
	PreviewMode   domain.PreviewMode
	HasFilledPDF  bool
	HasOriginal   bool
}

// View snapshots the session for presentation. Concurrent with a streaming
// turn, successive calls observe the activity log grow monotonically.
func (m *Manager) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := View{
		SessionID:     m.sess.SessionID,
		Identity:      m.sess.Identity,
		Fields:        append([]domain.FormField(nil), m.sess.Fields...),
		Messages:      make([]domain.Message, 0, len(m.sess.Messages)),
		AppliedEdits:  make(map[string]string, len(m.sess.AppliedEdits)),
		ContextDocs:   append([]domain.ContextDocument(nil), m.sess.ContextDocs...),
		IsProcessing:  m.sess.IsProcessing,
		TurnState:     m.turnState,
		CurrentStatus: m.currentStatus,
		ParseStatus:   m.parseStatus,
		PreviewMode:   m.previewMode,
		HasFilledPDF:  len(m.sess.FilledPDF) > 0,
		HasOriginal:   len(m.sess.OriginalPDF) > 0,
	}
	for _, msg := range m.sess.Messages {
		v.Messages = append(v.Messages, copyMessage(msg))
	}
	for k, val := range m.sess.AppliedEdits {
		v.AppliedEdits[k] = val
	}
	return v
}

// FilledPDF returns a copy of the current filled document, or nil.
func (m *Manager) FilledPDF() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.sess.FilledPDF...)
}

// OriginalPDF returns a copy of the original document, or nil.
func (m *Manager) OriginalPDF() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.sess.OriginalPDF...)
}

// isContinuationLocked decides whether the next turn resumes prior agent
// context: true iff the backend issued an agent session id and a filled PDF
// already exists. Callers hold m.mu.
func (m *Manager) isContinuationLocked() bool {
	return m.sess.Identity.AgentSessionID != "" && len(m.sess.FilledPDF) > 0
}

func (m *Manager) endAuxOp() {
	m.mu.Lock()
	m.auxOps--
	m.mu.Unlock()
}

func (m *Manager) setTurnState(state domain.TurnState) {
	m.mu.Lock()
	m.turnState = state
	m.mu.Unlock()
}

func (m *Manager) snapshotLocked() *store.Snapshot {
	snap := &store.Snapshot{
		Identity:     m.sess.Identity,
		Fields:       append([]domain.FormField(nil), m.sess.Fields...),
		Messages:     make([]domain.Message, 0, len(m.sess.Messages)),
		AppliedEdits: make(map[string]string, len(m.sess.AppliedEdits)),
		ContextDocs:  append([]domain.ContextDocument(nil), m.sess.ContextDocs...),
		InProgress:   m.sess.IsProcessing,
	}
	for _, msg := range m.sess.Messages {
		snap.Messages = append(snap.Messages, copyMessage(msg))
	}
	for k, v := range m.sess.AppliedEdits {
		snap.AppliedEdits[k] = v
	}
	return snap
}

// persist writes the snapshot through the store, degrading to a warning on
// failure. Persistence is never allowed to fail a turn.
func (m *Manager) persist(ctx context.Context, sessionID string, snap *store.Snapshot) {
	if err := m.snapshots.Save(ctx, sessionID, snap); err != nil {
		m.logger.Warn("snapshot save failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

func copyMessage(msg domain.Message) domain.Message {
	msg.ActivityLog = append([]domain.ActivityLogEntry(nil), msg.ActivityLog...)
	return msg
}

func hasErrorEntry(log []domain.ActivityLogEntry) bool {
	for _, entry := range log {
		if entry.Kind == domain.LogError {
			return true
		}
	}
	return false
}

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/acroflow/acroflow/internal/domain"
)

// Restore rebuilds a Manager from a persisted snapshot. A store miss is not
// an error: the session id is adopted and the session starts fresh, matching
// a shared link whose local cache has expired. When a backend user session
// id is known, the backend's current filled PDF, original PDF and context
// files are fetched in parallel and each success is applied independently;
// a failed fetch only leaves that piece of state absent.
func Restore(ctx context.Context, backend Backend, snapshots Snapshots, sessionID string, opts ...ManagerOption) *Manager {
	m := New(backend, snapshots, opts...)
	m.sess.SessionID = sessionID

	snap, ok := snapshots.Load(ctx, sessionID)
	if !ok {
		return m
	}

	m.sess.Identity = snap.Identity
	m.sess.Fields = snap.Fields
	m.sess.Messages = snap.Messages
	m.sess.ContextDocs = snap.ContextDocs
	if snap.AppliedEdits != nil {
		m.sess.AppliedEdits = snap.AppliedEdits
	}
	// An in-progress flag in the snapshot means the process died mid-turn;
	// the turn cannot be resumed, only the state before it.
	m.sess.IsProcessing = false
	clearStreamingMessages(m.sess)

	if m.sess.Identity.UserSessionID != "" {
		m.restoreBackendState(ctx)
	}
	return m
}

// restoreBackendState runs the three restore fetches concurrently and
// applies whichever succeed. Partial success is valid: a filled PDF with no
// original simply limits the preview choices.
func (m *Manager) restoreBackendState(ctx context.Context) {
	userSessionID := m.sess.Identity.UserSessionID

	var (
		wg       sync.WaitGroup
		filled   []byte
		original []byte
		files    []domain.ContextDocument
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		pdf, err := m.backend.FetchSessionFilledPDF(ctx, userSessionID)
		if err != nil {
			m.logFetchFailure("filled_pdf", err)
			return
		}
		filled = pdf
	}()
	go func() {
		defer wg.Done()
		pdf, err := m.backend.FetchSessionOriginalPDF(ctx, userSessionID)
		if err != nil {
			m.logFetchFailure("original_pdf", err)
			return
		}
		original = pdf
	}()
	go func() {
		defer wg.Done()
		list, err := m.backend.FetchSessionContextFiles(ctx, userSessionID)
		if err != nil {
			m.logFetchFailure("context_files", err)
			return
		}
		for _, f := range list {
			files = append(files, domain.ContextDocument{
				Filename: f.Filename,
				Content:  f.Content,
				Parsed:   f.Parsed,
			})
		}
	}()
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if filled != nil {
		m.sess.FilledPDF = filled
		m.previewMode = domain.PreviewFilled
	}
	if original != nil && m.sess.OriginalPDF == nil {
		m.sess.OriginalPDF = original
	}
	if files != nil {
		m.sess.ContextDocs = files
	}
}

// ensureUserSessionLocked mints a client-side user session id when none
// exists yet, so context uploads can attach to a session the agent has never
// run in. The backend value adopted after the first turn wins over this one.
// Callers hold m.mu.
func (m *Manager) ensureUserSessionLocked() string {
	if m.sess.Identity.UserSessionID == "" {
		m.sess.Identity.UserSessionID = "user_" + uuid.New().String()
	}
	return m.sess.Identity.UserSessionID
}

func (m *Manager) logFetchFailure(what string, err error) {
	m.logger.Warn("session restore fetch failed",
		slog.String("fetch", what),
		slog.String("error", err.Error()),
	)
}

// clearStreamingMessages finalizes any message left streaming by a process
// exit. The stream is gone, so the turn is recorded as errored the same way
// a live transport break is: error status, the generic message, and a
// synthetic error log entry when the stream never produced one.
func clearStreamingMessages(sess *domain.Session) {
	for i := range sess.Messages {
		if sess.Messages[i].Status == domain.StatusStreaming ||
			sess.Messages[i].Status == domain.StatusPending {
			msg := &sess.Messages[i]
			msg.Status = domain.StatusError
			if msg.Content == "" {
				msg.Content = transportFailureMessage
			}
			if !hasErrorEntry(msg.ActivityLog) {
				msg.ActivityLog = append(msg.ActivityLog, *newLogEntry(domain.LogError, msg.Content, ""))
			}
		}
	}
}

package session

import (
	"context"
	"fmt"

	"github.com/acroflow/acroflow/internal/api/fillagent"
	"github.com/acroflow/acroflow/internal/domain"
)

// UploadContextFiles streams auxiliary documents through the backend parser
// and appends the parsed results to the session's context documents. It
// mints a client-side user session id first if none exists, so the uploads
// attach to this session before the agent has ever run. Uploads and fill
// turns exclude each other in both directions, since both paths mutate the
// user session id and the persisted snapshot.
func (m *Manager) UploadContextFiles(ctx context.Context, files []fillagent.UploadFile, parseMode string) ([]domain.ContextDocument, error) {
	m.mu.Lock()
	if m.turnState != domain.TurnIdle {
		m.mu.Unlock()
		return nil, domain.ErrTurnInFlight
	}
	userSessionID := m.ensureUserSessionLocked()
	m.auxOps++
	m.mu.Unlock()
	defer m.endAuxOp()

	stream, err := m.backend.OpenParseStream(ctx, files, parseMode, userSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open parse stream: %w", err)
	}

	var (
		docs         []domain.ContextDocument
		transportErr error
	)
	for result := range stream {
		if result.Err != nil {
			transportErr = result.Err
			break
		}
		switch result.Event.Type {
		case "progress":
			m.mu.Lock()
			m.parseStatus = fmt.Sprintf("Parsing %s (%d/%d)",
				result.Event.Filename, result.Event.Current, result.Event.Total)
			m.mu.Unlock()
		case "complete":
			for _, r := range result.Event.Results {
				docs = append(docs, domain.ContextDocument{
					Filename: r.Filename,
					Content:  r.Content,
					Parsed:   r.Parsed,
					Error:    r.Error,
				})
			}
		}
	}

	m.mu.Lock()
	m.parseStatus = ""
	if transportErr == nil {
		m.sess.ContextDocs = append(m.sess.ContextDocs, docs...)
	}
	snap := m.snapshotLocked()
	sessionID := m.sess.SessionID
	m.mu.Unlock()

	m.persist(ctx, sessionID, snap)

	if transportErr != nil {
		return nil, fmt.Errorf("parse stream ended abnormally: %w", transportErr)
	}
	return docs, nil
}

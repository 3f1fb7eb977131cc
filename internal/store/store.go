// Package store persists session snapshots locally so a restart or a shared
// link restores conversation context without re-querying the agent backend.
// It is best-effort by contract: every failure degrades to "no persisted
// session" and must never take the rest of the application down.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/acroflow/acroflow/internal/domain"
)

// SchemaVersion tags persisted snapshots. Rows written under a different
// version are treated as absent on load rather than risk misreading them.
const SchemaVersion = 1

// Snapshot is the minimal persisted form of a session. PDF bytes are
// deliberately excluded; restore re-fetches them by user session id.
type Snapshot struct {
	SchemaVersion int                      `json:"schema_version"`
	Identity      domain.Identity          `json:"identity"`
	Fields        []domain.FormField       `json:"fields"`
	Messages      []domain.Message         `json:"messages"`
	AppliedEdits  map[string]string        `json:"applied_edits,omitempty"`
	ContextDocs   []domain.ContextDocument `json:"context_docs,omitempty"`
	InProgress    bool                     `json:"in_progress"`
}

// Store is a SQLite-backed snapshot store keyed by session id.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	for _, stmt := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	s := &Store{db: db, logger: slog.Default()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS session_snapshots (
session_id TEXT PRIMARY KEY,
schema_version INTEGER NOT NULL,
snapshot TEXT NOT NULL,
updated_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_session_snapshots_updated ON session_snapshots(updated_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the snapshot for sessionID, replacing any prior row. Errors
// are returned for observability but callers are expected to log and carry
// on; a failed save only costs the next restore.
func (s *Store) Save(ctx context.Context, sessionID string, snap *Snapshot) error {
	snap.SchemaVersion = SchemaVersion
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_snapshots (session_id, schema_version, snapshot, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
schema_version = excluded.schema_version,
snapshot = excluded.snapshot,
updated_at = excluded.updated_at`,
		sessionID, SchemaVersion, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the persisted snapshot for sessionID, or ok=false when there
// is none. Corrupted payloads and schema version mismatches also report
// ok=false: a stale cache is treated as a fresh session, never as a fault.
func (s *Store) Load(ctx context.Context, sessionID string) (*Snapshot, bool) {
	var row struct {
		SchemaVersion int    `db:"schema_version"`
		Snapshot      string `db:"snapshot"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT schema_version, snapshot FROM session_snapshots WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("snapshot load failed, treating as absent",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	if row.SchemaVersion != SchemaVersion {
		s.logger.Warn("snapshot schema version mismatch, treating as absent",
			slog.String("session_id", sessionID),
			slog.Int("found", row.SchemaVersion),
			slog.Int("want", SchemaVersion),
		)
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(row.Snapshot), &snap); err != nil {
		s.logger.Warn("snapshot payload corrupted, treating as absent",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return &snap, true
}

// Delete removes the snapshot for sessionID. Used by explicit session reset.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package sessionstate stores versioned per-session structured summaries
// plus raw-conversation-tail file references. Rows are
// append-only: saveState always inserts the next version for a session,
// never updates an existing one, except for the raw_tail_path refresh path.
package sessionstate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
	"github.com/aidam-sidecar/core/pkg/database"
)

// State is one session_state row.
type State struct {
	ID            int64
	SessionID     string
	Version       int
	StateText     string
	RawTailPath   string
	TokenEstimate int
}

// Store is the typed access point for session_state.
type Store struct {
	db *sql.DB
}

// New wraps a *database.Client's pool.
func New(client *database.Client) *Store {
	return &Store{db: client.DB()}
}

// NewFromDB wraps an already-open pool (tests).
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveState inserts a new row at the next version for sessionID. Versions
// are strictly monotonically increasing per session; a concurrent writer
// racing for the same version loses to the UNIQUE (session_id, version)
// constraint instead of silently overwriting.
func (s *Store) SaveState(ctx context.Context, sessionID, stateText, rawTailPath string, tokenEstimate int) (*State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin save-state transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var nextVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM session_state WHERE session_id = $1
	`, sessionID).Scan(&nextVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to compute next version: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO session_state (session_id, version, state_text, raw_tail_path, token_estimate)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, sessionID, nextVersion, stateText, rawTailPath, tokenEstimate).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to save session state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session state: %w", err)
	}

	return &State{
		ID: id, SessionID: sessionID, Version: nextVersion,
		StateText: stateText, RawTailPath: rawTailPath, TokenEstimate: tokenEstimate,
	}, nil
}

// LatestState returns the row with the maximum version for sessionID, or
// aidamerr.NotFoundError if the session has no state yet.
func (s *Store) LatestState(ctx context.Context, sessionID string) (*State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, version, state_text, raw_tail_path, token_estimate
		FROM session_state
		WHERE session_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, sessionID)

	var st State
	if err := row.Scan(&st.ID, &st.SessionID, &st.Version, &st.StateText, &st.RawTailPath, &st.TokenEstimate); err != nil {
		if err == sql.ErrNoRows {
			return nil, aidamerr.NewNotFoundError("session_state", sessionID)
		}
		return nil, fmt.Errorf("failed to load latest state for %s: %w", sessionID, err)
	}
	return &st, nil
}

// RefreshTailPath updates only the latest row's raw_tail_path, used when the
// transcript gained more content after the last agentic compaction.
func (s *Store) RefreshTailPath(ctx context.Context, sessionID, newPath string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE session_state
		SET raw_tail_path = $2
		WHERE id = (SELECT id FROM session_state WHERE session_id = $1 ORDER BY version DESC LIMIT 1)
	`, sessionID, newPath)
	if err != nil {
		return fmt.Errorf("failed to refresh tail path for %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return aidamerr.NewNotFoundError("session_state", sessionID)
	}
	return nil
}

// Package inbox implements the two logical queues that let hooks (event
// producers) and background agents (consumers) exchange work over
// PostgreSQL instead of an in-process channel: the cognitive_inbox (jobs
// into agents) and the retrieval_inbox (results back out). The database is
// the bus; this package owns its statement shapes.
package inbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aidam-sidecar/core/pkg/database"
)

// MessageType enumerates the cognitive_inbox job kinds.
type MessageType string

const (
	MessagePromptContext    MessageType = "prompt_context"
	MessageToolUse          MessageType = "tool_use"
	MessageLearnTrigger     MessageType = "learn_trigger"
	MessageCompactorTrigger MessageType = "compactor_trigger"
)

// JobStatus enumerates cognitive_inbox's status state machine.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobClaimed JobStatus = "claimed"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is one cognitive_inbox row.
type Job struct {
	ID          int64
	SessionID   string
	MessageType MessageType
	Payload     json.RawMessage
	Status      JobStatus
	CreatedAt   time.Time
}

// Result is one delivered retrieval_inbox row, the shape consumers of
// ConsumeResults see.
type Result struct {
	ID          int64
	SessionID   string
	PromptHash  string
	ContextType string
	ContextText string
	Relevance   float64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Bus is the queue-mediated dispatch substrate over both inboxes.
type Bus struct {
	db *sql.DB
}

// New wraps a *database.Client's pool.
func New(client *database.Client) *Bus {
	return &Bus{db: client.DB()}
}

// NewFromDB wraps an already-open pool (tests).
func NewFromDB(db *sql.DB) *Bus {
	return &Bus{db: db}
}

// EnqueueJob inserts a pending cognitive_inbox row for an agent to consume.
func (b *Bus) EnqueueJob(ctx context.Context, sessionID string, messageType MessageType, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	var id int64
	err = b.db.QueryRowContext(ctx, `
		INSERT INTO cognitive_inbox (session_id, message_type, payload, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id
	`, sessionID, messageType, raw).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

// ClaimJob atomically claims the oldest pending job of the given type,
// across all sessions, transitioning pending -> claimed. Returns sql.ErrNoRows if
// none is available. This is the single-consumer-per-queue claim path; a
// future multi-consumer variant would add `FOR UPDATE SKIP LOCKED` here.
func (b *Bus) ClaimJob(ctx context.Context, messageType MessageType) (*Job, error) {
	row := b.db.QueryRowContext(ctx, `
		UPDATE cognitive_inbox
		SET status = 'claimed'
		WHERE id = (
			SELECT id FROM cognitive_inbox
			WHERE message_type = $1 AND status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING id, session_id, message_type, payload, status, created_at
	`, messageType)

	var j Job
	if err := row.Scan(&j.ID, &j.SessionID, &j.MessageType, &j.Payload, &j.Status, &j.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &j, nil
}

// CompleteJob marks a claimed job done or failed.
func (b *Bus) CompleteJob(ctx context.Context, jobID int64, status JobStatus) error {
	if status != JobDone && status != JobFailed {
		return fmt.Errorf("completeJob: invalid terminal status %q", status)
	}
	_, err := b.db.ExecContext(ctx, `UPDATE cognitive_inbox SET status = $2 WHERE id = $1`, jobID, status)
	if err != nil {
		return fmt.Errorf("failed to complete job %d: %w", jobID, err)
	}
	return nil
}

// EnqueueResult inserts a pending retrieval_inbox row that expires ttl from
// now, the reply path an agent uses to answer a prompt_context job.
func (b *Bus) EnqueueResult(ctx context.Context, sessionID, promptHash, contextType, contextText string, relevance float64, ttl time.Duration) (int64, error) {
	var id int64
	err := b.db.QueryRowContext(ctx, `
		INSERT INTO retrieval_inbox (session_id, prompt_hash, context_type, context_text, relevance, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now() + ($6 * INTERVAL '1 second'))
		RETURNING id
	`, sessionID, promptHash, contextType, contextText, relevance, ttl.Seconds()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue result: %w", err)
	}
	return id, nil
}

// ConsumeResults selects every pending, unexpired retrieval_inbox row for
// (sessionID, promptHash) ordered by created_at ascending, marks each
// delivered, and returns them.
func (b *Bus) ConsumeResults(ctx context.Context, sessionID, promptHash string) ([]Result, error) {
	rows, err := b.db.QueryContext(ctx, `
		WITH delivered AS (
			UPDATE retrieval_inbox
			SET status = 'delivered'
			WHERE session_id = $1 AND prompt_hash = $2 AND status = 'pending' AND expires_at > now()
			RETURNING id, session_id, prompt_hash, context_type, context_text, relevance, created_at, expires_at
		)
		SELECT id, session_id, prompt_hash, context_type, context_text, relevance, created_at, expires_at
		FROM delivered
		ORDER BY created_at ASC, id ASC
	`, sessionID, promptHash)
	if err != nil {
		return nil, fmt.Errorf("failed to consume results: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// ConsumeAnyPendingForSession selects at most one pending, unexpired,
// non-empty result for sessionID (any promptHash) created before
// createdBefore, marks it delivered, and returns it. This is the
// Retrieval Coordinator's late-arrival check: a reply for a previous
// prompt that arrived after the poll loop gave up.
func (b *Bus) ConsumeAnyPendingForSession(ctx context.Context, sessionID string, createdBefore time.Time) (*Result, error) {
	row := b.db.QueryRowContext(ctx, `
		UPDATE retrieval_inbox
		SET status = 'delivered'
		WHERE id = (
			SELECT id FROM retrieval_inbox
			WHERE session_id = $1
			  AND status = 'pending'
			  AND expires_at > now()
			  AND created_at < $2
			  AND context_text <> ''
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING id, session_id, prompt_hash, context_type, context_text, relevance, created_at, expires_at
	`, sessionID, createdBefore)

	var r Result
	if err := row.Scan(&r.ID, &r.SessionID, &r.PromptHash, &r.ContextType, &r.ContextText, &r.Relevance, &r.CreatedAt, &r.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check for late-arriving result: %w", err)
	}
	return &r, nil
}

// CleanupExpiredRetrieval deletes pending retrieval_inbox rows past their
// expires_at, mirroring the DB-side cleanup_expired_retrieval() function so
// any client can invoke equivalent cleanup. Idempotent: a second call with
// nothing left to expire deletes zero rows.
func (b *Bus) CleanupExpiredRetrieval(ctx context.Context) (int64, error) {
	var deleted int64
	err := b.db.QueryRowContext(ctx, `SELECT cleanup_expired_retrieval()`).Scan(&deleted)
	if err != nil {
		// Fall back to the equivalent direct statement if the function is
		// unavailable (e.g. a schema built without migrations, in-memory
		// test doubles).
		res, execErr := b.db.ExecContext(ctx, `
			DELETE FROM retrieval_inbox WHERE status = 'pending' AND expires_at < now()
		`)
		if execErr != nil {
			return 0, fmt.Errorf("failed to clean up expired retrieval rows: %w", execErr)
		}
		return res.RowsAffected()
	}
	return deleted, nil
}

func scanResults(rows *sql.Rows) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.SessionID, &r.PromptHash, &r.ContextType, &r.ContextText, &r.Relevance, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Package orchestrator maintains the single-row-per-session
// orchestrator_state table: the registry of which sidecar is running for
// which session, its lifecycle status, and its heartbeat. It also owns
// per-agent usage/budget bookkeeping (agent_usage).
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
	"github.com/aidam-sidecar/core/pkg/database"
)

// Status enumerates the orchestrator_state lifecycle.
type Status string

const (
	StatusRunning  Status = "running"
	StatusClearing Status = "clearing"
	StatusCleared  Status = "cleared"
	StatusInjected Status = "injected"
	StatusStopped  Status = "stopped"
)

// AgentStatus enumerates agent_usage.status.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentRunning    AgentStatus = "running"
	AgentOverBudget AgentStatus = "over_budget"
	AgentDisabled   AgentStatus = "disabled"
)

// DefaultSessionBudgetUSD is the budget_session RecordAgentUsage gives an
// agent_usage row when it creates the row for an agent's first use.
const DefaultSessionBudgetUSD = 5.0

// State is one orchestrator_state row.
type State struct {
	SessionID     string
	PID           int
	Status        Status
	StartedAt     time.Time
	LastHeartbeat sql.NullTime
}

// AgentUsage is one agent_usage row.
type AgentUsage struct {
	SessionID       string
	AgentName       string
	InvocationCount int
	TotalCostUSD    float64
	LastCostUSD     float64
	BudgetPerCall   float64
	BudgetSession   float64
	Status          AgentStatus
}

// Registry is the typed access point for orchestrator_state and agent_usage.
type Registry struct {
	db *sql.DB

	lastHeartbeatMu sync.Mutex
	lastHeartbeat   map[string]time.Time
}

// New wraps a *database.Client's pool.
func New(client *database.Client) *Registry {
	return newRegistry(client.DB())
}

// NewFromDB wraps an already-open pool (tests).
func NewFromDB(db *sql.DB) *Registry {
	return newRegistry(db)
}

func newRegistry(db *sql.DB) *Registry {
	return &Registry{db: db, lastHeartbeat: make(map[string]time.Time)}
}

// Start inserts a new running orchestrator row at sidecar start.
func (r *Registry) Start(ctx context.Context, sessionID string, pid int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orchestrator_state (session_id, pid, status, started_at, last_heartbeat_at)
		VALUES ($1, $2, 'running', now(), now())
		ON CONFLICT (session_id) DO UPDATE
			SET pid = EXCLUDED.pid, status = 'running', started_at = now(), last_heartbeat_at = now()
	`, sessionID, pid)
	if err != nil {
		return fmt.Errorf("failed to start orchestrator for session %s: %w", sessionID, err)
	}
	return nil
}

// Heartbeat updates last_heartbeat_at for sessionID, throttled to at most
// once per second in-process.
func (r *Registry) Heartbeat(ctx context.Context, sessionID string) error {
	r.lastHeartbeatMu.Lock()
	last, seen := r.lastHeartbeat[sessionID]
	if seen && time.Since(last) < time.Second {
		r.lastHeartbeatMu.Unlock()
		return nil
	}
	r.lastHeartbeat[sessionID] = time.Now()
	r.lastHeartbeatMu.Unlock()

	_, err := r.db.ExecContext(ctx, `UPDATE orchestrator_state SET last_heartbeat_at = now() WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat session %s: %w", sessionID, err)
	}
	return nil
}

// FindRunning returns the most recently heartbeated running row, or
// aidamerr.NotFoundError if none exists.
func (r *Registry) FindRunning(ctx context.Context) (*State, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, pid, status, started_at, last_heartbeat_at
		FROM orchestrator_state
		WHERE status = 'running'
		ORDER BY last_heartbeat_at DESC NULLS LAST
		LIMIT 1
	`)

	var s State
	if err := row.Scan(&s.SessionID, &s.PID, &s.Status, &s.StartedAt, &s.LastHeartbeat); err != nil {
		if err == sql.ErrNoRows {
			return nil, aidamerr.NewNotFoundError("orchestrator", "running")
		}
		return nil, fmt.Errorf("failed to find running orchestrator: %w", err)
	}
	return &s, nil
}

// MarkClearing transitions a session's orchestrator row to clearing, the
// legal response to SessionEnd(reason=clear) before compaction runs.
func (r *Registry) MarkClearing(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orchestrator_state SET status = 'clearing' WHERE session_id = $1 AND status = 'running'
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session %s clearing: %w", sessionID, err)
	}
	return nil
}

// MarkCleared transitions clearing -> cleared once compaction/tail-refresh
// has completed.
func (r *Registry) MarkCleared(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orchestrator_state SET status = 'cleared' WHERE session_id = $1 AND status IN ('clearing', 'running')
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session %s cleared: %w", sessionID, err)
	}
	return nil
}

// Stop transitions a session's orchestrator row to stopped.
func (r *Registry) Stop(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE orchestrator_state SET status = 'stopped' WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to stop session %s: %w", sessionID, err)
	}
	return nil
}

// ConsumePreviousCleared atomically selects the newest row with status in
// (cleared, clearing) excluding newSessionID, transitions it to injected,
// and returns its session id. Returns ("", nil) if none is available. The
// single UPDATE ... WHERE status IN (...) RETURNING makes this safe against
// two parallel injectors racing for the same previous session: each
// consumes a distinct row or comes back empty-handed.
func (r *Registry) ConsumePreviousCleared(ctx context.Context, newSessionID string) (string, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE orchestrator_state
		SET status = 'injected'
		WHERE session_id = (
			SELECT session_id FROM orchestrator_state
			WHERE status IN ('cleared', 'clearing') AND session_id <> $1
			ORDER BY last_heartbeat_at DESC NULLS LAST
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING session_id
	`, newSessionID)

	var previous string
	if err := row.Scan(&previous); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to consume previous cleared session: %w", err)
	}
	return previous, nil
}

// RecordAgentUsage increments invocation_count and accumulates costUSD into
// total_cost_usd for (sessionID, agentName), creating the row on first use
// with DefaultSessionBudgetUSD. If the new total exceeds budget_session,
// status becomes over_budget. Returns
// aidamerr.BudgetExhaustedError in that case so callers can quiesce the
// agent immediately, alongside the persisted state change.
func (r *Registry) RecordAgentUsage(ctx context.Context, sessionID, agentName string, costUSD float64) (*AgentUsage, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin agent usage transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_usage (session_id, agent_name, invocation_count, total_cost_usd, last_cost_usd, budget_session, status)
		VALUES ($1, $2, 0, 0, 0, $3, 'idle')
		ON CONFLICT (session_id, agent_name) DO NOTHING
	`, sessionID, agentName, DefaultSessionBudgetUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure agent usage row: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE agent_usage
		SET invocation_count = invocation_count + 1,
		    total_cost_usd = total_cost_usd + $3,
		    last_cost_usd = $3
		WHERE session_id = $1 AND agent_name = $2
		RETURNING session_id, agent_name, invocation_count, total_cost_usd, last_cost_usd, budget_per_call, budget_session, status
	`, sessionID, agentName, costUSD)

	var u AgentUsage
	if err := row.Scan(&u.SessionID, &u.AgentName, &u.InvocationCount, &u.TotalCostUSD, &u.LastCostUSD, &u.BudgetPerCall, &u.BudgetSession, &u.Status); err != nil {
		return nil, fmt.Errorf("failed to update agent usage: %w", err)
	}

	if u.TotalCostUSD > u.BudgetSession && u.Status != AgentOverBudget {
		if _, err := tx.ExecContext(ctx, `
			UPDATE agent_usage SET status = 'over_budget' WHERE session_id = $1 AND agent_name = $2
		`, sessionID, agentName); err != nil {
			return nil, fmt.Errorf("failed to mark agent over budget: %w", err)
		}
		u.Status = AgentOverBudget
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit agent usage update: %w", err)
	}

	if u.Status == AgentOverBudget {
		return &u, aidamerr.NewBudgetExhaustedError(agentName, u.TotalCostUSD, u.BudgetSession)
	}
	return &u, nil
}

// ListAgentUsage returns every agent_usage row for a session, used by the
// aidam_usage report.
func (r *Registry) ListAgentUsage(ctx context.Context, sessionID string) ([]AgentUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, agent_name, invocation_count, total_cost_usd, last_cost_usd, budget_per_call, budget_session, status
		FROM agent_usage
		WHERE session_id = $1
		ORDER BY agent_name
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent usage: %w", err)
	}
	defer rows.Close()

	var usages []AgentUsage
	for rows.Next() {
		var u AgentUsage
		if err := rows.Scan(&u.SessionID, &u.AgentName, &u.InvocationCount, &u.TotalCostUSD, &u.LastCostUSD, &u.BudgetPerCall, &u.BudgetSession, &u.Status); err != nil {
			return nil, fmt.Errorf("failed to scan agent usage row: %w", err)
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

// ResetAgentBudget clears an agent's over_budget status and zeroes its
// accumulated cost; an over_budget agent stays quiesced until this is
// called.
func (r *Registry) ResetAgentBudget(ctx context.Context, sessionID, agentName string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE agent_usage SET total_cost_usd = 0, status = 'idle'
		WHERE session_id = $1 AND agent_name = $2
	`, sessionID, agentName)
	if err != nil {
		return fmt.Errorf("failed to reset agent budget: %w", err)
	}
	return nil
}

// Package store provides the single typed access point to PostgreSQL:
// generic select/write/insert primitives guarded against misuse, a
// scoped-migration executor, and a handful of domain helpers over the
// knowledge tables that the rest of the system treats as opaque.
//
// Every Store method opens (or reuses, via the pool) a short-lived
// connection per call; no pooled transaction state is carried between
// calls.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
	"github.com/aidam-sidecar/core/pkg/database"
)

// Store is the generic typed-access layer over PostgreSQL.
type Store struct {
	db *sql.DB
}

// New wraps a *database.Client's pool.
func New(client *database.Client) *Store {
	return &Store{db: client.DB()}
}

// NewFromDB wraps an already-open pool (used by tests against a
// testcontainers-backed schema).
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// forbiddenMigrationStatements may never appear in a scoped migration's SQL,
// regardless of which tables are declared.
var forbiddenMigrationStatements = []string{
	"DROP DATABASE",
	"TRUNCATE",
	"ALTER SYSTEM",
	"CREATE EXTENSION",
	"DROP EXTENSION",
}

// allowedMigrationTables is the fixed whitelist scoped migrations may
// touch. A scoped caller must still supply the subset it intends to modify
// via allowedTables; this is the ceiling above that floor.
var allowedMigrationTables = map[string]bool{
	"projects":           true,
	"learnings":          true,
	"patterns":           true,
	"errors_solutions":   true,
	"tools":              true,
	"commands":           true,
	"sessions":           true,
	"user_preferences":   true,
	"knowledge_details":  true,
	"knowledge_index":    true,
	"cognitive_inbox":    true,
	"retrieval_inbox":    true,
	"generated_tools":    true,
	"orchestrator_state": true,
	"agent_usage":        true,
	"session_state":      true,
	"memory_meta":        true,
	"memory_associations": true,
}

var ddlTableRe = regexp.MustCompile(`(?i)\b(ALTER TABLE|CREATE TABLE|DROP TABLE)\s+(?:IF\s+(?:NOT\s+)?EXISTS\s+)?"?([a-zA-Z_][a-zA-Z0-9_]*)"?`)

// SelectQuery runs a read-only statement. It refuses any statement whose
// first non-space token is not SELECT.
func (s *Store) SelectQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if firstToken(query) != "SELECT" {
		return nil, aidamerr.NewValidationError("selectQuery only accepts SELECT statements")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ExecuteWrite runs a mutating statement. It refuses any statement whose
// first non-space token is not INSERT, UPDATE, or DELETE.
func (s *Store) ExecuteWrite(ctx context.Context, query string, args ...any) (int64, error) {
	switch firstToken(query) {
	case "INSERT", "UPDATE", "DELETE":
	default:
		return 0, aidamerr.NewValidationError("executeWrite only accepts INSERT, UPDATE, or DELETE statements")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("write failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected row count: %w", err)
	}
	return n, nil
}

// InsertReturningID runs an INSERT ... RETURNING id statement and returns
// the generated id.
func (s *Store) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	if firstToken(query) != "INSERT" {
		return 0, aidamerr.NewValidationError("insertReturningId only accepts INSERT statements")
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert returning id failed: %w", err)
	}
	return id, nil
}

// DescribeSchema returns the set of columns for every table reachable from
// information_schema, keyed by table name.
func (s *Store) DescribeSchema(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		ORDER BY table_name, ordinal_position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to describe schema: %w", err)
	}
	defer rows.Close()

	schema := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		schema[table] = append(schema[table], column)
	}
	return schema, rows.Err()
}

// ExecuteScopedMigration runs sqlText inside a single transaction after
// verifying it only touches tables in allowedTables and contains none of
// the forbidden statements.
func (s *Store) ExecuteScopedMigration(ctx context.Context, name string, allowedTables []string, sqlText string) error {
	if len(allowedTables) == 0 {
		return aidamerr.NewValidationError("migration %q declares no allowedTables", name)
	}

	scoped := make(map[string]bool, len(allowedTables))
	for _, t := range allowedTables {
		if !allowedMigrationTables[t] {
			return aidamerr.NewValidationError("migration %q: table %q is not in the fixed whitelist", name, t)
		}
		scoped[t] = true
	}

	upper := strings.ToUpper(sqlText)
	for _, forbidden := range forbiddenMigrationStatements {
		if strings.Contains(upper, forbidden) {
			return aidamerr.NewValidationError("migration %q contains forbidden statement %q", name, forbidden)
		}
	}

	for _, match := range ddlTableRe.FindAllStringSubmatch(sqlText, -1) {
		table := match[2]
		if !scoped[table] {
			return aidamerr.NewValidationError(
				"migration %q: statement touches table %q which is not in its declared allowedTables", name, table)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("migration %q failed: %w", name, err)
	}
	return tx.Commit()
}

// firstToken returns the uppercased first whitespace-delimited token of sql,
// ignoring any leading whitespace. Used to cheaply enforce the
// selectQuery/executeWrite statement-kind contracts without a full parser.
func firstToken(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '('
	})
	if end == -1 {
		end = len(trimmed)
	}
	return strings.ToUpper(trimmed[:end])
}

// scanRows materializes a *sql.Rows into a slice of generic column maps,
// the same shape the memory MCP server's db_select tool returns to callers.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// normalizeValue converts driver-specific byte-slice representations (e.g.
// Postgres text/numeric columns read back as []byte via pgx/stdlib) into
// plain strings so JSON-serializing callers (MCP tool handlers) don't need
// to know about the driver.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

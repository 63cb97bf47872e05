package database

import (
	"context"
	"database/sql"
	"fmt"
)

// searchableTables lists every table carrying a search_vector tsvector
// column. GIN indexes on these are created here rather than in a plain
// migration file so they can be re-asserted idempotently without bumping
// the migration version.
var searchableTables = []string{
	"learnings",
	"patterns",
	"errors_solutions",
	"knowledge_details",
	"knowledge_index",
}

// CreateSearchIndexes creates GIN indexes over each searchable table's
// search_vector column, enabling ts_rank-ordered full-text search.
func CreateSearchIndexes(ctx context.Context, db *sql.DB) error {
	for _, table := range searchableTables {
		stmt := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_search_vector ON %s USING gin(search_vector)`,
			table, table,
		)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create search index on %s: %w", table, err)
		}
	}
	return nil
}

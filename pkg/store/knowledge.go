package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// SearchResult is the common shape returned by every full-text search
// helper: a hit against one of the knowledge tables, ranked by
// ts_rank(search_vector, plainto_tsquery(q)) descending.
type SearchResult struct {
	ID    int64
	Title string
	Body  string
	Rank  float64
}

// AddLearning inserts a learning row. search_vector is maintained by the
// learnings_tsvector_trigger migration trigger, not computed here.
func (s *Store) AddLearning(ctx context.Context, projectID *int64, title, body string, tags []string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO learnings (project_id, title, body, tags)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, projectID, title, body, pq.Array(tags)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add learning: %w", err)
	}
	return id, nil
}

// SearchLearnings ranks learnings by relevance to q using Postgres
// full-text search.
func (s *Store) SearchLearnings(ctx context.Context, q string, limit int) ([]SearchResult, error) {
	return s.searchTable(ctx, "learnings", "title", "body", q, limit)
}

// AddPattern inserts a pattern row.
func (s *Store) AddPattern(ctx context.Context, projectID *int64, name, description string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO patterns (project_id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id
	`, projectID, name, description).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add pattern: %w", err)
	}
	return id, nil
}

// SearchPatterns ranks patterns by relevance to q.
func (s *Store) SearchPatterns(ctx context.Context, q string, limit int) ([]SearchResult, error) {
	return s.searchTable(ctx, "patterns", "name", "description", q, limit)
}

// AddErrorSolution inserts an error/solution pair.
func (s *Store) AddErrorSolution(ctx context.Context, projectID *int64, errorText, solutionText string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO errors_solutions (project_id, error_text, solution_text)
		VALUES ($1, $2, $3)
		RETURNING id
	`, projectID, errorText, solutionText).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add error/solution: %w", err)
	}
	return id, nil
}

// SearchErrors ranks error/solution pairs by relevance to q.
func (s *Store) SearchErrors(ctx context.Context, q string, limit int) ([]SearchResult, error) {
	return s.searchTable(ctx, "errors_solutions", "error_text", "solution_text", q, limit)
}

// UpsertKnowledgeIndex inserts or updates the single index row for
// (domain, refID), e.g. the generated-tools domain used by the Tool
// Registry.
func (s *Store) UpsertKnowledgeIndex(ctx context.Context, domain, refID, title, summary string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO knowledge_index (domain, ref_id, title, summary)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (domain, ref_id) DO UPDATE
			SET title = EXCLUDED.title, summary = EXCLUDED.summary
		RETURNING id
	`, domain, refID, title, summary).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert knowledge index: %w", err)
	}
	return id, nil
}

// AddKnowledgeDetail attaches a drill-down detail blob to a knowledge index
// entry (the "deepen" operation of the aidam MCP surface).
func (s *Store) AddKnowledgeDetail(ctx context.Context, knowledgeIndexID int64, detailText string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO knowledge_details (knowledge_index_id, detail_text)
		VALUES ($1, $2)
		RETURNING id
	`, knowledgeIndexID, detailText).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add knowledge detail: %w", err)
	}
	return id, nil
}

// KnowledgeDetail is one knowledge_details row.
type KnowledgeDetail struct {
	ID        int64
	DetailText string
}

// GetKnowledgeDetails returns every drill-down detail attached to a
// knowledge_index entry, oldest first: the backing read for the aidam
// "deepen" operation's progressive disclosure.
func (s *Store) GetKnowledgeDetails(ctx context.Context, knowledgeIndexID int64) ([]KnowledgeDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, detail_text FROM knowledge_details
		WHERE knowledge_index_id = $1
		ORDER BY id
	`, knowledgeIndexID)
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge details: %w", err)
	}
	defer rows.Close()

	var details []KnowledgeDetail
	for rows.Next() {
		var d KnowledgeDetail
		if err := rows.Scan(&d.ID, &d.DetailText); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge detail: %w", err)
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// SearchKnowledge ranks knowledge_index entries by relevance to q, optionally
// restricted to a single domain (e.g. "generated-tools").
func (s *Store) SearchKnowledge(ctx context.Context, q, domain string, limit int) ([]SearchResult, error) {
	query := `
		SELECT id, title, summary, ts_rank(search_vector, plainto_tsquery('english', $1)) AS rank
		FROM knowledge_index
		WHERE search_vector @@ plainto_tsquery('english', $1)
	`
	args := []any{q}
	if domain != "" {
		query += " AND domain = $2 ORDER BY rank DESC LIMIT $3"
		args = append(args, domain, limit)
	} else {
		query += " ORDER BY rank DESC LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge index: %w", err)
	}
	defer rows.Close()
	return scanSearchResults(rows)
}

func (s *Store) searchTable(ctx context.Context, table, titleCol, bodyCol, q string, limit int) ([]SearchResult, error) {
	query := fmt.Sprintf(`
		SELECT id, %s, %s, ts_rank(search_vector, plainto_tsquery('english', $1)) AS rank
		FROM %s
		WHERE search_vector @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $2
	`, titleCol, bodyCol, table)

	rows, err := s.db.QueryContext(ctx, query, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", table, err)
	}
	defer rows.Close()
	return scanSearchResults(rows)
}

func scanSearchResults(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Title, &r.Body, &r.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

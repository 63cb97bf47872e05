package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
	"github.com/aidam-sidecar/core/test/util"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := util.SetupTestDatabase(t)
	return New(client)
}

func TestStore_SelectQuery_RejectsNonSelect(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SelectQuery(context.Background(), "DELETE FROM learnings")
	require.Error(t, err)
	var ve *aidamerr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStore_SelectQuery_ReturnsRowsAsMaps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddLearning(ctx, nil, "title one", "body one", []string{"go"})
	require.NoError(t, err)

	rows, err := s.SelectQuery(ctx, "SELECT title, body FROM learnings")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "title one", rows[0]["title"])
	require.Equal(t, "body one", rows[0]["body"])
}

func TestStore_ExecuteWrite_RejectsSelect(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ExecuteWrite(context.Background(), "SELECT 1")
	require.Error(t, err)
	var ve *aidamerr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStore_ExecuteWrite_DeleteReturnsAffectedRowCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddPattern(ctx, nil, "singleton", "one instance")
	require.NoError(t, err)

	n, err := s.ExecuteWrite(ctx, "DELETE FROM patterns WHERE name = 'singleton'")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestStore_InsertReturningID_RejectsNonInsert(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertReturningID(context.Background(), "UPDATE patterns SET name = 'x'")
	require.Error(t, err)
	var ve *aidamerr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStore_InsertReturningID_ReturnsGeneratedID(t *testing.T) {
	s := newTestStore(t)
	id, err := s.InsertReturningID(context.Background(), `
		INSERT INTO patterns (project_id, name, description) VALUES (NULL, 'p', 'd') RETURNING id
	`)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))
}

func TestStore_DescribeSchema_IncludesKnownTables(t *testing.T) {
	s := newTestStore(t)
	schema, err := s.DescribeSchema(context.Background())
	require.NoError(t, err)
	require.Contains(t, schema, "learnings")
	require.Contains(t, schema["learnings"], "title")
}

func TestStore_ExecuteScopedMigration_RejectsEmptyAllowedTables(t *testing.T) {
	s := newTestStore(t)
	err := s.ExecuteScopedMigration(context.Background(), "m1", nil, "ALTER TABLE patterns ADD COLUMN x TEXT")
	require.Error(t, err)
	var ve *aidamerr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStore_ExecuteScopedMigration_RejectsTableNotInWhitelist(t *testing.T) {
	s := newTestStore(t)
	err := s.ExecuteScopedMigration(context.Background(), "m2", []string{"not_a_real_table"}, "SELECT 1")
	require.Error(t, err)
	var ve *aidamerr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStore_ExecuteScopedMigration_RejectsForbiddenStatement(t *testing.T) {
	s := newTestStore(t)
	err := s.ExecuteScopedMigration(context.Background(), "m3", []string{"patterns"}, "TRUNCATE patterns")
	require.Error(t, err)
	var ve *aidamerr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStore_ExecuteScopedMigration_RejectsUndeclaredDDLTable(t *testing.T) {
	s := newTestStore(t)
	err := s.ExecuteScopedMigration(context.Background(), "m4", []string{"patterns"},
		`ALTER TABLE learnings ADD COLUMN extra TEXT`)
	require.Error(t, err)
	var ve *aidamerr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStore_ExecuteScopedMigration_AppliesDeclaredDDL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.ExecuteScopedMigration(ctx, "m5", []string{"patterns"},
		`ALTER TABLE patterns ADD COLUMN scratch TEXT`)
	require.NoError(t, err)

	schema, err := s.DescribeSchema(ctx)
	require.NoError(t, err)
	require.Contains(t, schema["patterns"], "scratch")
}

func TestStore_ExecuteScopedMigration_RollsBackOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.ExecuteScopedMigration(ctx, "m6", []string{"patterns"},
		`ALTER TABLE patterns ADD COLUMN will_fail NOT_A_REAL_TYPE`)
	require.Error(t, err)

	schema, err := s.DescribeSchema(ctx)
	require.NoError(t, err)
	require.NotContains(t, schema["patterns"], "will_fail")
}

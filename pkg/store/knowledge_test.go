package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_AddLearning_AndSearchLearnings_RanksByRelevance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddLearning(ctx, nil, "retry backoff", "use exponential backoff for flaky network calls", []string{"networking"})
	require.NoError(t, err)
	_, err = s.AddLearning(ctx, nil, "unrelated topic", "completely different subject matter", nil)
	require.NoError(t, err)

	results, err := s.SearchLearnings(ctx, "backoff", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "retry backoff", results[0].Title)
}

func TestStore_AddPattern_AndSearchPatterns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddPattern(ctx, nil, "repository pattern", "encapsulates data access behind an interface")
	require.NoError(t, err)

	results, err := s.SearchPatterns(ctx, "repository", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "repository pattern", results[0].Title)
}

func TestStore_AddErrorSolution_AndSearchErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddErrorSolution(ctx, nil, "connection refused on startup", "wait for the dependency health check before connecting")
	require.NoError(t, err)

	results, err := s.SearchErrors(ctx, "connection refused", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Contains(t, results[0].Title, "connection refused")
}

func TestStore_UpsertKnowledgeIndex_UpdatesOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertKnowledgeIndex(ctx, "generated-tools", "tool-1", "first title", "first summary")
	require.NoError(t, err)

	id2, err := s.UpsertKnowledgeIndex(ctx, "generated-tools", "tool-1", "updated title", "updated summary")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	results, err := s.SearchKnowledge(ctx, "updated", "generated-tools", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "updated title", results[0].Title)
}

func TestStore_AddKnowledgeDetail_AndGetKnowledgeDetails_OrderedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idxID, err := s.UpsertKnowledgeIndex(ctx, "generated-tools", "tool-2", "tool two", "summary")
	require.NoError(t, err)

	_, err = s.AddKnowledgeDetail(ctx, idxID, "first detail")
	require.NoError(t, err)
	_, err = s.AddKnowledgeDetail(ctx, idxID, "second detail")
	require.NoError(t, err)

	details, err := s.GetKnowledgeDetails(ctx, idxID)
	require.NoError(t, err)
	require.Len(t, details, 2)
	require.Equal(t, "first detail", details[0].DetailText)
	require.Equal(t, "second detail", details[1].DetailText)
}

func TestStore_SearchKnowledge_WithoutDomainFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertKnowledgeIndex(ctx, "generated-tools", "tool-3", "deploy script helper", "runs deployment steps")
	require.NoError(t, err)
	_, err = s.UpsertKnowledgeIndex(ctx, "other-domain", "other-1", "deploy unrelated", "another deploy summary")
	require.NoError(t, err)

	results, err := s.SearchKnowledge(ctx, "deploy", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestStore_SearchKnowledge_NoMatchReturnsEmpty(t *testing.T) {
	s := newTestStore(t)

	results, err := s.SearchKnowledge(context.Background(), "nonexistentword12345", "", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

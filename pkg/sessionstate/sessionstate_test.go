package sessionstate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
	"github.com/aidam-sidecar/core/test/util"
)

func TestStore_SaveState_VersionsMonotonically(t *testing.T) {
	client := util.SetupTestDatabase(t)
	s := New(client)
	ctx := context.Background()

	saved1, err := s.SaveState(ctx, "session-1", "first snapshot", "/tmp/session-1.tail", 42)
	require.NoError(t, err)
	require.Equal(t, 1, saved1.Version)

	saved2, err := s.SaveState(ctx, "session-1", "second snapshot", "/tmp/session-1.tail", 80)
	require.NoError(t, err)
	require.Equal(t, 2, saved2.Version)

	latest, err := s.LatestState(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, "second snapshot", latest.StateText)
	require.Equal(t, 2, latest.Version)
	require.Equal(t, 80, latest.TokenEstimate)
}

func TestStore_LatestState_NotFound(t *testing.T) {
	client := util.SetupTestDatabase(t)
	s := New(client)
	ctx := context.Background()

	_, err := s.LatestState(ctx, "never-saved")
	require.Error(t, err)
	var nf *aidamerr.NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestStore_RefreshTailPath(t *testing.T) {
	client := util.SetupTestDatabase(t)
	s := New(client)
	ctx := context.Background()

	_, err := s.SaveState(ctx, "session-2", "snapshot", "/tmp/old.tail", 10)
	require.NoError(t, err)

	require.NoError(t, s.RefreshTailPath(ctx, "session-2", "/tmp/new.tail"))

	latest, err := s.LatestState(ctx, "session-2")
	require.NoError(t, err)
	require.Equal(t, "/tmp/new.tail", latest.RawTailPath)
	// RefreshTailPath updates the latest row in place; it does not bump the
	// version, since it carries no new structured state.
	require.Equal(t, 1, latest.Version)
}

func TestStore_RefreshTailPath_UnknownSessionIsNotFound(t *testing.T) {
	client := util.SetupTestDatabase(t)
	s := New(client)
	ctx := context.Background()

	err := s.RefreshTailPath(ctx, "never-saved", "/tmp/new.tail")
	require.Error(t, err)
	var nf *aidamerr.NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestStore_SaveState_IndependentPerSession(t *testing.T) {
	client := util.SetupTestDatabase(t)
	s := New(client)
	ctx := context.Background()

	_, err := s.SaveState(ctx, "session-a", "a state", "/tmp/a.tail", 5)
	require.NoError(t, err)
	savedB, err := s.SaveState(ctx, "session-b", "b state", "/tmp/b.tail", 5)
	require.NoError(t, err)
	require.Equal(t, 1, savedB.Version)

	latestA, err := s.LatestState(ctx, "session-a")
	require.NoError(t, err)
	require.Equal(t, "a state", latestA.StateText)
}

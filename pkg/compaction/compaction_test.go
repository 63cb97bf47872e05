package compaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aidam-sidecar/core/pkg/inbox"
	"github.com/aidam-sidecar/core/pkg/sessionstate"
	"github.com/aidam-sidecar/core/test/util"
)

func noSleep(time.Duration) {}

func newCoordinator(t *testing.T) (*Coordinator, *sessionstate.Store) {
	t.Helper()
	client := util.SetupTestDatabase(t)
	states := sessionstate.New(client)
	bus := inbox.New(client)
	return New(states, bus).WithSleeper(noSleep), states
}

func TestCoordinator_TriggerAndAwait_TimesOutWithoutAgentReply(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	_, err := c.TriggerAndAwait(ctx, "session-1")
	require.Error(t, err)
}

func TestCoordinator_TriggerAndAwait_ReturnsOnceVersionAdvances(t *testing.T) {
	client := util.SetupTestDatabase(t)
	states := sessionstate.New(client)
	bus := inbox.New(client)
	ctx := context.Background()

	_, err := states.SaveState(ctx, "session-2", "initial state", "/tmp/s.tail", 5)
	require.NoError(t, err)

	// The injected sleeper stands in for the ~1s poll interval: on its first
	// invocation it performs the write a background learner agent would
	// have produced by then, so the very next poll iteration observes it.
	wrote := false
	sleepAndWrite := func(time.Duration) {
		if !wrote {
			wrote = true
			_, _ = states.SaveState(ctx, "session-2", "fresh compacted state", "/tmp/s.tail", 10)
		}
	}
	c := New(states, bus).WithSleeper(sleepAndWrite)

	state, err := c.TriggerAndAwait(ctx, "session-2")
	require.NoError(t, err)
	require.Equal(t, "fresh compacted state", state.StateText)
	require.Equal(t, 2, state.Version)
}

func TestCoordinator_EmergencyCompact(t *testing.T) {
	c, states := newCoordinator(t)
	ctx := context.Background()

	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "transcript.jsonl")
	content := `{"message":{"role":"user","content":"implement the retry logic"}}
{"message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"go build"}}]}}
{"message":{"role":"user","content":"also write tests for it"}}
`
	require.NoError(t, os.WriteFile(transcriptPath, []byte(content), 0o644))

	state, err := c.EmergencyCompact(ctx, "session-3", transcriptPath)
	require.NoError(t, err)
	require.Equal(t, 1, state.Version)
	require.Contains(t, state.StateText, "implement the retry logic")
	require.Contains(t, state.StateText, "also write tests for it")
	require.Contains(t, state.StateText, "Bash: 1")

	tailContent, err := ReadTailFile(state.RawTailPath)
	require.NoError(t, err)
	require.NotEmpty(t, tailContent)

	latest, err := states.LatestState(ctx, "session-3")
	require.NoError(t, err)
	require.Equal(t, state.ID, latest.ID)
}

func TestCoordinator_RefreshTail_UpdatesOnlyTailPath(t *testing.T) {
	c, states := newCoordinator(t)
	ctx := context.Background()

	_, err := states.SaveState(ctx, "session-4", "existing structured state", "/tmp/old.tail", 5)
	require.NoError(t, err)

	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "transcript.jsonl")
	require.NoError(t, os.WriteFile(transcriptPath, []byte(
		`{"message":{"role":"user","content":"more conversation after the last compaction"}}`+"\n"), 0o644))

	require.NoError(t, c.RefreshTail(ctx, "session-4", transcriptPath))

	latest, err := states.LatestState(ctx, "session-4")
	require.NoError(t, err)
	require.Equal(t, "existing structured state", latest.StateText)
	require.Equal(t, 1, latest.Version)
	require.NotEqual(t, "/tmp/old.tail", latest.RawTailPath)

	tailContent, err := ReadTailFile(latest.RawTailPath)
	require.NoError(t, err)
	require.Contains(t, tailContent, "more conversation after the last compaction")
}

func TestTailPath_SiblingOfTranscriptDir(t *testing.T) {
	path := TailPath("/home/user/.claude/transcripts/session.jsonl", "session-5", "refresh")
	require.Equal(t, "/home/user/.claude/transcripts/compactor_tails/session-5_refresh.txt", path)
}

func TestWriteAndReadTailFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tail.txt")
	require.NoError(t, WriteTailFile(path, "raw tail content"))

	got, err := ReadTailFile(path)
	require.NoError(t, err)
	require.Equal(t, "raw tail content", got)
}

package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aidam-sidecar/core/pkg/compaction"
	"github.com/aidam-sidecar/core/pkg/inbox"
	"github.com/aidam-sidecar/core/pkg/orchestrator"
	"github.com/aidam-sidecar/core/pkg/retrieval"
	"github.com/aidam-sidecar/core/pkg/sessionstate"
	"github.com/aidam-sidecar/core/test/util"
)

func noSleep(time.Duration) {}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	client := util.SetupTestDatabase(t)
	bus := inbox.New(client)
	orch := orchestrator.New(client)
	states := sessionstate.New(client)
	retr := retrieval.New(bus).WithSleeper(noSleep)
	comp := compaction.New(states, bus).WithSleeper(noSleep)
	return NewAdapter(bus, orch, states, retr, comp, nil).WithSleeper(noSleep)
}

func TestAdapter_HandleUserPromptSubmit_DisabledRetrieverNoOps(t *testing.T) {
	a := newTestAdapter(t)
	a.MemoryRetrieverEnabled = false

	out, blocked, stderr, err := a.HandleUserPromptSubmit(context.Background(), PromptSubmitInput{
		SessionID: "session-1", Prompt: "what do we know about this repo?",
	})
	require.NoError(t, err)
	require.False(t, blocked)
	require.Equal(t, "", stderr)
	require.Nil(t, out)
}

func TestAdapter_HandleUserPromptSubmit_NoReplyYieldsNilOutput(t *testing.T) {
	a := newTestAdapter(t)

	out, blocked, _, err := a.HandleUserPromptSubmit(context.Background(), PromptSubmitInput{
		SessionID: "session-2", Prompt: "anything relevant here?",
	})
	require.NoError(t, err)
	require.False(t, blocked)
	require.Nil(t, out)
}

func TestAdapter_HandlePostToolUse_SkipsReadOnlyTools(t *testing.T) {
	a := newTestAdapter(t)

	err := a.HandlePostToolUse(context.Background(), PostToolUseInput{
		SessionID: "session-3", ToolName: "Read",
	})
	require.NoError(t, err)
}

func TestAdapter_HandlePostToolUse_DisabledLearnerNoOps(t *testing.T) {
	a := newTestAdapter(t)
	a.MemoryLearnerEnabled = false

	err := a.HandlePostToolUse(context.Background(), PostToolUseInput{
		SessionID: "session-4", ToolName: "Bash",
	})
	require.NoError(t, err)
}

func TestAdapter_HandlePostToolUse_EnqueuesJobForWriteTools(t *testing.T) {
	a := newTestAdapter(t)

	err := a.HandlePostToolUse(context.Background(), PostToolUseInput{
		SessionID:    "session-5",
		ToolName:     "Bash",
		ToolInput:    []byte(`{"command":"go build ./..."}`),
		ToolResponse: []byte(`{"exit_code":0}`),
	})
	require.NoError(t, err)

	job, err := a.Bus.ClaimJob(context.Background(), inbox.MessageToolUse)
	require.NoError(t, err)
	require.Equal(t, "session-5", job.SessionID)
}

func TestAdapter_HandleSessionEnd_IgnoresNonClearReasons(t *testing.T) {
	a := newTestAdapter(t)
	err := a.HandleSessionEnd(context.Background(), SessionEndInput{SessionID: "session-6", Reason: "other"})
	require.NoError(t, err)
}

func TestAdapter_HandleSessionEnd_EmergencyCompactsWithNoPriorState(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Orchestrator.Start(ctx, "session-7", 123))

	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "transcript.jsonl")
	require.NoError(t, os.WriteFile(transcriptPath, []byte(
		`{"message":{"role":"user","content":"implement the feature"}}`+"\n"), 0o644))

	err := a.HandleSessionEnd(ctx, SessionEndInput{
		SessionID: "session-7", Reason: "clear", TranscriptPath: transcriptPath,
	})
	require.NoError(t, err)

	latest, err := a.SessionStates.LatestState(ctx, "session-7")
	require.NoError(t, err)
	require.Contains(t, latest.StateText, "implement the feature")
}

func TestAdapter_HandleSessionStart_HandsOffClearedSession(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Orchestrator.Start(ctx, "session-old", 1))

	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "transcript.jsonl")
	require.NoError(t, os.WriteFile(transcriptPath, []byte(
		`{"message":{"role":"user","content":"the important prior work"}}`+"\n"), 0o644))
	require.NoError(t, a.HandleSessionEnd(ctx, SessionEndInput{
		SessionID: "session-old", Reason: "clear", TranscriptPath: transcriptPath,
	}))

	out, err := a.HandleSessionStart(ctx, SessionStartInput{
		SessionID: "session-new", Source: "clear",
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Contains(t, out.HookSpecificOutput.AdditionalContext, "the important prior work")
}

func TestAdapter_HandleSessionStart_IgnoresNonClearCompactSources(t *testing.T) {
	a := newTestAdapter(t)
	out, err := a.HandleSessionStart(context.Background(), SessionStartInput{
		SessionID: "session-x", Source: "startup",
	})
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestFilterMetadataLines(t *testing.T) {
	tail := "[USER] hello\n[TOOL_RESULTS:aabbccdd] file dump\n[CLAUDE] reply\n[TOOLS] listing"
	got := filterMetadataLines(tail)
	require.Contains(t, got, "[USER] hello")
	require.Contains(t, got, "[CLAUDE] reply")
	require.NotContains(t, got, "[TOOL_RESULTS:")
	require.NotContains(t, got, "[TOOLS]")
}

func TestAssembleHandoffContext_TruncatesFromStartWhenOverCap(t *testing.T) {
	state := "STATE HEADER"
	tail := ""
	for i := 0; i < 50; i++ {
		tail += "older line that should be dropped\n"
	}
	tail += "MOST RECENT LINE"

	got := assembleHandoffContext(state, tail, 40)
	require.LessOrEqual(t, len(got), 40)
	require.Contains(t, got, "MOST RECENT LINE")
}

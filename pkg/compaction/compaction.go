// Package compaction implements the Compaction Coordinator: triggering and
// awaiting an agent-produced structured summary, the emergency fallback
// extractor used when a session is cleared before any real compaction
// exists, and the raw-tail refresher that keeps the tail current between
// compactions.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
	"github.com/aidam-sidecar/core/pkg/inbox"
	"github.com/aidam-sidecar/core/pkg/sessionstate"
)

const (
	triggeredPollIterations = 30
	triggeredPollInterval   = time.Second

	// tailDirName is the sibling-of-transcript directory raw tails are
	// written under.
	tailDirName = "compactor_tails"
)

// Coordinator drives the three compaction entry points over a
// sessionstate.Store and inbox.Bus.
type Coordinator struct {
	states *sessionstate.Store
	bus    *inbox.Bus
	sleep  func(time.Duration)
}

// New builds a Coordinator.
func New(states *sessionstate.Store, bus *inbox.Bus) *Coordinator {
	return &Coordinator{states: states, bus: bus, sleep: time.Sleep}
}

// WithSleeper overrides the poll loop's sleep function (tests).
func (c *Coordinator) WithSleeper(sleep func(time.Duration)) *Coordinator {
	c.sleep = sleep
	return c
}

// TriggerAndAwait enqueues a forced compactor_trigger job and polls
// latestState's version once per second for up to 30s, returning the new
// state once version increases past the version observed at call time, or
// aidamerr.TimeoutError otherwise.
func (c *Coordinator) TriggerAndAwait(ctx context.Context, sessionID string) (*sessionstate.State, error) {
	startVersion := 0
	if current, err := c.states.LatestState(ctx, sessionID); err == nil {
		startVersion = current.Version
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("failed to read current session state: %w", err)
	}

	if _, err := c.bus.EnqueueJob(ctx, sessionID, inbox.MessageCompactorTrigger, map[string]any{"force": true}); err != nil {
		return nil, fmt.Errorf("failed to enqueue compactor trigger: %w", err)
	}

	for i := 0; i < triggeredPollIterations; i++ {
		c.sleep(triggeredPollInterval)

		state, err := c.states.LatestState(ctx, sessionID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to poll session state: %w", err)
		}
		if state.Version > startVersion {
			return state, nil
		}
	}

	return nil, aidamerr.NewTimeoutError("triggered compaction", "30s")
}

// EmergencyCompact is invoked when the host clears a session before any
// real compaction exists.
// It parses the transcript directly, derives a minimal structured summary
// and a capped raw tail, writes the tail file, and saves a new SessionState
// (version 1 if none existed).
func (c *Coordinator) EmergencyCompact(ctx context.Context, sessionID, transcriptPath string) (*sessionstate.State, error) {
	transcript, err := ParseTranscript(transcriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transcript for emergency compaction: %w", err)
	}

	histogram := transcript.ToolHistogram()
	stateText := formatEmergencySummary(transcript.FirstUserText(), transcript.LastUserText(), histogram)
	tail := ExtractTail(transcript, maxEmergencyTailChars)

	tailPath := TailPath(transcriptPath, sessionID, "")
	if err := WriteTailFile(tailPath, tail); err != nil {
		return nil, fmt.Errorf("failed to write emergency tail file: %w", err)
	}

	tokenEstimate := estimateTokens(stateText) + estimateTokens(tail)
	state, err := c.states.SaveState(ctx, sessionID, stateText, tailPath, tokenEstimate)
	if err != nil {
		return nil, fmt.Errorf("failed to save emergency session state: %w", err)
	}
	return state, nil
}

// RefreshTail re-extracts the tail from the current transcript (which may
// contain messages produced after the last agentic compaction) and updates
// only the latest SessionState row's raw_tail_path. Unlike the emergency
// compactor it records [TOOLS] metadata lines, since a refreshed tail sits
// next to an agent-written summary that no longer carries a tool histogram.
func (c *Coordinator) RefreshTail(ctx context.Context, sessionID, transcriptPath string) error {
	transcript, err := ParseTranscript(transcriptPath)
	if err != nil {
		return fmt.Errorf("failed to parse transcript for tail refresh: %w", err)
	}

	tail := ExtractTailWithTools(transcript, maxEmergencyTailChars)
	tailPath := TailPath(transcriptPath, sessionID, "refresh")
	if err := WriteTailFile(tailPath, tail); err != nil {
		return fmt.Errorf("failed to write refreshed tail file: %w", err)
	}

	if err := c.states.RefreshTailPath(ctx, sessionID, tailPath); err != nil {
		return fmt.Errorf("failed to refresh tail path: %w", err)
	}
	return nil
}

// TailPath computes the compactor_tails/<session_id>[_suffix].txt path
// sibling to the transcript file.
func TailPath(transcriptPath, sessionID, suffix string) string {
	dir := filepath.Join(filepath.Dir(transcriptPath), tailDirName)
	name := sessionID
	if suffix != "" {
		name += "_" + suffix
	}
	return filepath.Join(dir, name+".txt")
}

// WriteTailFile writes tail content to path, creating parent directories as
// needed. Raw-tail files are per-session and written from scratch each
// time, never edited in place.
func WriteTailFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create tail directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write tail file %s: %w", path, err)
	}
	return nil
}

// ReadTailFile reads a raw-tail file back, used by the SessionStart
// injector.
func ReadTailFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read tail file %s: %w", path, err)
	}
	return string(data), nil
}

func formatEmergencySummary(goal, currentTask string, histogram []ToolCount) string {
	var b strings.Builder
	b.WriteString("=== EMERGENCY COMPACTION SUMMARY ===\n")
	b.WriteString("Session goal: ")
	b.WriteString(firstNonEmpty(goal, "(no user message recorded)"))
	b.WriteString("\nCurrent task: ")
	b.WriteString(firstNonEmpty(currentTask, "(no user message recorded)"))
	b.WriteString("\nTool usage (top 10):\n")
	if len(histogram) == 0 {
		b.WriteString("  (no tool calls recorded)\n")
	}
	for _, h := range histogram {
		fmt.Fprintf(&b, "  %s: %d\n", h.Name, h.Count)
	}
	return b.String()
}

func firstNonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// estimateTokens gives a rough token_estimate consistent with the common
// "~4 chars per token" heuristic; SessionState.token_estimate is advisory
// only, never load-bearing for protocol correctness.
func estimateTokens(s string) int {
	return len(s) / 4
}

func isNotFound(err error) bool {
	var nf *aidamerr.NotFoundError
	return errors.As(err, &nf)
}

package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
	"github.com/aidam-sidecar/core/pkg/compaction"
	"github.com/aidam-sidecar/core/pkg/inbox"
	"github.com/aidam-sidecar/core/pkg/orchestrator"
	"github.com/aidam-sidecar/core/pkg/retrieval"
	"github.com/aidam-sidecar/core/pkg/sessionstate"
)

// sessionStartInjectionCap is the known host-side limit on additionalContext
// for SessionStart.
const sessionStartInjectionCap = 38000

// sessionStartConsumeRetries/interval retry the DB hand-off lookup, since
// the previous session's agents may still be racing to mark it cleared.
const (
	sessionStartConsumeRetries  = 3
	sessionStartConsumeInterval = 500 * time.Millisecond
)

// Adapter wires the four hook event handlers to their backing coordinators.
type Adapter struct {
	Bus           *inbox.Bus
	Orchestrator  *orchestrator.Registry
	SessionStates *sessionstate.Store
	Retrieval     *retrieval.Coordinator
	Compaction    *compaction.Coordinator
	Commands      *CommandRouter

	// LegacyMarkerDir, when non-empty, is consulted by SessionStart only
	// when the DB lookup finds nothing.
	LegacyMarkerDir string

	// MemoryRetrieverEnabled/MemoryLearnerEnabled mirror the
	// AIDAM_MEMORY_RETRIEVER/AIDAM_MEMORY_LEARNER .env toggles: when false,
	// the corresponding hook never populates that agent's queue. Default true.
	MemoryRetrieverEnabled bool
	MemoryLearnerEnabled   bool

	sleep func(time.Duration)
}

// NewAdapter builds an Adapter with both memory agent toggles enabled.
// sleep defaults to time.Sleep; tests may override it via WithSleeper.
func NewAdapter(bus *inbox.Bus, orch *orchestrator.Registry, states *sessionstate.Store, retr *retrieval.Coordinator, comp *compaction.Coordinator, commands *CommandRouter) *Adapter {
	return &Adapter{
		Bus: bus, Orchestrator: orch, SessionStates: states,
		Retrieval: retr, Compaction: comp, Commands: commands,
		MemoryRetrieverEnabled: true, MemoryLearnerEnabled: true,
		sleep: time.Sleep,
	}
}

// WithSleeper overrides the retry-loop sleep function (tests).
func (a *Adapter) WithSleeper(sleep func(time.Duration)) *Adapter {
	a.sleep = sleep
	return a
}

// HandleUserPromptSubmit handles the UserPromptSubmit event. If
// blocked is true, the caller should exit 2 without printing stdout (the
// command's own stderr, if any, is in CommandResult.Stderr); otherwise the
// returned Output (possibly nil) should be printed and the caller exits 0.
func (a *Adapter) HandleUserPromptSubmit(ctx context.Context, in PromptSubmitInput) (out *Output, blocked bool, stderr string, err error) {
	if a.Commands != nil && strings.HasPrefix(in.Prompt, "/") {
		result, err := a.Commands.Dispatch(ctx, in.Prompt)
		if err != nil {
			return nil, false, "", fmt.Errorf("command dispatch failed: %w", err)
		}
		if result.Matched {
			return nil, true, result.Stderr, nil
		}
	}

	if !a.MemoryRetrieverEnabled {
		return nil, false, "", nil
	}

	additionalContext, err := a.Retrieval.OnUserPromptSubmit(ctx, in.SessionID, in.Prompt)
	if err != nil {
		return nil, false, "", fmt.Errorf("retrieval coordinator failed: %w", err)
	}
	return NewOutput("UserPromptSubmit", additionalContext), false, "", nil
}

// PostToolUsePayload is the cognitive_inbox job body enqueued for a tool_use
// event, carrying truncated copies of the tool's input/response.
type PostToolUsePayload struct {
	ToolName     string `json:"tool_name"`
	ToolInput    any    `json:"tool_input"`
	ToolResponse any    `json:"tool_response"`
}

// HandlePostToolUse records a mutating tool invocation for the Learner.
func (a *Adapter) HandlePostToolUse(ctx context.Context, in PostToolUseInput) error {
	if IsReadOnlyTool(in.ToolName) {
		return nil
	}
	if !a.MemoryLearnerEnabled {
		return nil
	}

	var inputAny, responseAny any
	_ = jsonUnmarshalLenient(truncateField(in.ToolInput), &inputAny)
	_ = jsonUnmarshalLenient(truncateField(in.ToolResponse), &responseAny)

	payload := PostToolUsePayload{
		ToolName:     in.ToolName,
		ToolInput:    inputAny,
		ToolResponse: responseAny,
	}
	if _, err := a.Bus.EnqueueJob(ctx, in.SessionID, inbox.MessageToolUse, payload); err != nil {
		return fmt.Errorf("failed to enqueue tool_use job: %w", err)
	}
	return nil
}

// HandleSessionEnd runs the clear-time compaction/tail-refresh hand-off.
func (a *Adapter) HandleSessionEnd(ctx context.Context, in SessionEndInput) error {
	if in.Reason != "clear" {
		return nil
	}

	if err := a.Orchestrator.MarkClearing(ctx, in.SessionID); err != nil {
		return fmt.Errorf("failed to mark session clearing: %w", err)
	}

	_, err := a.SessionStates.LatestState(ctx, in.SessionID)
	switch {
	case err == nil:
		if err := a.Compaction.RefreshTail(ctx, in.SessionID, in.TranscriptPath); err != nil {
			return fmt.Errorf("failed to refresh tail: %w", err)
		}
	case isNotFoundErr(err):
		if _, err := a.Compaction.EmergencyCompact(ctx, in.SessionID, in.TranscriptPath); err != nil {
			return fmt.Errorf("failed emergency compaction: %w", err)
		}
	default:
		return fmt.Errorf("failed to check existing session state: %w", err)
	}

	if err := a.Orchestrator.MarkCleared(ctx, in.SessionID); err != nil {
		return fmt.Errorf("failed to mark session cleared: %w", err)
	}
	if a.LegacyMarkerDir != "" {
		writeLegacyMarker(a.LegacyMarkerDir, in.SessionID)
	}
	return nil
}

// HandleSessionStart injects the previous cleared session's state into the
// fresh session, when one is available.
func (a *Adapter) HandleSessionStart(ctx context.Context, in SessionStartInput) (*Output, error) {
	if in.Source != "clear" && in.Source != "compact" {
		return nil, nil
	}

	previousSessionID, err := a.consumePreviousClearedWithRetry(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume previous cleared session: %w", err)
	}
	if previousSessionID == "" && a.LegacyMarkerDir != "" {
		previousSessionID = readLegacyMarker(a.LegacyMarkerDir, in.SessionID)
	}
	if previousSessionID == "" {
		return nil, nil
	}

	state, err := a.SessionStates.LatestState(ctx, previousSessionID)
	if err != nil {
		if isNotFoundErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest state for %s: %w", previousSessionID, err)
	}

	tail, err := compaction.ReadTailFile(state.RawTailPath)
	if err != nil {
		// A missing tail file degrades to structured-state-only injection
		// rather than failing the hook outright.
		tail = ""
	}

	additionalContext := assembleHandoffContext(state.StateText, tail, sessionStartInjectionCap)
	return NewOutput("SessionStart", additionalContext), nil
}

func (a *Adapter) consumePreviousClearedWithRetry(ctx context.Context, newSessionID string) (string, error) {
	for attempt := 0; attempt < sessionStartConsumeRetries; attempt++ {
		previous, err := a.Orchestrator.ConsumePreviousCleared(ctx, newSessionID)
		if err != nil {
			return "", err
		}
		if previous != "" {
			return previous, nil
		}
		if attempt < sessionStartConsumeRetries-1 {
			a.sleep(sessionStartConsumeInterval)
		}
	}
	return "", nil
}

// assembleHandoffContext prepends the structured state to the raw tail
// (with [TOOL_RESULTS]/[TOOLS] metadata lines filtered out), truncating the
// tail from the beginning if the combined text would exceed cap.
func assembleHandoffContext(stateText, tail string, maxChars int) string {
	filtered := filterMetadataLines(tail)

	header := stateText
	if header != "" {
		header += "\n\n"
	}

	remaining := maxChars - len(header)
	if remaining < 0 {
		return header[:maxChars]
	}
	if len(filtered) > remaining {
		filtered = filtered[len(filtered)-remaining:]
	}
	return header + filtered
}

func filterMetadataLines(tail string) string {
	lines := strings.Split(tail, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if compaction.IsMetadataLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isNotFoundErr(err error) bool {
	var nf *aidamerr.NotFoundError
	return errors.As(err, &nf)
}

func jsonUnmarshalLenient(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

// writeLegacyMarker and readLegacyMarker implement the one-shot marker-file
// fallback for cross-session hand-off. The DB cleared->injected transition
// is primary; the marker is consulted only when it finds nothing.
func writeLegacyMarker(dir, sessionID string) {
	path := filepath.Join(dir, "last_cleared_session")
	_ = os.MkdirAll(dir, 0o755)
	_ = os.WriteFile(path, []byte(sessionID), 0o644)
}

func readLegacyMarker(dir, excludeSessionID string) string {
	path := filepath.Join(dir, "last_cleared_session")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sessionID := strings.TrimSpace(string(data))
	if sessionID == "" || sessionID == excludeSessionID {
		return ""
	}
	_ = os.Remove(path)
	return sessionID
}

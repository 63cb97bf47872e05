package compaction

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractTail_TagsUserAssistantAndToolResults(t *testing.T) {
	tr := &Transcript{Lines: []TranscriptLine{
		{Role: "user", Texts: []string{"fix the flaky test"}},
		{Role: "assistant", Texts: []string{"looking now"}, ToolUses: []ToolUse{
			{ID: "toolu_aaaaaaaabbbbcccc", Name: "Bash", Input: json.RawMessage(`{"command":"go test ./..."}`)},
		}},
		{Role: "user", ToolResults: []ToolResult{{ToolUseID: "toolu_aaaaaaaabbbbcccc", Text: "ok\n"}}},
	}}

	out := ExtractTail(tr, maxEmergencyTailChars)
	require.Contains(t, out, "[USER] fix the flaky test")
	require.Contains(t, out, "[CLAUDE] looking now")
	require.Contains(t, out, "[TOOL_RESULTS:bbbbcccc]")
	require.Contains(t, out, "ok")
}

func TestExtractTail_ActivePlanReplacementKeepsOnlyLatest(t *testing.T) {
	planInput := func(content string) json.RawMessage {
		b, _ := json.Marshal(map[string]string{"file_path": ".claude/plans/current.md", "content": content})
		return json.RawMessage(b)
	}
	tr := &Transcript{Lines: []TranscriptLine{
		{Role: "assistant", ToolUses: []ToolUse{{Name: "Write", Input: planInput("plan v1")}}},
		{Role: "user", Texts: []string{"keep going"}},
		{Role: "assistant", ToolUses: []ToolUse{{Name: "Write", Input: planInput("plan v2")}}},
	}}

	out := ExtractTail(tr, maxEmergencyTailChars)
	require.Contains(t, out, "PLAN[.claude/plans/current.md]: plan v2")
	require.NotContains(t, out, "plan v1")
}

func TestExtractTail_EmergencyShapeOmitsToolLines(t *testing.T) {
	writeInput, _ := json.Marshal(map[string]string{"file_path": "src/main.go", "content": "package main"})
	tr := &Transcript{Lines: []TranscriptLine{
		{Role: "assistant", ToolUses: []ToolUse{{Name: "Write", Input: json.RawMessage(writeInput)}}},
	}}

	// The emergency shape summarizes tool usage in its histogram instead of
	// the tail, so a tool-only turn contributes nothing here.
	out := ExtractTail(tr, maxEmergencyTailChars)
	require.Equal(t, "", strings.TrimSpace(out))
}

func TestExtractTailWithTools_PerToolArgumentPreviews(t *testing.T) {
	input := func(kv map[string]string) json.RawMessage {
		b, _ := json.Marshal(kv)
		return json.RawMessage(b)
	}
	tr := &Transcript{Lines: []TranscriptLine{
		{Role: "assistant", ToolUses: []ToolUse{
			{Name: "Read", Input: input(map[string]string{"file_path": "src/main.go"})},
			{Name: "Glob", Input: input(map[string]string{"pattern": "**/*.go"})},
			{Name: "Grep", Input: input(map[string]string{"pattern": "func main"})},
			{Name: "Bash", Input: input(map[string]string{"command": "go test ./..."})},
			{Name: "WebSearch", Input: input(map[string]string{"query": "irrelevant"})},
		}},
	}}

	out := ExtractTailWithTools(tr, maxEmergencyTailChars)
	require.Contains(t, out, "[TOOLS] ")
	require.Contains(t, out, "Read(src/main.go)")
	require.Contains(t, out, "Glob(**/*.go)")
	require.Contains(t, out, "Grep(func main)")
	require.Contains(t, out, "Bash(go test ./...)")
	require.Contains(t, out, "WebSearch")
	require.NotContains(t, out, "WebSearch(")
}

func TestExtractTailWithTools_TruncatesLongArguments(t *testing.T) {
	longPath := strings.Repeat("d/", 60) + "leaf.go"
	b, _ := json.Marshal(map[string]string{"file_path": longPath})
	tr := &Transcript{Lines: []TranscriptLine{
		{Role: "assistant", ToolUses: []ToolUse{{Name: "Edit", Input: json.RawMessage(b)}}},
	}}

	out := ExtractTailWithTools(tr, maxEmergencyTailChars)
	require.Contains(t, out, "leaf.go)")
	// Only the last 80 characters of the path survive.
	require.NotContains(t, out, longPath)
}

func TestExtractTailWithTools_PlanWriteExcludedFromToolsLine(t *testing.T) {
	planInput, _ := json.Marshal(map[string]string{"file_path": ".claude/plans/current.md", "content": "the plan"})
	bashInput, _ := json.Marshal(map[string]string{"command": "ls"})
	tr := &Transcript{Lines: []TranscriptLine{
		{Role: "assistant", ToolUses: []ToolUse{
			{Name: "Write", Input: json.RawMessage(planInput)},
			{Name: "Bash", Input: json.RawMessage(bashInput)},
		}},
	}}

	out := ExtractTailWithTools(tr, maxEmergencyTailChars)
	require.Contains(t, out, "PLAN[.claude/plans/current.md]: the plan")
	require.Contains(t, out, "[TOOLS] Bash(ls)")
	require.NotContains(t, out, "Write(")
}

func TestExtractTail_CapsAtMaxCharsKeepingMostRecent(t *testing.T) {
	tr := &Transcript{Lines: []TranscriptLine{
		{Role: "user", Texts: []string{"first message, should be dropped once capped"}},
		{Role: "user", Texts: []string{"most recent message"}},
	}}
	full := ExtractTail(tr, maxEmergencyTailChars)
	capped := ExtractTail(tr, 30)

	require.LessOrEqual(t, len(capped), 30)
	require.True(t, strings.HasSuffix(full, capped))
	require.Contains(t, capped, "recent message")
}

func TestIsMetadataLine(t *testing.T) {
	require.True(t, IsMetadataLine("[TOOL_RESULTS:aabbccdd] file contents"))
	require.True(t, IsMetadataLine("  [TOOLS] some tool listing"))
	require.False(t, IsMetadataLine("[USER] hello"))
	require.False(t, IsMetadataLine("plain conversational text"))
}

package compaction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// planPathMarker marks a Write tool_use as an active-plan update; only the
// most recent one is kept in the tail.
const planPathMarker = ".claude/plans/"

const (
	maxEmergencyTailChars = 80000
	maxPlanChunkChars     = 5000
)

// ExtractTail builds the chronologically ordered, tagged raw-tail text from
// a parsed transcript, capped at maxChars, applying USER/CLAUDE/TOOL_RESULTS
// tagging and the active-plan replacement rule. Tool invocations themselves
// are not recorded; this is the minimal shape the emergency compactor saves.
func ExtractTail(t *Transcript, maxChars int) string {
	return extractTail(t, maxChars, false)
}

// ExtractTailWithTools is ExtractTail plus one [TOOLS] metadata line per
// assistant turn summarizing its tool invocations (Read/Write/Edit/Glob/
// Grep/Bash get an argument preview, anything else just its name). The
// tail refresher uses this richer shape; plan-file Writes still go through
// the active-plan rule instead of the [TOOLS] line.
func ExtractTailWithTools(t *Transcript, maxChars int) string {
	return extractTail(t, maxChars, true)
}

func extractTail(t *Transcript, maxChars int, withTools bool) string {
	var chunks []string
	planIndex := -1

	appendChunk := func(s string) {
		if strings.TrimSpace(s) == "" {
			return
		}
		chunks = append(chunks, s)
	}

	for _, line := range t.Lines {
		switch line.Role {
		case "user":
			for _, text := range line.Texts {
				appendChunk("[USER] " + text)
			}
			for _, tr := range line.ToolResults {
				appendChunk(formatToolResult(tr))
			}
		case "assistant":
			for _, text := range line.Texts {
				appendChunk("[CLAUDE] " + text)
			}
			var toolMetas []string
			for _, tu := range line.ToolUses {
				if tu.Name == "Write" {
					if path := writeTargetPath(tu.Input); strings.Contains(path, planPathMarker) {
						plan := truncate(planSummary(tu.Input), maxPlanChunkChars)
						if planIndex >= 0 {
							chunks[planIndex] = plan
						} else {
							appendChunk(plan)
							planIndex = len(chunks) - 1
						}
						continue
					}
				}
				if withTools && tu.Name != "" {
					toolMetas = append(toolMetas, formatToolUse(tu))
				}
			}
			if len(toolMetas) > 0 {
				appendChunk("[TOOLS] " + strings.Join(toolMetas, " | "))
			}
		}
	}
	joined := strings.Join(chunks, "\n")
	return truncateFromStart(joined, maxChars)
}

// formatToolUse renders one tool invocation for a [TOOLS] line: the common
// file/search/shell tools carry a short argument preview, everything else
// is just the tool name.
func formatToolUse(tu ToolUse) string {
	var args struct {
		FilePath string `json:"file_path"`
		Pattern  string `json:"pattern"`
		Command  string `json:"command"`
	}
	_ = json.Unmarshal(tu.Input, &args)

	switch tu.Name {
	case "Read", "Write", "Edit":
		return tu.Name + "(" + lastChars(args.FilePath, 80) + ")"
	case "Glob":
		return tu.Name + "(" + args.Pattern + ")"
	case "Grep":
		return tu.Name + "(" + truncate(args.Pattern, 60) + ")"
	case "Bash":
		return tu.Name + "(" + truncate(args.Command, 100) + ")"
	default:
		return tu.Name
	}
}

// lastChars returns the last n characters of s, keeping the most specific
// part of a long file path.
func lastChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// formatToolResult renders a tool_result in the [TOOL_RESULTS] tagging
// scheme: a single line tagged with the last 8 characters of the
// tool_use_id, carrying a compressed summary instead of the raw payload.
func formatToolResult(tr ToolResult) string {
	suffix := tr.ToolUseID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	summary := summarizeToolResultText(tr.Text)
	return fmt.Sprintf("[TOOL_RESULTS:%s] %s", suffix, summary)
}

// IsMetadataLine reports whether a tail line is tool-result bookkeeping
// rather than conversational content, so the SessionStart injector can
// filter it out of the text it prepends to a fresh session.
func IsMetadataLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "[TOOL_RESULTS:") || strings.HasPrefix(trimmed, "[TOOLS]")
}

// summarizeToolResultText collapses a (possibly large) tool result payload
// into a single line: first non-empty line, truncated.
func summarizeToolResultText(text string) string {
	const maxLen = 500
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			return truncate(strings.TrimSpace(line), maxLen)
		}
	}
	return truncate(strings.TrimSpace(text), maxLen)
}

// writeTargetPath extracts the file_path argument from a Write tool_use's
// input, used to detect the .claude/plans/ active-plan convention.
func writeTargetPath(input json.RawMessage) string {
	var args struct {
		FilePath string `json:"file_path"`
	}
	if json.Unmarshal(input, &args) != nil {
		return ""
	}
	return args.FilePath
}

// planSummary extracts the full content written to an active plan file, to
// be preserved (up to maxPlanChunkChars) rather than compressed like other
// tool results.
func planSummary(input json.RawMessage) string {
	var args struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if json.Unmarshal(input, &args) != nil {
		return "PLAN: (unreadable)"
	}
	return fmt.Sprintf("PLAN[%s]: %s", args.FilePath, args.Content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// truncateFromStart returns the last maxChars characters of s, preserving
// the most recent (and most useful) conversation when the tail would
// otherwise exceed its cap.
func truncateFromStart(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	return s[len(s)-maxChars:]
}

package hooks

import "strings"

// readOnlySkipList enumerates tool names the PostToolUse hook never
// enqueues a job for: host-native read-only/query tools and the memory
// MCP server's own read tools, which would otherwise generate cognitive
// load on every retrieval the Learner has no use for.
var readOnlySkipList = map[string]bool{
	"Read":         true,
	"Glob":         true,
	"Grep":         true,
	"NotebookRead": true,
	"TodoRead":     true,
	"WebSearch":    true,
}

// readOnlyMCPPrefixes covers the read/search tools of this module's own MCP
// servers, as the host qualifies them (mcp__<server>__<tool>). The memory
// server's four search tools share the memory_search_ prefix; the raw-read
// and usage-report tools are listed individually.
var readOnlyMCPPrefixes = []string{
	"mcp__memory__memory_search",
	"mcp__memory__db_select",
	"mcp__memory__db_describe_schema",
	"mcp__aidam__aidam_usage",
}

// IsReadOnlyTool reports whether toolName should be skipped by PostToolUse.
func IsReadOnlyTool(toolName string) bool {
	if readOnlySkipList[toolName] {
		return true
	}
	for _, prefix := range readOnlyMCPPrefixes {
		if strings.HasPrefix(toolName, prefix) {
			return true
		}
	}
	return false
}

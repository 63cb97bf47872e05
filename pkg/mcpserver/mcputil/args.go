// Package mcputil holds small argument-extraction helpers shared by the
// sidecar's MCP servers (pkg/mcpserver/memory, pkg/mcpserver/aidam,
// pkg/mcpserver/sessioncontroller).
package mcputil

import "fmt"

// String extracts a required string argument.
func String(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%q argument is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string, got %T", key, v)
	}
	return s, nil
}

// StringOr extracts an optional string argument with a default.
func StringOr(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}
	return s
}

// Int extracts an optional integer argument with a default, tolerating the
// float64 JSON-number representation mcp-go decodes numeric arguments into.
func Int(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return def
	}
}

// Bool extracts an optional boolean argument with a default.
func Bool(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// StringSlice converts an interface{}-typed array argument (the JSON
// decoding of a string array) to []string.
func StringSlice(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, elem := range arr {
		if s, ok := elem.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

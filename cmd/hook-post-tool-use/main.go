// hook-post-tool-use is the PostToolUse hook binary: it
// enqueues a tool_use job for non-read-only tool calls and always exits 0.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aidam-sidecar/core/internal/wiring"
	"github.com/aidam-sidecar/core/pkg/hooks"
)

func main() {
	os.Exit(run())
}

// run always exits 0: any internal failure is logged to stderr and
// swallowed so this hook can never block the host session.
func run() int {
	var in hooks.PostToolUseInput
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		fmt.Fprintf(os.Stderr, "hook-post-tool-use: failed to decode stdin: %v\n", err)
		return 0
	}

	ctx := context.Background()
	app, err := wiring.Bootstrap(ctx, pluginRoot())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hook-post-tool-use: bootstrap failed: %v\n", err)
		return 0
	}
	defer app.Close()

	if err := app.Adapter.HandlePostToolUse(ctx, in); err != nil {
		fmt.Fprintf(os.Stderr, "hook-post-tool-use: %v\n", err)
		return 0
	}
	return 0
}

func pluginRoot() string {
	if v := os.Getenv("AIDAM_PLUGIN_ROOT"); v != "" {
		return v
	}
	return "."
}

// hook-prompt-submit is the UserPromptSubmit hook binary: it reads one JSON
// payload from stdin, runs the retrieval protocol (or dispatches a slash
// command), and prints at most one JSON object to stdout.
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

// run never returns a code other than 0 or 2: any internal failure is
// logged to stderr and swallowed (exit 0) so a misbehaving hook can never
// block the host session.
func run() int {
	var in hooks.PromptSubmitInput
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		fmt.Fprintf(os.Stderr, "hook-prompt-submit: failed to decode stdin: %v\n", err)
		return 0
	}

	ctx := context.Background()
	app, err := wiring.Bootstrap(ctx, pluginRoot())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hook-prompt-submit: bootstrap failed: %v\n", err)
		return 0
	}
	defer app.Close()

	out, blocked, stderr, err := app.Adapter.HandleUserPromptSubmit(ctx, in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hook-prompt-submit: %v\n", err)
		return 0
	}
	if blocked {
		if stderr != "" {
			fmt.Fprint(os.Stderr, stderr)
		}
		return 2
	}
	if out != nil {
		if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "hook-prompt-submit: failed to encode output: %v\n", err)
			return 0
		}
	}
	return 0
}

func pluginRoot() string {
	if v := os.Getenv("AIDAM_PLUGIN_ROOT"); v != "" {
		return v
	}
	return "."
}

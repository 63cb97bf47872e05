// hook-session-start is the SessionStart hook binary: on a
// "clear" or "compact" source it consumes the previous session's cleared
// hand-off and injects its structured state plus raw tail.
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
	var in hooks.SessionStartInput
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		fmt.Fprintf(os.Stderr, "hook-session-start: failed to decode stdin: %v\n", err)
		return 0
	}

	ctx := context.Background()
	app, err := wiring.Bootstrap(ctx, pluginRoot())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hook-session-start: bootstrap failed: %v\n", err)
		return 0
	}
	defer app.Close()

	out, err := app.Adapter.HandleSessionStart(ctx, in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hook-session-start: %v\n", err)
		return 0
	}
	if out != nil {
		if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "hook-session-start: failed to encode output: %v\n", err)
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

// mcp-aidam serves the aidam MCP server over stdio.
package main

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/aidam-sidecar/core/internal/wiring"
	"github.com/aidam-sidecar/core/pkg/mcpserver/aidam"
)

func main() {
	ctx := context.Background()
	app, err := wiring.Bootstrap(ctx, pluginRoot())
	if err != nil {
		log.Fatalf("mcp-aidam: bootstrap failed: %v", err)
	}
	defer app.Close()

	srv := aidam.NewServer(app.Store, app.Tools, app.Compaction, app.Orch)
	if err := server.ServeStdio(srv); err != nil {
		log.Fatalf("mcp-aidam: server error: %v", err)
	}
}

func pluginRoot() string {
	if v := os.Getenv("AIDAM_PLUGIN_ROOT"); v != "" {
		return v
	}
	return "."
}

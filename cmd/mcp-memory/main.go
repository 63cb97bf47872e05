// mcp-memory serves the memory MCP server over stdio.
package main

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/aidam-sidecar/core/internal/wiring"
	"github.com/aidam-sidecar/core/pkg/mcpserver/memory"
)

func main() {
	ctx := context.Background()
	app, err := wiring.Bootstrap(ctx, pluginRoot())
	if err != nil {
		log.Fatalf("mcp-memory: bootstrap failed: %v", err)
	}
	defer app.Close()

	srv := memory.NewServer(app.Store)
	if err := server.ServeStdio(srv); err != nil {
		log.Fatalf("mcp-memory: server error: %v", err)
	}
}

func pluginRoot() string {
	if v := os.Getenv("AIDAM_PLUGIN_ROOT"); v != "" {
		return v
	}
	return "."
}

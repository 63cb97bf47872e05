// mcp-session serves the session-controller MCP server over stdio.
// Unlike the other two MCP binaries it needs no database
// connection: interactive sessions live only in this process's memory.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/aidam-sidecar/core/pkg/mcpserver/sessioncontroller"
	"github.com/aidam-sidecar/core/pkg/supervisor"
)

func main() {
	reg := supervisor.NewRegistry()
	srv := sessioncontroller.NewServer(reg)
	if err := server.ServeStdio(srv); err != nil {
		log.Fatalf("mcp-session: server error: %v", err)
	}
}

// Package sessioncontroller implements the session-controller MCP server:
// the tool surface for spawning and driving interactive PTY subprocesses
// via pkg/supervisor.
package sessioncontroller

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aidam-sidecar/core/pkg/mcpserver/mcputil"
	"github.com/aidam-sidecar/core/pkg/supervisor"
)

const defaultSendTimeout = 30 * time.Second

// NewServer builds the session-controller MCP server over reg.
func NewServer(reg *supervisor.Registry) *server.MCPServer {
	s := server.NewMCPServer("aidam-session-controller", "1.0.0", server.WithToolCapabilities(true))
	h := &handlers{registry: reg}

	s.AddTool(mcp.NewTool("session_start",
		mcp.WithDescription("Spawn an interactive subprocess on a pseudo-terminal; generates a session id when none is given"),
		mcp.WithString("session_id"),
		mcp.WithString("command", mcp.Required()),
		mcp.WithArray("args", mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("working_dir"),
		mcp.WithBoolean("plugin"),
	), h.start)

	s.AddTool(mcp.NewTool("session_send",
		mcp.WithDescription("Type a message into an interactive session and optionally wait for an idle-framed reply"),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("message", mcp.Required()),
		mcp.WithBoolean("wait"),
		mcp.WithNumber("timeout_seconds"),
	), h.send)

	s.AddTool(mcp.NewTool("session_send_keys",
		mcp.WithDescription("Send a sequence of named or literal key presses to an interactive session"),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithArray("keys", mcp.Required(), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithBoolean("wait"),
		mcp.WithNumber("timeout_seconds"),
	), h.sendKeys)

	s.AddTool(mcp.NewTool("session_read",
		mcp.WithDescription("Read accumulated, ANSI-scrubbed output from an interactive session"),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithNumber("offset"),
		mcp.WithNumber("max_chars"),
		mcp.WithString("filter"),
	), h.read)

	s.AddTool(mcp.NewTool("session_status",
		mcp.WithDescription("Report whether an interactive session is alive and its basic stats"),
		mcp.WithString("session_id", mcp.Required()),
	), h.status)

	s.AddTool(mcp.NewTool("session_stop",
		mcp.WithDescription("Stop an interactive session, escalating interrupt -> terminate -> kill"),
		mcp.WithString("session_id", mcp.Required()),
	), h.stop)

	return s
}

type handlers struct {
	registry *supervisor.Registry
}

func (h *handlers) start(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID := mcputil.StringOr(args, "session_id", "")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	command, err := mcputil.String(args, "command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := supervisor.SpawnOptions{
		Command:    command,
		Args:       mcputil.StringSlice(args, "args"),
		WorkingDir: mcputil.StringOr(args, "working_dir", ""),
		Plugin:     mcputil.Bool(args, "plugin", false),
	}
	if err := h.registry.Start(sessionID, opts); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("session " + sessionID + " started"), nil
}

func (h *handlers) send(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID, err := mcputil.String(args, "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := mcputil.String(args, "message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := h.registry.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	timeout := time.Duration(mcputil.Int(args, "timeout_seconds", 30)) * time.Second
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	wait := mcputil.Bool(args, "wait", true)

	response, err := sess.Send(ctx, message, timeout, wait)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(response), nil
}

func (h *handlers) sendKeys(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID, err := mcputil.String(args, "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	keys := mcputil.StringSlice(args, "keys")
	sess, err := h.registry.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	timeout := time.Duration(mcputil.Int(args, "timeout_seconds", 30)) * time.Second
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	wait := mcputil.Bool(args, "wait", false)

	response, err := sess.SendKeys(ctx, keys, timeout, wait)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !wait {
		return mcp.NewToolResultText("keys sent"), nil
	}
	return mcp.NewToolResultText(response), nil
}

func (h *handlers) read(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID, err := mcputil.String(args, "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := h.registry.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	offset := mcputil.Int(args, "offset", 0)
	maxChars := mcputil.Int(args, "max_chars", 4000)
	filter := mcputil.StringOr(args, "filter", "")

	return mcp.NewToolResultText(sess.Read(offset, maxChars, filter)), nil
}

func (h *handlers) status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID, err := mcputil.String(args, "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := h.registry.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(sess.Status())
}

func (h *handlers) stop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID, err := mcputil.String(args, "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	finalOutput, err := h.registry.Stop(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(finalOutput), nil
}

func textResultJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

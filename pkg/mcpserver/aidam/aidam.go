// Package aidam implements the aidam MCP server: the higher-level tool
// surface an agent or the host assistant calls directly to retrieve memory
// context, drill into a result, record a learning, manage generated tools,
// force a compaction, and read usage/budget status. All tools are thin
// wrappers over pkg/store, pkg/tools, pkg/compaction, and pkg/orchestrator.
package aidam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
	"github.com/aidam-sidecar/core/pkg/compaction"
	"github.com/aidam-sidecar/core/pkg/mcpserver/mcputil"
	"github.com/aidam-sidecar/core/pkg/orchestrator"
	"github.com/aidam-sidecar/core/pkg/store"
	"github.com/aidam-sidecar/core/pkg/tools"
)

// NewServer builds the aidam MCP server over the given coordinators.
func NewServer(st *store.Store, toolRegistry *tools.Registry, comp *compaction.Coordinator, orch *orchestrator.Registry) *server.MCPServer {
	s := server.NewMCPServer("aidam-core", "1.0.0", server.WithToolCapabilities(true))
	h := &handlers{store: st, tools: toolRegistry, compaction: comp, orchestrator: orch}

	s.AddTool(mcp.NewTool("aidam_retrieve",
		mcp.WithDescription("Retrieve memory context across learnings, patterns, errors, and the knowledge index for a query"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("limit"),
	), h.retrieve)

	s.AddTool(mcp.NewTool("aidam_deepen",
		mcp.WithDescription("Fetch the drill-down details recorded against a knowledge index entry"),
		mcp.WithNumber("knowledge_index_id", mcp.Required()),
	), h.deepen)

	s.AddTool(mcp.NewTool("aidam_learn",
		mcp.WithDescription("Record a learning under the current project"),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("body", mcp.Required()),
		mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"})),
		mcp.WithNumber("project_id"),
	), h.learn)

	s.AddTool(mcp.NewTool("aidam_create_tool",
		mcp.WithDescription("Register a generated script as a reusable, named tool"),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("description", mcp.Required()),
		mcp.WithString("file_path", mcp.Required()),
		mcp.WithString("language", mcp.Required()),
		mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"})),
	), h.createTool)

	s.AddTool(mcp.NewTool("aidam_use_tool",
		mcp.WithDescription("Execute a previously registered generated tool by name"),
		mcp.WithString("name", mcp.Required()),
		mcp.WithArray("args", mcp.Items(map[string]any{"type": "string"})),
	), h.useTool)

	s.AddTool(mcp.NewTool("aidam_smart_compact",
		mcp.WithDescription("Force a compaction cycle for the current session and await its structured summary"),
		mcp.WithString("session_id", mcp.Required()),
	), h.smartCompact)

	s.AddTool(mcp.NewTool("aidam_usage",
		mcp.WithDescription("Report per-agent invocation counts and budget status for a session; defaults to the running orchestrator's session"),
		mcp.WithString("session_id"),
	), h.usage)

	return s
}

type handlers struct {
	store        *store.Store
	tools        *tools.Registry
	compaction   *compaction.Coordinator
	orchestrator *orchestrator.Registry
}

type retrieveResult struct {
	Learnings []store.SearchResult `json:"learnings"`
	Patterns  []store.SearchResult `json:"patterns"`
	Errors    []store.SearchResult `json:"errors"`
	Knowledge []store.SearchResult `json:"knowledge"`
}

func (h *handlers) retrieve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, err := mcputil.String(args, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := mcputil.Int(args, "limit", 5)

	var result retrieveResult
	result.Learnings, _ = h.store.SearchLearnings(ctx, q, limit)
	result.Patterns, _ = h.store.SearchPatterns(ctx, q, limit)
	result.Errors, _ = h.store.SearchErrors(ctx, q, limit)
	result.Knowledge, err = h.store.SearchKnowledge(ctx, q, "", limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(result)
}

func (h *handlers) deepen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id := int64(mcputil.Int(args, "knowledge_index_id", 0))
	if id == 0 {
		return mcp.NewToolResultError("\"knowledge_index_id\" argument is required"), nil
	}
	details, err := h.store.GetKnowledgeDetails(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(details)
}

func (h *handlers) learn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	title, err := mcputil.String(args, "title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := mcputil.String(args, "body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var projectID *int64
	if raw, ok := args["project_id"]; ok {
		if f, ok := raw.(float64); ok {
			id := int64(f)
			projectID = &id
		}
	}
	id, err := h.store.AddLearning(ctx, projectID, title, body, mcputil.StringSlice(args, "tags"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("learning %d recorded", id)), nil
}

func (h *handlers) createTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, err := mcputil.String(args, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	desc, err := mcputil.String(args, "description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filePath, err := mcputil.String(args, "file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	language, err := mcputil.String(args, "language")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	tool, err := h.tools.Register(ctx, name, desc, filePath, tools.Language(language), mcputil.StringSlice(args, "tags"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(tool)
}

func (h *handlers) useTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, err := mcputil.String(args, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := h.tools.Execute(ctx, name, mcputil.StringSlice(args, "args"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(result)
}

func (h *handlers) smartCompact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID, err := mcputil.String(args, "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, err := h.compaction.TriggerAndAwait(ctx, sessionID)
	if err != nil {
		var te *aidamerr.TimeoutError
		if errors.As(err, &te) {
			// A timed-out compaction is a retryable condition, not a failure.
			return textResultJSON(map[string]string{
				"status": "timeout",
				"detail": "compaction did not finish in time; retry aidam_smart_compact",
			})
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(state)
}

func (h *handlers) usage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID := mcputil.StringOr(args, "session_id", "")
	if sessionID == "" {
		running, err := h.orchestrator.FindRunning(ctx)
		if err != nil {
			var nf *aidamerr.NotFoundError
			if errors.As(err, &nf) {
				return textResultJSON(map[string]string{"error": "No running AIDAM orchestrator found"})
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
		sessionID = running.SessionID
	}
	usages, err := h.orchestrator.ListAgentUsage(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if usages == nil {
		usages = []orchestrator.AgentUsage{}
	}
	return textResultJSON(usages)
}

func textResultJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

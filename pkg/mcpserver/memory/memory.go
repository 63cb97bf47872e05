// Package memory implements the memory MCP server: direct, synchronous
// CRUD/search access to the knowledge tables plus the raw
// db_select/db_execute/db_execute_migration_scoped/db_describe_schema
// surface the Curator agent uses to evolve its own schema.
package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aidam-sidecar/core/pkg/mcpserver/mcputil"
	"github.com/aidam-sidecar/core/pkg/store"
)

// NewServer builds the memory MCP server over st.
func NewServer(st *store.Store) *server.MCPServer {
	s := server.NewMCPServer("aidam-memory", "1.0.0", server.WithToolCapabilities(true))

	h := &handlers{store: st}

	s.AddTool(mcp.NewTool("memory_add_learning",
		mcp.WithDescription("Record a learning for future retrieval"),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("body", mcp.Required()),
		mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"})),
		mcp.WithNumber("project_id"),
	), h.addLearning)

	s.AddTool(mcp.NewTool("memory_search_learnings",
		mcp.WithDescription("Full-text search over recorded learnings"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("limit"),
	), h.searchLearnings)

	s.AddTool(mcp.NewTool("memory_add_pattern",
		mcp.WithDescription("Record a reusable pattern"),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("description", mcp.Required()),
		mcp.WithNumber("project_id"),
	), h.addPattern)

	s.AddTool(mcp.NewTool("memory_search_patterns",
		mcp.WithDescription("Full-text search over recorded patterns"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("limit"),
	), h.searchPatterns)

	s.AddTool(mcp.NewTool("memory_add_error_solution",
		mcp.WithDescription("Record an error/solution pair"),
		mcp.WithString("error_text", mcp.Required()),
		mcp.WithString("solution_text", mcp.Required()),
		mcp.WithNumber("project_id"),
	), h.addErrorSolution)

	s.AddTool(mcp.NewTool("memory_search_errors",
		mcp.WithDescription("Full-text search over recorded error/solution pairs"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("limit"),
	), h.searchErrors)

	s.AddTool(mcp.NewTool("memory_search_knowledge",
		mcp.WithDescription("Full-text search over the knowledge index, optionally scoped to one domain"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithString("domain"),
		mcp.WithNumber("limit"),
	), h.searchKnowledge)

	s.AddTool(mcp.NewTool("db_select",
		mcp.WithDescription("Run a read-only SELECT statement against the memory database"),
		mcp.WithString("query", mcp.Required()),
	), h.dbSelect)

	s.AddTool(mcp.NewTool("db_execute",
		mcp.WithDescription("Run an INSERT, UPDATE, or DELETE statement against the memory database"),
		mcp.WithString("query", mcp.Required()),
	), h.dbExecute)

	s.AddTool(mcp.NewTool("db_describe_schema",
		mcp.WithDescription("List every table and its columns in the memory database"),
	), h.dbDescribeSchema)

	s.AddTool(mcp.NewTool("db_execute_migration_scoped",
		mcp.WithDescription("Run a DDL migration restricted to a caller-declared set of whitelisted tables"),
		mcp.WithString("name", mcp.Required()),
		mcp.WithArray("allowed_tables", mcp.Required(), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("sql", mcp.Required()),
	), h.dbExecuteMigrationScoped)

	return s
}

type handlers struct {
	store *store.Store
}

func (h *handlers) addLearning(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	title, err := mcputil.String(args, "title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := mcputil.String(args, "body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags := mcputil.StringSlice(args, "tags")
	projectID := optionalProjectID(args)

	id, err := h.store.AddLearning(ctx, projectID, title, body, tags)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("learning %d recorded", id)), nil
}

func (h *handlers) searchLearnings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, err := mcputil.String(args, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := h.store.SearchLearnings(ctx, q, mcputil.Int(args, "limit", 10))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(results)
}

func (h *handlers) addPattern(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, err := mcputil.String(args, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	desc, err := mcputil.String(args, "description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := h.store.AddPattern(ctx, optionalProjectID(args), name, desc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("pattern %d recorded", id)), nil
}

func (h *handlers) searchPatterns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, err := mcputil.String(args, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := h.store.SearchPatterns(ctx, q, mcputil.Int(args, "limit", 10))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(results)
}

func (h *handlers) addErrorSolution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	errText, err := mcputil.String(args, "error_text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	solutionText, err := mcputil.String(args, "solution_text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := h.store.AddErrorSolution(ctx, optionalProjectID(args), errText, solutionText)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("error/solution %d recorded", id)), nil
}

func (h *handlers) searchErrors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, err := mcputil.String(args, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := h.store.SearchErrors(ctx, q, mcputil.Int(args, "limit", 10))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(results)
}

func (h *handlers) searchKnowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, err := mcputil.String(args, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := h.store.SearchKnowledge(ctx, q, mcputil.StringOr(args, "domain", ""), mcputil.Int(args, "limit", 10))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(results)
}

func (h *handlers) dbSelect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, err := mcputil.String(args, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := h.store.SelectQuery(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(rows)
}

func (h *handlers) dbExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, err := mcputil.String(args, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := h.store.ExecuteWrite(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d row(s) affected", n)), nil
}

func (h *handlers) dbDescribeSchema(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	schema, err := h.store.DescribeSchema(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResultJSON(schema)
}

func (h *handlers) dbExecuteMigrationScoped(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, err := mcputil.String(args, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sqlText, err := mcputil.String(args, "sql")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	allowedTables := mcputil.StringSlice(args, "allowed_tables")

	if err := h.store.ExecuteScopedMigration(ctx, name, allowedTables, sqlText); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("migration %q applied", name)), nil
}

func optionalProjectID(args map[string]any) *int64 {
	v, ok := args["project_id"]
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	id := int64(f)
	return &id
}

func textResultJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// Package tools implements the Tool Registry & Executor: scripts generated
// by the Learner/Curator agents are registered under a fixed tool root,
// then executed by name with a hard timeout. The path-prefix check in
// Register/resolve is the only sandboxing this module performs.
package tools

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/lib/pq"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
	"github.com/aidam-sidecar/core/pkg/database"
	"github.com/aidam-sidecar/core/pkg/store"
)

// Language enumerates generated_tools.language.
type Language string

const (
	LangBash       Language = "bash"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
)

const executeTimeout = 30 * time.Second

const (
	stdoutCap = 4000
	stderrCap = 2000
)

// GeneratedTool is one generated_tools row.
type GeneratedTool struct {
	ID          int64
	Name        string
	Description string
	FilePath    string
	Language    Language
	Tags        []string
	IsActive    bool
	UsageCount  int
}

// Registry registers and executes scripts under a fixed tool root.
type Registry struct {
	db       *sql.DB
	knowledge *store.Store
	toolRoot string
}

// New builds a Registry rooted at toolRoot (typically
// <HOME>/.claude/generated_tools/).
func New(client *database.Client, toolRoot string) *Registry {
	return &Registry{db: client.DB(), knowledge: store.New(client), toolRoot: toolRoot}
}

// NewFromDB builds a Registry over an already-open pool (tests).
func NewFromDB(db *sql.DB, toolRoot string) *Registry {
	return &Registry{db: db, knowledge: store.NewFromDB(db), toolRoot: toolRoot}
}

// Register resolves filePath under the tool root if relative, verifies the
// canonicalized path still lies under the canonicalized root, verifies the
// file exists, and upserts the generated_tools row plus a knowledge_index
// entry for retrieval.
func (r *Registry) Register(ctx context.Context, name, description, filePath string, language Language, tags []string) (*GeneratedTool, error) {
	resolved, err := r.resolveAndVerify(filePath)
	if err != nil {
		return nil, err
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO generated_tools (name, description, file_path, language, tags, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (name) DO UPDATE
			SET description = EXCLUDED.description,
			    file_path   = EXCLUDED.file_path,
			    language    = EXCLUDED.language,
			    tags        = EXCLUDED.tags,
			    is_active   = true
		RETURNING id
	`, name, description, resolved, language, pq.Array(tags)).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to register tool %q: %w", name, err)
	}

	if _, err := r.knowledge.UpsertKnowledgeIndex(ctx, "generated-tools", name, name, description); err != nil {
		return nil, fmt.Errorf("failed to index tool %q: %w", name, err)
	}

	return &GeneratedTool{
		ID: id, Name: name, Description: description, FilePath: resolved,
		Language: language, Tags: tags, IsActive: true,
	}, nil
}

// resolveAndVerify canonicalizes both the tool root and the target path and
// verifies the target begins with the root, rejecting path escape
// (including via symlinks, since EvalSymlinks resolves both).
func (r *Registry) resolveAndVerify(filePath string) (string, error) {
	target := filePath
	if !filepath.IsAbs(target) {
		target = filepath.Join(r.toolRoot, target)
	}

	canonicalRoot, err := canonicalize(r.toolRoot)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize tool root: %w", err)
	}
	canonicalTarget, err := canonicalize(target)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize tool path: %w", err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonicalTarget)
	if err != nil || rel == ".." || hasParentEscape(rel) {
		return "", aidamerr.NewValidationError("tool path %q escapes the tool root %q", filePath, r.toolRoot)
	}

	if info, err := os.Stat(canonicalTarget); err != nil || info.IsDir() {
		return "", aidamerr.NewValidationError("tool file %q does not exist", filePath)
	}

	return canonicalTarget, nil
}

// Execute looks up an active tool by name, re-verifies its path under the
// tool root, and runs it with a 30s hard timeout.
func (r *Registry) Execute(ctx context.Context, name string, args []string) (*ExecuteResult, error) {
	tool, err := r.lookupActive(ctx, name)
	if err != nil {
		return nil, err
	}

	verified, err := r.resolveAndVerify(tool.FilePath)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	cmd := launcherCommand(runCtx, verified, tool.Language, args)
	homeDir, err := os.UserHomeDir()
	if err == nil {
		cmd.Dir = homeDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := &ExecuteResult{
		Stdout: truncateString(stdout.String(), stdoutCap),
		Stderr: truncateString(stderr.String(), stderrCap),
	}
	if runCtx.Err() != nil {
		result.TimedOut = true
		return result, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return nil, fmt.Errorf("failed to execute tool %q: %w", name, runErr)
	}

	if err := r.recordUsage(ctx, tool.ID); err != nil {
		return nil, fmt.Errorf("failed to record tool usage: %w", err)
	}

	return result, nil
}

// ExecuteResult is the envelope Execute returns.
type ExecuteResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

func (r *Registry) lookupActive(ctx context.Context, name string) (*GeneratedTool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, file_path, language, is_active
		FROM generated_tools
		WHERE name = $1 AND is_active = true
	`, name)

	var t GeneratedTool
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.FilePath, &t.Language, &t.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, aidamerr.NewNotFoundError("generated_tool", name)
		}
		return nil, fmt.Errorf("failed to look up tool %q: %w", name, err)
	}
	return &t, nil
}

func (r *Registry) recordUsage(ctx context.Context, toolID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE generated_tools SET usage_count = usage_count + 1, last_used_at = now() WHERE id = $1
	`, toolID)
	return err
}

func launcherCommand(ctx context.Context, path string, language Language, args []string) *exec.Cmd {
	switch language {
	case LangPython:
		return exec.CommandContext(ctx, "python3", append([]string{path}, args...)...)
	case LangJavaScript:
		return exec.CommandContext(ctx, "node", append([]string{path}, args...)...)
	default:
		return exec.CommandContext(ctx, "bash", append([]string{path}, args...)...)
	}
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// The path (or an ancestor) doesn't exist yet; fall back to
			// the absolute, cleaned path so a not-yet-created tool root
			// can still be compared.
			return filepath.Clean(abs), nil
		}
		return "", err
	}
	return resolved, nil
}

func hasParentEscape(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package graphtools

import (
	"context"
	"fmt"

	"github.com/grovekit/grove/internal/graph"
	"github.com/mark3labs/mcp-go/mcp"
)

// ConflictsTool handles the graph_conflicts MCP tool.
type ConflictsTool struct {
	store            *graph.Store
	defaultWorkspace string
}

// NewConflictsTool creates a ConflictsTool with the given graph store.
func NewConflictsTool(store *graph.Store, defaultWorkspace string) *ConflictsTool {
	return &ConflictsTool{store: store, defaultWorkspace: defaultWorkspace}
}

// Definition returns the MCP tool definition for graph_conflicts.
func (t *ConflictsTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_conflicts",
		mcp.WithDescription(
			"List merge conflicts in a workspace, newest first. Filter by target branch, document, "+
				"or status (open/resolved). Paginate with cursor/limit.",
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace name (default: the configured workspace)"),
		),
		mcp.WithString("into_branch",
			mcp.Description("Only conflicts targeting this branch"),
		),
		mcp.WithString("doc",
			mcp.Description("Only conflicts in this document"),
		),
		mcp.WithString("status",
			mcp.Description("'open' or 'resolved'"),
		),
		mcp.WithString("cursor",
			mcp.Description("Pagination cursor from a previous page"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max conflicts per page"),
		),
	)
}

// Handle processes the graph_conflicts tool call.
func (t *ConflictsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.store.ListConflicts(graph.ListConflictsRequest{
		Workspace:  workspaceArg(req, t.defaultWorkspace),
		IntoBranch: req.GetString("into_branch", ""),
		Doc:        req.GetString("doc", ""),
		Status:     req.GetString("status", ""),
		Cursor:     req.GetString("cursor", ""),
		Limit:      intArg(req, "limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list conflicts: %v", err)), nil
	}
	return jsonResult(res), nil
}

// ─── ConflictShowTool ────────────────────────────────────────────────────────

// ConflictShowTool handles the graph_conflict_show MCP tool.
type ConflictShowTool struct {
	store *graph.Store
}

// NewConflictShowTool creates a ConflictShowTool with the given graph store.
func NewConflictShowTool(store *graph.Store) *ConflictShowTool {
	return &ConflictShowTool{store: store}
}

// Definition returns the MCP tool definition for graph_conflict_show.
func (t *ConflictShowTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_conflict_show",
		mcp.WithDescription(
			"Show one conflict in full: the common-ancestor state (base), the source branch's "+
				"version (theirs), and the target branch's version (ours).",
		),
		mcp.WithString("conflict_id",
			mcp.Required(),
			mcp.Description("Conflict id from graph_merge_back or graph_conflicts"),
		),
	)
}

// Handle processes the graph_conflict_show tool call.
func (t *ConflictShowTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("conflict_id", "")
	if id == "" {
		return mcp.NewToolResultError("'conflict_id' is required"), nil
	}
	c, err := t.store.GetConflict(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load conflict: %v", err)), nil
	}
	return jsonResult(c), nil
}

// ─── ConflictResolveTool ─────────────────────────────────────────────────────

// ConflictResolveTool handles the graph_conflict_resolve MCP tool.
type ConflictResolveTool struct {
	store *graph.Store
}

// NewConflictResolveTool creates a ConflictResolveTool with the given graph store.
func NewConflictResolveTool(store *graph.Store) *ConflictResolveTool {
	return &ConflictResolveTool{store: store}
}

// Definition returns the MCP tool definition for graph_conflict_resolve.
func (t *ConflictResolveTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_conflict_resolve",
		mcp.WithDescription(
			"Resolve an open conflict. 'use_into' keeps the target branch's version; 'use_from' "+
				"applies the source branch's version onto the target. The conflict stays on record "+
				"either way.",
		),
		mcp.WithString("conflict_id",
			mcp.Required(),
			mcp.Description("Conflict to resolve"),
		),
		mcp.WithString("resolution",
			mcp.Required(),
			mcp.Description("'use_into' or 'use_from'"),
		),
	)
}

// Handle processes the graph_conflict_resolve tool call.
func (t *ConflictResolveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("conflict_id", "")
	resolution := req.GetString("resolution", "")
	if id == "" {
		return mcp.NewToolResultError("'conflict_id' is required"), nil
	}
	if resolution == "" {
		return mcp.NewToolResultError("'resolution' is required"), nil
	}

	c, err := t.store.ResolveConflict(id, resolution)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve conflict: %v", err)), nil
	}
	return jsonResult(c), nil
}

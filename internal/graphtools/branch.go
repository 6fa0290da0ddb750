package graphtools

import (
	"context"
	"fmt"

	"github.com/grovekit/grove/internal/graph"
	"github.com/mark3labs/mcp-go/mcp"
)

// BranchTool handles the graph_branch MCP tool.
type BranchTool struct {
	store            *graph.Store
	defaultWorkspace string
}

// NewBranchTool creates a BranchTool with the given graph store.
func NewBranchTool(store *graph.Store, defaultWorkspace string) *BranchTool {
	return &BranchTool{store: store, defaultWorkspace: defaultWorkspace}
}

// Definition returns the MCP tool definition for graph_branch.
func (t *BranchTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_branch",
		mcp.WithDescription(
			"Create a branch. With base_branch set, the new branch starts as a live view of the base "+
				"at this moment — no data is copied, and later writes on either side stay isolated until "+
				"a merge. Without base_branch it is a new root branch (use 'main' as the first one).",
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("New branch name (e.g. 'agent-7/refactor-auth')"),
		),
		mcp.WithString("base_branch",
			mcp.Description("Branch to fork from; omit for a root branch"),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace name (default: the configured workspace)"),
		),
	)
}

// Handle processes the graph_branch tool call.
func (t *BranchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}

	b, err := t.store.CreateBranch(workspaceArg(req, t.defaultWorkspace), name, req.GetString("base_branch", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create branch: %v", err)), nil
	}
	return jsonResult(b), nil
}

// ─── BranchesTool ────────────────────────────────────────────────────────────

// BranchesTool handles the graph_branches MCP tool.
type BranchesTool struct {
	store            *graph.Store
	defaultWorkspace string
}

// NewBranchesTool creates a BranchesTool with the given graph store.
func NewBranchesTool(store *graph.Store, defaultWorkspace string) *BranchesTool {
	return &BranchesTool{store: store, defaultWorkspace: defaultWorkspace}
}

// Definition returns the MCP tool definition for graph_branches.
func (t *BranchesTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_branches",
		mcp.WithDescription(
			"List the branches of a workspace, and optionally the documents written on one branch.",
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace name (default: the configured workspace)"),
		),
		mcp.WithString("branch",
			mcp.Description("Also list the documents this branch has written"),
		),
	)
}

// Handle processes the graph_branches tool call.
func (t *BranchesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace := workspaceArg(req, t.defaultWorkspace)
	branches, err := t.store.ListBranches(workspace)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list branches: %v", err)), nil
	}

	out := map[string]any{"workspace": workspace, "branches": branches}
	if branch := req.GetString("branch", ""); branch != "" {
		docs, err := t.store.ListDocuments(workspace, branch)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}
		out["documents"] = docs
	}
	return jsonResult(out), nil
}

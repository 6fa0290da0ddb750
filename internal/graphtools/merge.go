package graphtools

import (
	"context"
	"fmt"

	"github.com/grovekit/grove/internal/graph"
	"github.com/mark3labs/mcp-go/mcp"
)

// MergeTool handles the graph_merge_back MCP tool.
type MergeTool struct {
	store            *graph.Store
	defaultWorkspace string
}

// NewMergeTool creates a MergeTool with the given graph store.
func NewMergeTool(store *graph.Store, defaultWorkspace string) *MergeTool {
	return &MergeTool{store: store, defaultWorkspace: defaultWorkspace}
}

// Definition returns the MCP tool definition for graph_merge_back.
func (t *MergeTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_merge_back",
		mcp.WithDescription(
			"Merge a branch's changes back into an ancestor branch, one page at a time. Changes that "+
				"only happened on the source fast-forward; keys both branches changed become conflicts "+
				"to resolve with graph_conflict_resolve. Re-run with the returned next_cursor while "+
				"has_more is true. Use dry_run to preview without writing.",
		),
		mcp.WithString("from_branch",
			mcp.Required(),
			mcp.Description("Branch whose changes are merged"),
		),
		mcp.WithString("into_branch",
			mcp.Required(),
			mcp.Description("Ancestor branch that receives them"),
		),
		mcp.WithString("doc",
			mcp.Required(),
			mcp.Description("Document to merge"),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace name (default: the configured workspace)"),
		),
		mcp.WithNumber("cursor",
			mcp.Description("Resume point from a previous page (default 0: start)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max source changes per page"),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Evaluate the page without writing"),
		),
	)
}

// Handle processes the graph_merge_back tool call.
func (t *MergeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetString("from_branch", "")
	into := req.GetString("into_branch", "")
	doc := req.GetString("doc", "")
	if from == "" {
		return mcp.NewToolResultError("'from_branch' is required"), nil
	}
	if into == "" {
		return mcp.NewToolResultError("'into_branch' is required"), nil
	}
	if doc == "" {
		return mcp.NewToolResultError("'doc' is required"), nil
	}

	res, err := t.store.MergeBack(graph.MergeBackRequest{
		Workspace:  workspaceArg(req, t.defaultWorkspace),
		FromBranch: from,
		IntoBranch: into,
		Doc:        doc,
		Cursor:     int64(intArg(req, "cursor", 0)),
		Limit:      intArg(req, "limit", 0),
		DryRun:     boolArg(req, "dry_run", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to merge: %v", err)), nil
	}
	return jsonResult(res), nil
}

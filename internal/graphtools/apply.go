package graphtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grovekit/grove/internal/graph"
	"github.com/mark3labs/mcp-go/mcp"
)

// ApplyTool handles the graph_apply MCP tool.
type ApplyTool struct {
	store            *graph.Store
	defaultWorkspace string
}

// NewApplyTool creates an ApplyTool with the given graph store.
func NewApplyTool(store *graph.Store, defaultWorkspace string) *ApplyTool {
	return &ApplyTool{store: store, defaultWorkspace: defaultWorkspace}
}

// Definition returns the MCP tool definition for graph_apply.
func (t *ApplyTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_apply",
		mcp.WithDescription(
			"Append a batch of graph operations to a document on a branch. The batch is atomic: "+
				"either every op lands or none do. Ops is a JSON array; each element has a 'kind' of "+
				"node_upsert, node_delete, edge_upsert, or edge_delete. Node ops use id/node_type/title/"+
				"text/tags/status/meta_json; edge ops use from/rel/to/meta_json. Deleting a node also "+
				"deletes its edges. Deletes are tombstones — history is never rewritten.",
		),
		mcp.WithString("branch",
			mcp.Required(),
			mcp.Description("Branch to write to (e.g. 'main' or an agent's working branch)"),
		),
		mcp.WithString("doc",
			mcp.Required(),
			mcp.Description("Document name within the workspace (e.g. 'plan', 'codemap')"),
		),
		mcp.WithString("ops",
			mcp.Required(),
			mcp.Description(`JSON array of operations, e.g. [{"kind":"node_upsert","id":"task-1","node_type":"task","title":"Ship it"}]`),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace name (default: the configured workspace)"),
		),
	)
}

// Handle processes the graph_apply tool call.
func (t *ApplyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branch := req.GetString("branch", "")
	doc := req.GetString("doc", "")
	opsJSON := req.GetString("ops", "")

	if branch == "" {
		return mcp.NewToolResultError("'branch' is required"), nil
	}
	if doc == "" {
		return mcp.NewToolResultError("'doc' is required"), nil
	}
	if opsJSON == "" {
		return mcp.NewToolResultError("'ops' is required"), nil
	}

	var ops []graph.Op
	if err := json.Unmarshal([]byte(opsJSON), &ops); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("'ops' is not a valid JSON array of operations: %v", err)), nil
	}

	res, err := t.store.ApplyOps(graph.ApplyOpsRequest{
		Workspace: workspaceArg(req, t.defaultWorkspace),
		Branch:    branch,
		Doc:       doc,
		Ops:       ops,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to apply ops: %v", err)), nil
	}
	return jsonResult(res), nil
}

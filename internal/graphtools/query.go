package graphtools

import (
	"context"
	"fmt"

	"github.com/grovekit/grove/internal/graph"
	"github.com/mark3labs/mcp-go/mcp"
)

// QueryTool handles the graph_query MCP tool.
type QueryTool struct {
	store            *graph.Store
	defaultWorkspace string
}

// NewQueryTool creates a QueryTool with the given graph store.
func NewQueryTool(store *graph.Store, defaultWorkspace string) *QueryTool {
	return &QueryTool{store: store, defaultWorkspace: defaultWorkspace}
}

// Definition returns the MCP tool definition for graph_query.
func (t *QueryTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_query",
		mcp.WithDescription(
			"Read the current state of a graph document on a branch. Returns the effective view: "+
				"the latest version of each node across the branch and its ancestors, with deletes "+
				"applied. Filters combine with AND. Paginate with cursor/limit.",
		),
		mcp.WithString("branch",
			mcp.Required(),
			mcp.Description("Branch to read"),
		),
		mcp.WithString("doc",
			mcp.Required(),
			mcp.Description("Document name"),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace name (default: the configured workspace)"),
		),
		mcp.WithString("ids",
			mcp.Description("Comma-separated node ids to fetch"),
		),
		mcp.WithString("types",
			mcp.Description("Comma-separated node types to include"),
		),
		mcp.WithString("status",
			mcp.Description("Exact status to match"),
		),
		mcp.WithString("tags_any",
			mcp.Description("Comma-separated tags; a node matches if it has at least one"),
		),
		mcp.WithString("tags_all",
			mcp.Description("Comma-separated tags; a node matches only with all of them"),
		),
		mcp.WithString("text",
			mcp.Description("Case-insensitive substring match over title and text"),
		),
		mcp.WithString("cursor",
			mcp.Description("Pagination cursor from a previous page"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max nodes per page"),
		),
		mcp.WithBoolean("include_edges",
			mcp.Description("Attach each node's incident edges"),
		),
		mcp.WithNumber("edges_limit",
			mcp.Description("Max edges per node when include_edges is set"),
		),
		mcp.WithBoolean("include_deleted",
			mcp.Description("Also return tombstoned nodes"),
		),
	)
}

// Handle processes the graph_query tool call.
func (t *QueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branch := req.GetString("branch", "")
	doc := req.GetString("doc", "")
	if branch == "" {
		return mcp.NewToolResultError("'branch' is required"), nil
	}
	if doc == "" {
		return mcp.NewToolResultError("'doc' is required"), nil
	}

	res, err := t.store.Query(graph.QueryRequest{
		Workspace:      workspaceArg(req, t.defaultWorkspace),
		Branch:         branch,
		Doc:            doc,
		IDs:            csvArg(req, "ids"),
		Types:          csvArg(req, "types"),
		Status:         req.GetString("status", ""),
		TagsAny:        csvArg(req, "tags_any"),
		TagsAll:        csvArg(req, "tags_all"),
		Text:           req.GetString("text", ""),
		Cursor:         req.GetString("cursor", ""),
		Limit:          intArg(req, "limit", 0),
		IncludeEdges:   boolArg(req, "include_edges", false),
		EdgesLimit:     intArg(req, "edges_limit", 0),
		IncludeDeleted: boolArg(req, "include_deleted", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to query graph: %v", err)), nil
	}
	return jsonResult(res), nil
}

// Package resources implements MCP resource handlers for the graph
// workspace.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (grove://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grovekit/grove/internal/graph"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handler manages Grove resource endpoints.
type Handler struct {
	store            *graph.Store
	defaultWorkspace string
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store *graph.Store, defaultWorkspace string) *Handler {
	return &Handler{store: store, defaultWorkspace: defaultWorkspace}
}

// StatusResource returns the MCP resource definition for workspace status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		"grove://workspace/status",
		"Grove Workspace Status",
		mcp.WithResourceDescription("Branches, documents, and open conflict count for the configured workspace"),
		mcp.WithMIMEType("application/json"),
	)
}

// branchStatus is one branch with the documents it has written.
type branchStatus struct {
	graph.Branch
	Documents []graph.Document `json:"documents,omitempty"`
}

// workspaceStatus is the resource payload.
type workspaceStatus struct {
	Workspace     string         `json:"workspace"`
	Branches      []branchStatus `json:"branches"`
	OpenConflicts int            `json:"open_conflicts"`
}

// HandleStatus returns the current workspace status as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	branches, err := h.store.ListBranches(h.defaultWorkspace)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	status := workspaceStatus{Workspace: h.defaultWorkspace, Branches: []branchStatus{}}
	for _, b := range branches {
		docs, err := h.store.ListDocuments(h.defaultWorkspace, b.Name)
		if err != nil {
			return errorResource(req.Params.URI, err.Error()), nil
		}
		status.Branches = append(status.Branches, branchStatus{Branch: b, Documents: docs})
	}

	if len(branches) > 0 {
		n, err := h.store.OpenConflictCount(h.defaultWorkspace)
		if err != nil {
			return errorResource(req.Params.URI, err.Error()), nil
		}
		status.OpenConflicts = n
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}

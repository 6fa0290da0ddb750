// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it loads configuration, opens the graph
// store, and injects it into the tools/prompts/resources that depend on
// it. No business logic lives here — only wiring.
package server

import (
	"fmt"

	"github.com/grovekit/grove/internal/config"
	"github.com/grovekit/grove/internal/graph"
	"github.com/grovekit/grove/internal/graphtools"
	"github.com/grovekit/grove/internal/prompts"
	"github.com/grovekit/grove/internal/resources"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function closes the graph store's database
// connection and must be called on shutdown (typically via defer).
func New() (*server.MCPServer, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, noop, fmt.Errorf("loading config: %w", err)
	}

	store, err := graph.New(graph.Config{
		DataDir:          cfg.DataDir,
		MaxLineageDepth:  cfg.MaxLineageDepth,
		DefaultPageLimit: cfg.DefaultPageLimit,
		MaxPageLimit:     cfg.MaxPageLimit,
	})
	if err != nil {
		return nil, noop, fmt.Errorf("opening graph store: %w", err)
	}
	cleanup := func() { _ = store.Close() }

	s := server.NewMCPServer(
		"grove",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	ws := cfg.DefaultWorkspace

	// --- Write and read tools ---

	applyTool := graphtools.NewApplyTool(store, ws)
	s.AddTool(applyTool.Definition(), applyTool.Handle)

	queryTool := graphtools.NewQueryTool(store, ws)
	s.AddTool(queryTool.Definition(), queryTool.Handle)

	// --- Branch tools ---

	branchTool := graphtools.NewBranchTool(store, ws)
	s.AddTool(branchTool.Definition(), branchTool.Handle)

	branchesTool := graphtools.NewBranchesTool(store, ws)
	s.AddTool(branchesTool.Definition(), branchesTool.Handle)

	// --- Merge and conflict tools ---

	mergeTool := graphtools.NewMergeTool(store, ws)
	s.AddTool(mergeTool.Definition(), mergeTool.Handle)

	conflictsTool := graphtools.NewConflictsTool(store, ws)
	s.AddTool(conflictsTool.Definition(), conflictsTool.Handle)

	conflictShowTool := graphtools.NewConflictShowTool(store)
	s.AddTool(conflictShowTool.Definition(), conflictShowTool.Handle)

	conflictResolveTool := graphtools.NewConflictResolveTool(store)
	s.AddTool(conflictResolveTool.Definition(), conflictResolveTool.Handle)

	// --- Prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	mergePrompt := prompts.NewMergePrompt()
	s.AddPrompt(mergePrompt.Definition(), mergePrompt.Handle)

	// --- Resources ---

	resourceHandler := resources.NewHandler(store, ws)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)

	return s, cleanup, nil
}

// noop is the default cleanup when initialization fails early.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use Grove effectively.
func serverInstructions() string {
	return `You have access to Grove, a versioned graph workspace MCP server.

## What Grove is

Grove stores shared working state — plans, task breakdowns, code maps,
design notes — as a property graph with git-like branches. Multiple
agents can work on isolated branches of the same document and merge
their changes back with conflict detection. Nothing is ever overwritten:
every change is a new version, and deletes are tombstones.

## Core workflow

1. Create a root branch once per workspace: graph_branch(name: "main")
2. Before starting a work stream, fork it: graph_branch(name: "agent-1/task", base_branch: "main")
3. Write with graph_apply: batches of node_upsert / node_delete /
   edge_upsert / edge_delete ops against your branch
4. Read with graph_query: the effective state of your branch, which
   includes everything inherited from its base
5. When the work is done, graph_merge_back(from_branch: yours,
   into_branch: "main", doc: ...). Repeat with next_cursor while
   has_more is true
6. If the merge reports conflicts, inspect each with graph_conflict_show
   (base vs theirs vs ours) and settle it with graph_conflict_resolve
   ('use_from' takes your branch's version, 'use_into' keeps main's)

## Rules of thumb

- Branch before writing. Working directly on main defeats the isolation.
- Node ids are stable handles (e.g. 'task/auth-retry', 'file/cmd-serve').
  Reuse the same id to update a node; don't mint a new id per edit.
- Edges need both endpoints to exist. Create nodes before edges.
- Keep node text short and structured; the graph is shared context, not
  a document store.
- Merges are idempotent: re-running one is safe and reports skips.
- Check the grove://workspace/status resource to see branches, documents,
  and how many conflicts are waiting.`
}

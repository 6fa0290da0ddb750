// Package prompts implements MCP prompt handlers for the graph workspace.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the grove-start MCP prompt.
// It guides the AI to set up a workspace branch and begin recording state.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("grove-start",
		mcp.WithPromptDescription(
			"Start working in the Grove graph workspace: create or fork a "+
				"branch for this session and record the initial plan as graph nodes.",
		),
		mcp.WithArgument("branch",
			mcp.ArgumentDescription("Branch name for this work stream (e.g. 'agent-1/auth-fix')"),
		),
		mcp.WithArgument("doc",
			mcp.ArgumentDescription("Document to work in (default: plan)"),
		),
	)
}

// Handle processes the grove-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	branch := "work"
	doc := "plan"
	if args := req.Params.Arguments; args != nil {
		if b, ok := args["branch"]; ok && b != "" {
			branch = b
		}
		if d, ok := args["doc"]; ok && d != "" {
			doc = d
		}
	}

	text := fmt.Sprintf(`Set up a Grove work branch for this session.

1. Check grove://workspace/status. If the workspace has no branches yet,
   create the root first: graph_branch(name: "main").
2. Fork a branch for this session: graph_branch(name: %q, base_branch: "main").
3. Read the current state you inherited: graph_query(branch: %q, doc: %q).
4. Record the plan for this session as nodes on your branch with
   graph_apply — one node per task or decision, edges for dependencies
   (rel: "depends_on") and structure (rel: "part_of").
5. As you work, keep the branch current: update node status fields,
   add discoveries, tombstone what turned out to be wrong.
6. When the work is complete, merge back with
   graph_merge_back(from_branch: %q, into_branch: "main", doc: %q)
   and resolve any conflicts it reports.

Start now with step 1 and tell me what state you inherited.`,
		branch, branch, doc, branch, doc)

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start Grove branch: %s", branch),
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}, nil
}

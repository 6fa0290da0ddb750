package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// MergePrompt handles the grove-merge MCP prompt.
// It walks the AI through merging a work branch back and clearing the
// conflicts that result.
type MergePrompt struct{}

// NewMergePrompt creates a MergePrompt.
func NewMergePrompt() *MergePrompt {
	return &MergePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *MergePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("grove-merge",
		mcp.WithPromptDescription(
			"Merge a work branch back into its base, page by page, and "+
				"resolve every conflict the merge reports.",
		),
		mcp.WithArgument("from_branch",
			mcp.ArgumentDescription("Branch to merge"),
		),
		mcp.WithArgument("into_branch",
			mcp.ArgumentDescription("Target branch (default: main)"),
		),
		mcp.WithArgument("doc",
			mcp.ArgumentDescription("Document to merge (default: plan)"),
		),
	)
}

// Handle processes the grove-merge prompt request.
func (p *MergePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	from := "work"
	into := "main"
	doc := "plan"
	if args := req.Params.Arguments; args != nil {
		if v, ok := args["from_branch"]; ok && v != "" {
			from = v
		}
		if v, ok := args["into_branch"]; ok && v != "" {
			into = v
		}
		if v, ok := args["doc"]; ok && v != "" {
			doc = v
		}
	}

	text := fmt.Sprintf(`Merge branch %q back into %q for document %q.

1. Preview first: graph_merge_back(from_branch: %q, into_branch: %q,
   doc: %q, dry_run: true). Summarize what will merge and what will
   conflict.
2. Run the real merge. While has_more is true, call graph_merge_back
   again with the returned next_cursor.
3. For every conflict id reported: graph_conflict_show, compare base /
   theirs / ours, and decide. Prefer 'use_from' when the work branch has
   the newer, verified state; prefer 'use_into' when the target was
   corrected after the fork. If you cannot decide, show me both versions
   and ask.
4. Resolve each with graph_conflict_resolve.
5. Finish by querying %q on %q and confirming the merged state looks
   consistent. Report merged/skipped/conflict counts.`,
		from, into, doc, from, into, doc, doc, into)

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Merge %s into %s", from, into),
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}, nil
}

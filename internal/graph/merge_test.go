package graph_test

import (
	"errors"
	"testing"

	"github.com/grovekit/grove/internal/graph"
)

// setTitle updates one node's title on a branch.
func setTitle(t *testing.T, s *graph.Store, branch, title string) {
	t.Helper()
	mustApply(t, s, "ws", branch, "notes",
		graph.Op{Kind: graph.OpNodeUpsert, ID: "n1", NodeType: "task", Title: title},
	)
}

func mergeBack(t *testing.T, s *graph.Store, from, into string, cursor int64) *graph.MergeBackResult {
	t.Helper()
	res, err := s.MergeBack(graph.MergeBackRequest{
		Workspace: "ws", FromBranch: from, IntoBranch: into, Doc: "notes", Cursor: cursor,
	})
	if err != nil {
		t.Fatalf("MergeBack error: %v", err)
	}
	return res
}

// ─── Fast-forward ────────────────────────────────────────────────────────────

// Only the source branch changed the node, so the merge lands its version
// on the target without a conflict.
func TestMergeBack_FastForward(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat", "main")
	setTitle(t, s, "feat", "b")

	res := mergeBack(t, s, "feat", "main", 0)
	if res.Merged != 1 || res.ConflictsCreated != 0 {
		t.Fatalf("expected clean fast-forward, got %+v", res)
	}

	q, err := s.Query(graph.QueryRequest{Workspace: "ws", Branch: "main", Doc: "notes"})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if q.Nodes[0].Title != "b" {
		t.Fatalf("expected merged title b, got %q", q.Nodes[0].Title)
	}
}

// Re-running a completed merge finds both sides equal and skips everything.
func TestMergeBack_Idempotent(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat", "main")
	setTitle(t, s, "feat", "b")

	mergeBack(t, s, "feat", "main", 0)
	res := mergeBack(t, s, "feat", "main", 0)
	if res.Merged != 0 || res.Skipped != 1 || res.ConflictsCreated != 0 {
		t.Fatalf("expected pure skip on re-merge, got %+v", res)
	}
}

func TestMergeBack_DeletePropagates(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat", "main")
	mustApply(t, s, "ws", "feat", "notes", graph.Op{Kind: graph.OpNodeDelete, ID: "n1"})

	res := mergeBack(t, s, "feat", "main", 0)
	if res.Merged != 1 || res.ConflictsCreated != 0 {
		t.Fatalf("expected delete fast-forward, got %+v", res)
	}
	if ids := queryIDs(t, s, "ws", "main", "notes"); len(ids) != 0 {
		t.Fatalf("expected n1 deleted on main, got %v", ids)
	}
}

// ─── Conflicts ───────────────────────────────────────────────────────────────

// Both branches rewrote the node after the fork; the merge records a
// conflict carrying all three snapshots.
func TestMergeBack_ConflictSnapshots(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "x")
	mustBranch(t, s, "ws", "feat", "main")
	setTitle(t, s, "feat", "y")
	setTitle(t, s, "main", "z")

	res := mergeBack(t, s, "feat", "main", 0)
	if res.ConflictsCreated != 1 || res.Merged != 0 {
		t.Fatalf("expected 1 conflict, got %+v", res)
	}
	if len(res.ConflictIDs) != 1 {
		t.Fatalf("expected conflict id, got %+v", res.ConflictIDs)
	}

	c, err := s.GetConflict(res.ConflictIDs[0])
	if err != nil {
		t.Fatalf("GetConflict error: %v", err)
	}
	if c.Base == nil || c.Base.Title != "x" {
		t.Fatalf("bad base snapshot: %+v", c.Base)
	}
	if c.Theirs == nil || c.Theirs.Title != "y" {
		t.Fatalf("bad theirs snapshot: %+v", c.Theirs)
	}
	if c.Ours == nil || c.Ours.Title != "z" {
		t.Fatalf("bad ours snapshot: %+v", c.Ours)
	}

	// Target keeps its own state until the conflict is resolved.
	q, err := s.Query(graph.QueryRequest{Workspace: "ws", Branch: "main", Doc: "notes"})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if q.Nodes[0].Title != "z" {
		t.Fatalf("target changed before resolution: %q", q.Nodes[0].Title)
	}
}

// A re-run merge reuses the open conflict rather than piling up duplicates.
func TestMergeBack_ConflictNotDuplicated(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "x")
	mustBranch(t, s, "ws", "feat", "main")
	setTitle(t, s, "feat", "y")
	setTitle(t, s, "main", "z")

	mergeBack(t, s, "feat", "main", 0)
	mergeBack(t, s, "feat", "main", 0)

	list, err := s.ListConflicts(graph.ListConflictsRequest{Workspace: "ws"})
	if err != nil {
		t.Fatalf("ListConflicts error: %v", err)
	}
	if len(list.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict row, got %d", len(list.Conflicts))
	}
}

// Identical edits on both sides converge without conflict or write.
func TestMergeBack_SameChangeBothSides(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat", "main")
	setTitle(t, s, "feat", "same")
	setTitle(t, s, "main", "same")

	res := mergeBack(t, s, "feat", "main", 0)
	if res.Skipped != 1 || res.Merged != 0 || res.ConflictsCreated != 0 {
		t.Fatalf("expected skip for identical edits, got %+v", res)
	}
}

// A live edge cannot fast-forward onto a target that deleted its endpoint.
func TestMergeBack_EdgeOntoDeletedEndpointConflicts(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	mustApply(t, s, "ws", "main", "notes", nodeOp("n1", "a"), nodeOp("n2", "b"))
	mustBranch(t, s, "ws", "feat", "main")
	mustApply(t, s, "ws", "feat", "notes", edgeOp("n1", "blocks", "n2"))
	mustApply(t, s, "ws", "main", "notes", graph.Op{Kind: graph.OpNodeDelete, ID: "n2"})

	res := mergeBack(t, s, "feat", "main", 0)
	if res.ConflictsCreated != 1 {
		t.Fatalf("expected edge conflict, got %+v", res)
	}
}

// ─── Paging, dry run, lineage ────────────────────────────────────────────────

func TestMergeBack_Paginates(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat", "main")
	mustApply(t, s, "ws", "feat", "notes", nodeOp("f1", "one"))
	mustApply(t, s, "ws", "feat", "notes", nodeOp("f2", "two"))

	res, err := s.MergeBack(graph.MergeBackRequest{
		Workspace: "ws", FromBranch: "feat", IntoBranch: "main", Doc: "notes", Limit: 1,
	})
	if err != nil {
		t.Fatalf("MergeBack error: %v", err)
	}
	if !res.HasMore || res.Merged != 1 {
		t.Fatalf("expected first page with more, got %+v", res)
	}

	res2, err := s.MergeBack(graph.MergeBackRequest{
		Workspace: "ws", FromBranch: "feat", IntoBranch: "main", Doc: "notes",
		Cursor: res.NextCursor, Limit: 1,
	})
	if err != nil {
		t.Fatalf("MergeBack page 2 error: %v", err)
	}
	if res2.HasMore || res2.Merged != 1 {
		t.Fatalf("expected final page, got %+v", res2)
	}

	ids := queryIDs(t, s, "ws", "main", "notes")
	if len(ids) != 3 {
		t.Fatalf("expected n1, f1, f2 on main, got %v", ids)
	}
}

func TestMergeBack_DryRunWritesNothing(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat", "main")
	setTitle(t, s, "feat", "b")

	res, err := s.MergeBack(graph.MergeBackRequest{
		Workspace: "ws", FromBranch: "feat", IntoBranch: "main", Doc: "notes", DryRun: true,
	})
	if err != nil {
		t.Fatalf("MergeBack error: %v", err)
	}
	if res.Merged != 1 {
		t.Fatalf("dry run should report the would-be merge, got %+v", res)
	}

	q, err := s.Query(graph.QueryRequest{Workspace: "ws", Branch: "main", Doc: "notes"})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if q.Nodes[0].Title != "a" {
		t.Fatalf("dry run wrote to target: %q", q.Nodes[0].Title)
	}
}

func TestMergeBack_DiffSummary(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat", "main")
	setTitle(t, s, "feat", "b")

	res := mergeBack(t, s, "feat", "main", 0)
	if res.DiffSummary.NodesChanged != 1 || res.DiffSummary.NodeFieldsChanged == 0 {
		t.Fatalf("expected diff summary to track node change, got %+v", res.DiffSummary)
	}
}

func TestMergeBack_NotAnAncestor(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat1", "main")
	mustBranch(t, s, "ws", "feat2", "main")

	_, err := s.MergeBack(graph.MergeBackRequest{
		Workspace: "ws", FromBranch: "feat1", IntoBranch: "feat2", Doc: "notes",
	})
	if !errors.Is(err, graph.ErrMergeNotSupported) {
		t.Fatalf("expected ErrMergeNotSupported, got %v", err)
	}
}

func TestMergeBack_IntoGrandparent(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat", "main")
	mustBranch(t, s, "ws", "feat-sub", "feat")
	setTitle(t, s, "feat-sub", "deep")

	res := mergeBack(t, s, "feat-sub", "main", 0)
	if res.Merged != 1 {
		t.Fatalf("expected merge across two levels, got %+v", res)
	}
}

func TestMergeBack_SelfRejected(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	_, err := s.MergeBack(graph.MergeBackRequest{
		Workspace: "ws", FromBranch: "main", IntoBranch: "main", Doc: "notes",
	})
	if !errors.Is(err, graph.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMergeBack_NothingToMerge(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "a")
	mustBranch(t, s, "ws", "feat", "main")

	res := mergeBack(t, s, "feat", "main", 0)
	if res.Count != 0 || res.HasMore {
		t.Fatalf("expected empty merge, got %+v", res)
	}
}

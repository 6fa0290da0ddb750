package graph_test

import (
	"errors"
	"testing"

	"github.com/grovekit/grove/internal/graph"
)

// conflictedStore builds the canonical divergence: main=z, feat=y, base=x,
// and returns the open conflict id.
func conflictedStore(t *testing.T) (*graph.Store, string) {
	t.Helper()
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	setTitle(t, s, "main", "x")
	mustBranch(t, s, "ws", "feat", "main")
	setTitle(t, s, "feat", "y")
	setTitle(t, s, "main", "z")

	res := mergeBack(t, s, "feat", "main", 0)
	if len(res.ConflictIDs) != 1 {
		t.Fatalf("expected 1 conflict, got %+v", res)
	}
	return s, res.ConflictIDs[0]
}

// ─── Resolution ──────────────────────────────────────────────────────────────

func TestResolveConflict_UseInto(t *testing.T) {
	s, id := conflictedStore(t)

	c, err := s.ResolveConflict(id, graph.ResolutionUseInto)
	if err != nil {
		t.Fatalf("ResolveConflict error: %v", err)
	}
	if c.Status != graph.ConflictResolved || c.Resolution != graph.ResolutionUseInto {
		t.Fatalf("unexpected conflict state: %+v", c)
	}

	q, err := s.Query(graph.QueryRequest{Workspace: "ws", Branch: "main", Doc: "notes"})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if q.Nodes[0].Title != "z" {
		t.Fatalf("use_into must keep target state, got %q", q.Nodes[0].Title)
	}
}

func TestResolveConflict_UseFrom(t *testing.T) {
	s, id := conflictedStore(t)

	before, err := s.Query(graph.QueryRequest{Workspace: "ws", Branch: "main", Doc: "notes"})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}

	if _, err := s.ResolveConflict(id, graph.ResolutionUseFrom); err != nil {
		t.Fatalf("ResolveConflict error: %v", err)
	}

	after, err := s.Query(graph.QueryRequest{Workspace: "ws", Branch: "main", Doc: "notes"})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if after.Nodes[0].Title != "y" {
		t.Fatalf("use_from must land source state, got %q", after.Nodes[0].Title)
	}
	if after.Nodes[0].Seq <= before.Nodes[0].Seq {
		t.Fatalf("resolution must append at a fresh seq: before %d, after %d",
			before.Nodes[0].Seq, after.Nodes[0].Seq)
	}
}

func TestResolveConflict_Twice(t *testing.T) {
	s, id := conflictedStore(t)
	if _, err := s.ResolveConflict(id, graph.ResolutionUseInto); err != nil {
		t.Fatalf("first resolve error: %v", err)
	}
	_, err := s.ResolveConflict(id, graph.ResolutionUseFrom)
	if !errors.Is(err, graph.ErrConflictAlreadyResolved) {
		t.Fatalf("expected ErrConflictAlreadyResolved, got %v", err)
	}
}

func TestResolveConflict_Unknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ResolveConflict("no-such-id", graph.ResolutionUseInto)
	if !errors.Is(err, graph.ErrUnknownConflict) {
		t.Fatalf("expected ErrUnknownConflict, got %v", err)
	}
}

func TestResolveConflict_BadResolution(t *testing.T) {
	s, id := conflictedStore(t)
	_, err := s.ResolveConflict(id, "use_both")
	if !errors.Is(err, graph.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// The conflict row survives resolution as an audit record.
func TestResolveConflict_RowSurvives(t *testing.T) {
	s, id := conflictedStore(t)
	if _, err := s.ResolveConflict(id, graph.ResolutionUseFrom); err != nil {
		t.Fatalf("ResolveConflict error: %v", err)
	}
	c, err := s.GetConflict(id)
	if err != nil {
		t.Fatalf("GetConflict error: %v", err)
	}
	if c.Status != graph.ConflictResolved || c.ResolvedAtMs == nil {
		t.Fatalf("expected resolved audit record, got %+v", c)
	}
}

// ─── Listing ─────────────────────────────────────────────────────────────────

func TestListConflicts_StatusFilter(t *testing.T) {
	s, id := conflictedStore(t)
	if _, err := s.ResolveConflict(id, graph.ResolutionUseInto); err != nil {
		t.Fatalf("ResolveConflict error: %v", err)
	}

	open, err := s.ListConflicts(graph.ListConflictsRequest{Workspace: "ws", Status: graph.ConflictOpen})
	if err != nil {
		t.Fatalf("ListConflicts error: %v", err)
	}
	if len(open.Conflicts) != 0 {
		t.Fatalf("expected no open conflicts, got %d", len(open.Conflicts))
	}

	resolved, err := s.ListConflicts(graph.ListConflictsRequest{Workspace: "ws", Status: graph.ConflictResolved})
	if err != nil {
		t.Fatalf("ListConflicts error: %v", err)
	}
	if len(resolved.Conflicts) != 1 {
		t.Fatalf("expected 1 resolved conflict, got %d", len(resolved.Conflicts))
	}
}

func TestListConflicts_BadStatus(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ListConflicts(graph.ListConflictsRequest{Workspace: "ws", Status: "weird"})
	if !errors.Is(err, graph.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListConflicts_Paginates(t *testing.T) {
	s := newTestStore(t)
	mustBranch(t, s, "ws", "main", "")
	mustApply(t, s, "ws", "main", "notes", nodeOp("a", "1"), nodeOp("b", "1"), nodeOp("c", "1"))
	mustBranch(t, s, "ws", "feat", "main")
	mustApply(t, s, "ws", "feat", "notes", nodeOp("a", "feat"), nodeOp("b", "feat"), nodeOp("c", "feat"))
	mustApply(t, s, "ws", "main", "notes", nodeOp("a", "main"), nodeOp("b", "main"), nodeOp("c", "main"))
	mergeBack(t, s, "feat", "main", 0)

	page1, err := s.ListConflicts(graph.ListConflictsRequest{Workspace: "ws", Limit: 2})
	if err != nil {
		t.Fatalf("ListConflicts error: %v", err)
	}
	if len(page1.Conflicts) != 2 || !page1.HasMore || page1.NextCursor == "" {
		t.Fatalf("expected first page of 2, got %+v", page1)
	}

	page2, err := s.ListConflicts(graph.ListConflictsRequest{Workspace: "ws", Limit: 2, Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("ListConflicts page 2 error: %v", err)
	}
	if len(page2.Conflicts) != 1 || page2.HasMore {
		t.Fatalf("expected final page of 1, got %+v", page2)
	}
}

func TestOpenConflictCount(t *testing.T) {
	s, id := conflictedStore(t)
	n, err := s.OpenConflictCount("ws")
	if err != nil {
		t.Fatalf("OpenConflictCount error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 open conflict, got %d", n)
	}
	if _, err := s.ResolveConflict(id, graph.ResolutionUseInto); err != nil {
		t.Fatalf("ResolveConflict error: %v", err)
	}
	n, err = s.OpenConflictCount("ws")
	if err != nil {
		t.Fatalf("OpenConflictCount error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 open conflicts, got %d", n)
	}
}

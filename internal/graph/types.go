package graph

// ─── Operations ──────────────────────────────────────────────────────────────

// OpKind selects the variant of an Op. The applier and the merge diff
// switch exhaustively over these values; an unknown kind is rejected with
// ErrInvalidInput rather than silently ignored.
type OpKind string

const (
	OpNodeUpsert OpKind = "node_upsert"
	OpNodeDelete OpKind = "node_delete"
	OpEdgeUpsert OpKind = "edge_upsert"
	OpEdgeDelete OpKind = "edge_delete"
)

// Op is one graph operation — the unit of the append log and the unit of
// a merge diff. Kind selects the variant; only that variant's fields are
// read, the rest are ignored.
type Op struct {
	Kind OpKind `json:"kind"`

	// Node variants (node_upsert, node_delete)
	ID       string   `json:"id,omitempty"`
	NodeType string   `json:"node_type,omitempty"`
	Title    string   `json:"title,omitempty"`
	Text     string   `json:"text,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Status   string   `json:"status,omitempty"`

	// Edge variants (edge_upsert, edge_delete)
	From string `json:"from,omitempty"`
	Rel  string `json:"rel,omitempty"`
	To   string `json:"to,omitempty"`

	// Shared
	MetaJSON string `json:"meta_json,omitempty"`
}

// ─── Effective state ─────────────────────────────────────────────────────────

// NodeState is the materialized current state of a node: the version row
// with the highest seq across the branch lineage. Deleted=true means the
// node exists in history but is tombstoned — distinguishable from a node
// that never existed (nil).
type NodeState struct {
	ID       string   `json:"id"`
	NodeType string   `json:"node_type"`
	Title    string   `json:"title,omitempty"`
	Text     string   `json:"text,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Status   string   `json:"status,omitempty"`
	MetaJSON string   `json:"meta_json,omitempty"`
	Deleted  bool     `json:"deleted,omitempty"`
	Branch   string   `json:"branch"`
	Seq      int64    `json:"seq"`
	TsMs     int64    `json:"ts_ms"`
}

// EdgeKey identifies an edge. Two version rows with the same key are
// revisions of the same edge.
type EdgeKey struct {
	From string `json:"from"`
	Rel  string `json:"rel"`
	To   string `json:"to"`
}

// EdgeState is the materialized current state of an edge.
type EdgeState struct {
	From     string `json:"from"`
	Rel      string `json:"rel"`
	To       string `json:"to"`
	MetaJSON string `json:"meta_json,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
	Branch   string `json:"branch"`
	Seq      int64  `json:"seq"`
	TsMs     int64  `json:"ts_ms"`
}

// ─── Branches and documents ──────────────────────────────────────────────────

// Branch is a named line of development in a workspace. BaseBranch and
// BaseSeq record where it was forked from; a root branch has neither.
type Branch struct {
	Workspace   string `json:"workspace"`
	Name        string `json:"name"`
	BaseBranch  string `json:"base_branch,omitempty"`
	BaseSeq     int64  `json:"base_seq,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Document is one graph document on one branch, with its own monotonic
// sequence counter.
type Document struct {
	Workspace   string `json:"workspace"`
	Branch      string `json:"branch"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	LastSeq     int64  `json:"last_seq"`
	CreatedAtMs int64  `json:"created_at_ms"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// ─── Conflicts ───────────────────────────────────────────────────────────────

// Conflict kinds and lifecycle states.
const (
	ConflictKindNode = "node"
	ConflictKindEdge = "edge"

	ConflictOpen     = "open"
	ConflictResolved = "resolved"

	ResolutionUseInto = "use_into"
	ResolutionUseFrom = "use_from"
)

// Snapshot captures one side of a three-way comparison at conflict time.
// Node and edge snapshots share the shape; edge snapshots leave the
// node-only fields empty. A nil snapshot means the key did not exist on
// that side.
type Snapshot struct {
	NodeType string   `json:"node_type,omitempty"`
	Title    string   `json:"title,omitempty"`
	Text     string   `json:"text,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Status   string   `json:"status,omitempty"`
	MetaJSON string   `json:"meta_json,omitempty"`
	Deleted  bool     `json:"deleted,omitempty"`
	Branch   string   `json:"branch,omitempty"`
	Seq      int64    `json:"seq,omitempty"`
	TsMs     int64    `json:"ts_ms,omitempty"`
}

// Conflict is a persisted merge discrepancy: the target branch diverged
// from the common ancestor and disagrees with the source branch. Conflicts
// are resolved in place, never destroyed.
type Conflict struct {
	ID           string    `json:"conflict_id"`
	Workspace    string    `json:"workspace"`
	Doc          string    `json:"doc"`
	Kind         string    `json:"kind"`
	Key          string    `json:"key"`
	FromBranch   string    `json:"from_branch"`
	IntoBranch   string    `json:"into_branch"`
	Status       string    `json:"status"`
	CreatedAtMs  int64     `json:"created_at_ms"`
	ResolvedAtMs *int64    `json:"resolved_at_ms,omitempty"`
	Resolution   string    `json:"resolution,omitempty"`
	Base         *Snapshot `json:"base_snapshot,omitempty"`
	Theirs       *Snapshot `json:"theirs_snapshot,omitempty"`
	Ours         *Snapshot `json:"ours_snapshot,omitempty"`
}

// ─── Requests and results ────────────────────────────────────────────────────

// ApplyOpsRequest is an ordered batch of operations for one
// (workspace, branch, document). The batch applies atomically.
type ApplyOpsRequest struct {
	Workspace string `json:"workspace"`
	Branch    string `json:"branch"`
	Doc       string `json:"doc"`
	Ops       []Op   `json:"ops"`
}

// ApplyOpsResult aggregates what a batch did. Cascade edge tombstones from
// node deletes are counted in EdgesDeleted.
type ApplyOpsResult struct {
	NodesUpserted int   `json:"nodes_upserted"`
	NodesDeleted  int   `json:"nodes_deleted"`
	EdgesUpserted int   `json:"edges_upserted"`
	EdgesDeleted  int   `json:"edges_deleted"`
	LastSeq       int64 `json:"last_seq"`
	LastTsMs      int64 `json:"last_ts_ms"`
}

// QueryRequest is a paginated effective-view read. Cursor is the node id
// the previous page stopped at; filters combine with AND.
type QueryRequest struct {
	Workspace    string   `json:"workspace"`
	Branch       string   `json:"branch"`
	Doc          string   `json:"doc"`
	IDs          []string `json:"ids,omitempty"`
	Types        []string `json:"types,omitempty"`
	Status       string   `json:"status,omitempty"`
	TagsAny      []string `json:"tags_any,omitempty"`
	TagsAll      []string `json:"tags_all,omitempty"`
	Text         string   `json:"text,omitempty"`
	Cursor       string   `json:"cursor,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	IncludeEdges bool     `json:"include_edges,omitempty"`
	EdgesLimit   int      `json:"edges_limit,omitempty"`
	// IncludeDeleted also returns tombstoned nodes, so a caller can tell
	// "deleted" apart from "never existed".
	IncludeDeleted bool `json:"include_deleted,omitempty"`
}

// QueryNode is a node with its incident edges when include_edges is set.
type QueryNode struct {
	NodeState
	Edges []EdgeState `json:"edges,omitempty"`
}

// QueryResult is one page of effective nodes.
type QueryResult struct {
	Nodes      []QueryNode `json:"nodes"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
	Count      int         `json:"count"`
}

// MergeBackRequest merges a page of a source branch's log into a target
// branch. Cursor is the seq the previous page stopped at (0 = from the
// beginning); DryRun evaluates the page without writing.
type MergeBackRequest struct {
	Workspace  string `json:"workspace"`
	FromBranch string `json:"from_branch"`
	IntoBranch string `json:"into_branch"`
	Doc        string `json:"doc"`
	Cursor     int64  `json:"cursor,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

// DiffSummary counts base-vs-theirs differences for human-readable
// previews. It does not feed the merge decision.
type DiffSummary struct {
	NodesChanged      int `json:"nodes_changed"`
	EdgesChanged      int `json:"edges_changed"`
	NodeFieldsChanged int `json:"node_fields_changed"`
	EdgeFieldsChanged int `json:"edge_fields_changed"`
}

// MergeBackResult reports one merge page.
type MergeBackResult struct {
	Merged           int         `json:"merged"`
	Skipped          int         `json:"skipped"`
	ConflictsCreated int         `json:"conflicts_created"`
	ConflictIDs      []string    `json:"conflict_ids,omitempty"`
	DiffSummary      DiffSummary `json:"diff_summary"`
	NextCursor       int64       `json:"next_cursor"`
	HasMore          bool        `json:"has_more"`
	Count            int         `json:"count"`
}

// ListConflictsRequest pages through conflicts newest-first.
type ListConflictsRequest struct {
	Workspace  string `json:"workspace"`
	IntoBranch string `json:"into_branch,omitempty"`
	Doc        string `json:"doc,omitempty"`
	Status     string `json:"status,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ListConflictsResult is one page of conflicts.
type ListConflictsResult struct {
	Conflicts  []Conflict `json:"conflicts"`
	NextCursor string     `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}

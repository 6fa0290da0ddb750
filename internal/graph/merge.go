package graph

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// MergeBack replays one page of a source branch's log into a target branch
// as a three-way comparison against their fork point. Per changed key:
//
//	ours == theirs  -> skipped (already converged; re-running a merge is a no-op)
//	ours == base    -> fast-forward theirs onto the target
//	otherwise       -> record a conflict with base/theirs/ours snapshots
//
// The page is one transaction; Cursor/NextCursor make long merges
// resumable. DryRun evaluates the page without writing anything.
func (s *Store) MergeBack(req MergeBackRequest) (*MergeBackResult, error) {
	if err := validateScopeName("workspace", req.Workspace); err != nil {
		return nil, err
	}
	if err := validateScopeName("from_branch", req.FromBranch); err != nil {
		return nil, err
	}
	if err := validateScopeName("into_branch", req.IntoBranch); err != nil {
		return nil, err
	}
	if err := validateScopeName("doc", req.Doc); err != nil {
		return nil, err
	}
	if req.FromBranch == req.IntoBranch {
		return nil, fmt.Errorf("%w: cannot merge a branch into itself", ErrInvalidInput)
	}
	if req.Cursor < 0 {
		return nil, fmt.Errorf("%w: cursor must be >= 0", ErrInvalidInput)
	}
	limit := s.cfg.pageLimit(req.Limit)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := requireBranch(tx, req.Workspace, req.FromBranch); err != nil {
		return nil, err
	}
	if _, err := requireBranch(tx, req.Workspace, req.IntoBranch); err != nil {
		return nil, err
	}
	forkCeil, err := s.forkCeiling(tx, req.Workspace, req.FromBranch, req.IntoBranch, req.Doc)
	if err != nil {
		return nil, err
	}

	seqs, hasMore, err := pageSeqs(tx, req.Workspace, req.FromBranch, req.Doc, req.Cursor, limit)
	if err != nil {
		return nil, err
	}
	res := &MergeBackResult{NextCursor: req.Cursor, HasMore: hasMore}
	if len(seqs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("graph: commit: %w", err)
		}
		return res, nil
	}
	pageCeil := seqs[len(seqs)-1]
	res.NextCursor = pageCeil

	nodeKeys, edgeKeys, err := changedKeys(tx, req.Workspace, req.FromBranch, req.Doc, req.Cursor, pageCeil)
	if err != nil {
		return nil, err
	}

	fromSources, err := s.resolveSourcesTx(tx, req.Workspace, req.FromBranch, req.Doc)
	if err != nil {
		return nil, err
	}
	intoSources, err := s.resolveSourcesTx(tx, req.Workspace, req.IntoBranch, req.Doc)
	if err != nil {
		return nil, err
	}
	theirsSources := withCeiling(fromSources, pageCeil)
	baseSources := withCeiling(intoSources, forkCeil)

	ts := nowMs()
	for _, id := range nodeKeys {
		theirs, err := effectiveNode(tx, req.Workspace, req.Doc, theirsSources, id)
		if err != nil {
			return nil, err
		}
		ours, err := effectiveNode(tx, req.Workspace, req.Doc, intoSources, id)
		if err != nil {
			return nil, err
		}
		base, err := effectiveNode(tx, req.Workspace, req.Doc, baseSources, id)
		if err != nil {
			return nil, err
		}
		res.Count++
		if !nodeStateEqual(base, theirs) {
			res.DiffSummary.NodesChanged++
			res.DiffSummary.NodeFieldsChanged += nodeFieldDiff(base, theirs)
		}
		switch {
		case nodeStateEqual(ours, theirs):
			res.Skipped++
		case nodeStateEqual(ours, base):
			if !req.DryRun {
				if err := s.applyTheirsNode(tx, req, intoSources, ts, theirs); err != nil {
					return nil, err
				}
			}
			res.Merged++
		default:
			res.ConflictsCreated++
			if !req.DryRun {
				cid, err := recordConflict(tx, req, ConflictKindNode, id,
					snapshotFromNode(base), snapshotFromNode(theirs), snapshotFromNode(ours), ts)
				if err != nil {
					return nil, err
				}
				res.ConflictIDs = append(res.ConflictIDs, cid)
			}
		}
	}

	for _, key := range edgeKeys {
		theirs, err := effectiveEdge(tx, req.Workspace, req.Doc, theirsSources, key)
		if err != nil {
			return nil, err
		}
		ours, err := effectiveEdge(tx, req.Workspace, req.Doc, intoSources, key)
		if err != nil {
			return nil, err
		}
		base, err := effectiveEdge(tx, req.Workspace, req.Doc, baseSources, key)
		if err != nil {
			return nil, err
		}
		res.Count++
		if !edgeStateEqual(base, theirs) {
			res.DiffSummary.EdgesChanged++
			res.DiffSummary.EdgeFieldsChanged += edgeFieldDiff(base, theirs)
		}
		switch {
		case edgeStateEqual(ours, theirs):
			res.Skipped++
		case edgeStateEqual(ours, base):
			if req.DryRun {
				res.Merged++
				break
			}
			ok, err := s.applyTheirsEdge(tx, req, intoSources, ts, key, theirs)
			if err != nil {
				return nil, err
			}
			if ok {
				res.Merged++
				break
			}
			// A live edge cannot land on a target missing its endpoints;
			// surface that as a conflict instead of dangling.
			res.ConflictsCreated++
			cid, err := recordConflict(tx, req, ConflictKindEdge, edgeKeyString(key),
				snapshotFromEdge(base), snapshotFromEdge(theirs), snapshotFromEdge(ours), ts)
			if err != nil {
				return nil, err
			}
			res.ConflictIDs = append(res.ConflictIDs, cid)
		default:
			res.ConflictsCreated++
			if !req.DryRun {
				cid, err := recordConflict(tx, req, ConflictKindEdge, edgeKeyString(key),
					snapshotFromEdge(base), snapshotFromEdge(theirs), snapshotFromEdge(ours), ts)
				if err != nil {
					return nil, err
				}
				res.ConflictIDs = append(res.ConflictIDs, cid)
			}
		}
	}

	if req.DryRun {
		// Nothing was written; discard the transaction.
		return res, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("graph: commit: %w", err)
	}
	return res, nil
}

// pageSeqs returns up to limit distinct seq values written by the branch
// itself beyond cursor, plus whether more remain.
func pageSeqs(q dbtx, workspace, branch, doc string, cursor int64, limit int) ([]int64, bool, error) {
	rows, err := q.Query(
		`SELECT DISTINCT seq FROM (
			SELECT seq FROM graph_node_versions
			 WHERE workspace = ? AND branch = ? AND doc = ? AND seq > ?
			UNION
			SELECT seq FROM graph_edge_versions
			 WHERE workspace = ? AND branch = ? AND doc = ? AND seq > ?
		) ORDER BY seq ASC LIMIT ?`,
		workspace, branch, doc, cursor,
		workspace, branch, doc, cursor,
		limit+1,
	)
	if err != nil {
		return nil, false, fmt.Errorf("graph: merge page: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var seqs []int64
	for rows.Next() {
		var s int64
		if err := rows.Scan(&s); err != nil {
			return nil, false, err
		}
		seqs = append(seqs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(seqs) > limit
	if hasMore {
		seqs = seqs[:limit]
	}
	return seqs, hasMore, nil
}

// changedKeys collects the distinct node and edge keys the branch touched
// in (cursor, ceil], in deterministic order.
func changedKeys(q dbtx, workspace, branch, doc string, cursor, ceil int64) ([]string, []EdgeKey, error) {
	nodeRows, err := q.Query(
		`SELECT DISTINCT node_id FROM graph_node_versions
		 WHERE workspace = ? AND branch = ? AND doc = ? AND seq > ? AND seq <= ?
		 ORDER BY node_id`,
		workspace, branch, doc, cursor, ceil,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("graph: changed nodes: %w", err)
	}
	var nodeIDs []string
	for nodeRows.Next() {
		var id string
		if err := nodeRows.Scan(&id); err != nil {
			_ = nodeRows.Close()
			return nil, nil, err
		}
		nodeIDs = append(nodeIDs, id)
	}
	if err := nodeRows.Err(); err != nil {
		_ = nodeRows.Close()
		return nil, nil, err
	}
	_ = nodeRows.Close()

	edgeRows, err := q.Query(
		`SELECT DISTINCT from_id, rel, to_id FROM graph_edge_versions
		 WHERE workspace = ? AND branch = ? AND doc = ? AND seq > ? AND seq <= ?
		 ORDER BY from_id, rel, to_id`,
		workspace, branch, doc, cursor, ceil,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("graph: changed edges: %w", err)
	}
	var edgeKeys []EdgeKey
	for edgeRows.Next() {
		var k EdgeKey
		if err := edgeRows.Scan(&k.From, &k.Rel, &k.To); err != nil {
			_ = edgeRows.Close()
			return nil, nil, err
		}
		edgeKeys = append(edgeKeys, k)
	}
	if err := edgeRows.Err(); err != nil {
		_ = edgeRows.Close()
		return nil, nil, err
	}
	_ = edgeRows.Close()
	return nodeIDs, edgeKeys, nil
}

// ─── Fast-forward application ────────────────────────────────────────────────

// applyTheirsNode lands the source branch's node state on the target at a
// fresh seq, stamped with merge provenance. A tombstone cascades the
// target's incident live edges, same as a direct delete.
func (s *Store) applyTheirsNode(tx *sql.Tx, req MergeBackRequest, intoSources []source, ts int64, theirs *NodeState) error {
	meta, err := stampMerge(theirs.MetaJSON, req.FromBranch, theirs.Seq, theirs.TsMs)
	if err != nil {
		return err
	}
	var cascade []EdgeState
	if theirs.Deleted {
		cascade, err = incidentEdges(tx, req.Workspace, req.Doc, intoSources, theirs.ID, 0)
		if err != nil {
			return err
		}
	}
	seq, err := s.nextSeq(tx, req.Workspace, req.IntoBranch, req.Doc, intoSources, ts)
	if err != nil {
		return err
	}
	if err := appendNodeVersion(tx, req.Workspace, req.IntoBranch, req.Doc, seq, ts,
		theirs.ID, theirs.NodeType, theirs.Title, theirs.Text, theirs.Tags, theirs.Status, meta, theirs.Deleted); err != nil {
		return err
	}
	for _, e := range cascade {
		key := EdgeKey{From: e.From, Rel: e.Rel, To: e.To}
		if err := appendEdgeVersion(tx, req.Workspace, req.IntoBranch, req.Doc, seq, ts, key, e.MetaJSON, true); err != nil {
			return err
		}
	}
	return nil
}

// applyTheirsEdge lands the source branch's edge state on the target.
// Returns false without writing when the edge is live but an endpoint is
// missing or deleted on the target.
func (s *Store) applyTheirsEdge(tx *sql.Tx, req MergeBackRequest, intoSources []source, ts int64, key EdgeKey, theirs *EdgeState) (bool, error) {
	if !theirs.Deleted {
		for _, endpoint := range []string{key.From, key.To} {
			n, err := effectiveNode(tx, req.Workspace, req.Doc, intoSources, endpoint)
			if err != nil {
				return false, err
			}
			if n == nil || n.Deleted {
				return false, nil
			}
		}
	}
	meta, err := stampMerge(theirs.MetaJSON, req.FromBranch, theirs.Seq, theirs.TsMs)
	if err != nil {
		return false, err
	}
	seq, err := s.nextSeq(tx, req.Workspace, req.IntoBranch, req.Doc, intoSources, ts)
	if err != nil {
		return false, err
	}
	if err := appendEdgeVersion(tx, req.Workspace, req.IntoBranch, req.Doc, seq, ts, key, meta, theirs.Deleted); err != nil {
		return false, err
	}
	return true, nil
}

// stampMerge sets the _merge provenance object on a meta document,
// preserving the caller-visible keys.
func stampMerge(metaJSON, fromBranch string, fromSeq, fromTsMs int64) (string, error) {
	obj := map[string]any{}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &obj); err != nil {
			return "", fmt.Errorf("graph: merge meta: %w", err)
		}
	}
	obj["_merge"] = map[string]any{
		"from_branch": fromBranch,
		"from_seq":    fromSeq,
		"from_ts_ms":  fromTsMs,
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("graph: merge meta: %w", err)
	}
	return string(b), nil
}

// ─── Conflict recording ──────────────────────────────────────────────────────

// recordConflict persists a conflict row, reusing an already-open conflict
// for the same key and target so a re-run merge does not pile up
// duplicates.
func recordConflict(tx *sql.Tx, req MergeBackRequest, kind, key string, base, theirs, ours *Snapshot, ts int64) (string, error) {
	var existing string
	err := tx.QueryRow(
		`SELECT id FROM graph_conflicts
		 WHERE workspace = ? AND into_branch = ? AND doc = ? AND kind = ? AND conflict_key = ? AND from_branch = ? AND status = 'open'`,
		req.Workspace, req.IntoBranch, req.Doc, kind, key, req.FromBranch,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("graph: lookup conflict: %w", err)
	}

	id := uuid.NewString()
	baseJSON, err := marshalSnapshot(base)
	if err != nil {
		return "", err
	}
	theirsJSON, err := marshalSnapshot(theirs)
	if err != nil {
		return "", err
	}
	oursJSON, err := marshalSnapshot(ours)
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(
		`INSERT INTO graph_conflicts
		 (id, workspace, doc, kind, conflict_key, from_branch, into_branch, status, created_at_ms, base_snapshot, theirs_snapshot, ours_snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'open', ?, ?, ?, ?)`,
		id, req.Workspace, req.Doc, kind, key, req.FromBranch, req.IntoBranch, ts, baseJSON, theirsJSON, oursJSON,
	); err != nil {
		return "", fmt.Errorf("graph: record conflict: %w", err)
	}
	return id, nil
}

func marshalSnapshot(s *Snapshot) (any, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("graph: marshal snapshot: %w", err)
	}
	return string(b), nil
}

func snapshotFromNode(n *NodeState) *Snapshot {
	if n == nil {
		return nil
	}
	return &Snapshot{
		NodeType: n.NodeType,
		Title:    n.Title,
		Text:     n.Text,
		Tags:     n.Tags,
		Status:   n.Status,
		MetaJSON: n.MetaJSON,
		Deleted:  n.Deleted,
		Branch:   n.Branch,
		Seq:      n.Seq,
		TsMs:     n.TsMs,
	}
}

func snapshotFromEdge(e *EdgeState) *Snapshot {
	if e == nil {
		return nil
	}
	return &Snapshot{
		MetaJSON: e.MetaJSON,
		Deleted:  e.Deleted,
		Branch:   e.Branch,
		Seq:      e.Seq,
		TsMs:     e.TsMs,
	}
}

func edgeKeyString(k EdgeKey) string {
	return k.From + "|" + k.Rel + "|" + k.To
}

// ─── Semantic equality ───────────────────────────────────────────────────────

// nodeStateEqual compares two sides of a merge semantically: absent and
// tombstoned both mean "not there", engine-reserved meta keys are ignored,
// and tags compare as a case-insensitive set.
func nodeStateEqual(a, b *NodeState) bool {
	aAbsent := a == nil || a.Deleted
	bAbsent := b == nil || b.Deleted
	if aAbsent || bAbsent {
		return aAbsent == bAbsent
	}
	return a.NodeType == b.NodeType &&
		a.Title == b.Title &&
		a.Text == b.Text &&
		a.Status == b.Status &&
		tagSetEqual(a.Tags, b.Tags) &&
		metaEqual(a.MetaJSON, b.MetaJSON)
}

func edgeStateEqual(a, b *EdgeState) bool {
	aAbsent := a == nil || a.Deleted
	bAbsent := b == nil || b.Deleted
	if aAbsent || bAbsent {
		return aAbsent == bAbsent
	}
	return metaEqual(a.MetaJSON, b.MetaJSON)
}

// metaEqual compares two meta documents as JSON values with the reserved
// keys stripped. Empty string, "null", and "{}" are all equivalent.
func metaEqual(a, b string) bool {
	return reflect.DeepEqual(userMeta(a), userMeta(b))
}

// userMeta parses a meta document down to its caller-visible keys. A meta
// that fails to parse compares by its raw text under "_meta_raw" so broken
// rows are still stable under comparison.
func userMeta(metaJSON string) map[string]any {
	out := map[string]any{}
	if metaJSON == "" || metaJSON == "null" {
		return out
	}
	if err := json.Unmarshal([]byte(metaJSON), &out); err != nil {
		return map[string]any{"_meta_raw": metaJSON}
	}
	for _, k := range reservedMetaKeys {
		delete(out, k)
	}
	return out
}

// nodeFieldDiff counts how many node fields differ between base and
// theirs, treating an absent side as the zero node.
func nodeFieldDiff(base, theirs *NodeState) int {
	a, b := orZeroNode(base), orZeroNode(theirs)
	n := 0
	if a.NodeType != b.NodeType {
		n++
	}
	if a.Title != b.Title {
		n++
	}
	if a.Text != b.Text {
		n++
	}
	if a.Status != b.Status {
		n++
	}
	if !tagSetEqual(a.Tags, b.Tags) {
		n++
	}
	if !metaEqual(a.MetaJSON, b.MetaJSON) {
		n++
	}
	if (a.Deleted || base == nil) != (b.Deleted || theirs == nil) {
		n++
	}
	return n
}

func edgeFieldDiff(base, theirs *EdgeState) int {
	n := 0
	aAbsent := base == nil || base.Deleted
	bAbsent := theirs == nil || theirs.Deleted
	if aAbsent != bAbsent {
		n++
	}
	var am, bm string
	if base != nil {
		am = base.MetaJSON
	}
	if theirs != nil {
		bm = theirs.MetaJSON
	}
	if !metaEqual(am, bm) {
		n++
	}
	return n
}

func orZeroNode(n *NodeState) *NodeState {
	if n == nil {
		return &NodeState{}
	}
	return n
}

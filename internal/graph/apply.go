package graph

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Meta keys the engine reserves for itself. User writes may not set them;
// equality comparisons ignore them.
var reservedMetaKeys = []string{"_merge", "_meta", "_meta_raw"}

// ApplyOps appends an ordered batch of operations to one document on one
// branch. The whole batch commits atomically: the first invalid op aborts
// everything. Deleting a node tombstones its incident edges in the same
// step.
func (s *Store) ApplyOps(req ApplyOpsRequest) (*ApplyOpsResult, error) {
	if err := validateScopeName("workspace", req.Workspace); err != nil {
		return nil, err
	}
	if err := validateScopeName("branch", req.Branch); err != nil {
		return nil, err
	}
	if err := validateScopeName("doc", req.Doc); err != nil {
		return nil, err
	}
	if len(req.Ops) == 0 {
		return nil, fmt.Errorf("%w: ops batch is empty", ErrInvalidInput)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := requireBranch(tx, req.Workspace, req.Branch); err != nil {
		return nil, err
	}
	sources, err := s.resolveSourcesTx(tx, req.Workspace, req.Branch, req.Doc)
	if err != nil {
		return nil, err
	}

	ts := nowMs()
	var res ApplyOpsResult
	for i, op := range req.Ops {
		if err := s.applyOne(tx, req.Workspace, req.Branch, req.Doc, sources, ts, op, &res); err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
	}
	res.LastTsMs = ts

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("graph: commit: %w", err)
	}
	return &res, nil
}

func (s *Store) applyOne(tx *sql.Tx, workspace, branch, doc string, sources []source, ts int64, op Op, res *ApplyOpsResult) error {
	switch op.Kind {
	case OpNodeUpsert:
		return s.applyNodeUpsert(tx, workspace, branch, doc, sources, ts, op, res)
	case OpNodeDelete:
		return s.applyNodeDelete(tx, workspace, branch, doc, sources, ts, op, res)
	case OpEdgeUpsert:
		return s.applyEdgeUpsert(tx, workspace, branch, doc, sources, ts, op, res)
	case OpEdgeDelete:
		return s.applyEdgeDelete(tx, workspace, branch, doc, sources, ts, op, res)
	default:
		return fmt.Errorf("%w: unknown op kind %q", ErrInvalidInput, op.Kind)
	}
}

func (s *Store) applyNodeUpsert(tx *sql.Tx, workspace, branch, doc string, sources []source, ts int64, op Op, res *ApplyOpsResult) error {
	if err := ValidateNodeID(op.ID); err != nil {
		return err
	}
	if err := ValidateNodeType(op.NodeType); err != nil {
		return err
	}
	tags, err := NormalizeTags(op.Tags)
	if err != nil {
		return err
	}
	if err := validateUserMeta(op.MetaJSON); err != nil {
		return err
	}

	seq, err := s.nextSeq(tx, workspace, branch, doc, sources, ts)
	if err != nil {
		return err
	}
	if err := appendNodeVersion(tx, workspace, branch, doc, seq, ts,
		op.ID, op.NodeType, op.Title, op.Text, tags, op.Status, op.MetaJSON, false); err != nil {
		return err
	}
	res.NodesUpserted++
	res.LastSeq = seq
	return nil
}

// applyNodeDelete tombstones a node and every effective edge touching it,
// all at one seq. The tombstone preserves the node's last-known fields so
// a later read can still show what was deleted.
func (s *Store) applyNodeDelete(tx *sql.Tx, workspace, branch, doc string, sources []source, ts int64, op Op, res *ApplyOpsResult) error {
	if err := ValidateNodeID(op.ID); err != nil {
		return err
	}
	cur, err := effectiveNode(tx, workspace, doc, sources, op.ID)
	if err != nil {
		return err
	}
	if cur == nil || cur.Deleted {
		return fmt.Errorf("%w: node %q does not exist", ErrInvalidInput, op.ID)
	}

	edges, err := incidentEdges(tx, workspace, doc, sources, op.ID, 0)
	if err != nil {
		return err
	}

	seq, err := s.nextSeq(tx, workspace, branch, doc, sources, ts)
	if err != nil {
		return err
	}
	if err := appendNodeVersion(tx, workspace, branch, doc, seq, ts,
		cur.ID, cur.NodeType, cur.Title, cur.Text, cur.Tags, cur.Status, cur.MetaJSON, true); err != nil {
		return err
	}
	res.NodesDeleted++
	for _, e := range edges {
		key := EdgeKey{From: e.From, Rel: e.Rel, To: e.To}
		if err := appendEdgeVersion(tx, workspace, branch, doc, seq, ts, key, e.MetaJSON, true); err != nil {
			return err
		}
		res.EdgesDeleted++
	}
	res.LastSeq = seq
	return nil
}

func (s *Store) applyEdgeUpsert(tx *sql.Tx, workspace, branch, doc string, sources []source, ts int64, op Op, res *ApplyOpsResult) error {
	if err := ValidateNodeID(op.From); err != nil {
		return err
	}
	if err := ValidateRel(op.Rel); err != nil {
		return err
	}
	if err := ValidateNodeID(op.To); err != nil {
		return err
	}
	if err := validateUserMeta(op.MetaJSON); err != nil {
		return err
	}
	for _, endpoint := range []string{op.From, op.To} {
		n, err := effectiveNode(tx, workspace, doc, sources, endpoint)
		if err != nil {
			return err
		}
		if n == nil || n.Deleted {
			return fmt.Errorf("%w: edge endpoint %q does not exist", ErrInvalidInput, endpoint)
		}
	}

	seq, err := s.nextSeq(tx, workspace, branch, doc, sources, ts)
	if err != nil {
		return err
	}
	key := EdgeKey{From: op.From, Rel: op.Rel, To: op.To}
	if err := appendEdgeVersion(tx, workspace, branch, doc, seq, ts, key, op.MetaJSON, false); err != nil {
		return err
	}
	res.EdgesUpserted++
	res.LastSeq = seq
	return nil
}

func (s *Store) applyEdgeDelete(tx *sql.Tx, workspace, branch, doc string, sources []source, ts int64, op Op, res *ApplyOpsResult) error {
	if err := ValidateNodeID(op.From); err != nil {
		return err
	}
	if err := ValidateRel(op.Rel); err != nil {
		return err
	}
	if err := ValidateNodeID(op.To); err != nil {
		return err
	}
	key := EdgeKey{From: op.From, Rel: op.Rel, To: op.To}
	cur, err := effectiveEdge(tx, workspace, doc, sources, key)
	if err != nil {
		return err
	}
	if cur == nil || cur.Deleted {
		return fmt.Errorf("%w: edge %s-[%s]->%s does not exist", ErrInvalidInput, op.From, op.Rel, op.To)
	}

	seq, err := s.nextSeq(tx, workspace, branch, doc, sources, ts)
	if err != nil {
		return err
	}
	if err := appendEdgeVersion(tx, workspace, branch, doc, seq, ts, key, cur.MetaJSON, true); err != nil {
		return err
	}
	res.EdgesDeleted++
	res.LastSeq = seq
	return nil
}

// validateUserMeta accepts an empty meta or a JSON object without reserved
// keys. Arrays, scalars, and malformed JSON are rejected.
func validateUserMeta(metaJSON string) error {
	if metaJSON == "" {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(metaJSON), &obj); err != nil {
		return fmt.Errorf("%w: meta_json must be a JSON object", ErrInvalidInput)
	}
	for _, k := range reservedMetaKeys {
		if _, ok := obj[k]; ok {
			return fmt.Errorf("%w: meta key %q is reserved", ErrInvalidInput, k)
		}
	}
	for k := range obj {
		if strings.HasPrefix(k, "_") && !isReservedMetaKey(k) {
			return fmt.Errorf("%w: meta keys starting with underscore are reserved (%q)", ErrInvalidInput, k)
		}
	}
	return nil
}

func isReservedMetaKey(k string) bool {
	for _, r := range reservedMetaKeys {
		if k == r {
			return true
		}
	}
	return false
}

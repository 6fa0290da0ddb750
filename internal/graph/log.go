package graph

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ─── Source predicates ───────────────────────────────────────────────────────

// sourceFilter renders a SQL predicate restricting version rows to a
// branch lineage: one (branch = ? AND seq <= ?) disjunct per source.
func sourceFilter(sources []source) (string, []any) {
	parts := make([]string, 0, len(sources))
	args := make([]any, 0, 2*len(sources))
	for _, src := range sources {
		parts = append(parts, "(branch = ? AND seq <= ?)")
		args = append(args, src.branch, src.maxSeq)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// withCeiling returns a copy of sources with the branch's own ceiling
// lowered to max. Ancestor ceilings are already below any fork point and
// are left untouched.
func withCeiling(sources []source, max int64) []source {
	out := make([]source, len(sources))
	copy(out, sources)
	if len(out) > 0 && max < out[0].maxSeq {
		out[0].maxSeq = max
	}
	return out
}

// ─── Effective view resolution ───────────────────────────────────────────────

// effectiveNode returns the highest-seq version of a node across the
// sources, or nil when the node never existed there. Tombstoned rows are
// returned with Deleted=true — callers must check.
func effectiveNode(q dbtx, workspace, doc string, sources []source, nodeID string) (*NodeState, error) {
	filter, filterArgs := sourceFilter(sources)
	args := append([]any{workspace, doc, nodeID}, filterArgs...)
	row := q.QueryRow(
		`SELECT branch, seq, ts_ms, node_id, node_type, title, text, tags, status, meta_json, deleted
		 FROM graph_node_versions
		 WHERE workspace = ? AND doc = ? AND node_id = ? AND `+filter+`
		 ORDER BY seq DESC LIMIT 1`,
		args...,
	)
	n, err := scanNodeState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("graph: effective node: %w", err)
	}
	return n, nil
}

// effectiveEdge returns the highest-seq version of an edge across the
// sources, or nil when the edge never existed there.
func effectiveEdge(q dbtx, workspace, doc string, sources []source, key EdgeKey) (*EdgeState, error) {
	filter, filterArgs := sourceFilter(sources)
	args := append([]any{workspace, doc, key.From, key.Rel, key.To}, filterArgs...)
	row := q.QueryRow(
		`SELECT branch, seq, ts_ms, from_id, rel, to_id, meta_json, deleted
		 FROM graph_edge_versions
		 WHERE workspace = ? AND doc = ? AND from_id = ? AND rel = ? AND to_id = ? AND `+filter+`
		 ORDER BY seq DESC LIMIT 1`,
		args...,
	)
	var e EdgeState
	var deleted int
	err := row.Scan(&e.Branch, &e.Seq, &e.TsMs, &e.From, &e.Rel, &e.To, &e.MetaJSON, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("graph: effective edge: %w", err)
	}
	e.Deleted = deleted != 0
	return &e, nil
}

// incidentEdges returns every effective, non-deleted edge whose from or to
// endpoint is nodeID. Used for cascade computation and include_edges reads.
func incidentEdges(q dbtx, workspace, doc string, sources []source, nodeID string, limit int) ([]EdgeState, error) {
	filter, filterArgs := sourceFilter(sources)
	inner := `SELECT from_id, rel, to_id, MAX(seq) AS max_seq
		 FROM graph_edge_versions
		 WHERE workspace = ? AND doc = ? AND (from_id = ? OR to_id = ?) AND ` + filter + `
		 GROUP BY from_id, rel, to_id`
	query := `SELECT v.branch, v.seq, v.ts_ms, v.from_id, v.rel, v.to_id, v.meta_json, v.deleted
		 FROM graph_edge_versions v
		 JOIN (` + inner + `) m
		   ON m.from_id = v.from_id AND m.rel = v.rel AND m.to_id = v.to_id AND m.max_seq = v.seq
		 WHERE v.workspace = ? AND v.doc = ? AND v.deleted = 0 AND ` + filter + `
		 ORDER BY v.from_id, v.rel, v.to_id`
	args := append([]any{workspace, doc, nodeID, nodeID}, filterArgs...)
	args = append(args, workspace, doc)
	args = append(args, filterArgs...)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: incident edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EdgeState
	for rows.Next() {
		var e EdgeState
		var deleted int
		if err := rows.Scan(&e.Branch, &e.Seq, &e.TsMs, &e.From, &e.Rel, &e.To, &e.MetaJSON, &deleted); err != nil {
			return nil, err
		}
		e.Deleted = deleted != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// incidentEdgeKeys is incidentEdges reduced to keys, for cascades.
func incidentEdgeKeys(q dbtx, workspace, doc string, sources []source, nodeID string) ([]EdgeKey, error) {
	edges, err := incidentEdges(q, workspace, doc, sources, nodeID, 0)
	if err != nil {
		return nil, err
	}
	keys := make([]EdgeKey, 0, len(edges))
	for _, e := range edges {
		keys = append(keys, EdgeKey{From: e.From, Rel: e.Rel, To: e.To})
	}
	return keys, nil
}

// headSeq returns the highest seq visible across the sources for one
// document, over both node and edge logs. Zero means the document has no
// visible rows.
func headSeq(q dbtx, workspace, doc string, sources []source) (int64, error) {
	filter, filterArgs := sourceFilter(sources)
	var head int64
	args := append([]any{workspace, doc}, filterArgs...)
	args = append(args, workspace, doc)
	args = append(args, filterArgs...)
	err := q.QueryRow(
		`SELECT MAX(h) FROM (
			SELECT COALESCE(MAX(seq), 0) AS h FROM graph_node_versions
			 WHERE workspace = ? AND doc = ? AND `+filter+`
			UNION ALL
			SELECT COALESCE(MAX(seq), 0) AS h FROM graph_edge_versions
			 WHERE workspace = ? AND doc = ? AND `+filter+`
		)`,
		args...,
	).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("graph: head seq: %w", err)
	}
	return head, nil
}

// ─── Append primitives ───────────────────────────────────────────────────────

// nextSeq allocates the next sequence number for (workspace, branch, doc),
// creating the document row on first write. A new document on a forked
// branch starts above the lineage head, so fresh rows always win the
// highest-seq-per-key derivation over inherited rows.
func (s *Store) nextSeq(tx *sql.Tx, workspace, branch, doc string, sources []source, ts int64) (int64, error) {
	var last int64
	err := tx.QueryRow(
		`SELECT last_seq FROM documents WHERE workspace = ? AND branch = ? AND name = ?`,
		workspace, branch, doc,
	).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		head, err := headSeq(tx, workspace, doc, sources)
		if err != nil {
			return 0, err
		}
		last = head
		if _, err := tx.Exec(
			`INSERT INTO documents (workspace, branch, name, kind, last_seq, created_at_ms, updated_at_ms)
			 VALUES (?, ?, ?, 'graph', ?, ?, ?)`,
			workspace, branch, doc, last, ts, ts,
		); err != nil {
			return 0, fmt.Errorf("graph: create document: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("graph: document seq: %w", err)
	}

	seq := last + 1
	if _, err := tx.Exec(
		`UPDATE documents SET last_seq = ?, updated_at_ms = ? WHERE workspace = ? AND branch = ? AND name = ?`,
		seq, ts, workspace, branch, doc,
	); err != nil {
		return 0, fmt.Errorf("graph: advance seq: %w", err)
	}
	return seq, nil
}

// appendNodeVersion writes one node version row. Rows are never mutated
// afterwards.
func appendNodeVersion(tx *sql.Tx, workspace, branch, doc string, seq, ts int64,
	nodeID, nodeType, title, text string, tags []string, status, metaJSON string, deleted bool) error {
	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO graph_node_versions
		 (workspace, branch, doc, seq, ts_ms, node_id, node_type, title, text, tags, status, meta_json, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workspace, branch, doc, seq, ts, nodeID, nodeType, title, text, tagsJSON, status, metaJSON, boolToInt(deleted),
	)
	if err != nil {
		return fmt.Errorf("graph: append node version: %w", err)
	}
	return nil
}

// appendEdgeVersion writes one edge version row.
func appendEdgeVersion(tx *sql.Tx, workspace, branch, doc string, seq, ts int64,
	key EdgeKey, metaJSON string, deleted bool) error {
	_, err := tx.Exec(
		`INSERT INTO graph_edge_versions
		 (workspace, branch, doc, seq, ts_ms, from_id, rel, to_id, meta_json, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workspace, branch, doc, seq, ts, key.From, key.Rel, key.To, metaJSON, boolToInt(deleted),
	)
	if err != nil {
		return fmt.Errorf("graph: append edge version: %w", err)
	}
	return nil
}

// ─── Row scanning helpers ────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeState(row rowScanner) (*NodeState, error) {
	var n NodeState
	var tagsJSON string
	var deleted int
	if err := row.Scan(
		&n.Branch, &n.Seq, &n.TsMs, &n.ID, &n.NodeType, &n.Title, &n.Text,
		&tagsJSON, &n.Status, &n.MetaJSON, &deleted,
	); err != nil {
		return nil, err
	}
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, err
	}
	n.Tags = tags
	n.Deleted = deleted != 0
	return &n, nil
}

func marshalTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("graph: marshal tags: %w", err)
	}
	return string(b), nil
}

func unmarshalTags(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, fmt.Errorf("graph: unmarshal tags: %w", err)
	}
	return tags, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

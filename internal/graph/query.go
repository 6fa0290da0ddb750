package graph

import (
	"fmt"
	"strings"
)

// Query reads one page of a branch's effective view: the highest-seq,
// non-tombstoned node per id across the lineage, filtered and ordered by
// node id. Id, type, and status filters run in SQL; tag and text filters
// run over the scanned rows. Cursor is the last node id of the previous
// page.
func (s *Store) Query(req QueryRequest) (*QueryResult, error) {
	if err := validateScopeName("workspace", req.Workspace); err != nil {
		return nil, err
	}
	if err := validateScopeName("branch", req.Branch); err != nil {
		return nil, err
	}
	if err := validateScopeName("doc", req.Doc); err != nil {
		return nil, err
	}
	limit := s.cfg.pageLimit(req.Limit)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	sources, err := s.resolveSourcesTx(tx, req.Workspace, req.Branch, req.Doc)
	if err != nil {
		return nil, err
	}

	filter, filterArgs := sourceFilter(sources)
	inner := `SELECT node_id, MAX(seq) AS max_seq FROM graph_node_versions
		 WHERE workspace = ? AND doc = ? AND ` + filter + `
		 GROUP BY node_id`
	deletedPred := " AND v.deleted = 0"
	if req.IncludeDeleted {
		deletedPred = ""
	}
	query := `SELECT v.branch, v.seq, v.ts_ms, v.node_id, v.node_type, v.title, v.text, v.tags, v.status, v.meta_json, v.deleted
		 FROM graph_node_versions v
		 JOIN (` + inner + `) m ON m.node_id = v.node_id AND m.max_seq = v.seq
		 WHERE v.workspace = ? AND v.doc = ?` + deletedPred + ` AND ` + filter
	args := append([]any{req.Workspace, req.Doc}, filterArgs...)
	args = append(args, req.Workspace, req.Doc)
	args = append(args, filterArgs...)

	if req.Cursor != "" {
		query += " AND v.node_id > ?"
		args = append(args, req.Cursor)
	}
	if len(req.IDs) > 0 {
		query += " AND v.node_id IN (" + placeholders(len(req.IDs)) + ")"
		for _, id := range req.IDs {
			args = append(args, id)
		}
	}
	if len(req.Types) > 0 {
		query += " AND v.node_type IN (" + placeholders(len(req.Types)) + ")"
		for _, t := range req.Types {
			args = append(args, t)
		}
	}
	if req.Status != "" {
		query += " AND v.status = ?"
		args = append(args, req.Status)
	}
	query += " ORDER BY v.node_id ASC"

	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	res := &QueryResult{Nodes: []QueryNode{}}
	for rows.Next() {
		n, err := scanNodeState(rows)
		if err != nil {
			return nil, err
		}
		if !matchesTagFilters(n.Tags, req.TagsAny, req.TagsAll) {
			continue
		}
		if !matchesText(n, req.Text) {
			continue
		}
		if len(res.Nodes) == limit {
			res.HasMore = true
			break
		}
		res.Nodes = append(res.Nodes, QueryNode{NodeState: *n})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	if req.IncludeEdges {
		edgesLimit := s.cfg.pageLimit(req.EdgesLimit)
		for i := range res.Nodes {
			edges, err := incidentEdges(tx, req.Workspace, req.Doc, sources, res.Nodes[i].ID, edgesLimit)
			if err != nil {
				return nil, err
			}
			res.Nodes[i].Edges = edges
		}
	}

	res.Count = len(res.Nodes)
	if res.HasMore && res.Count > 0 {
		res.NextCursor = res.Nodes[res.Count-1].ID
	}
	return res, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// matchesTagFilters applies tags_any (at least one) and tags_all (every
// one), both case-insensitive.
func matchesTagFilters(tags, any, all []string) bool {
	if len(any) == 0 && len(all) == 0 {
		return true
	}
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[strings.ToLower(t)] = true
	}
	if len(any) > 0 {
		hit := false
		for _, t := range any {
			if set[strings.ToLower(t)] {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, t := range all {
		if !set[strings.ToLower(t)] {
			return false
		}
	}
	return true
}

// matchesText is a case-insensitive substring match over title and text.
func matchesText(n *NodeState, needle string) bool {
	if needle == "" {
		return true
	}
	needle = strings.ToLower(needle)
	return strings.Contains(strings.ToLower(n.Title), needle) ||
		strings.Contains(strings.ToLower(n.Text), needle)
}

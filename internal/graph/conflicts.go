package graph

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ListConflicts pages through a workspace's conflicts, newest first.
// Filters on target branch, document, and status combine with AND.
func (s *Store) ListConflicts(req ListConflictsRequest) (*ListConflictsResult, error) {
	if err := validateScopeName("workspace", req.Workspace); err != nil {
		return nil, err
	}
	limit := s.cfg.pageLimit(req.Limit)

	query := `SELECT id, workspace, doc, kind, conflict_key, from_branch, into_branch, status,
		 created_at_ms, resolved_at_ms, COALESCE(resolution, ''),
		 base_snapshot, theirs_snapshot, ours_snapshot
		 FROM graph_conflicts WHERE workspace = ?`
	args := []any{req.Workspace}
	if req.IntoBranch != "" {
		query += " AND into_branch = ?"
		args = append(args, req.IntoBranch)
	}
	if req.Doc != "" {
		query += " AND doc = ?"
		args = append(args, req.Doc)
	}
	if req.Status != "" {
		if req.Status != ConflictOpen && req.Status != ConflictResolved {
			return nil, fmt.Errorf("%w: status must be %q or %q", ErrInvalidInput, ConflictOpen, ConflictResolved)
		}
		query += " AND status = ?"
		args = append(args, req.Status)
	}
	if req.Cursor != "" {
		ms, id, err := parseConflictCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		query += " AND (created_at_ms < ? OR (created_at_ms = ? AND id < ?))"
		args = append(args, ms, ms, id)
	}
	query += " ORDER BY created_at_ms DESC, id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: list conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conflicts []Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res := &ListConflictsResult{}
	if len(conflicts) > limit {
		conflicts = conflicts[:limit]
		last := conflicts[len(conflicts)-1]
		res.HasMore = true
		res.NextCursor = fmt.Sprintf("%d:%s", last.CreatedAtMs, last.ID)
	}
	res.Conflicts = conflicts
	return res, nil
}

// GetConflict loads one conflict with its three snapshots.
func (s *Store) GetConflict(conflictID string) (*Conflict, error) {
	if conflictID == "" {
		return nil, fmt.Errorf("%w: conflict id is empty", ErrInvalidInput)
	}
	row := s.db.QueryRow(
		`SELECT id, workspace, doc, kind, conflict_key, from_branch, into_branch, status,
		 created_at_ms, resolved_at_ms, COALESCE(resolution, ''),
		 base_snapshot, theirs_snapshot, ours_snapshot
		 FROM graph_conflicts WHERE id = ?`,
		conflictID,
	)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConflict, conflictID)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveConflict closes an open conflict. use_into keeps the target
// branch's state and only marks the conflict resolved. use_from re-applies
// the source branch's snapshot onto the target at a fresh seq, stamped
// with merge provenance, then marks the conflict resolved. Either way the
// conflict row survives as an audit record.
func (s *Store) ResolveConflict(conflictID, resolution string) (*Conflict, error) {
	if conflictID == "" {
		return nil, fmt.Errorf("%w: conflict id is empty", ErrInvalidInput)
	}
	if resolution != ResolutionUseInto && resolution != ResolutionUseFrom {
		return nil, fmt.Errorf("%w: resolution must be %q or %q", ErrInvalidInput, ResolutionUseInto, ResolutionUseFrom)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRow(
		`SELECT id, workspace, doc, kind, conflict_key, from_branch, into_branch, status,
		 created_at_ms, resolved_at_ms, COALESCE(resolution, ''),
		 base_snapshot, theirs_snapshot, ours_snapshot
		 FROM graph_conflicts WHERE id = ?`,
		conflictID,
	)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConflict, conflictID)
	}
	if err != nil {
		return nil, err
	}
	if c.Status != ConflictOpen {
		return nil, fmt.Errorf("%w: %q was resolved as %s", ErrConflictAlreadyResolved, conflictID, c.Resolution)
	}

	ts := nowMs()
	if resolution == ResolutionUseFrom {
		if err := s.applyResolution(tx, c, ts); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(
		`UPDATE graph_conflicts SET status = ?, resolution = ?, resolved_at_ms = ? WHERE id = ?`,
		ConflictResolved, resolution, ts, conflictID,
	); err != nil {
		return nil, fmt.Errorf("graph: resolve conflict: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("graph: commit: %w", err)
	}

	c.Status = ConflictResolved
	c.Resolution = resolution
	c.ResolvedAtMs = &ts
	return c, nil
}

// applyResolution lands the theirs snapshot on the target branch.
func (s *Store) applyResolution(tx *sql.Tx, c *Conflict, ts int64) error {
	intoSources, err := s.resolveSourcesTx(tx, c.Workspace, c.IntoBranch, c.Doc)
	if err != nil {
		return err
	}

	switch c.Kind {
	case ConflictKindNode:
		ours, err := effectiveNode(tx, c.Workspace, c.Doc, intoSources, c.Key)
		if err != nil {
			return err
		}
		theirsAbsent := c.Theirs == nil || c.Theirs.Deleted
		if theirsAbsent {
			if ours == nil || ours.Deleted {
				return nil // already gone on the target
			}
			seq, err := s.nextSeq(tx, c.Workspace, c.IntoBranch, c.Doc, intoSources, ts)
			if err != nil {
				return err
			}
			if err := appendNodeVersion(tx, c.Workspace, c.IntoBranch, c.Doc, seq, ts,
				c.Key, ours.NodeType, ours.Title, ours.Text, ours.Tags, ours.Status, ours.MetaJSON, true); err != nil {
				return err
			}
			edges, err := incidentEdges(tx, c.Workspace, c.Doc, intoSources, c.Key, 0)
			if err != nil {
				return err
			}
			for _, e := range edges {
				key := EdgeKey{From: e.From, Rel: e.Rel, To: e.To}
				if err := appendEdgeVersion(tx, c.Workspace, c.IntoBranch, c.Doc, seq, ts, key, e.MetaJSON, true); err != nil {
					return err
				}
			}
			return nil
		}
		meta, err := stampMerge(c.Theirs.MetaJSON, c.FromBranch, c.Theirs.Seq, c.Theirs.TsMs)
		if err != nil {
			return err
		}
		seq, err := s.nextSeq(tx, c.Workspace, c.IntoBranch, c.Doc, intoSources, ts)
		if err != nil {
			return err
		}
		return appendNodeVersion(tx, c.Workspace, c.IntoBranch, c.Doc, seq, ts,
			c.Key, c.Theirs.NodeType, c.Theirs.Title, c.Theirs.Text, c.Theirs.Tags, c.Theirs.Status, meta, false)

	case ConflictKindEdge:
		key, err := parseEdgeKey(c.Key)
		if err != nil {
			return err
		}
		theirsAbsent := c.Theirs == nil || c.Theirs.Deleted
		if theirsAbsent {
			cur, err := effectiveEdge(tx, c.Workspace, c.Doc, intoSources, key)
			if err != nil {
				return err
			}
			if cur == nil || cur.Deleted {
				return nil
			}
			seq, err := s.nextSeq(tx, c.Workspace, c.IntoBranch, c.Doc, intoSources, ts)
			if err != nil {
				return err
			}
			return appendEdgeVersion(tx, c.Workspace, c.IntoBranch, c.Doc, seq, ts, key, cur.MetaJSON, true)
		}
		for _, endpoint := range []string{key.From, key.To} {
			n, err := effectiveNode(tx, c.Workspace, c.Doc, intoSources, endpoint)
			if err != nil {
				return err
			}
			if n == nil || n.Deleted {
				return fmt.Errorf("%w: edge endpoint %q does not exist on branch %q", ErrInvalidInput, endpoint, c.IntoBranch)
			}
		}
		meta, err := stampMerge(c.Theirs.MetaJSON, c.FromBranch, c.Theirs.Seq, c.Theirs.TsMs)
		if err != nil {
			return err
		}
		seq, err := s.nextSeq(tx, c.Workspace, c.IntoBranch, c.Doc, intoSources, ts)
		if err != nil {
			return err
		}
		return appendEdgeVersion(tx, c.Workspace, c.IntoBranch, c.Doc, seq, ts, key, meta, false)

	default:
		return fmt.Errorf("%w: conflict kind %q", ErrInvalidInput, c.Kind)
	}
}

// OpenConflictCount reports how many conflicts await resolution in a
// workspace.
func (s *Store) OpenConflictCount(workspace string) (int, error) {
	if err := validateScopeName("workspace", workspace); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM graph_conflicts WHERE workspace = ? AND status = 'open'`,
		workspace,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("graph: count conflicts: %w", err)
	}
	return n, nil
}

// ─── Scanning and cursors ────────────────────────────────────────────────────

func scanConflict(row rowScanner) (*Conflict, error) {
	var c Conflict
	var resolvedAt sql.NullInt64
	var baseJSON, theirsJSON, oursJSON sql.NullString
	if err := row.Scan(
		&c.ID, &c.Workspace, &c.Doc, &c.Kind, &c.Key, &c.FromBranch, &c.IntoBranch, &c.Status,
		&c.CreatedAtMs, &resolvedAt, &c.Resolution,
		&baseJSON, &theirsJSON, &oursJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("graph: scan conflict: %w", err)
	}
	if resolvedAt.Valid {
		c.ResolvedAtMs = &resolvedAt.Int64
	}
	var err error
	if c.Base, err = unmarshalSnapshot(baseJSON); err != nil {
		return nil, err
	}
	if c.Theirs, err = unmarshalSnapshot(theirsJSON); err != nil {
		return nil, err
	}
	if c.Ours, err = unmarshalSnapshot(oursJSON); err != nil {
		return nil, err
	}
	return &c, nil
}

func unmarshalSnapshot(v sql.NullString) (*Snapshot, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(v.String), &s); err != nil {
		return nil, fmt.Errorf("graph: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

func parseConflictCursor(cursor string) (int64, string, error) {
	ms, id, ok := strings.Cut(cursor, ":")
	if !ok {
		return 0, "", fmt.Errorf("%w: malformed cursor %q", ErrInvalidInput, cursor)
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: malformed cursor %q", ErrInvalidInput, cursor)
	}
	return n, id, nil
}

func parseEdgeKey(key string) (EdgeKey, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 3 {
		return EdgeKey{}, fmt.Errorf("%w: malformed edge key %q", ErrInvalidInput, key)
	}
	return EdgeKey{From: parts[0], Rel: parts[1], To: parts[2]}, nil
}

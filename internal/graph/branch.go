package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
)

// source is one contributor to a branch's effective view: a branch name
// plus the highest seq of its rows that the view may see. The branch
// itself has an unbounded ceiling; each ancestor is capped at the fork
// point it was left at.
type source struct {
	branch string
	maxSeq int64
}

const noCeiling = int64(math.MaxInt64)

// ─── Branch management ───────────────────────────────────────────────────────

// CreateBranch registers a branch in a workspace. baseBranch may be empty
// for a root branch. Forking records a per-document fork point (the
// current visible head of each document on the base lineage) instead of
// copying any rows; documents created on the base after the fork stay
// invisible to the child.
func (s *Store) CreateBranch(workspace, name, baseBranch string) (*Branch, error) {
	if err := validateScopeName("workspace", workspace); err != nil {
		return nil, err
	}
	if err := validateScopeName("branch", name); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ts := nowMs()
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO workspaces (name, created_at_ms) VALUES (?, ?)`,
		workspace, ts,
	); err != nil {
		return nil, fmt.Errorf("graph: register workspace: %w", err)
	}

	if existing, err := getBranch(tx, workspace, name); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: branch %q already exists in workspace %q", ErrInvalidInput, name, workspace)
	} else if err != nil {
		return nil, err
	}

	var baseSeq int64
	if baseBranch != "" {
		if name == baseBranch {
			return nil, fmt.Errorf("%w: branch cannot be its own base", ErrInvalidInput)
		}
		base, err := getBranch(tx, workspace, baseBranch)
		if err != nil {
			return nil, err
		}
		if base == nil {
			return nil, fmt.Errorf("%w: base branch %q in workspace %q", ErrUnknownBranch, baseBranch, workspace)
		}

		docs, err := s.lineageDocs(tx, workspace, baseBranch)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			srcs, err := s.resolveSourcesTx(tx, workspace, baseBranch, doc)
			if err != nil {
				return nil, err
			}
			head, err := headSeq(tx, workspace, doc, srcs)
			if err != nil {
				return nil, err
			}
			if head == 0 {
				continue
			}
			if _, err := tx.Exec(
				`INSERT INTO branch_fork_points (workspace, branch, doc, base_seq) VALUES (?, ?, ?, ?)`,
				workspace, name, doc, head,
			); err != nil {
				return nil, fmt.Errorf("graph: record fork point: %w", err)
			}
			if head > baseSeq {
				baseSeq = head
			}
		}
	}

	var baseBranchArg any
	var baseSeqArg any
	if baseBranch != "" {
		baseBranchArg = baseBranch
		baseSeqArg = baseSeq
	}
	if _, err := tx.Exec(
		`INSERT INTO branches (workspace, name, base_branch, base_seq, created_at_ms) VALUES (?, ?, ?, ?, ?)`,
		workspace, name, baseBranchArg, baseSeqArg, ts,
	); err != nil {
		return nil, fmt.Errorf("graph: create branch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("graph: commit: %w", err)
	}

	return &Branch{
		Workspace:   workspace,
		Name:        name,
		BaseBranch:  baseBranch,
		BaseSeq:     baseSeq,
		CreatedAtMs: ts,
	}, nil
}

// ListBranches returns all branches in a workspace, oldest first.
func (s *Store) ListBranches(workspace string) ([]Branch, error) {
	if err := validateScopeName("workspace", workspace); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT workspace, name, COALESCE(base_branch, ''), COALESCE(base_seq, 0), created_at_ms
		 FROM branches WHERE workspace = ? ORDER BY created_at_ms ASC, name ASC`,
		workspace,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: list branches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.Workspace, &b.Name, &b.BaseBranch, &b.BaseSeq, &b.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListDocuments returns the documents written on a branch (not those
// inherited from its lineage), most recently touched first.
func (s *Store) ListDocuments(workspace, branch string) ([]Document, error) {
	if err := validateScopeName("workspace", workspace); err != nil {
		return nil, err
	}
	if err := validateScopeName("branch", branch); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT workspace, branch, name, kind, last_seq, created_at_ms, updated_at_ms
		 FROM documents WHERE workspace = ? AND branch = ?
		 ORDER BY updated_at_ms DESC, name ASC`,
		workspace, branch,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Workspace, &d.Branch, &d.Name, &d.Kind, &d.LastSeq, &d.CreatedAtMs, &d.UpdatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// getBranch loads a branch row, returning (nil, nil) when absent.
func getBranch(q dbtx, workspace, name string) (*Branch, error) {
	var b Branch
	err := q.QueryRow(
		`SELECT workspace, name, COALESCE(base_branch, ''), COALESCE(base_seq, 0), created_at_ms
		 FROM branches WHERE workspace = ? AND name = ?`,
		workspace, name,
	).Scan(&b.Workspace, &b.Name, &b.BaseBranch, &b.BaseSeq, &b.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("graph: load branch: %w", err)
	}
	return &b, nil
}

// requireBranch is getBranch that fails with ErrUnknownBranch on absence.
func requireBranch(q dbtx, workspace, name string) (*Branch, error) {
	b, err := getBranch(q, workspace, name)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %q in workspace %q", ErrUnknownBranch, name, workspace)
	}
	return b, nil
}

// ─── Lineage resolution ──────────────────────────────────────────────────────

// resolveSourcesTx walks a branch's base lineage and returns its sources,
// closest-first: the branch itself with no ceiling, then each ancestor
// capped at the fork point recorded for this document. The walk is acyclic
// by construction (a base must pre-exist the branch) and bounded by the
// configured lineage depth cap.
func (s *Store) resolveSourcesTx(q dbtx, workspace, branch, doc string) ([]source, error) {
	cur, err := requireBranch(q, workspace, branch)
	if err != nil {
		return nil, err
	}

	sources := []source{{branch: branch, maxSeq: noCeiling}}
	ceiling := noCeiling
	for depth := 0; cur.BaseBranch != ""; depth++ {
		if depth >= s.cfg.MaxLineageDepth {
			return nil, fmt.Errorf("%w: branch lineage deeper than %d", ErrInvalidInput, s.cfg.MaxLineageDepth)
		}
		fp, ok, err := forkPoint(q, workspace, cur.Name, doc)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Document did not exist at this fork; ancestors contribute nothing.
			break
		}
		if fp < ceiling {
			ceiling = fp
		}
		parent, err := requireBranch(q, workspace, cur.BaseBranch)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source{branch: parent.Name, maxSeq: ceiling})
		cur = parent
	}
	return sources, nil
}

// forkPoint returns the recorded fork ceiling for (branch, doc), if any.
func forkPoint(q dbtx, workspace, branch, doc string) (int64, bool, error) {
	var seq int64
	err := q.QueryRow(
		`SELECT base_seq FROM branch_fork_points WHERE workspace = ? AND branch = ? AND doc = ?`,
		workspace, branch, doc,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("graph: load fork point: %w", err)
	}
	return seq, true, nil
}

// forkCeiling finds the seq ceiling at which fromBranch's lineage diverged
// from intoBranch for one document: the minimum fork point along the walk
// from fromBranch up to intoBranch. Fails with ErrMergeNotSupported when
// intoBranch is not an ancestor of fromBranch.
func (s *Store) forkCeiling(q dbtx, workspace, fromBranch, intoBranch, doc string) (int64, error) {
	cur, err := requireBranch(q, workspace, fromBranch)
	if err != nil {
		return 0, err
	}
	ceiling := noCeiling
	for depth := 0; cur.BaseBranch != ""; depth++ {
		if depth >= s.cfg.MaxLineageDepth {
			return 0, fmt.Errorf("%w: branch lineage deeper than %d", ErrInvalidInput, s.cfg.MaxLineageDepth)
		}
		fp, ok, err := forkPoint(q, workspace, cur.Name, doc)
		if err != nil {
			return 0, err
		}
		if !ok {
			// Document born after this fork: nothing on the ancestor side.
			fp = 0
		}
		if fp < ceiling {
			ceiling = fp
		}
		if cur.BaseBranch == intoBranch {
			return ceiling, nil
		}
		cur, err = requireBranch(q, workspace, cur.BaseBranch)
		if err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: %q is not in the lineage of %q", ErrMergeNotSupported, intoBranch, fromBranch)
}

// lineageDocs collects the distinct document names written anywhere on a
// branch's lineage.
func (s *Store) lineageDocs(q dbtx, workspace, branch string) ([]string, error) {
	names := []string{}
	seenBranch := map[string]bool{}
	cur, err := requireBranch(q, workspace, branch)
	if err != nil {
		return nil, err
	}
	for depth := 0; ; depth++ {
		if depth > s.cfg.MaxLineageDepth {
			return nil, fmt.Errorf("%w: branch lineage deeper than %d", ErrInvalidInput, s.cfg.MaxLineageDepth)
		}
		if seenBranch[cur.Name] {
			break
		}
		seenBranch[cur.Name] = true

		rows, err := q.Query(
			`SELECT name FROM documents WHERE workspace = ? AND branch = ?`,
			workspace, cur.Name,
		)
		if err != nil {
			return nil, fmt.Errorf("graph: lineage docs: %w", err)
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				_ = rows.Close()
				return nil, err
			}
			names = append(names, name)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()

		if cur.BaseBranch == "" {
			break
		}
		cur, err = requireBranch(q, workspace, cur.BaseBranch)
		if err != nil {
			return nil, err
		}
	}

	// De-duplicate while keeping closest-first discovery order.
	seen := map[string]bool{}
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

// Package graph implements Grove's versioned, branchable property-graph
// store.
//
// The source of truth is an append-only log of node and edge version rows
// scoped by (workspace, branch, document). Current state is never stored:
// it is derived by scanning version rows across a branch's lineage and
// taking the highest seq per key. Branching records fork points instead of
// copying rows, so creating a branch is O(1) in graph size. Merging back
// is a resumable three-way compare against the fork point that either
// fast-forwards, skips, or records a conflict with base/theirs/ours
// snapshots.
//
// Every public operation runs inside a single SQLite transaction: reads
// see a consistent snapshot of the log and writes commit atomically, so no
// partial-apply or partial-merge state is ever observable.
package graph

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds graph store configuration.
type Config struct {
	// DataDir is where grove.db lives.
	DataDir string
	// MaxLineageDepth caps the branch-ancestry walk during effective-view
	// resolution. A lineage deeper than this fails with ErrInvalidInput.
	MaxLineageDepth int
	// DefaultPageLimit is used when a request omits its limit.
	DefaultPageLimit int
	// MaxPageLimit is the hard cap for query, merge, and conflict pages.
	MaxPageLimit int
}

// DefaultConfig returns the default configuration for the graph store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".grove"),
		MaxLineageDepth:  64,
		DefaultPageLimit: 100,
		MaxPageLimit:     500,
	}
}

// pageLimit clamps a requested limit into [1, MaxPageLimit], substituting
// the default when the request left it unset.
func (c Config) pageLimit(requested int) int {
	if requested <= 0 {
		return c.DefaultPageLimit
	}
	if requested > c.MaxPageLimit {
		return c.MaxPageLimit
	}
	return requested
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the versioned graph engine backed by SQLite.
type Store struct {
	db  *sql.DB
	cfg Config
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the resolver helpers
// can run inside or outside an explicit transaction.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// New creates a Store with the given configuration. It creates the data
// directory if needed, opens SQLite with WAL mode, and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.MaxLineageDepth <= 0 {
		cfg.MaxLineageDepth = DefaultConfig().MaxLineageDepth
	}
	if cfg.DefaultPageLimit <= 0 {
		cfg.DefaultPageLimit = DefaultConfig().DefaultPageLimit
	}
	if cfg.MaxPageLimit <= 0 {
		cfg.MaxPageLimit = DefaultConfig().MaxPageLimit
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("graph: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "grove.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("graph: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("graph: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("graph: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workspaces (
			name          TEXT PRIMARY KEY,
			created_at_ms INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS branches (
			workspace     TEXT NOT NULL,
			name          TEXT NOT NULL,
			base_branch   TEXT,
			base_seq      INTEGER,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (workspace, name)
		);

		CREATE TABLE IF NOT EXISTS branch_fork_points (
			workspace TEXT    NOT NULL,
			branch    TEXT    NOT NULL,
			doc       TEXT    NOT NULL,
			base_seq  INTEGER NOT NULL,
			PRIMARY KEY (workspace, branch, doc)
		);

		CREATE TABLE IF NOT EXISTS documents (
			workspace     TEXT    NOT NULL,
			branch        TEXT    NOT NULL,
			name          TEXT    NOT NULL,
			kind          TEXT    NOT NULL DEFAULT 'graph',
			last_seq      INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (workspace, branch, name)
		);

		CREATE TABLE IF NOT EXISTS graph_node_versions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace TEXT    NOT NULL,
			branch    TEXT    NOT NULL,
			doc       TEXT    NOT NULL,
			seq       INTEGER NOT NULL,
			ts_ms     INTEGER NOT NULL,
			node_id   TEXT    NOT NULL,
			node_type TEXT    NOT NULL,
			title     TEXT    NOT NULL DEFAULT '',
			text      TEXT    NOT NULL DEFAULT '',
			tags      TEXT    NOT NULL DEFAULT '[]',
			status    TEXT    NOT NULL DEFAULT '',
			meta_json TEXT    NOT NULL DEFAULT '',
			deleted   INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_node_versions_key
			ON graph_node_versions(workspace, doc, node_id, branch, seq);
		CREATE INDEX IF NOT EXISTS idx_node_versions_log
			ON graph_node_versions(workspace, branch, doc, seq);

		CREATE TABLE IF NOT EXISTS graph_edge_versions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace TEXT    NOT NULL,
			branch    TEXT    NOT NULL,
			doc       TEXT    NOT NULL,
			seq       INTEGER NOT NULL,
			ts_ms     INTEGER NOT NULL,
			from_id   TEXT    NOT NULL,
			rel       TEXT    NOT NULL,
			to_id     TEXT    NOT NULL,
			meta_json TEXT    NOT NULL DEFAULT '',
			deleted   INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_edge_versions_key
			ON graph_edge_versions(workspace, doc, from_id, rel, to_id, branch, seq);
		CREATE INDEX IF NOT EXISTS idx_edge_versions_log
			ON graph_edge_versions(workspace, branch, doc, seq);
		CREATE INDEX IF NOT EXISTS idx_edge_versions_to
			ON graph_edge_versions(workspace, doc, to_id);

		CREATE TABLE IF NOT EXISTS graph_conflicts (
			id              TEXT PRIMARY KEY,
			workspace       TEXT    NOT NULL,
			doc             TEXT    NOT NULL,
			kind            TEXT    NOT NULL,
			conflict_key    TEXT    NOT NULL,
			from_branch     TEXT    NOT NULL,
			into_branch     TEXT    NOT NULL,
			status          TEXT    NOT NULL DEFAULT 'open',
			created_at_ms   INTEGER NOT NULL,
			resolved_at_ms  INTEGER,
			resolution      TEXT,
			base_snapshot   TEXT,
			theirs_snapshot TEXT,
			ours_snapshot   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_conflicts_target
			ON graph_conflicts(workspace, into_branch, doc, status, created_at_ms DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// nowMs returns the current wall clock in milliseconds. Overridable in
// tests that need deterministic timestamps.
var nowMs = func() int64 { return time.Now().UnixMilli() }

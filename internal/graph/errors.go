package graph

import "errors"

// Error taxonomy for the graph store. Callers match with errors.Is.
//
// ErrInvalidInput covers malformed ids/rels/tags, dangling edge endpoints,
// empty batches, and re-deleting a tombstone — always caller-recoverable.
// ErrUnknownBranch and ErrUnknownConflict mean the caller must re-resolve
// the reference before retrying. ErrConflictAlreadyResolved is an
// idempotency guard, safe to treat as a no-op. ErrMergeNotSupported is
// structural: the branch lineage does not support the requested direction.
var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrUnknownBranch           = errors.New("unknown branch")
	ErrUnknownConflict         = errors.New("unknown conflict")
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")
	ErrMergeNotSupported       = errors.New("merge not supported")
)

package ports

import "context"

// IndexResult is the outcome of a Indexer.GenerateIndex call.
type IndexResult struct {
	Success bool
	Error   string
}

// Indexer rebuilds the project's derived caches (e.g. .gitgov/index.json)
// after state changes. The pull and resolve pipelines call it, and push
// calls it after an implicit pull that brought in changes; bootstrap does
// not call it. Failures here are
// logged and treated as non-fatal everywhere the spec says so.
type Indexer interface {
	GenerateIndex(ctx context.Context) (*IndexResult, error)
}

// ConflictType classifies the kind of conflict reported on a push/pull
// result.
type ConflictType string

const (
	ConflictRebase             ConflictType = "rebase_conflict"
	ConflictMerge              ConflictType = "merge_conflict"
	ConflictIntegrityViolation ConflictType = "integrity_violation"
	ConflictUnresolvedMarkers  ConflictType = "unresolved_markers"
)

// ConflictInfo is attached to push/pull results when conflictDetected is
// true.
type ConflictInfo struct {
	Type             ConflictType
	AffectedFiles    []string
	Message          string
	ResolutionSteps  []string
}

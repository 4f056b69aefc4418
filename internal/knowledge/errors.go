package knowledge

import "errors"

// Sentinel errors for knowledge metadata operations.
var (
	// ErrBaseNotFound indicates the requested knowledge base does not
	// exist or is soft-deleted.
	ErrBaseNotFound = errors.New("knowledge: base not found")

	// ErrFileNotFound indicates the requested file does not exist.
	ErrFileNotFound = errors.New("knowledge: file not found")

	// ErrDuplicateFile rejects an upload whose hash already exists in
	// the target knowledge base. Duplicates are rejected, not merged.
	ErrDuplicateFile = errors.New("knowledge: duplicate file hash")

	// ErrNotClaimable indicates the file is not in a state the caller
	// may transition from (e.g. claiming a non-pending file).
	ErrNotClaimable = errors.New("knowledge: file not in expected state")

	// ErrBaseHasFiles refuses deletion of a base that still owns files.
	ErrBaseHasFiles = errors.New("knowledge: base still has files")
)

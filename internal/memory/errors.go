package memory

import "errors"

// Sentinel errors shared by the store implementations.
var (
	// ErrStorageUnavailable indicates the backing database is
	// unreachable. Callers may retry; fusion converts it into a
	// degraded result.
	ErrStorageUnavailable = errors.New("memory: storage unavailable")

	// ErrStoreClosed indicates the store has been closed and no longer
	// accepts operations.
	ErrStoreClosed = errors.New("memory: store closed")

	// ErrEmptyContent rejects Add calls with nothing to store.
	ErrEmptyContent = errors.New("memory: empty content")
)

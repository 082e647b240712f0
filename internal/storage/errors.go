package storage

import "errors"

// Typed errors surfaced by the storage ownership layer. Callers are
// expected to distinguish these from generic I/O failures — a lock
// timeout or a read-only violation is a caller bug or a contention
// condition, not something to retry blindly.
var (
	// ErrLockTimeout is returned when a writer could not acquire the
	// partition's advisory lock within the bounded timeout.
	ErrLockTimeout = errors.New("storage: lock acquisition timed out")

	// ErrReadOnly is returned when a write is attempted on a handle that
	// was opened read-only.
	ErrReadOnly = errors.New("storage: write attempted on read-only handle")

	// ErrModeConflict names an open in a mode that conflicts with an
	// already-open handle in the same process (mixing read-only and
	// read-write). Manager does not return it: OpenReader and OpenWriter
	// wait on the partition's in-process RWMutex instead.
	ErrModeConflict = errors.New("storage: partition already open in a conflicting mode")

	// ErrPartitionNotFound is returned by Manager.OpenReader when the
	// partition file does not exist; the read methods of the stores in
	// this package turn it into an empty result.
	ErrPartitionNotFound = errors.New("storage: partition file does not exist")
)

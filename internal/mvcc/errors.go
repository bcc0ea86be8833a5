package mvcc

import "errors"

var (
	// ErrVersionConflict indicates a stale or concurrently edited revision,
	// or a forced revision that already exists in the ledger.
	ErrVersionConflict = errors.New("mvcc: version conflict")
	// ErrNotFound indicates a document or revision the ledger does not hold.
	ErrNotFound = errors.New("mvcc: not found")
	// ErrNotALeaf indicates an operation targeting a revision that already
	// has descendants.
	ErrNotALeaf = errors.New("mvcc: revision is not a leaf")
	// ErrDataIntegrity indicates a broken ledger invariant. It is never
	// recovered silently; the enclosing operation fails.
	ErrDataIntegrity = errors.New("mvcc: data integrity violation")
	// ErrNotImplemented indicates an unsupported replication query shape.
	ErrNotImplemented = errors.New("mvcc: not implemented")
)

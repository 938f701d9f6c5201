package crdt

import "errors"

var (
	// ErrBranchNotFound is returned when there is no local replica for a document.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrAlreadyExists is returned when a replica for the document id already exists.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrRangeOutOfBounds is returned when an offset exceeds the current content length.
	ErrRangeOutOfBounds = errors.New("range out of bounds")
	// ErrMalformedChange is returned for changes that violate the change invariants.
	ErrMalformedChange = errors.New("malformed change")
	// ErrMalformedSnapshot is returned for snapshots with dangling origins or bad ids.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	// ErrTooManyPending is returned when a replica buffers too many changes
	// with missing dependencies.
	ErrTooManyPending = errors.New("too many pending changes")
)

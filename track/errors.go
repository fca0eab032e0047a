package track

import "errors"

var (
	// ErrInvalidRegion indicates a region that fails the header validity
	// predicate: wrong cookie, zero identifiers, or a slot count that does
	// not match the region size.
	ErrInvalidRegion = errors.New("track: invalid tracker region")

	// ErrSnapshotContended indicates that the snapshot retry budget was
	// exhausted because the writer kept mutating the stack. The caller may
	// try again later.
	ErrSnapshotContended = errors.New("track: snapshot retry budget exhausted")
)

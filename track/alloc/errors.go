package alloc

import "errors"

var (
	// ErrTooSmall indicates that the region cannot hold the allocator
	// metadata plus at least one minimal block.
	ErrTooSmall = errors.New("alloc: region too small")

	// ErrCorrupt indicates that an existing region failed its metadata
	// consistency checks on adoption.
	ErrCorrupt = errors.New("alloc: corrupt region metadata")

	// ErrClosed indicates use of an allocator whose mapping was released.
	ErrClosed = errors.New("alloc: allocator closed")
)

package alloc

// Ref is an opaque reference to an allocated block: the byte offset of the
// block header within the region. Zero is never a valid reference because
// the allocator metadata occupies the start of the region.
type Ref = uint32

// TypeTag classifies the contents of a block. Tags are application-defined;
// the allocator only stores and compare-and-swaps them. A tag of zero means
// "unclassified" and is what Allocate stores when given zero.
type TypeTag = uint32

// Allocator is the contract the tracker registry consumes. The concrete
// Region type implements it over heap or file-mapped memory; tests may
// substitute their own.
type Allocator interface {
	// Allocate reserves size bytes with the given type tag. Returns 0 when
	// the region is exhausted. Blocks are never freed.
	Allocate(size uint32, tag TypeTag) Ref

	// AsBytes returns the payload of ref if its current type tag equals
	// expected, nil otherwise.
	AsBytes(ref Ref, expected TypeTag) []byte

	// ChangeType atomically swaps the block's type tag from oldTag to
	// newTag. Returns false if the tag was not oldTag.
	ChangeType(ref Ref, newTag, oldTag TypeTag) bool

	// MakeIterable publishes the block so that Iterate (possibly in another
	// process) will yield it.
	MakeIterable(ref Ref)

	// Iterate returns an iterator over published blocks in publication
	// order.
	Iterate() *Iterator
}

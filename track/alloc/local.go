package alloc

// NewLocal creates an allocator over freshly-zeroed heap memory. The region
// works exactly like a mapped one but is invisible to other processes; it is
// the right choice for tests and for single-process diagnostics.
func NewLocal(size int, id uint64, name string) (*Region, error) {
	return New(make([]byte, size), id, name)
}

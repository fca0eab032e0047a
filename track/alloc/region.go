package alloc

import (
	"fmt"

	"github.com/joshuapare/trackkit/internal/format"
)

// Region metadata layout. Everything lives inside the managed byte range so
// that a foreign process mapping the same file sees a complete allocator.
//
//	0x00  cookie      u64         written last during initialisation
//	0x08  size        u32         total region size in bytes
//	0x0C  freeptr     u32 atomic  offset of the next unallocated byte
//	0x10  first       u32 atomic  head of the iteration list
//	0x14  last        u32 atomic  tail hint for the iteration list
//	0x18  id          u64         caller-chosen region identifier
//	0x20  name        32 bytes    NUL-padded region name
//
// Each block is a 16-byte header followed by its payload:
//
//	0x00  size        u32         payload size as requested
//	0x04  type        u32 atomic  application type tag
//	0x08  next        u32 atomic  next block on the iteration list
//	0x0C  reserved    u32
const (
	regionMagic uint64 = 0x8A72D1C64B3E9F05

	metaCookieOffset  = 0x00
	metaSizeOffset    = 0x08
	metaFreeptrOffset = 0x0C
	metaFirstOffset   = 0x10
	metaLastOffset    = 0x14
	metaIDOffset      = 0x18
	metaNameOffset    = 0x20
	metaNameSize      = 32
	metadataSize      = 0x40

	blockSizeOffset = 0x00
	blockTypeOffset = 0x04
	blockNextOffset = 0x08
	blockHeaderSize = 0x10
)

// Region is a persistent allocator over one contiguous byte range.
type Region struct {
	data    []byte
	cleanup func() error
}

// New adopts or initialises an allocator over data. A zeroed range is
// initialised with the given id and name; a range carrying the region cookie
// is adopted after consistency checks (id and name arguments are then
// ignored).
func New(data []byte, id uint64, name string) (*Region, error) {
	if len(data) < metadataSize+blockHeaderSize+format.Alignment {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooSmall, len(data))
	}
	if uint64(len(data)) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("alloc: region larger than 4 GiB (%d bytes)", len(data))
	}

	r := &Region{data: data}
	if format.ReadU64(data, metaCookieOffset) == regionMagic {
		if err := r.validate(); err != nil {
			return nil, err
		}
		return r, nil
	}

	format.PutU32(data, metaSizeOffset, uint32(len(data)))
	format.AtomicU32(data, metaFreeptrOffset).Store(metadataSize)
	format.PutU64(data, metaIDOffset, id)
	nameBuf := data[metaNameOffset : metaNameOffset+metaNameSize]
	for i := range nameBuf {
		nameBuf[i] = 0
	}
	copy(nameBuf[:metaNameSize-1], name)
	// The cookie is written after every other metadata field so that an
	// observer that sees it may trust the rest.
	format.PutU64(data, metaCookieOffset, regionMagic)
	return r, nil
}

func (r *Region) validate() error {
	size := format.ReadU32(r.data, metaSizeOffset)
	if int(size) != len(r.data) {
		return fmt.Errorf("%w: recorded size %d, mapped %d", ErrCorrupt, size, len(r.data))
	}
	freeptr := format.AtomicU32(r.data, metaFreeptrOffset).Load()
	if freeptr < metadataSize || freeptr > size {
		return fmt.Errorf("%w: freeptr %#x out of range", ErrCorrupt, freeptr)
	}
	if first := format.AtomicU32(r.data, metaFirstOffset).Load(); first != 0 {
		if first < metadataSize || first >= freeptr {
			return fmt.Errorf("%w: iteration head %#x out of range", ErrCorrupt, first)
		}
	}
	return nil
}

// Open adopts an allocator over data without ever initialising it. Use this
// for analyzer-side opens where writing metadata into somebody else's file
// would be destructive. Fails when data does not carry the region cookie.
func Open(data []byte) (*Region, error) {
	if len(data) < metadataSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooSmall, len(data))
	}
	if format.ReadU64(data, metaCookieOffset) != regionMagic {
		return nil, fmt.Errorf("%w: missing region cookie", ErrCorrupt)
	}
	r := &Region{data: data}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// ID returns the caller-chosen region identifier.
func (r *Region) ID() uint64 { return format.ReadU64(r.data, metaIDOffset) }

// Name returns the region name recorded at initialisation.
func (r *Region) Name() string {
	raw := r.data[metaNameOffset : metaNameOffset+metaNameSize]
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw[:metaNameSize-1])
}

// Size returns the total region size in bytes.
func (r *Region) Size() int { return len(r.data) }

// Used returns the number of bytes consumed so far, metadata included.
func (r *Region) Used() int {
	return int(format.AtomicU32(r.data, metaFreeptrOffset).Load())
}

// Allocate reserves size bytes tagged with tag. Returns 0 when the region
// cannot satisfy the request. The returned block is zeroed: regions start
// life zeroed and blocks are never reused through the allocator itself.
func (r *Region) Allocate(size uint32, tag TypeTag) Ref {
	need := uint32(blockHeaderSize) + format.Align8U32(size)
	if need < size { // overflow
		return 0
	}
	freeptr := format.AtomicU32(r.data, metaFreeptrOffset)
	limit := uint32(len(r.data))
	for {
		old := freeptr.Load()
		if old > limit || limit-old < need {
			return 0
		}
		if freeptr.CompareAndSwap(old, old+need) {
			ref := old
			format.PutU32(r.data, int(ref)+blockSizeOffset, size)
			format.AtomicU32(r.data, int(ref)+blockNextOffset).Store(0)
			// The tag store publishes the header for readers that find the
			// block by type.
			format.AtomicU32(r.data, int(ref)+blockTypeOffset).Store(tag)
			return ref
		}
	}
}

// blockPayloadSize returns the payload size of ref, or 0 if ref does not
// address a plausible block.
func (r *Region) blockPayloadSize(ref Ref) uint32 {
	if ref < metadataSize || ref&format.AlignmentMask != 0 {
		return 0
	}
	if int(ref)+blockHeaderSize > len(r.data) {
		return 0
	}
	size := format.ReadU32(r.data, int(ref)+blockSizeOffset)
	if size == 0 || int(ref)+blockHeaderSize+int(size) > len(r.data) {
		return 0
	}
	return size
}

// AsBytes returns the payload of ref if its current type tag equals
// expected, nil otherwise.
func (r *Region) AsBytes(ref Ref, expected TypeTag) []byte {
	size := r.blockPayloadSize(ref)
	if size == 0 {
		return nil
	}
	if format.AtomicU32(r.data, int(ref)+blockTypeOffset).Load() != expected {
		return nil
	}
	start := int(ref) + blockHeaderSize
	return r.data[start : start+int(size) : start+int(size)]
}

// TypeOf returns the current type tag of ref, or 0 for an invalid ref.
func (r *Region) TypeOf(ref Ref) TypeTag {
	if r.blockPayloadSize(ref) == 0 {
		return 0
	}
	return format.AtomicU32(r.data, int(ref)+blockTypeOffset).Load()
}

// ChangeType atomically swaps the type tag of ref from oldTag to newTag.
func (r *Region) ChangeType(ref Ref, newTag, oldTag TypeTag) bool {
	if r.blockPayloadSize(ref) == 0 {
		return false
	}
	return format.AtomicU32(r.data, int(ref)+blockTypeOffset).CompareAndSwap(oldTag, newTag)
}

// MakeIterable publishes ref on the iteration list. A block is published at
// most once; publishing is irrevocable (recycled blocks stay on the list and
// are filtered by type tag instead).
func (r *Region) MakeIterable(ref Ref) {
	if r.blockPayloadSize(ref) == 0 {
		return
	}
	first := format.AtomicU32(r.data, metaFirstOffset)
	last := format.AtomicU32(r.data, metaLastOffset)
	for {
		tail := last.Load()
		if tail == 0 {
			// Empty list. Claim the head, then set the tail hint.
			if first.CompareAndSwap(0, ref) {
				last.CompareAndSwap(0, ref)
				return
			}
			// Somebody else claimed the head; fall through with their entry
			// as the tail.
			tail = first.Load()
		}
		next := format.AtomicU32(r.data, int(tail)+blockNextOffset)
		if n := next.Load(); n != 0 {
			// The tail hint lags behind; help it forward and retry.
			last.CompareAndSwap(tail, n)
			continue
		}
		if next.CompareAndSwap(0, ref) {
			last.CompareAndSwap(tail, ref)
			return
		}
	}
}

// Iterator walks published blocks in publication order. It is safe to use
// from any process mapping the region; blocks published after the iterator
// was created may or may not be yielded.
type Iterator struct {
	r   *Region
	cur uint32
}

// Iterate returns a new iterator positioned before the first published
// block.
func (r *Region) Iterate() *Iterator {
	return &Iterator{r: r}
}

// Next returns the next published block and its current type tag. ok is
// false when the list is exhausted.
func (it *Iterator) Next() (ref Ref, tag TypeTag, ok bool) {
	var next uint32
	if it.cur == 0 {
		next = format.AtomicU32(it.r.data, metaFirstOffset).Load()
	} else {
		next = format.AtomicU32(it.r.data, int(it.cur)+blockNextOffset).Load()
	}
	if next == 0 || it.r.blockPayloadSize(next) == 0 {
		return 0, 0, false
	}
	it.cur = next
	return next, it.r.TypeOf(next), true
}

// Close releases any mapping behind the region. The Region must not be used
// afterwards.
func (r *Region) Close() error {
	if r.cleanup == nil {
		return nil
	}
	cleanup := r.cleanup
	r.cleanup = nil
	r.data = nil
	return cleanup()
}

// Package format houses the low-level byte layout of an activity-tracker
// region. The goal is to keep the layout focused, allocation-free where
// possible, and independent from the public API so higher-level packages can
// orchestrate the data in a more ergonomic form.
//
// A region is a contiguous byte range holding a fixed Header followed by N
// Activity records. Every field has a fixed width and a fixed offset so a
// region produced by a 32-bit build parses identically on a 64-bit build and
// vice versa. Non-atomic integers are little-endian; atomic fields use host
// byte order (see atomic.go).
package format

const (
	// MagicV1 identifies an initialised tracker region. An arbitrary value
	// with the version folded into the low bits so that incompatible layout
	// revisions never parse.
	MagicV1 uint64 = 0xC0029B240D4A3093

	// HeaderSize is the size of the region header in bytes.
	HeaderSize = 88

	// MinStackDepth is the minimum number of Activity slots a region must be
	// able to hold for a tracker to accept it.
	MinStackDepth = 2

	// ThreadNameSize is the fixed length of the NUL-padded thread-name
	// buffer at the end of the header.
	ThreadNameSize = 32

	// Header field offsets.
	HeaderCookieOffset     = 0x00 // 8 bytes
	HeaderProcessIDOffset  = 0x08 // 8 bytes, atomic
	HeaderThreadRefOffset  = 0x10 // 8 bytes
	HeaderStartTimeOffset  = 0x18 // 8 bytes
	HeaderStartTicksOffset = 0x20 // 8 bytes
	HeaderStackSlotsOffset = 0x28 // 4 bytes
	HeaderDepthOffset      = 0x2C // 4 bytes, atomic
	HeaderUnchangedOffset  = 0x30 // 4 bytes, atomic
	HeaderReservedOffset   = 0x34 // 4 bytes
	HeaderThreadNameOffset = 0x38 // 32 bytes
)

const (
	// Activity record field offsets. The data payload sits after the
	// optional call-stack block and is always 8-byte aligned.
	ActivityTimeOffset   = 0x00 // 8 bytes
	ActivityOriginOffset = 0x08 // 8 bytes
	ActivityTypeOffset   = 0x10 // 1 byte, then 7 reserved bytes

	ActivityCallStackOffset = 0x18
	ActivityDataOffset      = ActivityCallStackOffset + 8*CallStackSlots

	// ActivityDataSize is the size of the category-keyed payload union.
	ActivityDataSize = 8

	// ActivitySize is the full record size.
	ActivitySize = ActivityDataOffset + ActivityDataSize
)

// StackSlots returns the number of Activity records a region of the given
// byte size holds. Zero if the region cannot hold the header.
func StackSlots(regionSize int) int {
	if regionSize < HeaderSize {
		return 0
	}
	return (regionSize - HeaderSize) / ActivitySize
}

// RegionSize returns the byte size of a region holding depth records.
func RegionSize(depth int) int {
	return HeaderSize + depth*ActivitySize
}

// ActivityOffset returns the byte offset of record index within a region.
func ActivityOffset(index int) int {
	return HeaderSize + index*ActivitySize
}

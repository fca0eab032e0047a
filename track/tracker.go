package track

import (
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"unicode/utf8"

	"github.com/joshuapare/trackkit/internal/format"
)

// maxSnapshotAttempts bounds the snapshot retry loop. A busy writer can
// invalidate a read in progress; ten attempts is far more than enough for
// any realistic push/pop rate while keeping a wedged reader from spinning.
const maxSnapshotAttempts = 10

// strictOwnerChecks enables the writer-affinity check in Push (Change and
// Pop are not checked). The check costs a goroutine-id lookup per push, so
// it stays off outside tests.
var strictOwnerChecks = false

// ThreadTracker records the activity stack of one thread into one region.
//
// Exactly one goroutine, the one that constructed the tracker over a fresh
// region, may call Push, Change and Pop. Snapshot may be called from any
// goroutine or process; see Snapshot for the consistency contract.
type ThreadTracker struct {
	region []byte
	slots  uint32
	owner  int64
	valid  bool

	// Cached atomic views into the region header.
	depth     *atomic.Uint32
	unchanged *atomic.Uint32
	pid       *atomic.Int64
}

// SizeForStackDepth returns the region size needed for a stack of the given
// depth.
func SizeForStackDepth(depth int) int {
	return format.RegionSize(depth)
}

// NewThreadTracker constructs a tracker over region. A zeroed region is
// given initial birth: the header is written and published with the calling
// goroutine as owner and name as its thread name (empty means a generated
// "goroutine-N" name; only the first birth uses it). A region already
// carrying a cookie is adopted and re-validated instead.
//
// A nil, undersized, or inconsistent region leaves the tracker permanently
// invalid: IsValid reports false and Snapshot fails. It never panics. Writer
// operations are no-ops over a nil or undersized region; over an
// inconsistent region they still write into it, and Snapshot keeps
// reporting the region invalid.
func NewThreadTracker(region []byte, name string) *ThreadTracker {
	t := &ThreadTracker{owner: currentGoroutineID()}

	if region == nil || len(region) < format.RegionSize(format.MinStackDepth) {
		return t
	}
	slots := format.StackSlots(len(region))
	if uint64(slots) > uint64(^uint32(0)) {
		return t
	}

	t.region = region
	t.slots = uint32(slots)
	t.depth = format.AtomicU32(region, format.HeaderDepthOffset)
	t.unchanged = format.AtomicU32(region, format.HeaderUnchangedOffset)
	t.pid = format.AtomicI64(region, format.HeaderProcessIDOffset)

	if format.ReadU64(region, format.HeaderCookieOffset) == 0 {
		// A fresh region. The memory is private until the process-id store
		// publishes it, so plain writes suffice for everything else.
		if name == "" {
			name = "goroutine-" + strconv.FormatInt(t.owner, 10)
		}
		format.PutI64(region, format.HeaderThreadRefOffset, t.owner)
		format.PutI64(region, format.HeaderStartTimeOffset, nowWall())
		format.PutI64(region, format.HeaderStartTicksOffset, nowTicks())
		format.PutU32(region, format.HeaderStackSlotsOffset, t.slots)
		copyThreadName(region, name)
		format.PutU64(region, format.HeaderCookieOffset, format.MagicV1)

		// Written last so that a reader observing a non-zero process-id may
		// trust every header field above.
		t.pid.Store(int64(os.Getpid()))
		t.valid = true
		return t
	}

	// Existing data, possibly from another thread's lifetime or another
	// process. Adopt it only if it passes the full header predicate.
	t.valid = true
	t.valid = t.IsValid()
	return t
}

// OpenThreadTracker adopts a region for read-side use without ever giving
// it birth: a region that is not fully initialised simply yields an invalid
// tracker. Analyzers iterating somebody else's allocator use this so that a
// freshly-allocated, not-yet-born block is skipped rather than claimed.
func OpenThreadTracker(region []byte) *ThreadTracker {
	t := &ThreadTracker{owner: currentGoroutineID()}

	if region == nil || len(region) < format.RegionSize(format.MinStackDepth) {
		return t
	}
	slots := format.StackSlots(len(region))
	if uint64(slots) > uint64(^uint32(0)) {
		return t
	}

	t.region = region
	t.slots = uint32(slots)
	t.depth = format.AtomicU32(region, format.HeaderDepthOffset)
	t.unchanged = format.AtomicU32(region, format.HeaderUnchangedOffset)
	t.pid = format.AtomicI64(region, format.HeaderProcessIDOffset)
	t.valid = true
	t.valid = t.IsValid()
	return t
}

// copyThreadName writes name into the fixed header buffer, NUL-padded,
// truncating on a rune boundary so readers always get valid UTF-8.
func copyThreadName(region []byte, name string) {
	buf := region[format.HeaderThreadNameOffset : format.HeaderThreadNameOffset+format.ThreadNameSize]
	for i := range buf {
		buf[i] = 0
	}
	if len(name) > format.ThreadNameSize-1 {
		name = name[:format.ThreadNameSize-1]
		for len(name) > 0 && !utf8.ValidString(name) {
			name = name[:len(name)-1]
		}
	}
	copy(buf, name)
}

// IsValid reports whether the region holds a live, fully-initialised
// tracker. It re-reads the header every call because a shared region can be
// torn down by its owner at any time.
func (t *ThreadTracker) IsValid() bool {
	if t.region == nil || !t.valid {
		return false
	}
	if format.ReadU64(t.region, format.HeaderCookieOffset) != format.MagicV1 ||
		t.pid.Load() == 0 ||
		format.ReadI64(t.region, format.HeaderThreadRefOffset) == 0 ||
		format.ReadI64(t.region, format.HeaderStartTimeOffset) == 0 ||
		format.ReadI64(t.region, format.HeaderStartTicksOffset) == 0 ||
		format.ReadU32(t.region, format.HeaderStackSlotsOffset) != t.slots ||
		t.region[format.HeaderThreadNameOffset+format.ThreadNameSize-1] != 0 {
		return false
	}
	return true
}

// StackSlots returns the record capacity of the region.
func (t *ThreadTracker) StackSlots() uint32 { return t.slots }

// Depth returns the current logical stack depth, which exceeds StackSlots
// while the stack is overflowed.
func (t *ThreadTracker) Depth() uint32 {
	if t.region == nil {
		return 0
	}
	return t.depth.Load()
}

// Push records the start of an activity. origin is the program counter the
// activity is attributed to (zero when there is no meaningful one), typ its
// tag, data the payload matching the tag's category.
//
// Only the owning goroutine may push, except for lock-acquire records: the
// owner check itself may sit behind a lock in instrumented builds, so a
// lock-acquire push must never re-enter it.
//
// When the stack is full the depth still advances, so observers can tell
// activity is happening, but no record memory is touched; the overflowed
// entries are lost by design.
func (t *ThreadTracker) Push(origin uintptr, typ ActivityType, data ActivityData) {
	if t.region == nil {
		return
	}
	if strictOwnerChecks && typ.Category() != ActLockAcquire && currentGoroutineID() != t.owner {
		panic("track: push from non-owner goroutine")
	}

	depth := t.depth.Load()
	if depth >= t.slots {
		// Overflow: only this goroutine writes the depth, so a plain
		// increment-and-store needs no compare-and-swap.
		t.depth.Store(depth + 1)
		return
	}

	// The slot is unpublished until the depth store below, so these are
	// plain stores into memory no reader will look at yet.
	off := format.ActivityOffset(int(depth))
	format.PutI64(t.region, off+format.ActivityTimeOffset, nowTicks())
	format.PutU64(t.region, off+format.ActivityOriginOffset, uint64(origin))
	t.region[off+format.ActivityTypeOffset] = byte(typ)

	if format.CallStackSlots > 0 {
		var pcs [format.CallStackSlots + 1]uintptr
		n := runtime.Callers(2, pcs[:format.CallStackSlots])
		cs := off + format.ActivityCallStackOffset
		for i := 0; i < n; i++ {
			format.PutU64(t.region, cs+8*i, uint64(pcs[i]))
		}
		if n < format.CallStackSlots {
			format.PutU64(t.region, cs+8*n, 0)
		}
	}

	format.PutU64(t.region, off+format.ActivityDataOffset, data.bits)

	// Publishes the record: a reader that observes the new depth also
	// observes the stores above (Go atomics are sequentially consistent,
	// which subsumes the release ordering this needs).
	t.depth.Store(depth + 1)
}

// Change rewrites the topmost record in place without growing the stack.
// typ replaces the record's tag when not ActNull; its category bits must
// match the record's existing category, which never changes. data replaces
// the payload when non-nil.
//
// No extra publication is needed: the push that created the slot already
// made it visible, and a snapshot overlapping an in-place change is caught
// by the tear flag protocol.
func (t *ThreadTracker) Change(typ ActivityType, data *ActivityData) {
	if t.region == nil {
		return
	}
	depth := t.depth.Load()
	if depth == 0 {
		panic("track: change on empty activity stack")
	}
	if depth > t.slots {
		// The top of the stack was lost to overflow; nothing to change.
		return
	}

	off := format.ActivityOffset(int(depth - 1))
	if typ != ActNull {
		current := ActivityType(t.region[off+format.ActivityTypeOffset])
		if current.Category() != typ.Category() {
			panic("track: activity category is immutable")
		}
		t.region[off+format.ActivityTypeOffset] = byte(typ)
	}
	if data != nil {
		format.PutU64(t.region, off+format.ActivityDataOffset, data.bits)
	}
}

// Pop records the end of the topmost activity. The record bytes are left in
// place; clearing the tear flag is what tells any in-flight snapshot that
// its copy may mix records from before and after this pop.
func (t *ThreadTracker) Pop() {
	if t.region == nil {
		return
	}
	if t.depth.Add(^uint32(0)) == ^uint32(0) {
		panic("track: pop of empty activity stack")
	}
	t.unchanged.Store(0)
}

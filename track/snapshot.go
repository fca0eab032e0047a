package track

import (
	"time"

	"github.com/joshuapare/trackkit/internal/format"
)

// Activity is one decoded record from a snapshot.
type Activity struct {
	// Time is the wall-clock instant the activity started, translated from
	// the region's monotonic tick base.
	Time time.Time

	// Origin is the program counter the activity was attributed to, zero
	// when none was supplied.
	Origin uint64

	// Type carries the category and current sub-action.
	Type ActivityType

	// CallStack holds the capturing call stack when the build records one;
	// nil otherwise.
	CallStack []uint64

	// Data is the payload; use the accessor matching Type's category.
	Data ActivityData
}

// Snapshot is a consistent copy of one tracker's header and stack. The
// struct is reusable: passing the same Snapshot to repeated Snapshot calls
// recycles its buffers, keeping the copy loop allocation-free after the
// first use.
type Snapshot struct {
	ProcessID  int64
	ThreadID   int64
	ThreadName string

	// Depth is the logical stack depth at the copied instant. It exceeds
	// len(Stack) when the stack had overflowed.
	Depth uint32

	// Stack holds the recorded activities, oldest first.
	Stack []Activity

	raw []byte
}

// Snapshot copies the tracker's current stack into out. It may be called
// from any goroutine, or from another process that mapped the same region.
//
// On success, out holds a consistent view of the stack as it existed at some
// single moment during the call; record times are translated to wall-clock.
// ErrInvalidRegion means the region is dead or foreign garbage.
// ErrSnapshotContended means the writer kept mutating the stack through the
// whole retry budget; trying again later is reasonable.
//
// At most one snapshot reader per region may run at a time. Two concurrent
// readers clobber each other's tear flag and neither result can be trusted;
// serialise externally. The writer is never blocked either way.
func (t *ThreadTracker) Snapshot(out *Snapshot) error {
	if out == nil {
		panic("track: nil snapshot output")
	}
	if !t.IsValid() {
		return ErrInvalidRegion
	}

	// Size the buffers once, outside the timing-sensitive loop.
	rawSize := int(t.slots) * format.ActivitySize
	if cap(out.raw) < rawSize {
		out.raw = make([]byte, rawSize)
	}
	out.raw = out.raw[:rawSize]
	if cap(out.Stack) < int(t.slots) {
		out.Stack = make([]Activity, 0, t.slots)
	}
	out.Stack = out.Stack[:0]

	for attempt := 0; attempt < maxSnapshotAttempts; attempt++ {
		// Pin the owner identity for the duration of the copy. Loading the
		// process-id also guarantees the rest of the header is initialised.
		pidBefore := t.pid.Load()
		tidBefore := format.ReadI64(t.region, format.HeaderThreadRefOffset)

		// Arm the tear flag. Any pop from here on clears it.
		t.unchanged.Store(1)

		depth := t.depth.Load()
		count := depth
		if count > t.slots {
			count = t.slots
		}
		copy(out.raw[:int(count)*format.ActivitySize],
			t.region[format.HeaderSize:format.HeaderSize+int(count)*format.ActivitySize])

		// A cleared flag means the stack shrank mid-copy and out.raw may
		// mix records from different moments.
		if t.unchanged.Load() == 0 {
			continue
		}

		var nameBuf [format.ThreadNameSize]byte
		copy(nameBuf[:], t.region[format.HeaderThreadNameOffset:format.HeaderThreadNameOffset+format.ThreadNameSize])

		out.Depth = depth
		out.ThreadID = format.ReadI64(t.region, format.HeaderThreadRefOffset)
		out.ProcessID = t.pid.Load()

		// A changed identity means the tracker died and the region was
		// reborn under a new owner while we were reading it.
		if out.ProcessID != pidBefore || out.ThreadID != tidBefore {
			continue
		}
		if !t.IsValid() {
			return ErrInvalidRegion
		}

		out.ThreadName = stringFromNUL(nameBuf[:])
		t.decodeStack(out, int(count))
		return nil
	}
	return ErrSnapshotContended
}

// decodeStack expands out.raw, already confirmed tear-free, into decoded
// records with tick times rebased to wall-clock.
func (t *ThreadTracker) decodeStack(out *Snapshot, count int) {
	startTime := format.ReadI64(t.region, format.HeaderStartTimeOffset)
	startTicks := format.ReadI64(t.region, format.HeaderStartTicksOffset)

	for i := 0; i < count; i++ {
		off := i * format.ActivitySize
		ticks := format.ReadI64(out.raw, off+format.ActivityTimeOffset)
		act := Activity{
			Time:   time.Unix(0, startTime+(ticks-startTicks)),
			Origin: format.ReadU64(out.raw, off+format.ActivityOriginOffset),
			Type:   ActivityType(out.raw[off+format.ActivityTypeOffset]),
			Data:   ActivityData{bits: format.ReadU64(out.raw, off+format.ActivityDataOffset)},
		}
		if format.CallStackSlots > 0 {
			cs := off + format.ActivityCallStackOffset
			for j := 0; j < format.CallStackSlots; j++ {
				pc := format.ReadU64(out.raw, cs+8*j)
				if pc == 0 {
					break
				}
				act.CallStack = append(act.CallStack, pc)
			}
		}
		out.Stack = append(out.Stack, act)
	}
}

func stringFromNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

package track

import "github.com/joshuapare/trackkit/internal/format"

// ActivityType tags a record with a 4-bit category and a 4-bit sub-action.
// The category of a record is fixed at push time; only the action bits may
// change in place.
type ActivityType = format.ActivityType

// Activity type tags. ActNull is never stored; it is the "leave the type
// alone" sentinel for Change.
const (
	ActNull        = format.ActNull
	ActGeneric     = format.ActGeneric
	ActTaskRun     = format.ActTaskRun
	ActLockAcquire = format.ActLockAcquire
	ActEventWait   = format.ActEventWait
	ActThreadJoin  = format.ActThreadJoin
	ActProcessWait = format.ActProcessWait

	CategoryMask = format.CategoryMask
	ActionMask   = format.ActionMask
)

// ActivityData is the 8-byte payload of one record, a union keyed by the
// record's category. Construct it with one of the For functions matching the
// category being pushed and read it back with the accessor for the category
// found in the snapshot. The serialised form is a little-endian 64-bit word,
// so a generic payload's id occupies the low half and its info the high
// half, matching the on-disk layout on both 32- and 64-bit builds.
type ActivityData struct {
	bits uint64
}

// ForGeneric builds the payload of a generic activity.
func ForGeneric(id uint32, info int32) ActivityData {
	return ActivityData{bits: uint64(id) | uint64(uint32(info))<<32}
}

// ForTask builds the payload of a task-run activity.
func ForTask(sequenceID uint64) ActivityData {
	return ActivityData{bits: sequenceID}
}

// ForLock builds the payload of a lock-acquire activity.
func ForLock(address uint64) ActivityData {
	return ActivityData{bits: address}
}

// ForEvent builds the payload of an event-wait activity.
func ForEvent(address uint64) ActivityData {
	return ActivityData{bits: address}
}

// ForThread builds the payload of a thread-join activity. ref is the same
// 64-bit thread reference the region header carries for its owner.
func ForThread(ref int64) ActivityData {
	return ActivityData{bits: uint64(ref)}
}

// ForProcess builds the payload of a process-wait activity.
func ForProcess(pid int64) ActivityData {
	return ActivityData{bits: uint64(pid)}
}

// GenericID returns the id half of a generic payload.
func (d ActivityData) GenericID() uint32 { return uint32(d.bits) }

// GenericInfo returns the info half of a generic payload.
func (d ActivityData) GenericInfo() int32 { return int32(uint32(d.bits >> 32)) }

// TaskSequenceID returns the sequence number of a task payload.
func (d ActivityData) TaskSequenceID() uint64 { return d.bits }

// LockAddress returns the lock address of a lock payload.
func (d ActivityData) LockAddress() uint64 { return d.bits }

// EventAddress returns the event address of an event payload.
func (d ActivityData) EventAddress() uint64 { return d.bits }

// ThreadRef returns the thread reference of a thread payload.
func (d ActivityData) ThreadRef() int64 { return int64(d.bits) }

// ProcessID returns the pid of a process payload.
func (d ActivityData) ProcessID() int64 { return int64(d.bits) }

// Task describes one unit of queued work for ScopedTaskRun: where it was
// posted from and its queue sequence number.
type Task struct {
	PostedFrom  uintptr
	SequenceNum uint64
}

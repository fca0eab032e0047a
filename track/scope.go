package track

import "runtime"

// Scoped activity builders. Each Begin call pushes one record onto the
// calling goroutine's stack and returns a handle whose Close pops it; the
// pair brackets the instrumented section:
//
//	s := reg.BeginTaskRun(task)
//	defer s.Close()
//
// Every Begin must reach its Close on every path, which defer guarantees.

// scope is the common push/pop pairing shared by all builders.
type scope struct {
	t *ThreadTracker
}

// Close pops the record this scope pushed.
func (s scope) Close() {
	s.t.Pop()
}

func (r *Registry) begin(origin uintptr, typ ActivityType, data ActivityData) scope {
	t := r.TrackerForCurrentThread()
	t.Push(origin, typ, data)
	return scope{t: t}
}

// ScopedActivity brackets a generic instrumented section. Its action and
// info can be rewritten in place while the scope is open.
type ScopedActivity struct {
	scope
	id uint32
}

// BeginGeneric opens a generic activity attributed to the caller. action
// must fit in the sub-action bits; id and info are free-form payload halves
// the analyzer sees verbatim.
func (r *Registry) BeginGeneric(action uint8, id uint32, info int32) *ScopedActivity {
	if ActivityType(action)&CategoryMask != 0 {
		panic("track: action must not carry category bits")
	}
	pc, _, _, _ := runtime.Caller(1)
	return &ScopedActivity{
		scope: r.begin(pc, ActGeneric|ActivityType(action), ForGeneric(id, info)),
		id:    id,
	}
}

// ChangeAction rewrites the sub-action bits of the open record.
func (s *ScopedActivity) ChangeAction(action uint8) {
	if ActivityType(action)&CategoryMask != 0 {
		panic("track: action must not carry category bits")
	}
	s.t.Change(ActGeneric|ActivityType(action), nil)
}

// ChangeInfo rewrites the info half of the open record's payload.
func (s *ScopedActivity) ChangeInfo(info int32) {
	data := ForGeneric(s.id, info)
	s.t.Change(ActNull, &data)
}

// ChangeActionAndInfo rewrites both in one call.
func (s *ScopedActivity) ChangeActionAndInfo(action uint8, info int32) {
	if ActivityType(action)&CategoryMask != 0 {
		panic("track: action must not carry category bits")
	}
	data := ForGeneric(s.id, info)
	s.t.Change(ActGeneric|ActivityType(action), &data)
}

// ScopedTaskRun brackets the execution of one queued task.
type ScopedTaskRun struct {
	scope
}

// BeginTaskRun opens a task-run activity attributed to where the task was
// posted from.
func (r *Registry) BeginTaskRun(task Task) *ScopedTaskRun {
	return &ScopedTaskRun{r.begin(task.PostedFrom, ActTaskRun, ForTask(task.SequenceNum))}
}

// ScopedLockAcquire brackets the acquisition of one lock.
type ScopedLockAcquire struct {
	scope
}

// BeginLockAcquire opens a lock-acquire activity for the lock at addr. The
// writer-affinity check is skipped for lock-acquire pushes so that
// instrumenting lock acquisition can never recurse into a lock of its own.
func (r *Registry) BeginLockAcquire(addr uintptr) *ScopedLockAcquire {
	return &ScopedLockAcquire{r.begin(0, ActLockAcquire, ForLock(uint64(addr)))}
}

// ScopedEventWait brackets a wait on one event.
type ScopedEventWait struct {
	scope
}

// BeginEventWait opens an event-wait activity for the event at addr.
func (r *Registry) BeginEventWait(addr uintptr) *ScopedEventWait {
	return &ScopedEventWait{r.begin(0, ActEventWait, ForEvent(uint64(addr)))}
}

// ScopedThreadJoin brackets a join on another thread.
type ScopedThreadJoin struct {
	scope
}

// BeginThreadJoin opens a thread-join activity for the thread with the
// given reference, the same 64-bit identity the joined thread's own region
// header carries.
func (r *Registry) BeginThreadJoin(ref int64) *ScopedThreadJoin {
	return &ScopedThreadJoin{r.begin(0, ActThreadJoin, ForThread(ref))}
}

// ScopedProcessWait brackets a wait on another process.
type ScopedProcessWait struct {
	scope
}

// BeginProcessWait opens a process-wait activity for the given pid.
func (r *Registry) BeginProcessWait(pid int64) *ScopedProcessWait {
	return &ScopedProcessWait{r.begin(0, ActProcessWait, ForProcess(pid))}
}

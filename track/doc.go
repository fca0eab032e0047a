// Package track records a per-thread activity stack, a bounded LIFO of the
// operations a thread currently has in progress, into a memory region that
// may be shared across processes or backed by a file. A crash analyzer or an
// out-of-process monitor can read that memory at any instant, even after the
// owning process has died, and reconstruct what each thread was doing.
//
// The writer fast path is wait-free: a push is a handful of plain stores
// followed by one atomic store of the depth counter, and a pop is one atomic
// decrement plus one atomic store. Readers never block the writer; they copy
// the stack and detect concurrent mutation after the fact through a tear
// flag, retrying a bounded number of times.
//
// # Structure
//
// ThreadTracker owns one region and provides the single-writer push, change
// and pop operations plus the many-reader Snapshot. Registry hands a tracker
// to each thread, carving regions out of a persistent allocator
// (trackkit/track/alloc) and recycling them through a lock-free free list
// when threads exit. The scoped builders (ScopedTaskRun, ScopedLockAcquire
// and friends) wrap one push and one pop around an instrumented section.
//
// # Identity
//
// A "thread" here is a goroutine. Each goroutine using the registry must
// release its tracker when it is done:
//
//	tr := reg.TrackerForCurrentThread()
//	defer reg.ReleaseCurrentThread()
//
// The release call is the Go analog of a thread-local-storage destructor: it
// zeroes the region and returns it to the free list for the next thread.
package track

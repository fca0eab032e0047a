package track

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joshuapare/trackkit/internal/format"
	"github.com/joshuapare/trackkit/track/alloc"
)

const (
	// DefaultStackDepth is the per-thread record capacity used when the
	// config leaves it zero.
	DefaultStackDepth = 32

	// MaxTrackers bounds the free list of recycled blocks. A release
	// arriving while the list is full abandons the block: it stays owned by
	// the allocator, marked free, but is never recycled. Bounded leak,
	// bounded cost.
	MaxTrackers = 100
)

// Allocator type tags for tracker blocks. Iterating readers pick up blocks
// tagged live and skip recycled ones.
const (
	TypeLiveTracker alloc.TypeTag = 0x54524B4C // "TRKL"
	TypeFreeTracker alloc.TypeTag = 0x54524B46 // "TRKF"
)

// Config carries the registry's tunables. The zero value is usable.
type Config struct {
	// StackDepth is the record capacity of each thread's region.
	// Defaults to DefaultStackDepth; values below the format minimum are
	// raised to it.
	StackDepth int

	// Logger receives debug events on tracker creation, release and
	// recycling, and warnings on heap fallback and free-list overflow. Nil
	// means no logging.
	Logger log.Logger

	// Registerer receives the registry's metrics. Nil means the metrics
	// are collected but never exported.
	Registerer prometheus.Registerer
}

// managedTracker pairs a tracker with the block it lives in so the block can
// be returned when the owning goroutine releases it.
type managedTracker struct {
	*ThreadTracker
	ref alloc.Ref // zero for heap-fallback blocks
	mem []byte
}

// Registry is the process-wide owner of the persistent allocator and of the
// per-thread trackers carved out of it. Construct one with NewRegistry or a
// convenience constructor; constructing a second registry while one is live
// panics.
type Registry struct {
	allocator       alloc.Allocator
	closer          func() error
	stackMemorySize int
	logger          log.Logger

	trackers     sync.Map // goroutine id -> *managedTracker
	trackerCount atomic.Int32

	// The free list is a fixed array of block references with a monotonic
	// count, never a linked list. Pushers publish the slot write through
	// the count increment; poppers take a slot by swapping it to zero
	// before decrementing the count. The restore-on-CAS-failure dance keeps
	// the two mutually exclusive without a lock.
	freeCount atomic.Int32
	freeSlots [MaxTrackers]atomic.Uint32

	liveTrackers    prometheus.Gauge
	exhaustedCount  prometheus.Histogram
	abandonedBlocks prometheus.Counter
}

// globalRegistry holds the installed registry. One per process; tests
// install and close registries sequentially.
var globalRegistry atomic.Pointer[Registry]

// Installed returns the process-wide registry, or nil before NewRegistry /
// after Close.
func Installed() *Registry {
	return globalRegistry.Load()
}

// NewRegistry builds a registry over the given allocator and installs it as
// the process-wide instance. The allocator is not closed by Close unless the
// registry was built by a convenience constructor that created it.
//
// Panics if a registry is already installed; that is a programming error,
// not a recoverable condition.
func NewRegistry(a alloc.Allocator, cfg Config) *Registry {
	depth := cfg.StackDepth
	if depth == 0 {
		depth = DefaultStackDepth
	}
	if depth < format.MinStackDepth {
		depth = format.MinStackDepth
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	r := &Registry{
		allocator:       a,
		stackMemorySize: SizeForStackDepth(depth),
		logger:          logger,
		liveTrackers: promauto.With(cfg.Registerer).NewGauge(prometheus.GaugeOpts{
			Name: "trackkit_thread_trackers",
			Help: "Number of live thread trackers.",
		}),
		exhaustedCount: promauto.With(cfg.Registerer).NewHistogram(prometheus.HistogramOpts{
			Name:    "trackkit_allocator_exhausted_tracker_count",
			Help:    "Tracker count observed when the persistent allocator could not supply a new block.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11),
		}),
		abandonedBlocks: promauto.With(cfg.Registerer).NewCounter(prometheus.CounterOpts{
			Name: "trackkit_freelist_abandoned_total",
			Help: "Tracker blocks abandoned because the free list was full.",
		}),
	}

	if !globalRegistry.CompareAndSwap(nil, r) {
		panic("track: a registry is already installed for this process")
	}
	return r
}

// NewRegistryWithLocalMemory builds a registry over a heap-backed allocator
// of the given size. Nothing is persisted; this exists for tests and for
// single-process diagnostics.
func NewRegistryWithLocalMemory(size int, id uint64, name string, cfg Config) (*Registry, error) {
	a, err := alloc.NewLocal(size, id, name)
	if err != nil {
		return nil, fmt.Errorf("track: local allocator: %w", err)
	}
	r := NewRegistry(a, cfg)
	r.closer = a.Close
	return r, nil
}

// NewRegistryWithFile maps (creating if needed) the file at path to size
// bytes and builds the registry over a file-backed allocator, so that every
// tracker region is visible to an analyzer mapping the same file. Close
// releases the mapping.
func NewRegistryWithFile(path string, size int64, id uint64, name string, cfg Config) (*Registry, error) {
	a, err := alloc.OpenFile(path, size, id, name)
	if err != nil {
		return nil, fmt.Errorf("track: file allocator: %w", err)
	}
	r := NewRegistry(a, cfg)
	r.closer = a.Close
	return r, nil
}

// Allocator exposes the backing allocator, chiefly so analyzers and tests
// can iterate tracker blocks the way a foreign process would.
func (r *Registry) Allocator() alloc.Allocator { return r.allocator }

// TrackerCount returns the number of live trackers.
func (r *Registry) TrackerCount() int {
	return int(r.trackerCount.Load())
}

// Close uninstalls the registry and, when the registry created its own
// allocator, releases it. Live trackers at close time indicate goroutines
// that never called ReleaseCurrentThread; they are logged and their blocks
// stay allocated.
func (r *Registry) Close() error {
	if !globalRegistry.CompareAndSwap(r, nil) {
		panic("track: closing a registry that is not installed")
	}
	if n := r.trackerCount.Load(); n != 0 {
		level.Warn(r.logger).Log("msg", "registry closed with live trackers", "count", n)
	}
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

// TrackerForCurrentThread returns the calling goroutine's tracker, creating
// one on first use. The caller must eventually run ReleaseCurrentThread on
// the same goroutine, typically via defer at its entry point.
func (r *Registry) TrackerForCurrentThread() *ThreadTracker {
	id := currentGoroutineID()
	if v, ok := r.trackers.Load(id); ok {
		return v.(*managedTracker).ThreadTracker
	}

	ref, mem := r.acquireBlock()
	mt := &managedTracker{
		ThreadTracker: NewThreadTracker(mem, ""),
		ref:           ref,
		mem:           mem,
	}
	if existing, loaded := r.trackers.LoadOrStore(id, mt); loaded {
		// Two calls racing on one goroutine id cannot happen (a goroutine
		// is sequential), but be safe and keep the stored one.
		r.returnBlockMemory(mt)
		return existing.(*managedTracker).ThreadTracker
	}
	r.trackerCount.Add(1)
	r.liveTrackers.Inc()
	level.Debug(r.logger).Log("msg", "tracker created", "goroutine", id, "ref", ref)
	return mt.ThreadTracker
}

// ReleaseCurrentThread zeroes and recycles the calling goroutine's tracker
// block. The Go analog of the thread-local-storage destructor the tracker
// design assumes; run it via defer at the goroutine's entry point.
func (r *Registry) ReleaseCurrentThread() {
	id := currentGoroutineID()
	v, ok := r.trackers.LoadAndDelete(id)
	if !ok {
		return
	}
	mt := v.(*managedTracker)
	r.trackerCount.Add(-1)
	r.liveTrackers.Dec()
	r.returnBlockMemory(mt)
	level.Debug(r.logger).Log("msg", "tracker released", "goroutine", id, "ref", mt.ref)
}

// acquireBlock obtains memory for one tracker region: a recycled block if
// the free list has one, else a fresh allocation, else a heap block that
// will work locally but stay invisible to foreign readers.
func (r *Registry) acquireBlock() (alloc.Ref, []byte) {
	if ref, mem := r.popFreeBlock(); mem != nil {
		return ref, mem
	}

	ref := r.allocator.Allocate(uint32(r.stackMemorySize), TypeLiveTracker)
	if ref != 0 {
		mem := r.allocator.AsBytes(ref, TypeLiveTracker)
		// Publish the block so out-of-process analyzers enumerate it.
		r.allocator.MakeIterable(ref)
		return ref, mem
	}

	// Allocator exhausted. Record the tracker count at which it happened so
	// the region can be sized properly, then keep working from the heap.
	r.exhaustedCount.Observe(float64(r.trackerCount.Load()))
	level.Warn(r.logger).Log("msg", "persistent allocator exhausted, using heap block",
		"trackers", r.trackerCount.Load())
	return 0, make([]byte, r.stackMemorySize)
}

// popFreeBlock takes a recycled block off the free list. Returns a nil
// slice when the list is empty.
func (r *Registry) popFreeBlock() (alloc.Ref, []byte) {
	count := r.freeCount.Load()
	for count > 0 {
		// Claim the top slot by swapping in zero. Zero is what an empty
		// slot holds, so a concurrent pusher cannot publish into it while
		// we hold its previous value.
		ref := r.freeSlots[count-1].Swap(0)
		if ref == 0 {
			// Another popper claimed the slot but has not decremented the
			// count yet. Give it a moment and reload.
			runtime.Gosched()
			count = r.freeCount.Load()
			continue
		}

		if !r.freeCount.CompareAndSwap(count, count-1) {
			// A pusher moved the count; put the reference back where it was
			// and start over.
			r.freeSlots[count-1].Store(ref)
			count = r.freeCount.Load()
			continue
		}

		mem := r.allocator.AsBytes(ref, TypeFreeTracker)
		if mem == nil || !r.allocator.ChangeType(ref, TypeLiveTracker, TypeFreeTracker) {
			// The list should only ever hold free tracker blocks.
			level.Warn(r.logger).Log("msg", "dropping free-list block with unexpected type", "ref", ref)
			return 0, nil
		}
		level.Debug(r.logger).Log("msg", "recycled tracker block", "ref", ref)
		return ref, mem
	}
	return 0, nil
}

// returnBlockMemory zeroes a released block and hands it back: allocator
// blocks go onto the free list, heap blocks to the garbage collector.
//
// Zeroing first matters for foreign readers: a snapshot racing this release
// sees a zero process-id and reports the region invalid instead of
// returning half-dead data.
func (r *Registry) returnBlockMemory(mt *managedTracker) {
	clear(mt.mem)
	if mt.ref == 0 {
		return
	}

	// Flip the tag first so iteration stops yielding the block as live.
	r.allocator.ChangeType(mt.ref, TypeFreeTracker, TypeLiveTracker)

	for {
		count := r.freeCount.Load()
		if count >= MaxTrackers {
			// Full. Abandon the block: still owned by the allocator, marked
			// free, never recycled.
			r.abandonedBlocks.Inc()
			level.Warn(r.logger).Log("msg", "free list full, abandoning block", "ref", mt.ref)
			return
		}

		// Publish the reference into the slot, then the slot through the
		// count. Either CAS can lose to a concurrent push or pop; losing
		// the second undoes the first.
		if !r.freeSlots[count].CompareAndSwap(0, mt.ref) {
			runtime.Gosched()
			continue
		}
		if !r.freeCount.CompareAndSwap(count, count+1) {
			r.freeSlots[count].Store(0)
			continue
		}
		return
	}
}

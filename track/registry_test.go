package track

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/trackkit/track/alloc"
)

// newTestRegistry builds a registry over a local allocator big enough for
// plenty of trackers and guarantees teardown.
func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r, err := NewRegistryWithLocalMemory(1<<20, 1, "test", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// gatherHistogramSampleCount returns the observation count of a histogram
// metric family, 0 when the family has no samples yet.
func gatherHistogramSampleCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func gatherCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func countBlocks(a alloc.Allocator, tag alloc.TypeTag) int {
	n := 0
	it := a.Iterate()
	for {
		_, got, ok := it.Next()
		if !ok {
			return n
		}
		if got == tag {
			n++
		}
	}
}

func TestRegistrySingleton(t *testing.T) {
	require.Nil(t, Installed())
	r := newTestRegistry(t, Config{})
	require.Same(t, r, Installed())

	require.Panics(t, func() {
		NewRegistry(r.Allocator(), Config{})
	})
}

func TestRegistryCloseUninstalls(t *testing.T) {
	r, err := NewRegistryWithLocalMemory(1<<20, 1, "test", Config{})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Nil(t, Installed())

	require.Panics(t, func() { _ = r.Close() })
}

func TestTrackerForCurrentThreadIsSticky(t *testing.T) {
	r := newTestRegistry(t, Config{})
	defer r.ReleaseCurrentThread()

	tr1 := r.TrackerForCurrentThread()
	tr2 := r.TrackerForCurrentThread()
	require.Same(t, tr1, tr2)
	require.True(t, tr1.IsValid())
	require.Equal(t, 1, r.TrackerCount())
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	r := newTestRegistry(t, Config{})
	r.ReleaseCurrentThread()
	require.Equal(t, 0, r.TrackerCount())
}

func TestTrackerDepthIsConfigured(t *testing.T) {
	r := newTestRegistry(t, Config{StackDepth: 7})
	defer r.ReleaseCurrentThread()

	tr := r.TrackerForCurrentThread()
	require.Equal(t, uint32(7), tr.StackSlots())
}

// TestBlockRecycling is the thread-churn scenario: a wave of threads comes
// and goes, a second wave reuses their zeroed blocks, and iteration keeps
// yielding exactly one block per live thread with nothing newly allocated.
func TestBlockRecycling(t *testing.T) {
	r := newTestRegistry(t, Config{StackDepth: 4})

	runWave := func() {
		const workers = 4
		acquired := make(chan struct{}, workers)
		release := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr := r.TrackerForCurrentThread()
				defer r.ReleaseCurrentThread()
				tr.Push(0x1, ActGeneric|1, ForGeneric(1, 1))
				tr.Pop()
				acquired <- struct{}{}
				<-release
			}()
		}
		for i := 0; i < workers; i++ {
			<-acquired
		}
		require.Equal(t, workers, r.TrackerCount())
		require.Equal(t, workers, countBlocks(r.Allocator(), TypeLiveTracker))
		close(release)
		wg.Wait()
	}

	runWave()
	require.Equal(t, 0, r.TrackerCount())
	require.Equal(t, 4, countBlocks(r.Allocator(), TypeFreeTracker))
	usedAfterFirstWave := r.Allocator().(*alloc.Region).Used()

	runWave()
	require.Equal(t, 4, countBlocks(r.Allocator(), TypeFreeTracker))
	require.Equal(t, usedAfterFirstWave, r.Allocator().(*alloc.Region).Used(),
		"second wave must recycle blocks, not allocate")
}

// TestRecycledBlockIsZeroedBeforeRebirth covers the window between a thread
// exiting and its block being reused: the block must read as invalid, never
// as the dead thread's data.
func TestRecycledBlockIsZeroedBeforeRebirth(t *testing.T) {
	r := newTestRegistry(t, Config{StackDepth: 4})

	var ref alloc.Ref
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr := r.TrackerForCurrentThread()
		tr.Push(0xAB, ActTaskRun, ForTask(9))
		it := r.Allocator().Iterate()
		ref, _, _ = it.Next()
		r.ReleaseCurrentThread()
	}()
	<-done
	require.NotZero(t, ref)

	require.Equal(t, TypeFreeTracker, r.Allocator().(*alloc.Region).TypeOf(ref))
	mem := r.Allocator().AsBytes(ref, TypeFreeTracker)
	require.NotNil(t, mem)
	for _, b := range mem {
		require.Zero(t, b)
	}

	var snap Snapshot
	require.ErrorIs(t, OpenThreadTracker(mem).Snapshot(&snap), ErrInvalidRegion)
}

// TestHeapFallback starves the allocator completely: trackers must keep
// working from heap memory, stay invisible to iteration, and surface the
// exhaustion through the histogram.
func TestHeapFallback(t *testing.T) {
	a, err := alloc.NewLocal(96, 1, "starved")
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	r := NewRegistry(a, Config{StackDepth: 4, Registerer: promReg})
	t.Cleanup(func() { _ = r.Close() })
	defer r.ReleaseCurrentThread()

	tr := r.TrackerForCurrentThread()
	require.True(t, tr.IsValid(), "heap-backed tracker must still work")
	tr.Push(0x1000, ActTaskRun, ForTask(42))

	snap := snapshotNow(t, tr)
	require.Len(t, snap.Stack, 1)
	require.Equal(t, uint64(42), snap.Stack[0].Data.TaskSequenceID())

	require.Zero(t, countBlocks(a, TypeLiveTracker), "heap blocks must not be iterable")
	require.Equal(t, uint64(1),
		gatherHistogramSampleCount(t, promReg, "trackkit_allocator_exhausted_tracker_count"))
}

// TestFreeListOverflowAbandonsBlocks releases more trackers than the free
// list holds and checks the surplus is abandoned, not corrupted into the
// list.
func TestFreeListOverflowAbandonsBlocks(t *testing.T) {
	const workers = MaxTrackers + 3

	promReg := prometheus.NewRegistry()
	a, err := alloc.NewLocal(workers*(SizeForStackDepth(2)+64)+1024, 1, "many")
	require.NoError(t, err)
	r := NewRegistry(a, Config{StackDepth: 2, Registerer: promReg})
	t.Cleanup(func() { _ = r.Close() })

	acquired := make(chan struct{}, workers)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.TrackerForCurrentThread()
			acquired <- struct{}{}
			<-release
			r.ReleaseCurrentThread()
		}()
	}
	for i := 0; i < workers; i++ {
		<-acquired
	}
	require.Equal(t, workers, r.TrackerCount())
	close(release)
	wg.Wait()

	require.Equal(t, 0, r.TrackerCount())
	require.Equal(t, float64(3),
		gatherCounterValue(t, promReg, "trackkit_freelist_abandoned_total"))

	// Abandoned or not, every block is free and the list still recycles.
	require.Equal(t, workers, countBlocks(a, TypeFreeTracker))
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr := r.TrackerForCurrentThread()
		defer r.ReleaseCurrentThread()
		if !tr.IsValid() {
			t.Error("tracker after overflow must be valid")
		}
	}()
	<-done
}

// TestConcurrentChurn hammers acquire/release from many goroutines to shake
// out free-list races. Correctness here is "no panic, counts come back to
// zero, every block ends up free".
func TestConcurrentChurn(t *testing.T) {
	r := newTestRegistry(t, Config{StackDepth: 4})

	const workers = 16
	const rounds = 30
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				tr := r.TrackerForCurrentThread()
				tr.Push(0x1, ActGeneric|1, ForGeneric(uint32(i), 0))
				tr.Pop()
				r.ReleaseCurrentThread()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, r.TrackerCount())
	require.Zero(t, countBlocks(r.Allocator(), TypeLiveTracker))
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/trackkit/track"
	"github.com/joshuapare/trackkit/track/alloc"
)

// writeTrackerFile produces a tracker file with one live thread that is
// mid-activity, the way a crashed process would leave it.
func writeTrackerFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.tracker")

	reg, err := track.NewRegistryWithFile(path, 1<<16, 0xAB, "app", track.Config{StackDepth: 8})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr := reg.TrackerForCurrentThread()
		tr.Push(0x1000, track.ActTaskRun, track.ForTask(42))
		tr.Push(0, track.ActLockAcquire, track.ForLock(0xDEAD))
		// No pop, no release: this thread dies holding both records.
	}()
	<-done

	require.NoError(t, reg.Close())
	return path
}

func TestRunInfo(t *testing.T) {
	path := writeTrackerFile(t)

	quiet = true
	defer func() { quiet = false }()
	require.NoError(t, runInfo(path))
}

func TestRunDump(t *testing.T) {
	path := writeTrackerFile(t)

	quiet = true
	defer func() { quiet = false }()
	require.NoError(t, runDump(path))
}

func TestRunDumpJSON(t *testing.T) {
	path := writeTrackerFile(t)

	jsonOut = true
	defer func() { jsonOut = false }()
	require.NoError(t, runDump(path))
}

func TestRunInfoRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-tracker")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xFF}, 4096), 0o644))
	require.Error(t, runInfo(path))
	require.Error(t, runDump(path))
}

func TestRunInfoMissingFile(t *testing.T) {
	require.Error(t, runInfo(filepath.Join(t.TempDir(), "absent")))
}

func TestDumpThreadRendersStack(t *testing.T) {
	path := writeTrackerFile(t)

	region, err := alloc.OpenExistingFile(path)
	require.NoError(t, err)
	defer region.Close()

	var snap track.Snapshot
	var found bool
	it := region.Iterate()
	for {
		ref, tag, ok := it.Next()
		if !ok {
			break
		}
		if tag != track.TypeLiveTracker {
			continue
		}
		mem := region.AsBytes(ref, track.TypeLiveTracker)
		require.NotNil(t, mem)
		dt := dumpThread(track.OpenThreadTracker(mem), &snap)
		require.Empty(t, dt.Error)
		require.Equal(t, uint32(2), dt.Depth)
		require.Len(t, dt.Stack, 2)
		require.Equal(t, "task-run", dt.Stack[0].Type)
		require.Equal(t, "sequence=42", dt.Stack[0].Payload)
		require.Equal(t, "lock-acquire", dt.Stack[1].Type)
		require.Equal(t, "lock=0xdead", dt.Stack[1].Payload)
		found = true
	}
	require.True(t, found, "the dead thread's tracker must be live in the file")
}

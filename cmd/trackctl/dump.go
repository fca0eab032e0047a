package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/trackkit/track"
	"github.com/joshuapare/trackkit/track/alloc"
)

func init() {
	rootCmd.AddCommand(newDumpCmd())
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Snapshot every live thread tracker in a file",
		Long: `The dump command iterates the live tracker blocks in a tracker file and
snapshots each one, printing what every instrumented thread was doing at the
moment of the read. Works on files of dead processes.

Example:
  trackctl dump /var/run/myapp.tracker
  trackctl dump /var/run/myapp.tracker --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args[0])
		},
	}
	return cmd
}

type dumpedActivity struct {
	Time    string `json:"time"`
	Origin  string `json:"origin"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

type dumpedThread struct {
	ProcessID  int64            `json:"process_id"`
	ThreadID   int64            `json:"thread_id"`
	ThreadName string           `json:"thread_name"`
	Depth      uint32           `json:"depth"`
	Error      string           `json:"error,omitempty"`
	Stack      []dumpedActivity `json:"stack"`
}

func runDump(path string) error {
	printVerbose("Opening tracker file: %s\n", path)

	region, err := alloc.OpenExistingFile(path)
	if err != nil {
		return fmt.Errorf("failed to open tracker file: %w", err)
	}
	defer region.Close()

	var threads []dumpedThread
	var snap track.Snapshot
	it := region.Iterate()
	for {
		ref, tag, ok := it.Next()
		if !ok {
			break
		}
		if tag != track.TypeLiveTracker {
			printVerbose("skipping block %#x with type %#x\n", ref, tag)
			continue
		}
		mem := region.AsBytes(ref, track.TypeLiveTracker)
		if mem == nil {
			// Recycled between iteration and the read; nothing to show.
			continue
		}
		tracker := track.OpenThreadTracker(mem)
		dt := dumpThread(tracker, &snap)
		threads = append(threads, dt)
	}

	if jsonOut {
		return printJSON(threads)
	}

	printInfo("%d live thread tracker(s)\n", len(threads))
	for _, th := range threads {
		if th.Error != "" {
			printInfo("\nthread (unreadable): %s\n", th.Error)
			continue
		}
		printInfo("\npid %d  tid %d  %q  depth %d\n",
			th.ProcessID, th.ThreadID, th.ThreadName, th.Depth)
		if len(th.Stack) == 0 {
			printInfo("  (idle)\n")
			continue
		}
		for i, act := range th.Stack {
			printInfo("  #%d %s  %s  origin=%s  %s\n",
				i, act.Time, act.Type, act.Origin, act.Payload)
		}
	}
	return nil
}

func dumpThread(tracker *track.ThreadTracker, snap *track.Snapshot) dumpedThread {
	if err := tracker.Snapshot(snap); err != nil {
		return dumpedThread{Error: err.Error()}
	}
	dt := dumpedThread{
		ProcessID:  snap.ProcessID,
		ThreadID:   snap.ThreadID,
		ThreadName: snap.ThreadName,
		Depth:      snap.Depth,
	}
	for _, act := range snap.Stack {
		dt.Stack = append(dt.Stack, dumpedActivity{
			Time:    act.Time.Format(time.RFC3339Nano),
			Origin:  fmt.Sprintf("%#x", act.Origin),
			Type:    act.Type.String(),
			Payload: formatPayload(act),
		})
	}
	return dt
}

func formatPayload(act track.Activity) string {
	switch act.Type.Category() {
	case track.ActGeneric:
		return fmt.Sprintf("id=%d info=%d", act.Data.GenericID(), act.Data.GenericInfo())
	case track.ActTaskRun:
		return fmt.Sprintf("sequence=%d", act.Data.TaskSequenceID())
	case track.ActLockAcquire:
		return fmt.Sprintf("lock=%#x", act.Data.LockAddress())
	case track.ActEventWait:
		return fmt.Sprintf("event=%#x", act.Data.EventAddress())
	case track.ActThreadJoin:
		return fmt.Sprintf("thread=%d", act.Data.ThreadRef())
	case track.ActProcessWait:
		return fmt.Sprintf("pid=%d", act.Data.ProcessID())
	default:
		return fmt.Sprintf("raw=%#x", act.Data.TaskSequenceID())
	}
}

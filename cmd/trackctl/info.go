package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/trackkit/track"
	"github.com/joshuapare/trackkit/track/alloc"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Validate a tracker file and report allocator metadata",
		Long: `The info command validates a tracker file's allocator metadata and
displays its size, usage, and the number of live and recycled tracker blocks.

Example:
  trackctl info /var/run/myapp.tracker
  trackctl info /var/run/myapp.tracker --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args[0])
		},
	}
	return cmd
}

type fileInfo struct {
	Path       string `json:"path"`
	Size       int    `json:"size"`
	Used       int    `json:"used"`
	RegionID   uint64 `json:"region_id"`
	RegionName string `json:"region_name"`
	LiveBlocks int    `json:"live_blocks"`
	FreeBlocks int    `json:"free_blocks"`
	Other      int    `json:"other_blocks"`
}

func runInfo(path string) error {
	printVerbose("Opening tracker file: %s\n", path)

	region, err := alloc.OpenExistingFile(path)
	if err != nil {
		return fmt.Errorf("failed to open tracker file: %w", err)
	}
	defer region.Close()

	info := fileInfo{
		Path:       path,
		Size:       region.Size(),
		Used:       region.Used(),
		RegionID:   region.ID(),
		RegionName: region.Name(),
	}
	it := region.Iterate()
	for {
		_, tag, ok := it.Next()
		if !ok {
			break
		}
		switch tag {
		case track.TypeLiveTracker:
			info.LiveBlocks++
		case track.TypeFreeTracker:
			info.FreeBlocks++
		default:
			info.Other++
		}
	}

	if jsonOut {
		return printJSON(info)
	}

	printInfo("\nTracker File Information:\n")
	printInfo("  File: %s\n", info.Path)
	if stat, err := os.Stat(path); err == nil {
		size := stat.Size()
		if size < 1024 {
			printInfo("  Size: %d bytes\n", size)
		} else if size < 1024*1024 {
			printInfo("  Size: %.1f KB\n", float64(size)/1024)
		} else {
			printInfo("  Size: %.1f MB\n", float64(size)/(1024*1024))
		}
	}
	printInfo("  Region ID: %#x\n", info.RegionID)
	printInfo("  Region name: %s\n", info.RegionName)
	printInfo("  Bytes used: %d of %d\n", info.Used, info.Size)
	printInfo("  Tracker blocks: %d live, %d free, %d other\n",
		info.LiveBlocks, info.FreeBlocks, info.Other)
	return nil
}

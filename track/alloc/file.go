package alloc

import (
	"os"

	"github.com/joshuapare/trackkit/internal/mmfile"
)

// OpenFile maps the file at path read-write, extending it to size bytes if
// needed, and adopts or initialises an allocator over the mapping. A freshly
// created file arrives zeroed from the filesystem, which is exactly the
// state New expects for initialisation; an existing tracker file is adopted
// with its contents intact.
//
// Close the returned Region to release the mapping.
func OpenFile(path string, size int64, id uint64, name string) (*Region, error) {
	data, cleanup, err := mmfile.MapRW(path, size)
	if err != nil {
		return nil, err
	}
	r, err := New(data, id, name)
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	r.cleanup = cleanup
	return r, nil
}

// OpenExistingFile maps an existing tracker file at its current size and
// adopts its allocator without initialising anything. This is the analyzer
// entry point: it refuses files that do not carry allocator metadata. The
// mapping is writable because the snapshot protocol requires readers to arm
// the per-region tear flag.
func OpenExistingFile(path string) (*Region, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, cleanup, err := mmfile.MapRW(path, info.Size())
	if err != nil {
		return nil, err
	}
	r, err := Open(data)
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	r.cleanup = cleanup
	return r, nil
}

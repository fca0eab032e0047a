package format

import (
	"sync/atomic"
	"unsafe"
)

// Atomic views over a region's bytes.
//
// A tracker region may be an mmap of a file shared with other processes, so
// the atomic header fields cannot live in Go-managed memory; they are the
// mapped bytes themselves. These helpers reinterpret an offset within the
// region as a sync/atomic value. The caller must guarantee natural alignment
// of the offset: mappings are page-aligned and every atomic field offset in
// this package is a multiple of its width, so views derived from a region
// base satisfy this on all supported platforms (including 64-bit atomics on
// 32-bit builds, which require 8-byte alignment).
//
// The views read and write in host byte order, not through the little-endian
// codecs, so the atomic fields are little-endian only on little-endian
// hosts; a region written on a big-endian host does not parse on a
// little-endian one.

// AtomicU32 returns an atomic view of the 4 bytes at off.
func AtomicU32(b []byte, off int) *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&b[off]))
}

// AtomicI64 returns an atomic view of the 8 bytes at off.
func AtomicI64(b []byte, off int) *atomic.Int64 {
	return (*atomic.Int64)(unsafe.Pointer(&b[off]))
}

// AtomicU64 returns an atomic view of the 8 bytes at off.
func AtomicU64(b []byte, off int) *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&b[off]))
}

// Package alloc provides the persistent never-free allocator that backs
// activity-tracker regions.
//
// # Overview
//
// The allocator carves fixed blocks out of one contiguous region that may be
// ordinary heap memory or a file mapped shared between processes. Blocks are
// never freed: once allocated, a block lives for the lifetime of the region.
// Callers that want to recycle a block flip its type tag instead, which is an
// atomic compare-and-swap that foreign readers observe safely.
//
// # Operations
//
//   - Allocate(size, typeTag): bump-pointer allocation, 0 on exhaustion
//   - AsBytes(ref, expectedType): bounds- and type-checked payload view
//   - ChangeType(ref, newType, oldType): CAS on the block type tag
//   - MakeIterable(ref): publish the block on the iteration list
//   - Iterate: walk published blocks in publication order
//
// # Sharing model
//
// All allocator metadata (the bump pointer, type tags, iteration links) lives
// inside the region itself, so a second process mapping the same file sees a
// coherent allocator without any side channel. Mutations of shared metadata
// go through atomic operations; plain fields are written once before the
// region cookie publishes them.
//
// # Usage Example
//
//	a, err := alloc.NewLocal(1<<20, 0x1234, "tracker-demo")
//	if err != nil {
//	    return err
//	}
//	ref := a.Allocate(4096, typeLive)
//	if ref == 0 {
//	    // region exhausted
//	}
//	a.MakeIterable(ref)
//	buf := a.AsBytes(ref, typeLive)
package alloc

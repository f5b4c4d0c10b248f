// Package vmspace manages the virtual address space of one process.
//
// An AddressSpace keeps a sorted, non-overlapping set of regions. Each region
// is a page-aligned range with uniform protection, flags, backing and memory
// policy. The package places new mappings, merges compatible neighbours,
// splits regions when a request cuts through them, tears mappings down with
// the page-table work batched per call, and keeps the per-space accounting
// that limits are enforced against.
//
// # Quick Start
//
//	ctx := context.Background()
//	as := vmspace.New(vmspace.WithDataSegment(0x600000))
//	defer as.Close(ctx)
//
//	// Anonymous private mapping, placed by the allocator.
//	addr, err := as.Map(ctx, vmspace.MapRequest{
//	    Length: 8192,
//	    Prot:   region.ProtRead | region.ProtWrite,
//	    Flags:  vmspace.MapPrivate | vmspace.MapAnonymous,
//	})
//
//	// Punch a hole; the region is split in place.
//	err = as.Unmap(ctx, addr, 4096)
//
//	// Grow the data segment.
//	err = as.Grow(ctx, 0x610000)
//
// # Collaborators
//
// The page table, reverse map, policy manager and admission control are
// interfaces. New wires in-process defaults (internal/pagetable,
// internal/rmap, policy.Manager, resource.Controller); options replace them.
//
// # Locking
//
// Structural changes hold the space's lock in write mode; Lookup,
// LookupRange, Regions and Stats hold it in read mode. The page-table lock
// and the per-object shared-mapping locks nest inside it, in the order
// enforced by package lockorder.
//
// # Failure semantics
//
// Map, Unmap, Grow, ExpandStack and InstallSpecial either complete or leave
// the space exactly as it was. Every fallible step runs before the first
// region is modified.
package vmspace

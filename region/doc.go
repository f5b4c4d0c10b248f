// Package region defines the value types shared by an address space and its
// collaborators: page-granular addresses and ranges, protection and flag
// bits, the tagged backing variant, and the Region record itself.
//
// A Region describes one contiguous, page-aligned, half-open range of a
// process's virtual address space with uniform protection and backing. The
// address space owns every Region reachable from it; collaborators only ever
// see pointers for the duration of a call or while the Region is registered
// in one of their collections.
package region

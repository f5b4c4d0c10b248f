// Package index keeps the regions of an address space ordered by address.
//
// Regions live in arena slots. Each slot is simultaneously a node of an AVL
// tree keyed by start address (for O(log n) lookup) and an element of a
// doubly linked list in address order (for neighbour access and linear
// scans). A single-entry cache remembers the region most recently returned
// by Find; most lookups hit it because accesses are local.
//
// The Index is not safe for concurrent mutation. Read-only methods may run
// concurrently with each other; the cache is updated atomically.
package index

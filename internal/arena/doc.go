// Package arena provides a slot allocator for index nodes.
//
// Slots are handed out in fixed-size chunks that never move, so a pointer
// returned by Get stays valid until the slot is freed. Every slot carries a
// generation counter; a Handle captures the generation at allocation time
// and Get returns nil for a Handle whose slot has since been freed.
//
// # Features
//
//   - Generation-checked handles instead of raw cross-references
//   - Free-list recycling of released slots
//   - Optional slot cap and memory budget to surface allocation failure
//
// # Concurrency
//
// Arena is not safe for concurrent mutation. Alloc and Free must be
// serialized by the caller; Get may run concurrently with other Get calls.
// Stats are atomic and may be read at any time.
package arena

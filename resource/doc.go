// Package resource implements the admission side of an address space:
// commit accounting, eager-populate throttling and the memory budget for
// index nodes.
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                         Controller                           │
//	├──────────────────┬───────────────────┬───────────────────────┤
//	│  Commit (pages)  │  Populate (pages) │  Node memory (bytes)  │
//	│  Reserve         │  AcquirePopulate  │  AcquireMemory        │
//	│  Release         │  token bucket     │  ReleaseMemory        │
//	│  overcommit mode │                   │  fail-fast            │
//	├──────────────────┴───────────────────┴───────────────────────┤
//	│  IO (bytes/s): RateLimitedReader for checkpoint restores     │
//	└──────────────────────────────────────────────────────────────┘
//
// # Overcommit
//
// OvercommitGuess refuses only single requests larger than the commit limit.
// OvercommitNever enforces the limit on the running total with a weighted
// semaphore. OvercommitAlways admits everything and only tracks usage.
//
// All methods are safe on a nil *Controller, which admits everything.
package resource

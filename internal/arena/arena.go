package arena

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"
	"unsafe"
)

// MemoryAcquirer is charged for every chunk the arena reserves.
type MemoryAcquirer interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
}

var (
	// ErrMaxSlotsExceeded is returned when the arena is at its slot cap.
	ErrMaxSlotsExceeded = errors.New("arena: max slots exceeded")
	// ErrAllocationFailed is returned when a chunk cannot be reserved.
	ErrAllocationFailed = errors.New("arena: allocation failed")
)

const (
	// DefaultChunkSize is the default number of slots per chunk.
	DefaultChunkSize = 256
	// MaxSlots bounds the index space of a Handle.
	MaxSlots = 1 << 31
)

// Handle is a generation-checked reference to an arena slot. The zero
// Handle is nil.
type Handle struct {
	Gen   uint32
	Index uint32
}

// Nil is the zero Handle.
var Nil Handle

// IsNil reports whether h is the zero Handle.
func (h Handle) IsNil() bool {
	return h == Nil
}

// Pack returns h as a single integer.
func (h Handle) Pack() uint64 {
	return uint64(h.Gen)<<32 | uint64(h.Index)
}

// Unpack is the inverse of Pack.
func Unpack(v uint64) Handle {
	return Handle{Gen: uint32(v >> 32), Index: uint32(v)}
}

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.Index, h.Gen)
}

// Stats tracks arena usage.
type Stats struct {
	Chunks      uint64 // Current: chunks held
	Live        uint64 // Current: allocated slots
	TotalAllocs uint64 // Historical: allocations
	TotalFrees  uint64 // Historical: frees
	Failures    uint64 // Historical: failed allocations
}

type atomicStats struct {
	Chunks      atomic.Uint64
	Live        atomic.Uint64
	TotalAllocs atomic.Uint64
	TotalFrees  atomic.Uint64
	Failures    atomic.Uint64
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

type config struct {
	chunkSize int
	maxSlots  int
	acquirer  MemoryAcquirer
}

// Option is a configuration option for Arena.
type Option func(*config)

// WithChunkSize sets the number of slots per chunk. It is rounded up to a
// power of two.
func WithChunkSize(n int) Option {
	return func(c *config) {
		c.chunkSize = n
	}
}

// WithMaxSlots caps the number of simultaneously live slots.
func WithMaxSlots(n int) Option {
	return func(c *config) {
		c.maxSlots = n
	}
}

// WithMemoryAcquirer charges chunk reservations to acquirer.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(c *config) {
		c.acquirer = acquirer
	}
}

// Arena is a chunked slot allocator for values of type T.
type Arena[T any] struct {
	chunkBits  int
	chunkMask  uint32
	chunkBytes int64
	maxSlots   int
	acquirer   MemoryAcquirer

	chunks [][]slot[T]
	free   []uint32
	next   uint32
	live   int
	stats  atomicStats
}

// New creates an empty Arena.
func New[T any](opts ...Option) *Arena[T] {
	cfg := config{chunkSize: DefaultChunkSize, maxSlots: MaxSlots - 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.chunkSize <= 0 {
		cfg.chunkSize = DefaultChunkSize
	}
	if cfg.maxSlots <= 0 || cfg.maxSlots >= MaxSlots {
		cfg.maxSlots = MaxSlots - 1
	}

	// Round up to next power of 2 for shift/mask addressing
	chunkBits := bits.Len(uint(cfg.chunkSize - 1)) //nolint:gosec // chunkSize > 0
	chunkSize := 1 << chunkBits

	var zero slot[T]
	a := &Arena[T]{
		chunkBits:  chunkBits,
		chunkMask:  uint32(chunkSize - 1), //nolint:gosec // chunkSize <= MaxSlots
		chunkBytes: int64(chunkSize) * int64(unsafe.Sizeof(zero)),
		maxSlots:   cfg.maxSlots,
		acquirer:   cfg.acquirer,
	}
	// Index 0 is reserved so the zero Handle never names a slot.
	a.next = 1
	return a
}

// Alloc reserves a zeroed slot and returns its handle and value pointer.
func (a *Arena[T]) Alloc() (Handle, *T, error) {
	if a.live >= a.maxSlots {
		a.stats.Failures.Add(1)
		return Nil, nil, ErrMaxSlotsExceeded
	}

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		if int(a.next>>a.chunkBits) >= len(a.chunks) {
			if err := a.grow(); err != nil {
				a.stats.Failures.Add(1)
				return Nil, nil, err
			}
		}
		idx = a.next
		a.next++
	}

	s := a.slot(idx)
	s.live = true
	a.live++
	a.stats.Live.Add(1)
	a.stats.TotalAllocs.Add(1)
	return Handle{Gen: s.gen, Index: idx}, &s.val, nil
}

func (a *Arena[T]) grow() error {
	if a.acquirer != nil {
		if err := a.acquirer.AcquireMemory(a.chunkBytes); err != nil {
			return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
		}
	}
	a.chunks = append(a.chunks, make([]slot[T], 1<<a.chunkBits))
	a.stats.Chunks.Add(1)
	return nil
}

func (a *Arena[T]) slot(idx uint32) *slot[T] {
	return &a.chunks[idx>>a.chunkBits][idx&a.chunkMask]
}

// Get returns the value for h, or nil if h is nil or stale.
func (a *Arena[T]) Get(h Handle) *T {
	if h.Index == 0 || h.Index >= a.next {
		return nil
	}
	s := a.slot(h.Index)
	if !s.live || s.gen != h.Gen {
		return nil
	}
	return &s.val
}

// Valid reports whether h names a live slot.
func (a *Arena[T]) Valid(h Handle) bool {
	return a.Get(h) != nil
}

// Free releases the slot named by h and invalidates every copy of h. It
// reports false if h was already stale.
func (a *Arena[T]) Free(h Handle) bool {
	if a.Get(h) == nil {
		return false
	}
	s := a.slot(h.Index)
	var zero T
	s.val = zero
	s.live = false
	s.gen++
	a.free = append(a.free, h.Index)
	a.live--
	a.stats.Live.Add(^uint64(0))
	a.stats.TotalFrees.Add(1)
	return true
}

// Len returns the number of live slots.
func (a *Arena[T]) Len() int {
	return a.live
}

// Cap returns how many more slots can be allocated before hitting the cap.
func (a *Arena[T]) Cap() int {
	return a.maxSlots - a.live
}

// Reset frees every slot and releases all chunks. Handles issued before
// Reset must not be used afterwards.
func (a *Arena[T]) Reset() {
	if a.acquirer != nil && len(a.chunks) > 0 {
		a.acquirer.ReleaseMemory(int64(len(a.chunks)) * a.chunkBytes)
	}
	a.chunks = nil
	a.free = nil
	a.next = 1
	a.live = 0
	a.stats.Chunks.Store(0)
	a.stats.Live.Store(0)
}

// Stats returns the current arena statistics.
func (a *Arena[T]) Stats() Stats {
	return Stats{
		Chunks:      a.stats.Chunks.Load(),
		Live:        a.stats.Live.Load(),
		TotalAllocs: a.stats.TotalAllocs.Load(),
		TotalFrees:  a.stats.TotalFrees.Load(),
		Failures:    a.stats.Failures.Load(),
	}
}

func (a *Arena[T]) String() string {
	st := a.Stats()
	return fmt.Sprintf("Arena{chunks: %d, live: %d, allocs: %d, frees: %d}",
		st.Chunks, st.Live, st.TotalAllocs, st.TotalFrees)
}

package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrOvercommit is returned by Reserve when a commit would exceed the
	// limit.
	ErrOvercommit = errors.New("resource: commit limit exceeded")
	// ErrMemoryLimitExceeded is returned by AcquireMemory when the node
	// memory budget is spent.
	ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")
)

// OvercommitMode selects how Reserve judges a request.
type OvercommitMode int

const (
	// OvercommitGuess rejects only obviously excessive single requests.
	OvercommitGuess OvercommitMode = iota
	// OvercommitAlways never rejects.
	OvercommitAlways
	// OvercommitNever keeps the committed total under the limit.
	OvercommitNever
)

func (m OvercommitMode) String() string {
	switch m {
	case OvercommitGuess:
		return "guess"
	case OvercommitAlways:
		return "always"
	case OvercommitNever:
		return "never"
	default:
		return fmt.Sprintf("OvercommitMode(%d)", int(m))
	}
}

// Config holds the limits of a Controller. Zero values mean unlimited.
type Config struct {
	// Mode is the overcommit policy.
	Mode OvercommitMode

	// CommitLimitPages is the commit limit in pages.
	CommitLimitPages int64

	// PopulatePagesPerSec throttles eager population.
	PopulatePagesPerSec int64

	// MemoryLimitBytes bounds the memory used for index nodes.
	MemoryLimitBytes int64

	// IOLimitBytesPerSec throttles checkpoint reads.
	IOLimitBytesPerSec int64
}

// Controller admits commits and throttles background work.
type Controller struct {
	cfg Config

	commitSem *semaphore.Weighted // Never mode only
	committed atomic.Int64
	rejected  atomic.Int64

	populate *rate.Limiter

	memSem  *semaphore.Weighted
	memUsed atomic.Int64

	ioLimiter *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.Mode == OvercommitNever && cfg.CommitLimitPages > 0 {
		c.commitSem = semaphore.NewWeighted(cfg.CommitLimitPages)
	}
	if cfg.PopulatePagesPerSec > 0 {
		c.populate = rate.NewLimiter(rate.Limit(cfg.PopulatePagesPerSec), int(cfg.PopulatePagesPerSec))
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// Reserve admits a commit of pages. It never blocks.
func (c *Controller) Reserve(pages uint64) error {
	if c == nil || pages == 0 {
		return nil
	}
	n := int64(pages)
	if n < 0 {
		c.rejected.Add(1)
		return ErrOvercommit
	}

	switch c.cfg.Mode {
	case OvercommitNever:
		if c.commitSem != nil && !c.commitSem.TryAcquire(n) {
			c.rejected.Add(1)
			return ErrOvercommit
		}
	case OvercommitGuess:
		if c.cfg.CommitLimitPages > 0 && n > c.cfg.CommitLimitPages {
			c.rejected.Add(1)
			return ErrOvercommit
		}
	}
	c.committed.Add(n)
	return nil
}

// Release returns pages admitted by Reserve.
func (c *Controller) Release(pages uint64) {
	if c == nil || pages == 0 {
		return
	}
	n := int64(pages)
	if c.commitSem != nil {
		c.commitSem.Release(n)
	}
	c.committed.Add(-n)
}

// Committed returns the admitted page total.
func (c *Controller) Committed() int64 {
	if c == nil {
		return 0
	}
	return c.committed.Load()
}

// Rejected returns how many Reserve calls failed.
func (c *Controller) Rejected() int64 {
	if c == nil {
		return 0
	}
	return c.rejected.Load()
}

// AcquirePopulate waits until pages may be populated. Large requests are
// split into burst-sized waits.
func (c *Controller) AcquirePopulate(ctx context.Context, pages uint64) error {
	if c == nil || c.populate == nil {
		return nil
	}
	return waitChunked(ctx, c.populate, pages)
}

// AcquireMemory reserves node memory without blocking.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}
	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory returns node memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the reserved node memory in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireIO waits until bytes may be read.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil || bytes <= 0 {
		return nil
	}
	return waitChunked(ctx, c.ioLimiter, uint64(bytes))
}

func waitChunked(ctx context.Context, l *rate.Limiter, n uint64) error {
	burst := uint64(l.Burst())
	for n > 0 {
		step := min(n, burst)
		if err := l.WaitN(ctx, int(step)); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

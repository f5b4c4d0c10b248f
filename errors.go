package vmspace

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vmspace/backing"
	"github.com/hupe1980/vmspace/blobstore"
	"github.com/hupe1980/vmspace/internal/arena"
	"github.com/hupe1980/vmspace/internal/pagetable"
	"github.com/hupe1980/vmspace/internal/rmap"
	"github.com/hupe1980/vmspace/internal/snapshot"
	"github.com/hupe1980/vmspace/policy"
	"github.com/hupe1980/vmspace/resource"
)

var (
	// ErrInvalidArgument is returned for malformed requests: zero or
	// misaligned lengths, bad flag combinations, fixed addresses outside the
	// layout.
	ErrInvalidArgument = errors.New("vmspace: invalid argument")
	// ErrResourceLimit is matched by every *LimitError.
	ErrResourceLimit = errors.New("vmspace: resource limit exceeded")
	// ErrOutOfMemory is returned when no free range fits or a node, group or
	// policy cannot be allocated.
	ErrOutOfMemory = errors.New("vmspace: out of memory")
	// ErrPermission is returned when the backing object or the security hook
	// refuses the mapping.
	ErrPermission = errors.New("vmspace: permission denied")
	// ErrNotFound is returned when an operation needs a region that is not
	// there.
	ErrNotFound = errors.New("vmspace: not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vmspace: address space is closed")
)

// Limit names the quantity a LimitError refers to.
type Limit uint8

const (
	// LimitRegions is the maximum number of regions.
	LimitRegions Limit = iota
	// LimitAddressSpace is the total mapped size.
	LimitAddressSpace
	// LimitLocked is the total size of locked regions.
	LimitLocked
	// LimitData is the size of the data segment.
	LimitData
	// LimitStack is the size of one stack region.
	LimitStack
	// LimitCommit is the admission controller's commit charge.
	LimitCommit
)

func (l Limit) String() string {
	switch l {
	case LimitRegions:
		return "regions"
	case LimitAddressSpace:
		return "address-space"
	case LimitLocked:
		return "locked"
	case LimitData:
		return "data"
	case LimitStack:
		return "stack"
	case LimitCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// LimitError reports which limit refused an operation.
//
// It matches ErrResourceLimit with errors.Is. The underlying cause, if any,
// can be accessed via errors.Unwrap.
type LimitError struct {
	Limit     Limit
	Requested uint64
	Max       uint64
	cause     error
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("vmspace: %s limit exceeded: requested %d, max %d", e.Limit, e.Requested, e.Max)
}

// Is reports whether target is ErrResourceLimit.
func (e *LimitError) Is(target error) bool {
	return target == ErrResourceLimit
}

func (e *LimitError) Unwrap() error { return e.cause }

func limitError(l Limit, requested, max uint64) error {
	return &LimitError{Limit: l, Requested: requested, Max: max}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// translateError maps collaborator errors onto the package's taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Already translated.
	var le *LimitError
	if errors.As(err, &le) {
		return err
	}
	for _, sentinel := range []error{ErrInvalidArgument, ErrOutOfMemory, ErrPermission, ErrNotFound, ErrClosed} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, resource.ErrOvercommit) {
		return &LimitError{Limit: LimitCommit, cause: err}
	}

	// Allocation failures of any collaborator.
	if errors.Is(err, arena.ErrMaxSlotsExceeded) ||
		errors.Is(err, arena.ErrAllocationFailed) ||
		errors.Is(err, resource.ErrMemoryLimitExceeded) ||
		errors.Is(err, policy.ErrExhausted) ||
		errors.Is(err, rmap.ErrTooManyGroups) ||
		errors.Is(err, pagetable.ErrFull) {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}

	if errors.Is(err, backing.ErrAccessDenied) || errors.Is(err, backing.ErrAppendOnly) {
		return fmt.Errorf("%w: %w", ErrPermission, err)
	}

	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, snapshot.ErrBadMagic) ||
		errors.Is(err, snapshot.ErrVersion) ||
		errors.Is(err, snapshot.ErrChecksum) ||
		errors.Is(err, snapshot.ErrTruncated) ||
		errors.Is(err, policy.ErrInvalidPolicy) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return err
}

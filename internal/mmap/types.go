package mmap

import "errors"

// AccessPattern is a hint about upcoming accesses.
type AccessPattern int

const (
	// AccessDefault clears earlier hints.
	AccessDefault AccessPattern = iota
	// AccessSequential expects a front-to-back scan.
	AccessSequential
	// AccessRandom expects scattered reads.
	AccessRandom
	// AccessWillNeed asks for readahead.
	AccessWillNeed
	// AccessDontNeed allows cached pages to be dropped.
	AccessDontNeed
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for files whose size cannot be mapped.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrOutOfBounds is returned for ranges outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)

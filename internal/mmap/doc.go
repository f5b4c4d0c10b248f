// Package mmap maps local blob files read-only so the local blob store can
// serve reads and readahead hints without copying through the page cache.
//
//	m, err := mmap.Open(path)
//	if err != nil { ... }
//	defer m.Close()
//	_ = m.AdviseRange(off, n, mmap.AccessWillNeed)
//
// On unix the file is mapped with mmap(2) and hints go to madvise(2). Other
// platforms read the file into memory and treat hints as no-ops.
package mmap

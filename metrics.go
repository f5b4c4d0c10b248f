package vmspace

import (
	"sync/atomic"
	"time"
)

// MergeKind says which neighbours a merge joined.
type MergeKind uint8

const (
	// MergeBoth joined the previous region, the new range and the next
	// region into one.
	MergeBoth MergeKind = iota
	// MergePrev extended the previous region.
	MergePrev
	// MergeNext extended the next region downwards.
	MergeNext
)

func (k MergeKind) String() string {
	switch k {
	case MergeBoth:
		return "both"
	case MergePrev:
		return "prev"
	case MergeNext:
		return "next"
	default:
		return "unknown"
	}
}

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordMap is called after each Map. pages is the mapped size on
	// success.
	RecordMap(duration time.Duration, pages uint64, err error)

	// RecordUnmap is called after each Unmap with the number of pages
	// removed.
	RecordUnmap(duration time.Duration, pages uint64, err error)

	// RecordGrow is called after each data-segment or stack extension.
	RecordGrow(duration time.Duration, err error)

	// RecordMerge is called whenever a new range is absorbed by a neighbour.
	RecordMerge(kind MergeKind)

	// RecordSplit is called for every committed split.
	RecordSplit()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMap(time.Duration, uint64, error)   {}
func (NoopMetricsCollector) RecordUnmap(time.Duration, uint64, error) {}
func (NoopMetricsCollector) RecordGrow(time.Duration, error)          {}
func (NoopMetricsCollector) RecordMerge(MergeKind)                    {}
func (NoopMetricsCollector) RecordSplit()                             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MapCount        atomic.Int64
	MapErrors       atomic.Int64
	MapPages        atomic.Int64
	MapTotalNanos   atomic.Int64
	UnmapCount      atomic.Int64
	UnmapErrors     atomic.Int64
	UnmapPages      atomic.Int64
	UnmapTotalNanos atomic.Int64
	GrowCount       atomic.Int64
	GrowErrors      atomic.Int64
	MergeCount      [3]atomic.Int64
	SplitCount      atomic.Int64
}

// RecordMap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMap(duration time.Duration, pages uint64, err error) {
	b.MapCount.Add(1)
	b.MapTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MapErrors.Add(1)
		return
	}
	b.MapPages.Add(int64(pages)) //nolint:gosec // page counts fit in int64
}

// RecordUnmap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnmap(duration time.Duration, pages uint64, err error) {
	b.UnmapCount.Add(1)
	b.UnmapTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.UnmapErrors.Add(1)
		return
	}
	b.UnmapPages.Add(int64(pages)) //nolint:gosec // page counts fit in int64
}

// RecordGrow implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGrow(_ time.Duration, err error) {
	b.GrowCount.Add(1)
	if err != nil {
		b.GrowErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(kind MergeKind) {
	if int(kind) < len(b.MergeCount) {
		b.MergeCount[kind].Add(1)
	}
}

// RecordSplit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSplit() {
	b.SplitCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		MapCount:      b.MapCount.Load(),
		MapErrors:     b.MapErrors.Load(),
		MapPages:      b.MapPages.Load(),
		MapAvgNanos:   avg(b.MapTotalNanos.Load(), b.MapCount.Load()),
		UnmapCount:    b.UnmapCount.Load(),
		UnmapErrors:   b.UnmapErrors.Load(),
		UnmapPages:    b.UnmapPages.Load(),
		UnmapAvgNanos: avg(b.UnmapTotalNanos.Load(), b.UnmapCount.Load()),
		GrowCount:     b.GrowCount.Load(),
		GrowErrors:    b.GrowErrors.Load(),
		MergeBoth:     b.MergeCount[MergeBoth].Load(),
		MergePrev:     b.MergeCount[MergePrev].Load(),
		MergeNext:     b.MergeCount[MergeNext].Load(),
		SplitCount:    b.SplitCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	MapCount      int64
	MapErrors     int64
	MapPages      int64
	MapAvgNanos   int64
	UnmapCount    int64
	UnmapErrors   int64
	UnmapPages    int64
	UnmapAvgNanos int64
	GrowCount     int64
	GrowErrors    int64
	MergeBoth     int64
	MergePrev     int64
	MergeNext     int64
	SplitCount    int64
}

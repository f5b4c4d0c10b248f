package vmspace

import (
	"log/slog"

	"github.com/hupe1980/vmspace/region"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	layout           Layout
	limits           Limits
	pageTable        PageTable
	reverseMap       ReverseMap
	policies         PolicyManager
	admission        Admission
	security         SecurityHook
	maxNodes         int
	nodeBudget       MemoryBudget
	dataStart        region.Addr
	defaultFlags     region.Flags
}

// Option configures New.
type Option func(*options)

// WithLogger configures structured logging.
// Pass nil to disable logging (uses NoopLogger).
//
// Example:
//
//	logger := vmspace.NewJSONLogger(slog.LevelDebug)
//	as := vmspace.New(vmspace.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel is shorthand for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vmspace.BasicMetricsCollector{}
//	as := vmspace.New(vmspace.WithMetricsCollector(metrics))
//	// ... map and unmap ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLayout sets the usable address range and reserved zones.
func WithLayout(l Layout) Option {
	return func(o *options) {
		o.layout = l
	}
}

// WithLimits sets the space's limits. Zero fields keep their defaults.
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithPageTable replaces the in-process page table.
func WithPageTable(pt PageTable) Option {
	return func(o *options) {
		o.pageTable = pt
	}
}

// WithReverseMap replaces the in-process reverse map.
func WithReverseMap(rm ReverseMap) Option {
	return func(o *options) {
		o.reverseMap = rm
	}
}

// WithPolicyManager replaces the default policy manager.
func WithPolicyManager(pm PolicyManager) Option {
	return func(o *options) {
		o.policies = pm
	}
}

// WithAdmission sets the commit admission controller. A
// *resource.Controller also throttles eager population.
func WithAdmission(a Admission) Option {
	return func(o *options) {
		o.admission = a
	}
}

// WithSecurityHook installs a hook consulted by Map before any change.
func WithSecurityHook(h SecurityHook) Option {
	return func(o *options) {
		o.security = h
	}
}

// WithMaxNodes caps the number of index nodes, including nodes reserved for
// splits that are about to happen. Exhaustion surfaces as ErrOutOfMemory.
func WithMaxNodes(n int) Option {
	return func(o *options) {
		o.maxNodes = n
	}
}

// WithNodeBudget charges index-node memory to b.
func WithNodeBudget(b MemoryBudget) Option {
	return func(o *options) {
		o.nodeBudget = b
	}
}

// WithDataSegment enables Grow with the data segment starting at start.
func WithDataSegment(start region.Addr) Option {
	return func(o *options) {
		o.dataStart = start
	}
}

// WithDefaultFlags ORs flags into every new region. Only FlagLocked is
// meaningful.
func WithDefaultFlags(flags region.Flags) Option {
	return func(o *options) {
		o.defaultFlags = flags & region.FlagLocked
	}
}

func applyOptions(opts []Option) options {
	o := options{
		layout: DefaultLayout(),
		limits: DefaultLimits(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	def := DefaultLimits()
	if o.limits.MaxRegions <= 0 {
		o.limits.MaxRegions = def.MaxRegions
	}
	for _, f := range []*uint64{&o.limits.AddressSpace, &o.limits.Locked, &o.limits.Data, &o.limits.Stack} {
		if *f == 0 {
			*f = Unlimited
		}
	}
	if o.admission == nil {
		o.admission = admitAll{}
	}
	return o
}

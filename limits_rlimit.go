//go:build linux || darwin

package vmspace

import (
	"golang.org/x/sys/unix"
)

// LimitsFromProcess derives Limits from the calling process's soft rlimits.
// Limits that cannot be read stay at their defaults.
func LimitsFromProcess() Limits {
	l := DefaultLimits()
	for _, rl := range []struct {
		resource int
		dst      *uint64
	}{
		{unix.RLIMIT_AS, &l.AddressSpace},
		{unix.RLIMIT_MEMLOCK, &l.Locked},
		{unix.RLIMIT_DATA, &l.Data},
		{unix.RLIMIT_STACK, &l.Stack},
	} {
		var lim unix.Rlimit
		if err := unix.Getrlimit(rl.resource, &lim); err != nil {
			continue
		}
		if lim.Cur >= 1<<63-1 {
			*rl.dst = Unlimited
			continue
		}
		*rl.dst = lim.Cur
	}
	return l
}

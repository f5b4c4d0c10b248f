//go:build !linux && !darwin

package vmspace

// LimitsFromProcess returns DefaultLimits on platforms without rlimits.
func LimitsFromProcess() Limits {
	return DefaultLimits()
}

package psd2img

import "runtime"

// MinCores ensures at least one worker is available.
const MinCores = 1

// ResolveCores determines the worker count.
// A positive request is clamped to [1, available-1]; zero or negative means
// available-1. available is GOMAXPROCS, adjusted by automaxprocs in containers,
// and one core is left free for the host.
func ResolveCores(requested int) int {
	return resolveCores(requested, runtime.GOMAXPROCS(0))
}

func resolveCores(requested, available int) int {
	limit := max(available-1, MinCores)
	if requested <= 0 {
		return limit
	}
	return min(requested, limit)
}

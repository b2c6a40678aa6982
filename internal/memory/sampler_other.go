//go:build !linux

package memory

func platformSampler() Sampler {
	return runtimeSampler{}
}

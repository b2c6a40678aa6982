//go:build linux

package memory

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// procSampler reads RSS from /proc/self/stat and MemTotal from /proc/meminfo.
type procSampler struct {
	fs procfs.FS
}

func platformSampler() Sampler {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return runtimeSampler{}
	}
	return procSampler{fs: fs}
}

func (p procSampler) Sample() (Sample, error) {
	self, err := p.fs.Self()
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrNoSample, err)
	}
	stat, err := self.Stat()
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrNoSample, err)
	}
	info, err := p.fs.Meminfo()
	if err != nil || info.MemTotal == nil {
		return Sample{}, fmt.Errorf("%w: meminfo: %v", ErrNoSample, err)
	}
	return Sample{
		Resident: uint64(stat.ResidentMemory()), // #nosec G115 -- RSS is non-negative
		Total:    *info.MemTotal * 1024,
	}, nil
}

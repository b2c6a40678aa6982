// Package memory samples process memory pressure and supervises the export
// pipeline under it.
//
// A Monitor answers point questions (current usage, threshold exceeded,
// reclaim now). A Guard polls a Monitor on a timer, classifies pressure into
// four levels and drives throttling, emergency recovery and abort.
package memory

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/alnah/go-psd2img/internal/fileutil"
	"github.com/alnah/go-psd2img/internal/logging"
)

// Sample is one memory reading in bytes.
type Sample struct {
	Resident uint64
	Total    uint64
}

// Sampler reads current process memory.
type Sampler interface {
	Sample() (Sample, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() (Sample, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample() (Sample, error) { return f() }

// FractionSampler returns a Sampler that always reports usage fraction f.
// Used by tests and dry runs.
func FractionSampler(f func() float64) Sampler {
	const total = 1 << 30
	return SamplerFunc(func() (Sample, error) {
		return Sample{Resident: uint64(f() * total), Total: total}, nil
	})
}

// ErrNoSample is returned by samplers that cannot read memory on this platform.
var ErrNoSample = errors.New("memory: sample unavailable")

// fallbackTotal is the assumed budget when no memory limit is configured
// and system memory cannot be read.
const fallbackTotal = 8 << 30

// runtimeSampler estimates usage from the Go runtime when the OS cannot be queried.
// Total is the soft memory limit when one is set.
type runtimeSampler struct{}

func (runtimeSampler) Sample() (Sample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	total := uint64(fallbackTotal)
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		total = uint64(limit)
	}
	return Sample{Resident: ms.Sys - ms.HeapReleased, Total: total}, nil
}

// Defaults.
const (
	DefaultThreshold     = 0.8
	DefaultCheckInterval = 2 * time.Second
	largeObjectBytes     = 1 << 20
)

// Stats is a snapshot of monitor readings.
type Stats struct {
	UsagePercent     float64 `json:"usagePercent"`
	ResidentBytes    uint64  `json:"residentBytes"`
	TotalBytes       uint64  `json:"totalBytes"`
	HeapAllocBytes   uint64  `json:"heapAllocBytes"`
	HeapObjects      uint64  `json:"heapObjects"`
	NumGC            uint32  `json:"numGC"`
	TempFilesRemoved int     `json:"tempFilesRemoved"`
}

// SizeClass is one bucket of the live-allocation histogram.
type SizeClass struct {
	MinBytes float64
	Objects  uint64
}

// Growth is the heap object delta since the previous TrackGrowth call.
type Growth struct {
	Objects uint64
	Delta   int64
}

// Monitor samples memory usage and performs reclaim actions.
// All methods are safe for concurrent use.
type Monitor struct {
	sampler       Sampler
	fallback      Sampler
	threshold     float64
	checkInterval time.Duration
	tempPatterns  []string
	tempMinAge    time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu           sync.Mutex
	lastCheck    time.Time
	lastExceeded bool
	lastObjects  uint64
	tempRemoved  int
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithSampler replaces the platform sampler.
func WithSampler(s Sampler) MonitorOption {
	return func(m *Monitor) { m.sampler = s }
}

// WithThreshold sets the usage fraction above which Exceeded reports true.
func WithThreshold(f float64) MonitorOption {
	return func(m *Monitor) { m.threshold = f }
}

// WithCheckInterval sets how long an Exceeded answer is cached.
func WithCheckInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.checkInterval = d }
}

// WithTempPatterns adds glob patterns removed by CleanupTempFiles.
func WithTempPatterns(patterns ...string) MonitorOption {
	return func(m *Monitor) { m.tempPatterns = append(m.tempPatterns, patterns...) }
}

// WithTempMinAge leaves temp files modified within d alone.
func WithTempMinAge(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.tempMinAge = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logging.OrDiscard(l) }
}

// NewMonitor creates a Monitor using the platform sampler unless overridden.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		sampler:       platformSampler(),
		fallback:      runtimeSampler{},
		threshold:     DefaultThreshold,
		checkInterval: DefaultCheckInterval,
		tempPatterns:  []string{filepath.Join(os.TempDir(), "psd2img_*")},
		logger:        logging.Discard(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Read returns the current sample, degrading to the runtime estimate on error.
func (m *Monitor) Read() Sample {
	s, err := m.sampler.Sample()
	if err != nil || s.Total == 0 {
		s, _ = m.fallback.Sample()
	}
	return s
}

// UsageFraction returns resident memory as a fraction of total memory, in [0, 1].
func (m *Monitor) UsageFraction() float64 {
	s := m.Read()
	if s.Total == 0 {
		return 0
	}
	return min(float64(s.Resident)/float64(s.Total), 1)
}

// Exceeded reports whether usage is above the threshold. The answer is
// cached for the check interval so hot loops can call it freely.
func (m *Monitor) Exceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < m.checkInterval {
		return m.lastExceeded
	}
	m.lastCheck = now
	m.lastExceeded = m.UsageFraction() > m.threshold
	return m.lastExceeded
}

// ForceGC runs a full collection and returns freed memory to the OS.
func (m *Monitor) ForceGC() {
	debug.FreeOSMemory()
}

// Reclaim runs one collection pass. Aggressive passes also return memory to the OS.
func (m *Monitor) Reclaim(aggressive bool) {
	if aggressive {
		debug.FreeOSMemory()
		return
	}
	runtime.GC()
}

// CleanupTempFiles removes stale files matching the configured patterns.
func (m *Monitor) CleanupTempFiles() int {
	n, err := fileutil.RemoveStale(m.tempMinAge, m.tempPatterns...)
	if err != nil {
		m.logger.Warn("temp cleanup incomplete", slog.Any("error", err))
	}
	if n > 0 {
		m.logger.Debug("temp files removed", slog.Int("count", n))
	}
	m.mu.Lock()
	m.tempRemoved += n
	m.mu.Unlock()
	return n
}

// LargeAllocations returns live heap size classes of at least minBytes
// (1 MiB when minBytes is 0), computed from the runtime allocation histograms.
func (m *Monitor) LargeAllocations(minBytes float64) []SizeClass {
	if minBytes <= 0 {
		minBytes = largeObjectBytes
	}
	samples := []metrics.Sample{
		{Name: "/gc/heap/allocs-by-size:bytes"},
		{Name: "/gc/heap/frees-by-size:bytes"},
	}
	metrics.Read(samples)
	if samples[0].Value.Kind() != metrics.KindFloat64Histogram ||
		samples[1].Value.Kind() != metrics.KindFloat64Histogram {
		return nil
	}
	allocs := samples[0].Value.Float64Histogram()
	frees := samples[1].Value.Float64Histogram()

	var out []SizeClass
	for i, count := range allocs.Counts {
		lower := allocs.Buckets[i]
		if lower < minBytes {
			continue
		}
		live := count
		if i < len(frees.Counts) {
			live -= min(frees.Counts[i], count)
		}
		if live > 0 {
			out = append(out, SizeClass{MinBytes: lower, Objects: live})
		}
	}
	return out
}

// TrackGrowth returns the heap object count and its change since the last call.
func (m *Monitor) TrackGrowth() Growth {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	defer m.mu.Unlock()
	g := Growth{Objects: ms.HeapObjects, Delta: int64(ms.HeapObjects) - int64(m.lastObjects)} // #nosec G115 -- object counts fit in int64
	m.lastObjects = ms.HeapObjects
	return g
}

// Stats returns a snapshot of current readings.
func (m *Monitor) Stats() Stats {
	s := m.Read()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var pct float64
	if s.Total > 0 {
		pct = min(float64(s.Resident)/float64(s.Total), 1) * 100
	}

	m.mu.Lock()
	removed := m.tempRemoved
	m.mu.Unlock()

	return Stats{
		UsagePercent:     pct,
		ResidentBytes:    s.Resident,
		TotalBytes:       s.Total,
		HeapAllocBytes:   ms.HeapAlloc,
		HeapObjects:      ms.HeapObjects,
		NumGC:            ms.NumGC,
		TempFilesRemoved: removed,
	}
}

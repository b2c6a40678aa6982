package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alnah/go-psd2img/internal/logging"
)

// ErrMemoryUnrecoverable is returned by Guard.Run when usage stays at or above
// the medium threshold for longer than the recovery timeout after an emergency.
var ErrMemoryUnrecoverable = errors.New("memory pressure unrecoverable")

// Level classifies memory pressure.
type Level int

// Pressure levels in increasing order.
const (
	LevelSafe Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "safe"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Thresholds are the lower bounds of the medium, high and critical levels.
type Thresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

// DefaultThresholds returns 0.7 / 0.8 / 0.9.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 0.7, High: 0.8, Critical: 0.9}
}

// Classify maps a usage fraction to its level.
func (t Thresholds) Classify(usage float64) Level {
	switch {
	case usage >= t.Critical:
		return LevelCritical
	case usage >= t.High:
		return LevelHigh
	case usage >= t.Medium:
		return LevelMedium
	default:
		return LevelSafe
	}
}

// Dispatcher is the work source the guard halts during an emergency.
type Dispatcher interface {
	Pause()
	Resume()
}

// Warner receives memory warnings.
type Warner interface {
	MemoryWarning(usagePercent float64, level Level)
}

// Guard defaults.
const (
	DefaultRecoveryTimeout = 30 * time.Second
	DefaultGCPasses        = 3
	DefaultGCPause         = 100 * time.Millisecond
)

// GuardStats is a snapshot of guard state.
type GuardStats struct {
	Level        string  `json:"level"`
	UsagePercent float64 `json:"usagePercent"`
	PeakPercent  float64 `json:"peakPercent"`
	Emergency    bool    `json:"emergency"`
	Emergencies  int     `json:"emergencies"`
	Checks       int     `json:"checks"`
}

// Guard polls a Monitor and reacts to pressure:
//   - medium: one reclaim pass and temp cleanup
//   - high: aggressive reclaim, temp cleanup, admission blocked until usage drops below high
//   - critical: emergency mode, entered once per episode
//
// Emergency mode pauses the dispatcher, runs several full collections, cleans
// temp files, logs allocation diagnostics and emits a warning. It ends when
// usage falls below medium; if that takes longer than the recovery timeout,
// Run returns ErrMemoryUnrecoverable.
type Guard struct {
	monitor         *Monitor
	thresholds      Thresholds
	interval        time.Duration
	recoveryTimeout time.Duration
	gcPasses        int
	gcPause         time.Duration
	dispatcher      Dispatcher
	warner          Warner
	logger          *slog.Logger
	now             func() time.Time

	mu             sync.Mutex
	level          Level
	usage          float64
	peak           float64
	emergency      bool
	emergencySince time.Time
	emergencies    int
	checks         int
	changed        chan struct{}
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithThresholds sets the level boundaries.
func WithThresholds(t Thresholds) GuardOption {
	return func(g *Guard) { g.thresholds = t }
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) GuardOption {
	return func(g *Guard) { g.interval = d }
}

// WithRecoveryTimeout sets how long an emergency may last before abort.
func WithRecoveryTimeout(d time.Duration) GuardOption {
	return func(g *Guard) { g.recoveryTimeout = d }
}

// WithGCPasses sets the number of collections in emergency mode and the pause between them.
func WithGCPasses(n int, pause time.Duration) GuardOption {
	return func(g *Guard) {
		g.gcPasses = n
		g.gcPause = pause
	}
}

// WithDispatcher sets the work source paused during emergencies.
func WithDispatcher(d Dispatcher) GuardOption {
	return func(g *Guard) { g.dispatcher = d }
}

// WithWarner sets the warning sink.
func WithWarner(w Warner) GuardOption {
	return func(g *Guard) { g.warner = w }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = logging.OrDiscard(l) }
}

// NewGuard creates a Guard over m.
func NewGuard(m *Monitor, opts ...GuardOption) *Guard {
	g := &Guard{
		monitor:         m,
		thresholds:      DefaultThresholds(),
		interval:        DefaultCheckInterval,
		recoveryTimeout: DefaultRecoveryTimeout,
		gcPasses:        DefaultGCPasses,
		gcPause:         DefaultGCPause,
		logger:          logging.Discard(),
		now:             time.Now,
		changed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run polls until ctx is cancelled or pressure becomes unrecoverable.
// A paused dispatcher is resumed before Run returns.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	defer g.leaveEmergency()

	for {
		if err := g.Check(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Check samples usage once and applies the response for its level.
func (g *Guard) Check(ctx context.Context) error {
	usage := g.monitor.UsageFraction()
	level := g.thresholds.Classify(usage)

	g.mu.Lock()
	prev := g.level
	g.level = level
	g.usage = usage
	g.peak = max(g.peak, usage)
	g.checks++
	inEmergency := g.emergency
	since := g.emergencySince
	g.broadcastLocked()
	g.mu.Unlock()

	if level != prev {
		g.logger.Info("memory level changed",
			slog.String("from", prev.String()),
			slog.String("to", level.String()),
			slog.Float64("usagePercent", usage*100))
		if level > prev && level < LevelCritical && g.warner != nil {
			g.warner.MemoryWarning(usage*100, level)
		}
	}

	switch level {
	case LevelSafe:
		if inEmergency {
			g.leaveEmergency()
		}
		return nil
	case LevelMedium:
		g.monitor.Reclaim(false)
		g.monitor.CleanupTempFiles()
	case LevelHigh:
		g.monitor.Reclaim(true)
		g.monitor.CleanupTempFiles()
	case LevelCritical:
		if !inEmergency {
			g.enterEmergency(ctx, usage)
			return nil
		}
		g.monitor.Reclaim(true)
	}

	if inEmergency && g.now().Sub(since) > g.recoveryTimeout {
		g.logger.Error("memory did not recover",
			slog.Float64("usagePercent", usage*100),
			slog.Duration("recoveryTimeout", g.recoveryTimeout))
		return fmt.Errorf("%w: usage %.1f%% after %s", ErrMemoryUnrecoverable, usage*100, g.recoveryTimeout)
	}
	return nil
}

func (g *Guard) enterEmergency(ctx context.Context, usage float64) {
	g.mu.Lock()
	g.emergency = true
	g.emergencySince = g.now()
	g.emergencies++
	g.mu.Unlock()

	g.logger.Warn("entering memory emergency mode", slog.Float64("usagePercent", usage*100))

	if g.dispatcher != nil {
		g.dispatcher.Pause()
	}

	for i := 0; i < g.gcPasses; i++ {
		g.monitor.ForceGC()
		if i < g.gcPasses-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.gcPause):
			}
		}
	}

	removed := g.monitor.CleanupTempFiles()

	growth := g.monitor.TrackGrowth()
	large := g.monitor.LargeAllocations(0)
	var largeObjects uint64
	for _, c := range large {
		largeObjects += c.Objects
	}
	g.logger.Warn("memory diagnostics",
		slog.Int("tempFilesRemoved", removed),
		slog.Uint64("heapObjects", growth.Objects),
		slog.Int64("heapObjectsDelta", growth.Delta),
		slog.Uint64("largeObjects", largeObjects))

	if g.warner != nil {
		g.warner.MemoryWarning(g.monitor.UsageFraction()*100, LevelCritical)
	}
}

func (g *Guard) leaveEmergency() {
	g.mu.Lock()
	was := g.emergency
	g.emergency = false
	g.broadcastLocked()
	g.mu.Unlock()

	if !was {
		return
	}
	g.logger.Info("memory emergency mode ended")
	if g.dispatcher != nil {
		g.dispatcher.Resume()
	}
}

// broadcastLocked wakes every AwaitAdmission waiter. g.mu must be held.
func (g *Guard) broadcastLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// Level returns the level of the last check.
func (g *Guard) Level() Level {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// InEmergency reports whether emergency mode is active.
func (g *Guard) InEmergency() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergency
}

// AdmissionAllowed reports whether new work may start.
func (g *Guard) AdmissionAllowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level < LevelHigh && !g.emergency
}

// AwaitAdmission blocks while the level is high or critical, or emergency
// mode is active. It returns ctx.Err() if ctx ends first.
func (g *Guard) AwaitAdmission(ctx context.Context) error {
	for {
		g.mu.Lock()
		ok := g.level < LevelHigh && !g.emergency
		changed := g.changed
		g.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Stats returns a snapshot of guard state.
func (g *Guard) Stats() GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GuardStats{
		Level:        g.level.String(),
		UsagePercent: g.usage * 100,
		PeakPercent:  g.peak * 100,
		Emergency:    g.emergency,
		Emergencies:  g.emergencies,
		Checks:       g.checks,
	}
}

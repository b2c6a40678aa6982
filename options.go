package psd2img

import (
	"log/slog"
	"time"

	"github.com/alnah/go-psd2img/internal/logging"
	"github.com/alnah/go-psd2img/internal/memory"
)

// Thresholds are the usage fractions at which memory pressure becomes
// medium, high and critical.
type Thresholds = memory.Thresholds

// Settings tunes the pipeline. Zero fields take their defaults.
type Settings struct {
	QueueCapacity  int
	FullWait       time.Duration
	TaskTimeout    time.Duration
	ZombieInterval time.Duration

	CheckInterval   time.Duration
	RecoveryTimeout time.Duration
	Thresholds      Thresholds
	GCPasses        int
	GCPause         time.Duration

	// ProgressEvery emits a progress event every N finished tasks.
	ProgressEvery int

	// ReclaimEvery runs a collection every N finished tasks.
	ReclaimEvery int

	CompletionPoll time.Duration
	TakeBackoff    time.Duration

	// WorkerGrace bounds the wait for workers after the run ends. Workers
	// stuck in a render past it are abandoned.
	WorkerGrace time.Duration

	// TempMinAge protects temp files younger than this from memory cleanup.
	TempMinAge time.Duration

	// SequentialLanes disables OptimizeForParallelism.
	SequentialLanes bool

	// KeepBaseInMemory upscales from memory instead of the reloaded 1x file.
	KeepBaseInMemory bool
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		QueueCapacity:   DefaultQueueCapacity,
		FullWait:        DefaultFullWait,
		TaskTimeout:     DefaultTaskTimeout,
		ZombieInterval:  DefaultZombieInterval,
		CheckInterval:   memory.DefaultCheckInterval,
		RecoveryTimeout: memory.DefaultRecoveryTimeout,
		Thresholds:      memory.DefaultThresholds(),
		GCPasses:        memory.DefaultGCPasses,
		GCPause:         memory.DefaultGCPause,
		ProgressEvery:   5,
		ReclaimEvery:    10,
		CompletionPoll:  time.Second,
		TakeBackoff:     defaultTakeBackoff,
		WorkerGrace:     5 * time.Second,
		TempMinAge:      time.Minute,
	}
}

// withDefaults fills zero fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	setInt(&s.QueueCapacity, d.QueueCapacity)
	setInt(&s.GCPasses, d.GCPasses)
	setInt(&s.ProgressEvery, d.ProgressEvery)
	setInt(&s.ReclaimEvery, d.ReclaimEvery)
	setDur(&s.FullWait, d.FullWait)
	setDur(&s.TaskTimeout, d.TaskTimeout)
	setDur(&s.ZombieInterval, d.ZombieInterval)
	setDur(&s.CheckInterval, d.CheckInterval)
	setDur(&s.RecoveryTimeout, d.RecoveryTimeout)
	setDur(&s.GCPause, d.GCPause)
	setDur(&s.CompletionPoll, d.CompletionPoll)
	setDur(&s.TakeBackoff, d.TakeBackoff)
	setDur(&s.WorkerGrace, d.WorkerGrace)
	if s.Thresholds == (Thresholds{}) {
		s.Thresholds = d.Thresholds
	}
	return s
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setDur(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

// Option configures a Processor.
type Option func(*Processor)

// WithOpener sets how documents are opened.
func WithOpener(o Opener) Option {
	return func(p *Processor) { p.opener = o }
}

// WithCatalog persists projects and records as they are produced.
func WithCatalog(c Catalog) Option {
	return func(p *Processor) { p.catalog = c }
}

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(p *Processor) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithLogger sets the logger. Nil discards logs.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = logging.OrDiscard(l) }
}

// WithSettings replaces the pipeline settings.
func WithSettings(s Settings) Option {
	return func(p *Processor) { p.settings = s.withDefaults() }
}

// WithUsageFunc replaces memory sampling with f, which returns the usage
// fraction in [0, 1].
func WithUsageFunc(f func() float64) Option {
	return func(p *Processor) { p.sampler = memory.FractionSampler(f) }
}

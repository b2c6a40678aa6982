package psd2img

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alnah/go-psd2img/internal/fileutil"
	"github.com/alnah/go-psd2img/internal/logging"
	"github.com/alnah/go-psd2img/internal/memory"
)

// Summary reports the outcome of one Process call.
type Summary struct {
	ProjectID   string        `json:"projectId"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Rejected    int           `json:"rejected"`
	TimedOut    int           `json:"timedOut"`
	Records     []*Record     `json:"records"`
	PreviewPath string        `json:"previewPath,omitempty"`
	Estimated   time.Duration `json:"estimatedNs"`
	Duration    time.Duration `json:"durationNs"`
	Queue       QueueStats    `json:"queue"`
	Memory      MemoryStats   `json:"memory"`

	// QueueHistory holds the recent queue lengths, oldest first.
	QueueHistory []int `json:"queueHistory,omitempty"`

	// TaskResults holds the last finished tasks, failures included.
	TaskResults []TaskResult `json:"taskResults,omitempty"`
}

// Processor runs the export pipeline. A Processor holds no per-run state
// and may process several projects concurrently.
type Processor struct {
	opener   Opener
	catalog  Catalog
	notifier Notifier
	logger   *slog.Logger
	settings Settings
	sampler  memory.Sampler
	now      func() time.Time
}

// NewProcessor creates a Processor. WithOpener is required before Process.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		notifier: nopNotifier{},
		logger:   logging.Discard(),
		settings: DefaultSettings(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process exports project. On return the project status is ready or error.
// The summary is returned on failure too, describing the partial run;
// records written before a failure are kept.
func (p *Processor) Process(ctx context.Context, project *Project) (sum *Summary, err error) {
	if project == nil || project.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidProject)
	}
	if p.opener == nil {
		return nil, ErrNoOpener
	}
	scales, err := ParseScales(project.Scales)
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(string(project.Mode))
	if err != nil {
		return nil, err
	}
	cores := ResolveCores(project.Cores)
	log := p.logger.With(slog.String("project", project.ID))

	project.Status = StatusProcessing
	project.Message = ""
	project.StartedAt = p.now()
	project.FinishedAt = time.Time{}
	p.saveProject(ctx, log, project)
	p.notify(ctx, log, Event{Type: EventStatusUpdate, ProjectID: project.ID, Status: StatusProcessing, Message: "processing started"})

	defer func() {
		if err != nil {
			p.markFailed(ctx, log, project, err)
		}
	}()

	doc, err := p.opener.Open(ctx, project.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDocumentOpen, project.SourcePath, err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			log.Warn("closing document", slog.Any("error", cerr))
		}
	}()

	project.Width, project.Height = doc.Width(), doc.Height()
	p.saveProject(ctx, log, project)

	assetDir := project.AssetDir()
	if err := os.MkdirAll(assetDir, fileutil.DirPermissions); err != nil {
		return nil, fmt.Errorf("creating asset directory: %w", err)
	}

	renderer := NewRenderer(doc, RendererConfig{
		ProjectID:  project.ID,
		AssetDir:   assetDir,
		Scales:     scales,
		Mode:       mode,
		ReloadBase: !p.settings.KeepBaseInMemory,
		Logger:     log,
	})
	defer renderer.Release()

	preview := writePreview(ctx, renderer, assetDir, log)

	tasks := Prioritize(NewScheduler(project.ID, log).Collect(doc.Root(), doc.Slices()))
	if !p.settings.SequentialLanes {
		tasks = OptimizeForParallelism(tasks, cores)
	}
	if !hasSliceTask(tasks) {
		renderer.Release()
	}

	tiers := GroupByPriority(tasks)
	estimate := EstimateProcessingTime(tasks)
	log.Info("tasks collected",
		slog.Int("total", len(tasks)),
		slog.Int("high", len(tiers[TierHigh])),
		slog.Int("medium", len(tiers[TierMedium])),
		slog.Int("low", len(tiers[TierLow])),
		slog.Int("workers", cores),
		slog.Duration("estimated", estimate))

	r := p.newRun(project, renderer, tasks, cores, log)
	runErr := r.execute(ctx)

	sum = r.summary()
	sum.PreviewPath = preview
	sum.Estimated = estimate
	sum.Duration = p.now().Sub(project.StartedAt)

	if runErr != nil {
		return sum, runErr
	}

	p.notify(ctx, log, Event{Type: EventQueueStats, ProjectID: project.ID, QueueStats: &sum.Queue, QueueHistory: sum.QueueHistory})

	project.Status = StatusReady
	project.FinishedAt = p.now()
	p.saveProject(ctx, log, project)
	p.notify(ctx, log, Event{Type: EventStatusUpdate, ProjectID: project.ID, Status: StatusReady, Progress: 100, Message: "processing finished"})

	log.Info("processing finished",
		slog.Int("records", len(sum.Records)),
		slog.Int("failed", sum.Failed),
		slog.Int("rejected", sum.Rejected),
		slog.Duration("duration", sum.Duration))
	return sum, nil
}

func (p *Processor) markFailed(ctx context.Context, log *slog.Logger, project *Project, err error) {
	ctx = context.WithoutCancel(ctx)
	log.Error("processing failed", slog.Any("error", err))

	project.Status = StatusError
	project.Message = err.Error()
	project.FinishedAt = p.now()
	p.saveProject(ctx, log, project)
	p.notify(ctx, log, Event{Type: EventError, ProjectID: project.ID, Message: err.Error()})
	p.notify(ctx, log, Event{Type: EventStatusUpdate, ProjectID: project.ID, Status: StatusError, Message: err.Error()})
}

func (p *Processor) saveProject(ctx context.Context, log *slog.Logger, project *Project) {
	if p.catalog == nil {
		return
	}
	if err := p.catalog.SaveProject(ctx, project); err != nil {
		log.Warn("saving project", slog.Any("error", err))
	}
}

func (p *Processor) notify(ctx context.Context, log *slog.Logger, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now()
	}
	if err := p.notifier.Notify(ctx, e); err != nil {
		log.Debug("notification dropped", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
}

func hasSliceTask(tasks []*Task) bool {
	for _, t := range tasks {
		if t.Kind == TaskSlice {
			return true
		}
	}
	return false
}

// run is the state of one pipeline execution.
type run struct {
	p        *Processor
	project  *Project
	renderer *Renderer
	tasks    []*Task
	cores    int
	log      *slog.Logger

	monitor *memory.Monitor
	guard   *memory.Guard
	queue   *Queue

	mu      sync.Mutex
	records []*Record

	// progressMu serializes progress_update events; reported is the
	// finished count of the last one sent.
	progressMu sync.Mutex
	reported   int
}

func (p *Processor) newRun(project *Project, renderer *Renderer, tasks []*Task, cores int, log *slog.Logger) *run {
	s := p.settings
	r := &run{p: p, project: project, renderer: renderer, tasks: tasks, cores: cores, log: log}

	monitorOpts := []memory.MonitorOption{
		memory.WithThreshold(s.Thresholds.High),
		memory.WithCheckInterval(s.CheckInterval),
		memory.WithTempPatterns(filepath.Join(project.OutputDir, processedRoot, "*", "*"+fileutil.TempSuffix)),
		memory.WithTempMinAge(s.TempMinAge),
		memory.WithLogger(log.With(slog.String("component", "memory"))),
	}
	if p.sampler != nil {
		monitorOpts = append(monitorOpts, memory.WithSampler(p.sampler))
	}
	r.monitor = memory.NewMonitor(monitorOpts...)

	r.queue = NewQueue(
		WithCapacity(s.QueueCapacity),
		WithWorkers(cores),
		WithFullWait(s.FullWait),
		WithTaskTimeout(s.TaskTimeout),
		WithZombieInterval(s.ZombieInterval),
		WithMemoryProbe(r.monitor),
		WithReclaim(s.ReclaimEvery, func() { r.monitor.Reclaim(false) }),
		WithQueueLogger(log.With(slog.String("component", "queue"))),
	)

	r.guard = memory.NewGuard(r.monitor,
		memory.WithThresholds(s.Thresholds),
		memory.WithInterval(s.CheckInterval),
		memory.WithRecoveryTimeout(s.RecoveryTimeout),
		memory.WithGCPasses(s.GCPasses, s.GCPause),
		memory.WithDispatcher(r.queue),
		memory.WithWarner(r),
		memory.WithGuardLogger(log.With(slog.String("component", "guard"))),
	)
	return r
}

// execute starts the guard, the zombie sweep and the workers, feeds the
// queue, and waits for completion. Teardown always runs. Workers run outside
// the group: a render that ignores cancellation cannot hold up the run, it
// is waited for within the worker grace and then abandoned.
func (r *run) execute(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var completed bool
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return r.guard.Run(gctx) })
	g.Go(func() error { return r.queue.Run(gctx) })

	var (
		workers sync.WaitGroup
		live    atomic.Int32
	)
	for i := range r.cores {
		w := &worker{
			id:        i + 1,
			queue:     r.queue,
			renderer:  r.renderer,
			admission: r.guard,
			catalog:   r.p.catalog,
			backoff:   r.p.settings.TakeBackoff,
			logger:    r.log,
			onFinish:  r.onFinish,
		}
		workers.Add(1)
		live.Add(1)
		go func() {
			defer workers.Done()
			defer live.Add(-1)
			_ = w.run(gctx)
		}()
	}

	g.Go(func() error { return r.feed(gctx) })
	g.Go(func() error {
		completed = r.awaitCompletion(gctx)
		cancel()
		return nil
	})

	err := g.Wait()
	cancel()

	r.queue.Stop()
	r.awaitWorkers(&workers, &live)
	r.monitor.Reclaim(true)

	switch {
	case err != nil:
		return err
	case completed:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("processing cancelled: %w", ctx.Err())
	default:
		return errors.New("processing stopped before completion")
	}
}

// awaitWorkers waits for the workers to return, at most for the worker grace.
// The queue is stopped first, so a stuck worker that wakes up later has its
// result refused.
func (r *run) awaitWorkers(workers *sync.WaitGroup, live *atomic.Int32) {
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()

	grace := r.p.settings.WorkerGrace
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		r.log.Warn("abandoning stuck workers",
			slog.Int("workers", int(live.Load())),
			slog.Duration("grace", grace))
	}
}

// feed admits tasks in scheduled order. Rejected tasks are counted by the queue.
func (r *run) feed(ctx context.Context) error {
	for _, t := range r.tasks {
		err := r.queue.Add(ctx, t)
		switch {
		case err == nil, errors.Is(err, ErrQueueFull):
		case errors.Is(err, ErrQueueStopped), ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
	return nil
}

// awaitCompletion polls until every task reached a final state, and reports
// whether that happened before ctx ended.
func (r *run) awaitCompletion(ctx context.Context) bool {
	total := len(r.tasks)
	if total == 0 {
		return true
	}

	ticker := time.NewTicker(r.p.settings.CompletionPoll)
	defer ticker.Stop()

	for {
		s := r.queue.Stats()
		if s.Queued == 0 && s.Pending == 0 && s.Done() >= total {
			r.reportProgress()
			return true
		}
		// Timed-out and rejected tasks finish without a worker.
		r.reportProgress()
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (r *run) onFinish(rec *Record, _ error) {
	if rec != nil {
		r.mu.Lock()
		r.records = append(r.records, rec)
		r.mu.Unlock()
	}
	r.reportProgress()
}

// reportProgress sends a progress_update when the queue finished at least
// ProgressEvery tasks since the last one, or finished them all. Completed
// counts every final state: completed, failed, timed out and rejected.
func (r *run) reportProgress() {
	total := len(r.tasks)
	if total == 0 {
		return
	}

	r.progressMu.Lock()
	defer r.progressMu.Unlock()

	qs := r.queue.Stats()
	done := min(qs.Done(), total)
	if done <= r.reported || (done < total && done-r.reported < r.p.settings.ProgressEvery) {
		return
	}
	r.reported = done

	ms := r.memoryStats()
	progress := float64(done) / float64(total) * 100
	r.log.Debug("progress", slog.Int("finished", done), slog.Int("total", total), slog.Float64("percent", progress))
	r.p.notify(context.Background(), r.log, Event{
		Type:        EventProgressUpdate,
		ProjectID:   r.project.ID,
		Progress:    progress,
		Total:       total,
		Completed:   done,
		QueueStats:  &qs,
		MemoryStats: &ms,
	})
}

// MemoryWarning forwards guard warnings as memory_warning events.
func (r *run) MemoryWarning(usagePercent float64, level memory.Level) {
	r.p.notify(context.Background(), r.log, Event{
		Type:         EventMemoryWarning,
		ProjectID:    r.project.ID,
		UsagePercent: usagePercent,
		Level:        level.String(),
	})
}

func (r *run) memoryStats() MemoryStats {
	return MemoryStats{Monitor: r.monitor.Stats(), Guard: r.guard.Stats()}
}

func (r *run) summary() *Summary {
	qs := r.queue.Stats()
	r.mu.Lock()
	records := append([]*Record(nil), r.records...)
	r.mu.Unlock()

	return &Summary{
		ProjectID: r.project.ID,
		Total:     len(r.tasks),
		Completed: qs.Completed,
		Failed:    qs.Failed,
		Rejected:  qs.Rejected,
		TimedOut:  qs.TimedOut,
		Records:   records,
		Queue:     qs,
		Memory:    r.memoryStats(),

		QueueHistory: r.queue.SizeHistory(),
		TaskResults:  r.queue.Results(),
	}
}

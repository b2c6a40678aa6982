package psd2img

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alnah/go-psd2img/internal/logging"
)

// Queue defaults.
const (
	DefaultQueueCapacity  = 100
	DefaultFullWait       = 5 * time.Second
	DefaultTaskTimeout    = 300 * time.Second
	DefaultZombieInterval = 30 * time.Second

	addPollInterval = 50 * time.Millisecond
	// maxWaitStretch caps how far memory pressure can extend the full-queue wait.
	maxWaitStretch = 6
	historySize    = 100
)

// MemoryProbe reports whether memory use is above the admission threshold.
type MemoryProbe interface {
	Exceeded() bool
}

// QueueStats is a consistent snapshot of queue state.
type QueueStats struct {
	Queued        int           `json:"queued"`
	Pending       int           `json:"pending"`
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	Rejected      int           `json:"rejected"`
	TimedOut      int           `json:"timedOut"`
	Capacity      int           `json:"capacity"`
	Workers       int           `json:"workers"`
	AvgProcessing time.Duration `json:"avgProcessingNs"`
	Utilization   float64       `json:"utilization"`
	Paused        bool          `json:"paused"`
}

// Done returns the number of tasks that reached a final state.
func (s QueueStats) Done() int { return s.Completed + s.Failed + s.Rejected }

// TaskResult is one completed or failed task in the queue history.
type TaskResult struct {
	TaskID   string        `json:"taskId"`
	Kind     TaskKind      `json:"kind"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"durationNs"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

type pendingTask struct {
	task    *Task
	started time.Time

	// claimed is set once a worker is persisting the task's result. The
	// zombie sweep leaves claimed tasks alone.
	claimed bool
}

// Queue is a bounded FIFO of tasks. Order is decided before admission and
// preserved. A pending table tracks dispatched tasks for timeout detection.
// All methods are safe for concurrent use.
type Queue struct {
	capacity       int
	workers        int
	fullWait       time.Duration
	taskTimeout    time.Duration
	zombieInterval time.Duration
	probe          MemoryProbe
	reclaim        func()
	reclaimEvery   int
	logger         *slog.Logger
	now            func() time.Time

	mu        sync.Mutex
	items     []*Task
	pending   map[string]pendingTask
	completed int
	failed    int
	rejected  int
	timedOut  int
	avg       time.Duration
	finished  int
	paused    bool
	stopped   bool
	sizes     []int
	results   []TaskResult
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithCapacity sets the maximum number of queued tasks.
func WithCapacity(n int) QueueOption {
	return func(q *Queue) { q.capacity = n }
}

// WithFullWait sets how long Add waits for space before rejecting.
func WithFullWait(d time.Duration) QueueOption {
	return func(q *Queue) { q.fullWait = d }
}

// WithTaskTimeout sets the age after which a pending task is force-failed.
func WithTaskTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.taskTimeout = d }
}

// WithZombieInterval sets how often Run sweeps the pending table.
func WithZombieInterval(d time.Duration) QueueOption {
	return func(q *Queue) { q.zombieInterval = d }
}

// WithMemoryProbe makes Add extend its wait while memory is over threshold.
func WithMemoryProbe(p MemoryProbe) QueueOption {
	return func(q *Queue) { q.probe = p }
}

// WithReclaim sets a collection hook run every n finished tasks.
func WithReclaim(n int, fn func()) QueueOption {
	return func(q *Queue) {
		q.reclaimEvery = n
		q.reclaim = fn
	}
}

// WithWorkers sets the worker count used for the utilization statistic.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) { q.workers = n }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = logging.OrDiscard(l) }
}

// NewQueue creates a Queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		capacity:       DefaultQueueCapacity,
		workers:        1,
		fullWait:       DefaultFullWait,
		taskTimeout:    DefaultTaskTimeout,
		zombieInterval: DefaultZombieInterval,
		logger:         logging.Discard(),
		now:            time.Now,
		pending:        make(map[string]pendingTask),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.capacity < 1 {
		q.capacity = 1
	}
	return q
}

// Add appends t, waiting up to the full-wait window for space. While memory
// is over threshold the window is extended, up to maxWaitStretch times.
// Returns ErrQueueFull when no space frees up, ErrQueueStopped after Stop,
// or ctx.Err(). t.ID is assigned when empty.
func (q *Queue) Add(ctx context.Context, t *Task) error {
	start := q.now()
	deadline := start.Add(q.fullWait)
	limit := start.Add(q.fullWait * maxWaitStretch)

	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return ErrQueueStopped
		}
		if len(q.items) < q.capacity {
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			t.QueuedAt = q.now()
			q.items = append(q.items, t)
			q.recordSizeLocked()
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		now := q.now()
		if q.probe != nil && q.probe.Exceeded() && deadline.Before(limit) {
			deadline = deadline.Add(addPollInterval)
		}
		if !now.Before(deadline) {
			q.mu.Lock()
			q.rejected++
			q.mu.Unlock()
			q.logger.Warn("queue full, task rejected",
				slog.String("task", t.Name()),
				slog.String("kind", string(t.Kind)),
				slog.Duration("waited", now.Sub(start)))
			return fmt.Errorf("%w: %s", ErrQueueFull, t.Name())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addPollInterval):
		}
	}
}

// Take pops the next task without blocking and moves it to the pending
// table. It returns false when the queue is empty, paused or stopped.
func (q *Queue) Take() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || q.stopped || len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.pending[t.ID] = pendingTask{task: t, started: q.now()}
	q.recordSizeLocked()
	return t, true
}

// Complete records successful completion of a pending task.
// It returns false if the task is not pending (for example after a timeout).
func (q *Queue) Complete(taskID string) bool {
	return q.finish(taskID, nil)
}

// Fail records a failed pending task.
// It returns false if the task is not pending.
func (q *Queue) Fail(taskID string, err error) bool {
	if err == nil {
		err = ErrRender
	}
	return q.finish(taskID, err)
}

// Claim reserves a pending task for its worker before the result is
// persisted. It returns false when the task timed out or the queue is
// stopped; the caller must then discard its result.
func (q *Queue) Claim(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[taskID]
	if !ok || q.stopped {
		return false
	}
	p.claimed = true
	q.pending[taskID] = p
	return true
}

func (q *Queue) finish(taskID string, err error) bool {
	q.mu.Lock()
	p, ok := q.pending[taskID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	delete(q.pending, taskID)

	d := q.now().Sub(p.started)
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	q.finished++
	q.avg += (d - q.avg) / time.Duration(q.finished)
	q.appendResultLocked(TaskResult{TaskID: taskID, Kind: p.task.Kind, Name: p.task.Name(), Duration: d, Err: err})
	runReclaim := q.reclaim != nil && q.reclaimEvery > 0 && q.finished%q.reclaimEvery == 0
	q.mu.Unlock()

	if runReclaim {
		q.reclaim()
	}
	return true
}

// Run sweeps the pending table every zombie interval until ctx ends or the
// queue is stopped. Tasks older than the task timeout are failed with
// ErrTaskTimeout. Their workers are not interrupted.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.zombieInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if q.isStopped() {
				return nil
			}
			q.SweepZombies()
		}
	}
}

// SweepZombies fails every pending task older than the task timeout and
// returns how many were failed.
func (q *Queue) SweepZombies() int {
	now := q.now()
	var zombies []pendingTask

	q.mu.Lock()
	for id, p := range q.pending {
		if !p.claimed && now.Sub(p.started) > q.taskTimeout {
			zombies = append(zombies, p)
			delete(q.pending, id)
			q.failed++
			q.timedOut++
			q.finished++
			q.appendResultLocked(TaskResult{
				TaskID: id, Kind: p.task.Kind, Name: p.task.Name(),
				Duration: now.Sub(p.started), Err: ErrTaskTimeout,
			})
		}
	}
	q.mu.Unlock()

	for _, z := range zombies {
		q.logger.Warn("task timed out",
			slog.String("task_id", z.task.ID),
			slog.String("task", z.task.Name()),
			slog.Duration("age", now.Sub(z.started)))
	}
	return len(zombies)
}

// Pause stops Take from dispatching. Add keeps accepting.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables dispatch.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
}

// Stop rejects further Add calls and stops dispatch. Queued tasks stay
// counted in Stats.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
}

func (q *Queue) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Stats returns a consistent snapshot.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	inFlight := len(q.items) + len(q.pending)
	return QueueStats{
		Queued:        len(q.items),
		Pending:       len(q.pending),
		Completed:     q.completed,
		Failed:        q.failed,
		Rejected:      q.rejected,
		TimedOut:      q.timedOut,
		Capacity:      q.capacity,
		Workers:       q.workers,
		AvgProcessing: q.avg,
		Utilization:   float64(inFlight) / float64(q.workers+q.capacity),
		Paused:        q.paused,
	}
}

// SizeHistory returns the last queue depths, oldest first.
func (q *Queue) SizeHistory() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.sizes...)
}

// Results returns the last finished tasks, oldest first.
func (q *Queue) Results() []TaskResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]TaskResult(nil), q.results...)
}

func (q *Queue) recordSizeLocked() {
	q.sizes = append(q.sizes, len(q.items))
	if len(q.sizes) > historySize {
		q.sizes = q.sizes[len(q.sizes)-historySize:]
	}
}

func (q *Queue) appendResultLocked(r TaskResult) {
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	q.results = append(q.results, r)
	if len(q.results) > historySize {
		q.results = q.results[len(q.results)-historySize:]
	}
}

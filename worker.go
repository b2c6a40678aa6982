package psd2img

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const defaultTakeBackoff = 100 * time.Millisecond

// Admission blocks new work while memory pressure is high.
type Admission interface {
	AwaitAdmission(ctx context.Context) error
}

// Catalog persists projects and records.
type Catalog interface {
	SaveProject(ctx context.Context, p *Project) error
	SaveRecord(ctx context.Context, r *Record) error
}

// worker pulls one task at a time from the queue until ctx ends.
type worker struct {
	id        int
	queue     *Queue
	renderer  *Renderer
	admission Admission
	catalog   Catalog
	backoff   time.Duration
	logger    *slog.Logger
	// onFinish is called once per task this worker finished, with its record
	// (nil when dropped or failed).
	onFinish func(rec *Record, err error)
}

func (w *worker) run(ctx context.Context) error {
	log := w.logger.With(slog.Int("worker", w.id))
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if w.admission != nil {
			if err := w.admission.AwaitAdmission(ctx); err != nil {
				return nil
			}
		}

		t, ok := w.queue.Take()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}
		w.process(ctx, log, t)
	}
}

func (w *worker) process(ctx context.Context, log *slog.Logger, t *Task) {
	taskLog := log.With(
		slog.String("task_id", t.ID),
		slog.String("kind", string(t.Kind)),
		slog.String("node", t.Name()))

	out, err := w.renderer.Render(ctx, t)
	if err == nil && out.Record != nil && w.catalog != nil {
		if !w.queue.Claim(t.ID) {
			taskLog.Warn("late result discarded", slog.String("record_id", out.Record.ID))
			return
		}
		err = w.catalog.SaveRecord(ctx, out.Record)
	}

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// abandoned on cancellation
			return
		}
		taskLog.Warn("task failed", slog.Any("error", err))
		if w.queue.Fail(t.ID, err) {
			w.finish(nil, err)
		}
		return
	}

	if out.Dropped != nil {
		taskLog.Debug("task dropped", slog.String("reason", out.Dropped.Error()))
	}
	if w.queue.Complete(t.ID) {
		w.finish(out.Record, nil)
	}
}

func (w *worker) finish(rec *Record, err error) {
	if w.onFinish != nil {
		w.onFinish(rec, err)
	}
}

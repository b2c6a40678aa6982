// Package notify provides psd2img.Notifier sinks: a structured log sink,
// a WebSocket broadcast hub and a fan-out combinator.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alnah/go-psd2img"
	"github.com/alnah/go-psd2img/internal/logging"
)

// Log writes events to a slog logger. Errors and memory warnings log at
// warn level, progress at debug, everything else at info.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log sink. Nil discards.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logging.OrDiscard(logger)}
}

// Notify implements psd2img.Notifier.
func (l *Log) Notify(ctx context.Context, e psd2img.Event) error {
	attrs := []slog.Attr{
		slog.String("type", string(e.Type)),
		slog.String("project", e.ProjectID),
	}
	level := slog.LevelInfo

	switch e.Type {
	case psd2img.EventError:
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("message", e.Message))
	case psd2img.EventMemoryWarning:
		level = slog.LevelWarn
		attrs = append(attrs, slog.Float64("usagePercent", e.UsagePercent), slog.String("pressure", e.Level))
	case psd2img.EventProgressUpdate:
		level = slog.LevelDebug
		attrs = append(attrs, slog.Float64("progress", e.Progress), slog.Int("completed", e.Completed), slog.Int("total", e.Total))
	case psd2img.EventStatusUpdate:
		attrs = append(attrs, slog.String("status", string(e.Status)), slog.String("message", e.Message))
	case psd2img.EventQueueStats:
		if e.QueueStats != nil {
			attrs = append(attrs,
				slog.Int("completed", e.QueueStats.Completed),
				slog.Int("failed", e.QueueStats.Failed),
				slog.Int("rejected", e.QueueStats.Rejected),
				slog.Duration("avgProcessing", e.QueueStats.AvgProcessing))
		}
	}
	l.logger.LogAttrs(ctx, level, "event", attrs...)
	return nil
}

// Multi fans an event out to every sink. All sinks are called; their
// errors are joined.
type Multi []psd2img.Notifier

// Notify implements psd2img.Notifier.
func (m Multi) Notify(ctx context.Context, e psd2img.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

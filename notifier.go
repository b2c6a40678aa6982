package psd2img

import (
	"context"
	"time"

	"github.com/alnah/go-psd2img/internal/memory"
)

// EventType names a notification.
type EventType string

// Event types.
const (
	EventStatusUpdate   EventType = "status_update"
	EventProgressUpdate EventType = "progress_update"
	EventError          EventType = "error"
	EventMemoryWarning  EventType = "memory_warning"
	EventQueueStats     EventType = "queue_stats"
)

// MemoryLevel classifies memory pressure.
type MemoryLevel = memory.Level

// MemoryStats combines monitor readings and guard state.
type MemoryStats struct {
	Monitor memory.Stats      `json:"monitor"`
	Guard   memory.GuardStats `json:"guard"`
}

// Event is one structured notification. Fields not relevant to Type are zero.
type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId"`
	Timestamp time.Time `json:"timestamp"`

	// status_update
	Status Status `json:"status,omitempty"`

	// status_update, error
	Message string `json:"message,omitempty"`

	// status_update, progress_update: percentage in [0, 100]
	Progress float64 `json:"progress,omitempty"`

	// progress_update
	Total     int `json:"total,omitempty"`
	Completed int `json:"completed,omitempty"`

	// progress_update, queue_stats
	QueueStats  *QueueStats  `json:"queueStats,omitempty"`
	MemoryStats *MemoryStats `json:"memoryStats,omitempty"`

	// queue_stats: recent queue lengths, oldest first
	QueueHistory []int `json:"queueHistory,omitempty"`

	// memory_warning
	UsagePercent float64 `json:"usagePercent,omitempty"`
	Level        string  `json:"level,omitempty"`
}

// Notifier receives pipeline events. Implementations must be safe for
// concurrent use and should not block.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

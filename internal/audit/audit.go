// Package audit emits structured per-turn events for analytics collaborators.
// The core only produces events; aggregation happens elsewhere.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event records the outcome of one chat turn.
type Event struct {
	PrincipalID    int64
	ConversationID int64
	Latency        time.Duration
	SourceCount    int
	Confidence     float64
	Cached         bool
	Degraded       bool
	Success        bool

	// Error holds the causing error text on failure.
	Error string
}

// Recorder receives turn events. Implementations must not block the turn;
// slow sinks should buffer internally.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// LogRecorder writes events to a structured logger. It is the default sink;
// downstream analytics tail the log stream.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a Recorder writing to logger.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *LogRecorder) Record(ctx context.Context, e Event) {
	attrs := []any{
		"principal_id", e.PrincipalID,
		"conversation_id", e.ConversationID,
		"latency_ms", e.Latency.Milliseconds(),
		"source_count", e.SourceCount,
		"confidence", e.Confidence,
		"cached", e.Cached,
		"degraded", e.Degraded,
		"success", e.Success,
	}
	if e.Success {
		r.logger.InfoContext(ctx, "chat turn completed", attrs...)
		return
	}
	attrs = append(attrs, "error", e.Error)
	r.logger.WarnContext(ctx, "chat turn failed", attrs...)
}

// NopRecorder discards all events.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Event) {}

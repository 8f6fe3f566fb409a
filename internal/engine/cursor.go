package engine

import (
	"context"
	"log/slog"
	"time"

	"trendline/internal/domain"
)

// Cursor is the engine's read-only view of bar history and indicator
// readings. Offset 0 is the current bar; negative offsets are earlier bars.
// Both accessors fail with domain.ErrOutOfHistory past the available data.
type Cursor interface {
	Time() time.Time
	Field(f domain.Field, offset int) (float64, error)
	Reading(id string, offset int) (float64, error)
}

// Recorder receives the engine's structured event stream. The engine calls it
// once per evaluated bar and once per order-status transition, in order.
type Recorder interface {
	Record(ctx context.Context, ev domain.Event)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, ev domain.Event)

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, ev domain.Event) { f(ctx, ev) }

// MultiRecorder fans an event out to several recorders.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(ctx context.Context, ev domain.Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, ev)
		}
	}
}

// SlogRecorder writes events to a structured logger. Bar events are logged
// at debug level, everything else at info.
type SlogRecorder struct {
	Log *slog.Logger
}

// Record implements Recorder.
func (s SlogRecorder) Record(ctx context.Context, ev domain.Event) {
	level := slog.LevelInfo
	if ev.Kind == domain.EventBar {
		level = slog.LevelDebug
	}
	if !s.Log.Enabled(ctx, level) {
		return
	}
	args := make([]any, 0, 4+2*len(ev.Attrs))
	args = append(args, "time", ev.Time.Format("2006-01-02"), "kind", string(ev.Kind))
	for k, v := range ev.Attrs {
		args = append(args, k, v)
	}
	s.Log.Log(ctx, level, ev.Message, args...)
}

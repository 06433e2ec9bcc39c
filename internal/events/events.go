// Package events carries BuildEvents from the build tasks to their sinks:
// the log, the history store and, optionally, a NATS subject.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a BuildEvent.
type Kind string

const (
	// KindChanged is emitted when a watched source changed and a rebuild starts.
	KindChanged Kind = "changed"
	// KindError is emitted for a failed rebuild or compile error.
	KindError Kind = "error"
	// KindDone is emitted when a task completes.
	KindDone Kind = "done"
)

// BuildEvent is one observable step of the build.
type BuildEvent struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Task    string    `json:"task,omitempty"`
	Path    string    `json:"path,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, ev BuildEvent) error
}

// Emitter stamps events and fans them out to sinks. Sink failures are
// logged and never reach the caller.
type Emitter struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter returns an emitter with the given sinks.
func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sinks: sinks, logger: logger, now: time.Now}
}

// Add attaches another sink.
func (e *Emitter) Add(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Emit stamps ev with an ID and time (unless set) and publishes it.
func (e *Emitter) Emit(ctx context.Context, ev BuildEvent) BuildEvent {
	if e == nil {
		return ev
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}
	e.mu.RLock()
	sinks := append([]Sink(nil), e.sinks...)
	e.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Publish(ctx, ev); err != nil {
			e.logger.Warn("Failed to publish build event",
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()))
		}
	}
	return ev
}

// Changed emits a KindChanged event.
func (e *Emitter) Changed(ctx context.Context, task, path string) {
	e.Emit(ctx, BuildEvent{Kind: KindChanged, Task: task, Path: path})
}

// Error emits a KindError event.
func (e *Emitter) Error(ctx context.Context, task, path, message string) {
	e.Emit(ctx, BuildEvent{Kind: KindError, Task: task, Path: path, Message: message})
}

// Done emits a KindDone event.
func (e *Emitter) Done(ctx context.Context, task, path string) {
	e.Emit(ctx, BuildEvent{Kind: KindDone, Task: task, Path: path})
}

// LogSink writes events at debug level (errors at warn).
type LogSink struct {
	Logger *slog.Logger
}

// Publish implements Sink.
func (l LogSink) Publish(ctx context.Context, ev BuildEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	if ev.Kind == KindError {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "Build event",
		slog.String("id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("task", ev.Task),
		slog.String("path", ev.Path),
		slog.String("message", ev.Message))
	return nil
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []BuildEvent
}

// Publish implements Sink.
func (m *MemorySink) Publish(_ context.Context, ev BuildEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MemorySink) Events() []BuildEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BuildEvent(nil), m.events...)
}

// OfKind returns the recorded events of one kind.
func (m *MemorySink) OfKind(k Kind) []BuildEvent {
	var out []BuildEvent
	for _, ev := range m.Events() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

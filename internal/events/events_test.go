package events

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Publish(context.Context, BuildEvent) error { return stderrors.New("down") }

func TestEmitterStampsAndFansOut(t *testing.T) {
	a, b := &MemorySink{}, &MemorySink{}
	var logs bytes.Buffer
	e := NewEmitter(slog.New(slog.NewTextHandler(&logs, nil)), a, failingSink{})
	e.Add(b)

	ev := e.Emit(t.Context(), BuildEvent{Kind: KindError, Task: "rebundle", Path: "scripts/a.js", Message: "boom"})
	_, err := uuid.Parse(ev.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ev.At, time.Minute)

	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.Equal(t, ev, a.Events()[0])
	assert.Contains(t, logs.String(), "Failed to publish build event")
}

func TestEmitterHelpers(t *testing.T) {
	m := &MemorySink{}
	e := NewEmitter(nil, m)
	e.Changed(t.Context(), "scripts", "a.js")
	e.Error(t.Context(), "rebundle", "a.js", "bad")
	e.Done(t.Context(), "build-html", "")

	assert.Len(t, m.OfKind(KindChanged), 1)
	assert.Len(t, m.OfKind(KindError), 1)
	assert.Len(t, m.OfKind(KindDone), 1)
	assert.NotEqual(t, m.Events()[0].ID, m.Events()[1].ID)
}

func TestNilEmitter(t *testing.T) {
	var e *Emitter
	ev := e.Emit(t.Context(), BuildEvent{Kind: KindDone})
	assert.Empty(t, ev.ID)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	require.NoError(t, s.Publish(t.Context(), BuildEvent{ID: "1", Kind: KindError, Task: "lint"}))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "task=lint")
}

func TestNATSSubject(t *testing.T) {
	n := &NATSSink{subject: DefaultSubject}
	assert.Equal(t, "assetpipe.build.error", n.Subject(BuildEvent{Kind: KindError}))
	assert.NoError(t, (*NATSSink)(nil).Close())
}

func TestNATSConnectFailure(t *testing.T) {
	_, err := NewNATSSink("nats://127.0.0.1:1", "")
	assert.Error(t, err)
}

package rebuild

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runLog struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *runLog) add(changed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, changed)
}

func (r *runLog) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func start(t *testing.T, c *Coalescer) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	<-c.Ready()
}

func TestBurstCoalescesIntoOneRun(t *testing.T) {
	var log runLog
	c, err := New(Config{QuietWindow: 30 * time.Millisecond, MaxDelay: time.Second}, func(_ context.Context, changed []string) error {
		log.add(changed)
		return nil
	})
	require.NoError(t, err)
	start(t, c)

	for range 10 {
		c.Trigger("a.js")
		c.Trigger("b.js")
	}

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	calls := log.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"a.js", "b.js"}, calls[0])
	assert.Equal(t, StateIdle, c.State())
}

func TestTriggersDuringRunProduceOneFollowUp(t *testing.T) {
	var log runLog
	release := make(chan struct{})
	started := make(chan struct{}, 4)

	c, err := New(Config{QuietWindow: 10 * time.Millisecond}, func(_ context.Context, changed []string) error {
		log.add(changed)
		started <- struct{}{}
		if len(log.snapshot()) == 1 {
			<-release
		}
		return nil
	})
	require.NoError(t, err)
	start(t, c)

	c.Trigger("main.js")
	<-started
	assert.Equal(t, StateRebuilding, c.State())

	for _, p := range []string{"a.js", "b.js", "a.js", "c.js"} {
		c.Trigger(p)
	}
	close(release)

	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	calls := log.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"main.js"}, calls[0])
	assert.Equal(t, []string{"a.js", "b.js", "c.js"}, calls[1])
	assert.Equal(t, int64(2), c.Runs())
}

func TestRunErrorsKeepLoopAlive(t *testing.T) {
	var log runLog
	boom := stderrors.New("compile error")
	c, err := New(Config{QuietWindow: 10 * time.Millisecond}, func(_ context.Context, changed []string) error {
		log.add(changed)
		if len(log.snapshot()) == 1 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)
	start(t, c)

	c.Trigger("main.js")
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return stderrors.Is(c.LastError(), boom) }, time.Second, 5*time.Millisecond)

	c.Trigger("main.js")
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.LastError() == nil }, time.Second, 5*time.Millisecond)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{QuietWindow: time.Millisecond}, nil)
	require.Error(t, err)
	_, err = New(Config{}, func(context.Context, []string) error { return nil })
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "rebuilding", StateRebuilding.String())
}

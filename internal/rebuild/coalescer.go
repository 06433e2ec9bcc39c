// Package rebuild coalesces bursts of file change notifications into single
// rebuild runs.
//
// A Coalescer is idle until a change is triggered. Once changes stop arriving
// for the quiet window (or the max delay since the first change elapses) it
// runs the rebuild with every path collected so far. Changes arriving while a
// rebuild is running are collected and produce exactly one follow-up run.
package rebuild

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// State is the coalescer state.
type State int32

const (
	StateIdle State = iota
	StateRebuilding
)

func (s State) String() string {
	if s == StateRebuilding {
		return "rebuilding"
	}
	return "idle"
}

// RunFunc performs one rebuild for the given changed paths.
type RunFunc func(ctx context.Context, changed []string) error

// Config controls debouncing.
type Config struct {
	// QuietWindow is how long the trigger stream must stay silent before a run.
	QuietWindow time.Duration
	// MaxDelay caps how long a continuous stream can postpone a run.
	// Zero means 10x QuietWindow.
	MaxDelay time.Duration
	// Name labels log lines.
	Name   string
	Logger *slog.Logger
}

// Coalescer turns triggers into debounced, non-overlapping runs.
type Coalescer struct {
	cfg Config
	run RunFunc

	mu      sync.Mutex
	pending map[string]struct{}
	lastErr error

	signal    chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	state     atomic.Int32
	runs      atomic.Int64
}

// New validates cfg and returns a coalescer. Call Run to start it.
func New(cfg Config, run RunFunc) (*Coalescer, error) {
	if run == nil {
		return nil, errors.ValidationError("rebuild func is required").Build()
	}
	if cfg.QuietWindow <= 0 {
		return nil, errors.ValidationError("quiet window must be > 0").Build()
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * cfg.QuietWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coalescer{
		cfg:     cfg,
		run:     run,
		pending: make(map[string]struct{}),
		signal:  make(chan struct{}, 1),
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once Run is accepting triggers.
func (c *Coalescer) Ready() <-chan struct{} {
	return c.ready
}

// Trigger records a changed path. It never blocks.
func (c *Coalescer) Trigger(path string) {
	c.mu.Lock()
	c.pending[path] = struct{}{}
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// State returns the current state.
func (c *Coalescer) State() State {
	return State(c.state.Load())
}

// Runs returns how many rebuilds have started.
func (c *Coalescer) Runs() int64 {
	return c.runs.Load()
}

// LastError returns the result of the most recent run.
func (c *Coalescer) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Run processes triggers until ctx is canceled. Rebuild errors are recorded
// and logged but never stop the loop.
func (c *Coalescer) Run(ctx context.Context) error {
	quietTimer := stoppedTimer()
	maxTimer := stoppedTimer()
	defer quietTimer.Stop()
	defer maxTimer.Stop()

	var quietC, maxC <-chan time.Time

	c.readyOnce.Do(func() { close(c.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.signal:
			resetTimer(quietTimer, c.cfg.QuietWindow)
			quietC = quietTimer.C
			if maxC == nil {
				resetTimer(maxTimer, c.cfg.MaxDelay)
				maxC = maxTimer.C
			}
		case <-quietC:
			quietC, maxC = nil, nil
			c.execute(ctx, "quiet")
		case <-maxC:
			quietC, maxC = nil, nil
			c.execute(ctx, "max_delay")
		}
	}
}

func (c *Coalescer) execute(ctx context.Context, reason string) {
	changed := c.take()
	if len(changed) == 0 {
		return
	}

	c.state.Store(int32(StateRebuilding))
	c.runs.Add(1)
	c.cfg.Logger.Debug("Rebuild starting",
		slog.String("watcher", c.cfg.Name),
		slog.String("reason", reason),
		slog.Int("changed", len(changed)))

	err := c.run(ctx, changed)

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.state.Store(int32(StateIdle))

	if err != nil && ctx.Err() == nil {
		c.cfg.Logger.Debug("Rebuild failed", slog.String("watcher", c.cfg.Name), slog.String("error", err.Error()))
	}
}

func (c *Coalescer) take() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.pending))
	for p := range c.pending {
		out = append(out, p)
	}
	c.pending = make(map[string]struct{})
	sort.Strings(out)
	return out
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(after)
}

// Package scheduler runs named tasks with dependencies, sequences and
// parallel groups.
//
// Within one Run every task executes at most once, no matter how many
// sequence steps, groups or dependency edges reach it; a task reached a
// second time waits for the first execution and shares its result.
package scheduler

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/logfields"
	"git.home.luguber.info/inful/assetpipe/internal/metrics"
)

// Action is the work of a task.
type Action func(ctx context.Context) error

// Task is a named unit of work.
type Task struct {
	Name        string
	Description string
	// Deps complete (concurrently) before the task starts.
	Deps []string
	// Action runs after Deps. May be nil for pure composite tasks.
	Action Action
	// Steps run after Action, in order.
	Steps []Step
}

// Step is one element of a sequence: a single task or a parallel group.
type Step struct {
	names    []string
	parallel bool
}

// Seq is a step running a single task.
func Seq(name string) Step { return Step{names: []string{name}} }

// Par is a step running tasks concurrently; it completes when all members do.
func Par(names ...string) Step { return Step{names: names, parallel: true} }

// Names returns the task names in the step.
func (s Step) Names() []string { return append([]string(nil), s.names...) }

func (s Step) String() string {
	if s.parallel {
		return "[" + strings.Join(s.names, ", ") + "]"
	}
	return strings.Join(s.names, "")
}

// Steps converts plain task names into a sequence.
func Steps(names ...string) []Step {
	out := make([]Step, len(names))
	for i, n := range names {
		out[i] = Seq(n)
	}
	return out
}

// Scheduler holds the task registry.
type Scheduler struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	logger   *slog.Logger
	recorder metrics.Recorder
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// New returns an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:    make(map[string]*Task),
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a task. Names must be unique.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" {
		return errors.ValidationError("task name is required").Build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.Name]; exists {
		return errors.ValidationError("duplicate task").WithContext("task", t.Name).Build()
	}
	task := t
	s.tasks[t.Name] = &task
	return nil
}

// Tasks returns the registered tasks sorted by name.
func (s *Scheduler) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether a task is registered.
func (s *Scheduler) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[name]
	return ok
}

// Validate checks that every referenced task exists and that the graph
// formed by dependencies and steps has no cycle.
func (s *Scheduler) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.topologicalOrder()
	return err
}

// Order returns a dependency-respecting order of all tasks.
func (s *Scheduler) Order() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topologicalOrder()
}

func (s *Scheduler) topologicalOrder() ([]string, error) {
	graph := make(map[string][]string, len(s.tasks))
	inDegree := make(map[string]int, len(s.tasks))
	for name := range s.tasks {
		inDegree[name] += 0
	}

	for name, t := range s.tasks {
		for _, ref := range references(t) {
			if _, ok := s.tasks[ref]; !ok {
				return nil, errors.ValidationError("unknown task referenced").
					WithContext("task", name).
					WithContext("reference", ref).
					Build()
			}
			graph[ref] = append(graph[ref], name)
			inDegree[name]++
		}
	}

	var queue []string
	for name, d := range inDegree {
		if d == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(s.tasks))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		next := graph[current]
		sort.Strings(next)
		for _, n := range next {
			inDegree[n]--
			if inDegree[n] == 0 {
				queue = append(queue, n)
			}
		}
	}

	if len(order) != len(s.tasks) {
		var remaining []string
		for name, d := range inDegree {
			if d > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, errors.ValidationError("task dependency cycle").
			WithContext("tasks", strings.Join(remaining, ", ")).
			Build()
	}
	return order, nil
}

func references(t *Task) []string {
	refs := append([]string(nil), t.Deps...)
	for _, st := range t.Steps {
		refs = append(refs, st.names...)
	}
	return refs
}

// Run validates the registry and executes steps in order. The first failing
// step aborts the rest of the sequence.
func (s *Scheduler) Run(ctx context.Context, steps ...Step) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, st := range steps {
		for _, n := range st.names {
			if !s.Has(n) {
				return errors.NotFoundError("task not found").WithContext("task", n).Build()
			}
		}
	}
	r := &execution{s: s, calls: make(map[string]*call)}
	return r.sequence(ctx, steps)
}

// RunTasks runs the named tasks in sequence.
func (s *Scheduler) RunTasks(ctx context.Context, names ...string) error {
	return s.Run(ctx, Steps(names...)...)
}

func (s *Scheduler) lookup(name string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[name]
}

type call struct {
	done chan struct{}
	err  error
}

// execution is the memo of a single Run.
type execution struct {
	s     *Scheduler
	mu    sync.Mutex
	calls map[string]*call
}

func (r *execution) sequence(ctx context.Context, steps []Step) error {
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.step(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (r *execution) step(ctx context.Context, st Step) error {
	if !st.parallel || len(st.names) == 1 {
		for _, n := range st.names {
			if err := r.task(ctx, n); err != nil {
				return err
			}
		}
		return nil
	}
	return r.group(ctx, st.names)
}

func (r *execution) group(ctx context.Context, names []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range names {
		g.Go(func() error { return r.task(gctx, n) })
	}
	return g.Wait()
}

func (r *execution) task(ctx context.Context, name string) error {
	r.mu.Lock()
	if c, ok := r.calls[name]; ok {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	r.calls[name] = c
	r.mu.Unlock()

	c.err = r.execute(ctx, r.s.lookup(name))
	close(c.done)
	return c.err
}

func (r *execution) execute(ctx context.Context, t *Task) error {
	if len(t.Deps) > 0 {
		if err := r.group(ctx, t.Deps); err != nil {
			return err
		}
	}

	logger := r.s.logger.With(logfields.Task(t.Name))
	logger.Info("Starting '" + t.Name + "'...")
	t0 := time.Now()

	err := r.run(ctx, t)

	dur := time.Since(t0)
	r.s.recorder.ObserveTaskDuration(t.Name, dur)
	switch {
	case err == nil:
		r.s.recorder.IncTaskResult(t.Name, metrics.ResultSuccess)
		logger.Info("Finished '"+t.Name+"' after "+formatDuration(dur), logfields.DurationMS(float64(dur.Microseconds())/1000))
	case ctx.Err() != nil:
		r.s.recorder.IncTaskResult(t.Name, metrics.ResultCanceled)
	default:
		r.s.recorder.IncTaskResult(t.Name, metrics.ResultFailed)
		logger.Debug("Task failed", logfields.Error(err))
	}
	return err
}

func (r *execution) run(ctx context.Context, t *Task) error {
	if t.Action != nil {
		if err := t.Action(ctx); err != nil {
			if ctx.Err() != nil && stderrors.Is(err, ctx.Err()) {
				return err
			}
			return errors.TaskError("task failed").WithCause(err).
				WithContext("task", t.Name).
				Build()
		}
	}
	return r.sequence(ctx, t.Steps)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

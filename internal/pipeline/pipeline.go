package pipeline

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/logfields"
)

// Stage transforms an artifact in place.
type Stage interface {
	Name() string
	Process(ctx context.Context, a *Artifact) error
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, a *Artifact) error
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Process(ctx context.Context, a *Artifact) error { return s.Fn(ctx, a) }

// Pipeline is an ordered list of stages.
type Pipeline struct {
	name   string
	stages []Stage
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithName labels log lines of this pipeline.
func WithName(name string) Option {
	return func(p *Pipeline) {
		p.name = name
	}
}

// New creates a pipeline from stages.
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{stages: stages, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run passes a through every stage in order, stopping at the first error.
func (p *Pipeline) Run(ctx context.Context, a *Artifact) error {
	for _, st := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		t0 := time.Now()
		if err := st.Process(ctx, a); err != nil {
			return errors.WrapError(err, errors.CategoryBuild, "pipeline stage failed").
				WithContext("stage", st.Name()).
				WithContext("file", a.Path).
				Build()
		}
		p.logger.Debug("Stage complete",
			slog.String("pipeline", p.name),
			logfields.Stage(st.Name()),
			logfields.Asset(a.Path),
			logfields.DurationMS(float64(time.Since(t0).Microseconds())/1000))
	}
	return nil
}

// RunAll runs every artifact through the pipeline, stopping at the first error.
func (p *Pipeline) RunAll(ctx context.Context, artifacts []*Artifact) error {
	for _, a := range artifacts {
		if err := p.Run(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

package pipeline

import (
	"context"
	"sort"

	"git.home.luguber.info/inful/assetpipe/internal/cachebust"
	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/metrics"
)

// Broadcaster tells connected browsers that a file changed.
type Broadcaster interface {
	Reload(ctx context.Context, path string)
}

// Deps are the collaborators stages may need.
type Deps struct {
	Manifest    *cachebust.Coordinator
	Banner      string
	DestRoot    string
	Broadcaster Broadcaster
	Recorder    metrics.Recorder
}

// Factory constructs a stage from its dependencies.
type Factory func(Deps) Stage

// DefaultOrder is the stage order used for both scripts and styles.
var DefaultOrder = []string{
	StageBuffer,
	StageCachebust,
	StageSourcemapsInit,
	StageMinify,
	StageBanner,
	StageSourcemapsWrite,
	StageDest,
	StageReload,
}

// Registry maps stage names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in stages.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{
		StageBuffer:          bufferStage,
		StageCachebust:       cachebustStage,
		StageSourcemapsInit:  sourcemapsInitStage,
		StageMinify:          minifyStage,
		StageBanner:          bannerStage,
		StageSourcemapsWrite: sourcemapsWriteStage,
		StageDest:            destStage,
		StageReload:          reloadStage,
	}}
}

// Register adds or replaces a stage factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Names lists registered stage names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate rejects unknown and repeated stage names.
func (r *Registry) Validate(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.factories[n]; !ok {
			return errors.ValidationError("unknown pipeline stage").
				WithContext("stage", n).
				Build()
		}
		if seen[n] {
			return errors.ValidationError("duplicate pipeline stage").
				WithContext("stage", n).
				Build()
		}
		seen[n] = true
	}
	return nil
}

// Build constructs a pipeline from stage names. Unknown and repeated names
// are rejected. An empty list yields DefaultOrder.
func (r *Registry) Build(names []string, deps Deps, opts ...Option) (*Pipeline, error) {
	if len(names) == 0 {
		names = DefaultOrder
	}
	if err := r.Validate(names); err != nil {
		return nil, err
	}
	stages := make([]Stage, 0, len(names))
	for _, n := range names {
		stages = append(stages, r.factories[n](deps))
	}
	return New(stages, opts...), nil
}

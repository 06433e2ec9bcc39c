package build

import (
	"context"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/logfields"
	"git.home.luguber.info/inful/assetpipe/internal/rebuild"
	"git.home.luguber.info/inful/assetpipe/internal/scheduler"
	"git.home.luguber.info/inful/assetpipe/internal/watcher"
)

// Sequences run by the watch task.
var (
	ScriptSequence = scheduler.Steps(TaskLint, TaskRebundle, TaskBuildHTML)
	StyleSequence  = scheduler.Steps(TaskCleanStyles, TaskBuildCSS, TaskBuildHTML)
	MarkupSequence = scheduler.Steps(TaskBuildHTML)
	ImageSequence  = scheduler.Steps(TaskImages)
)

// watch blocks until ctx is canceled. Scripts follow the bundler graph;
// markup, styles and images follow glob rules on the source root. Without a
// prior bundle the scripts are bundled once first so the graph is known.
func (b *Builder) watch(ctx context.Context) error {
	if b.sched == nil {
		return errors.InternalError("watch requires registered tasks").Build()
	}
	b.watching.Store(true)
	if len(b.bundler.Graph()) == 0 {
		if err := b.sched.Run(ctx, scheduler.Seq(TaskRebundle)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("Initial bundle failed, watching for fixes", logfields.Error(err))
		}
	}
	css := filepath.ToSlash(b.cfg.CSSFolder)
	images := filepath.ToSlash(b.cfg.ImagesFolder)
	rules := []watcher.Rule{
		{Name: "markup", Globs: []string{"**/*.html"}, Run: b.sequence("markup", MarkupSequence)},
		{Name: "styles", Globs: []string{css + "/**/*"}, Run: b.sequence("styles", StyleSequence)},
		{Name: "images", Globs: []string{images + "/**/*"}, Run: b.sequence("images", ImageSequence)},
	}
	opts := []watcher.Option{watcher.WithDebounce(b.cfg.Debounce), watcher.WithLogger(b.logger)}
	if rel, err := filepath.Rel(b.cfg.SrcDir, b.cfg.DistDir); err == nil && filepath.IsLocal(rel) {
		opts = append(opts, watcher.WithSkipDir(rel))
	}
	w, err := watcher.New(b.cfg.SrcDir, rules, opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.bundler.Watch(gctx, rebuild.Config{
			QuietWindow: b.cfg.Debounce,
			Name:        "scripts",
			Logger:      b.logger,
		}, b.sequence("scripts", ScriptSequence))
	})
	g.Go(func() error { return w.Run(gctx) })
	return g.Wait()
}

// sequence returns a rebuild action that runs steps once per settled burst.
// Compile errors were already reported by the failing task and do not
// surface again; the watch continues either way.
func (b *Builder) sequence(trigger string, steps []scheduler.Step) rebuild.RunFunc {
	return func(ctx context.Context, changed []string) error {
		b.recorder.IncRebuild(trigger)
		for _, p := range changed {
			b.emitter.Changed(ctx, trigger, p)
		}
		err := b.sched.Run(ctx, steps...)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return err
		case errors.HasCategory(err, errors.CategoryTransform):
			b.logger.Debug("Rebuild stopped at compile error", logfields.Sequence(trigger), logfields.Error(err))
			return err
		default:
			if root, ok := errors.Root(err); ok && root.IsFatal() {
				b.logger.Error("Rebuild failed", logfields.Sequence(trigger), logfields.Error(err))
				return err
			}
			b.logger.Warn("Rebuild failed", logfields.Sequence(trigger), logfields.Error(err))
			return err
		}
	}
}

// Package build wires the asset pipeline together: it owns the manifest,
// the bundler, the stage pipelines and the collaborators they report to,
// and registers the fixed task set on a scheduler.
package build

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/assetpipe/internal/bundler"
	"git.home.luguber.info/inful/assetpipe/internal/cachebust"
	"git.home.luguber.info/inful/assetpipe/internal/config"
	"git.home.luguber.info/inful/assetpipe/internal/events"
	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/hasher"
	"git.home.luguber.info/inful/assetpipe/internal/lint"
	"git.home.luguber.info/inful/assetpipe/internal/livereload"
	"git.home.luguber.info/inful/assetpipe/internal/logfields"
	"git.home.luguber.info/inful/assetpipe/internal/metrics"
	"git.home.luguber.info/inful/assetpipe/internal/notify"
	"git.home.luguber.info/inful/assetpipe/internal/pipeline"
	"git.home.luguber.info/inful/assetpipe/internal/pkgmeta"
	"git.home.luguber.info/inful/assetpipe/internal/scheduler"
	"git.home.luguber.info/inful/assetpipe/internal/transform"
)

// CompileErrorTitle is the notification title for transform failures.
const CompileErrorTitle = "Compile Error"

// Builder runs the build tasks for one project.
type Builder struct {
	cfg    *config.Config
	logger *slog.Logger

	manifest    *cachebust.Coordinator
	bundler     *bundler.Bundler
	transformer transform.Transformer
	styles      *transform.StyleCompiler
	linter      *lint.Linter
	lintOut     io.Writer

	scripts   *pipeline.Pipeline
	stylePipe *pipeline.Pipeline

	notifier    notify.Notifier
	hub         *livereload.Hub
	broadcaster pipeline.Broadcaster
	recorder    metrics.Recorder
	emitter     *events.Emitter
	metricsH    http.Handler
	banner      *string

	sched *scheduler.Scheduler
	// watching is set once a run is headed for the watch task. Compile
	// errors in build-js are then reported and swallowed so the run
	// reaches the watcher.
	watching atomic.Bool

	bg    sync.WaitGroup
	bgMu  sync.Mutex
	bgErr error
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithNotifier sets where compile errors are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(b *Builder) { b.notifier = n }
}

// WithHub sets the live reload hub used by the preview server.
func WithHub(h *livereload.Hub) Option {
	return func(b *Builder) { b.hub = h }
}

// WithBroadcaster overrides the reload target. It defaults to the hub.
func WithBroadcaster(bc pipeline.Broadcaster) Option {
	return func(b *Builder) { b.broadcaster = bc }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *Builder) { b.recorder = r }
}

// WithEmitter sets the BuildEvent emitter.
func WithEmitter(e *events.Emitter) Option {
	return func(b *Builder) { b.emitter = e }
}

// WithTransformer replaces the esbuild script transformer.
func WithTransformer(t transform.Transformer) Option {
	return func(b *Builder) { b.transformer = t }
}

// WithLintOutput sets where lint reports are written.
func WithLintOutput(w io.Writer) Option {
	return func(b *Builder) { b.lintOut = w }
}

// WithMetricsHandler mounts h at /metrics on the preview server.
func WithMetricsHandler(h http.Handler) Option {
	return func(b *Builder) { b.metricsH = h }
}

// WithBanner replaces the banner derived from the package file.
func WithBanner(banner string) Option {
	return func(b *Builder) { b.banner = &banner }
}

// New builds the collaborators described by cfg.
func New(cfg *config.Config, opts ...Option) (*Builder, error) {
	if cfg == nil {
		return nil, errors.ValidationError("config is required").Build()
	}
	b := &Builder{
		cfg:      cfg,
		logger:   slog.Default(),
		lintOut:  os.Stdout,
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.notifier == nil {
		b.notifier = notify.LogNotifier{Logger: b.logger}
	}
	if b.emitter == nil {
		b.emitter = events.NewEmitter(b.logger, events.LogSink{Logger: b.logger})
	}
	if b.hub == nil {
		b.hub = livereload.NewHub(b.recorder)
	}
	if b.broadcaster == nil {
		b.broadcaster = b.hub
	}
	if b.transformer == nil {
		b.transformer = transform.NewEsbuild(cfg.SrcDir)
	}
	if b.banner == nil {
		meta, err := pkgmeta.Load(cfg.PackageFile)
		if err != nil {
			return nil, err
		}
		banner := meta.Banner(time.Now().Year())
		b.banner = &banner
	}

	b.manifest = cachebust.New(hasher.New(cfg.HashLength))
	b.styles = &transform.StyleCompiler{Command: cfg.Style.Command, SourceRoot: cfg.SrcDir}
	b.linter = lint.NewLinter(lint.SyntaxRule{}, lint.NoDebuggerRule{})

	root, err := filepath.Abs(cfg.SrcDir)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid src_dir").Build()
	}
	entry := cfg.EntryPath()
	bd, err := bundler.New(bundler.Options{
		Entry:  entry,
		Root:   root,
		Output: path.Join(filepath.ToSlash(cfg.ScriptsFolder), strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))+".js"),
		Logger: b.logger,
	}, b.transformer)
	if err != nil {
		return nil, err
	}
	b.bundler = bd

	deps := pipeline.Deps{
		Manifest:    b.manifest,
		Banner:      *b.banner,
		DestRoot:    cfg.DistDir,
		Broadcaster: b.broadcaster,
		Recorder:    b.recorder,
	}
	registry := pipeline.NewRegistry()
	if b.scripts, err = registry.Build(cfg.ScriptStages(), deps, pipeline.WithLogger(b.logger), pipeline.WithName("scripts")); err != nil {
		return nil, err
	}
	if b.stylePipe, err = registry.Build(cfg.StyleStages(), deps, pipeline.WithLogger(b.logger), pipeline.WithName("styles")); err != nil {
		return nil, err
	}
	return b, nil
}

// Manifest returns the cache-bust coordinator.
func (b *Builder) Manifest() *cachebust.Coordinator { return b.manifest }

// Hub returns the live reload hub.
func (b *Builder) Hub() *livereload.Hub { return b.hub }

// Wait blocks until background services started by tasks have stopped and
// returns the first error any of them reported.
func (b *Builder) Wait() error {
	b.bg.Wait()
	b.bgMu.Lock()
	defer b.bgMu.Unlock()
	return b.bgErr
}

func (b *Builder) background(fn func() error) {
	b.bg.Add(1)
	go func() {
		defer b.bg.Done()
		if err := fn(); err != nil {
			b.bgMu.Lock()
			if b.bgErr == nil {
				b.bgErr = err
			}
			b.bgMu.Unlock()
		}
	}()
}

// reportFailure notifies compile errors once and records an error event.
// Every failure is returned unchanged.
func (b *Builder) reportFailure(ctx context.Context, task, file string, err error) error {
	if errors.HasCategory(err, errors.CategoryTransform) {
		n := notify.FromError(CompileErrorTitle, err)
		b.notifier.Notify(ctx, n)
		if n.File != "" {
			file = n.File
		}
	}
	b.emitter.Error(ctx, task, file, err.Error())
	b.logger.Debug("Task reported failure", logfields.Task(task), logfields.Path(file), logfields.Error(err))
	return err
}

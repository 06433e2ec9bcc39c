package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"git.home.luguber.info/inful/assetpipe/internal/cachebust"
	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/fsutil"
	"git.home.luguber.info/inful/assetpipe/internal/lint"
	"git.home.luguber.info/inful/assetpipe/internal/logfields"
	"git.home.luguber.info/inful/assetpipe/internal/pipeline"
	"git.home.luguber.info/inful/assetpipe/internal/scheduler"
	"git.home.luguber.info/inful/assetpipe/internal/server"
	"git.home.luguber.info/inful/assetpipe/internal/transform"
)

// Task names.
const (
	TaskClean        = "clean"
	TaskCleanScripts = "clean-scripts"
	TaskCleanStyles  = "clean-styles"
	TaskLint         = "lint"
	TaskBuildJS      = "build-js"
	TaskRebundle     = "rebundle"
	TaskBuildCSS     = "build-css"
	TaskBuildHTML    = "build-html"
	TaskImages       = "images"
	TaskBrowserSync  = "browser-sync"
	TaskWatch        = "watch"
	TaskBuild        = "build"
	TaskDefault      = "default"
)

// RegisterTasks registers the task set on s. The scheduler is kept for the
// sequences the watch task runs.
func (b *Builder) RegisterTasks(s *scheduler.Scheduler) error {
	b.sched = s
	tasks := []scheduler.Task{
		{Name: TaskClean, Description: "Empty the destination tree and forget the manifest", Action: b.clean},
		{Name: TaskCleanScripts, Description: "Empty the script destination folder", Action: b.cleanDir(b.cfg.ScriptsDist())},
		{Name: TaskCleanStyles, Description: "Empty the style destination folder", Action: b.cleanDir(b.cfg.CSSDist())},
		{Name: TaskLint, Description: "Lint script sources", Action: b.lint},
		{Name: TaskBuildJS, Description: "Bundle scripts and run the script pipeline", Action: b.scriptsTask(TaskBuildJS)},
		{Name: TaskRebundle, Description: "Rebuild scripts after a change", Deps: []string{TaskCleanScripts}, Action: b.scriptsTask(TaskRebundle)},
		{Name: TaskBuildCSS, Description: "Compile stylesheets and copy fonts", Action: b.buildCSS},
		{Name: TaskBuildHTML, Description: "Rewrite markup to hashed asset names", Action: b.buildHTML},
		{Name: TaskImages, Description: "Copy images", Action: b.images},
		{Name: TaskBrowserSync, Description: "Start the preview server", Action: b.browserSync},
		{Name: TaskWatch, Description: "Rebuild on source changes", Action: b.watch},
		{
			Name:        TaskBuild,
			Description: "Full build",
			Deps:        []string{TaskClean},
			Steps: []scheduler.Step{
				scheduler.Seq(TaskLint),
				scheduler.Par(TaskImages, TaskBuildCSS, TaskBuildJS),
				scheduler.Seq(TaskBuildHTML),
			},
		},
		{
			Name:        TaskDefault,
			Description: "Build, serve and watch",
			Action:      b.enterWatchMode,
			Steps:       scheduler.Steps(TaskBuild, TaskBrowserSync, TaskWatch),
		},
	}
	for _, t := range tasks {
		if err := s.Register(t); err != nil {
			return err
		}
	}
	return s.Validate()
}

func (b *Builder) clean(ctx context.Context) error {
	if err := fsutil.CleanDir(ctx, b.cfg.DistDir); err != nil {
		return err
	}
	b.manifest.Reset()
	b.recorder.SetManifestEntries(0)
	return nil
}

func (b *Builder) cleanDir(dir string) scheduler.Action {
	return func(ctx context.Context) error {
		return fsutil.CleanDir(ctx, dir)
	}
}

func (b *Builder) lint(ctx context.Context) error {
	files, err := glob(b.cfg.SrcDir, b.cfg.Lint.Globs)
	if err != nil {
		return err
	}
	result, err := b.linter.LintFiles(ctx, files)
	if err != nil {
		return err
	}
	if len(result.Issues) > 0 {
		if err := lint.NewTextFormatter().Format(b.lintOut, result); err != nil {
			return errors.WrapError(err, errors.CategoryInternal, "failed to write lint report").Build()
		}
	}
	if result.HasErrors() && b.cfg.Lint.FailOnError {
		return errors.LintError("lint reported errors").
			WithContext("errors", result.ErrorCount()).
			WithContext("warnings", result.WarningCount()).
			WithRetry(errors.RetryUserAction).
			Build()
	}
	return nil
}

func (b *Builder) enterWatchMode(context.Context) error {
	b.watching.Store(true)
	return nil
}

// scriptsTask bundles and runs the script pipeline. When the run is headed
// for the watcher, build-js ends cleanly on compile errors after reporting
// them; rebundle always returns them so its watch sequence stops.
func (b *Builder) scriptsTask(task string) scheduler.Action {
	return func(ctx context.Context) error {
		fail := func(file string, err error) error {
			err = b.reportFailure(ctx, task, file, err)
			if task == TaskBuildJS && b.watching.Load() && errors.HasCategory(err, errors.CategoryTransform) {
				b.logger.Warn("Continuing after compile error", logfields.Task(task), logfields.Error(err))
				return nil
			}
			return err
		}
		art, err := b.bundler.Bundle(ctx)
		if err != nil {
			return fail(b.bundler.Entry(), err)
		}
		if err := b.scripts.Run(ctx, art); err != nil {
			return fail(art.Source, err)
		}
		b.logger.Debug("Script bundle written",
			logfields.Task(task),
			logfields.Asset(art.Path),
			logfields.Path(art.Target()),
			logfields.Hash(art.Hash))
		b.emitter.Done(ctx, task, art.Target())
		return nil
	}
}

func (b *Builder) buildCSS(ctx context.Context) error {
	src := b.cfg.CSSSrc()
	if err := fsutil.CopyTree(ctx, filepath.Join(src, "fonts"), filepath.Join(b.cfg.CSSDist(), "fonts")); err != nil {
		return err
	}
	files, err := glob(src, []string{"**/*.{css,scss,sass}"})
	if err != nil {
		return err
	}
	built := make(map[string]bool, len(files))
	for _, file := range files {
		rel, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WrapError(err, errors.CategoryInternal, "stylesheet outside css folder").Build()
		}
		rel = filepath.ToSlash(rel)
		if transform.IsPartial(file) || strings.HasPrefix(rel, "fonts/") {
			continue
		}
		logical, err := b.buildStyle(ctx, file, rel)
		if err != nil {
			return err
		}
		built[cachebust.NormalizeLogical(logical)] = true
	}
	b.pruneStyles(built)
	return nil
}

// pruneStyles drops manifest entries for stylesheets that no longer exist.
func (b *Builder) pruneStyles(built map[string]bool) {
	prefix := cachebust.NormalizeLogical(filepath.ToSlash(b.cfg.CSSFolder)) + "/"
	for _, e := range b.manifest.Entries() {
		if strings.HasPrefix(e.Logical, prefix) && !built[e.Logical] {
			b.manifest.Unregister(e.Logical)
			b.logger.Debug("Dropped stale stylesheet from manifest", logfields.Asset(e.Logical))
		}
	}
}

func (b *Builder) buildStyle(ctx context.Context, file, rel string) (string, error) {
	data, err := os.ReadFile(file) // #nosec G304 -- globbed from the css folder
	if err != nil {
		return "", errors.FileSystemError("failed to read stylesheet").
			WithCause(err).
			WithContext("path", file).
			Build()
	}
	res, err := b.styles.Compile(ctx, file, data)
	if err != nil {
		return "", b.reportFailure(ctx, TaskBuildCSS, file, err)
	}
	logical := path.Join(filepath.ToSlash(b.cfg.CSSFolder), strings.TrimSuffix(rel, path.Ext(rel))+".css")
	art := &pipeline.Artifact{
		Path:     logical,
		Kind:     pipeline.KindStyle,
		Source:   file,
		Contents: res.Code,
		Map:      res.Map,
	}
	if err := b.stylePipe.Run(ctx, art); err != nil {
		return "", b.reportFailure(ctx, TaskBuildCSS, file, err)
	}
	b.emitter.Done(ctx, TaskBuildCSS, art.Target())
	return logical, nil
}

func (b *Builder) buildHTML(ctx context.Context) error {
	files, err := glob(b.cfg.SrcDir, []string{"**/*.html"})
	if err != nil {
		return err
	}
	for _, file := range files {
		rel, err := filepath.Rel(b.cfg.SrcDir, file)
		if err != nil {
			return errors.WrapError(err, errors.CategoryInternal, "markup outside source root").Build()
		}
		data, err := os.ReadFile(file) // #nosec G304 -- globbed from the source root
		if err != nil {
			return errors.FileSystemError("failed to read markup").
				WithCause(err).
				WithContext("path", file).
				Build()
		}
		out, err := b.manifest.Rewrite(data)
		if err != nil {
			return b.reportFailure(ctx, TaskBuildHTML, file, errors.BuildError("failed to rewrite markup").WithCause(err).
				WithContext("file", file).
				Build())
		}
		if err := fsutil.WriteFile(ctx, filepath.Join(b.cfg.DistDir, rel), out); err != nil {
			return err
		}
		b.broadcaster.Reload(ctx, filepath.ToSlash(rel))
		b.emitter.Done(ctx, TaskBuildHTML, filepath.ToSlash(rel))
	}

	manifest, err := b.manifest.MarshalManifest()
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode manifest").Build()
	}
	if err := fsutil.WriteFile(ctx, b.cfg.ManifestPath(), manifest); err != nil {
		return err
	}
	b.recorder.SetManifestEntries(b.manifest.Len())
	return nil
}

func (b *Builder) images(ctx context.Context) error {
	if err := fsutil.CopyTree(ctx, b.cfg.ImagesSrc(), b.cfg.ImagesDist()); err != nil {
		return err
	}
	b.broadcaster.Reload(ctx, filepath.ToSlash(b.cfg.ImagesFolder))
	return nil
}

// browserSync starts the preview server in the background and returns once
// it is listening. The server stops when ctx is canceled.
func (b *Builder) browserSync(ctx context.Context) error {
	opts := []server.Option{server.WithLogger(b.logger), server.WithHub(b.hub)}
	if b.cfg.Server.Metrics && b.metricsH != nil {
		opts = append(opts, server.WithMetrics(b.metricsH))
	}
	srv := server.New(server.Config{
		Root:       b.cfg.DistDir,
		Addr:       fmt.Sprintf(":%d", b.cfg.Server.Port),
		LiveReload: b.cfg.LiveReloadEnabled(),
	}, opts...)

	errc := make(chan error, 1)
	b.background(func() error {
		err := srv.Start(ctx)
		errc <- err
		return err
	})
	addrc := make(chan string, 1)
	go func() {
		if addr, err := srv.Addr(ctx); err == nil {
			addrc <- addr
		}
	}()

	select {
	case addr := <-addrc:
		b.logger.Info("Preview server listening", slog.String("addr", addr), logfields.Path(b.cfg.DistDir))
		return nil
	case err := <-errc:
		if err == nil {
			err = ctx.Err()
		}
		return err
	}
}

// glob expands doublestar patterns relative to root into sorted, unique
// file paths joined onto root. node_modules is never descended.
func glob(root string, patterns []string) ([]string, error) {
	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryValidation, "invalid glob").
				WithContext("glob", p).
				Build()
		}
		for _, m := range matches {
			if m == "node_modules" || strings.HasPrefix(m, "node_modules/") || strings.Contains(m, "/node_modules/") {
				continue
			}
			full := filepath.Join(root, filepath.FromSlash(m))
			if !seen[full] {
				seen[full] = true
				out = append(out, full)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

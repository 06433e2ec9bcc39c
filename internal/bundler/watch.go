package bundler

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/rebuild"
)

// ChangeFunc handles one settled burst of changes to graph files.
type ChangeFunc = rebuild.RunFunc

// Watch observes the directories of the current graph and calls onChange
// once per settled burst of changes to graph files. The entry always counts
// as a graph file, as do the candidates of requires that did not resolve,
// so creating a missing module triggers a rebuild. Changed files are
// invalidated before onChange runs, and the watched directories follow the
// graph after every run. Errors from onChange never end the watch.
func (b *Bundler) Watch(ctx context.Context, cfg rebuild.Config, onChange ChangeFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.RuntimeError("failed to create watcher").WithCause(err).Build()
	}
	defer func() { _ = w.Close() }()

	watched := make(map[string]bool)
	b.syncWatches(w, watched)

	if cfg.Name == "" {
		cfg.Name = "scripts"
	}
	if cfg.Logger == nil {
		cfg.Logger = b.opts.Logger
	}
	c, err := rebuild.New(cfg, func(ctx context.Context, changed []string) error {
		b.Invalidate(changed...)
		err := onChange(ctx, changed)
		b.syncWatches(w, watched)
		return err
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				if b.InGraph(ev.Name) {
					c.Trigger(ev.Name)
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return nil
				}
				b.opts.Logger.Warn("Script watcher error", slog.String("error", werr.Error()))
			}
		}
	})
	return g.Wait()
}

// syncWatches makes the watched directory set match the graph. It is only
// called from the coalescer goroutine or before it starts.
func (b *Bundler) syncWatches(w *fsnotify.Watcher, watched map[string]bool) {
	want := map[string]bool{filepath.Dir(b.opts.Entry): true}
	for _, p := range b.Graph() {
		want[filepath.Dir(p)] = true
	}
	for _, p := range b.Missing() {
		if dir := filepath.Dir(p); isDir(dir) {
			want[dir] = true
		}
	}
	for dir := range want {
		if watched[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			b.opts.Logger.Warn("Failed to watch directory", slog.String("path", dir), slog.String("error", err.Error()))
			continue
		}
		watched[dir] = true
	}
	for dir := range watched {
		if !want[dir] {
			_ = w.Remove(dir)
			delete(watched, dir)
		}
	}
}

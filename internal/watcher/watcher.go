// Package watcher triggers glob-scoped rebuilds from filesystem events under
// a source root. Each rule has its own coalescer, so a burst of saves runs
// each affected rule once.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/rebuild"
)

// Rule binds source globs to a rebuild action.
type Rule struct {
	Name string
	// Globs are doublestar patterns relative to the watched root.
	Globs []string
	Run   rebuild.RunFunc
}

// Watcher observes a directory tree.
type Watcher struct {
	root     string
	rules    []Rule
	debounce time.Duration
	skipDirs map[string]bool
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet window of every rule.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithSkipDir excludes directories (absolute or root-relative) from watching.
func WithSkipDir(dirs ...string) Option {
	return func(w *Watcher) {
		for _, d := range dirs {
			if !filepath.IsAbs(d) {
				d = filepath.Join(w.root, d)
			}
			w.skipDirs[filepath.Clean(d)] = true
		}
	}
}

// New validates rules and returns a watcher for root.
func New(root string, rules []Rule, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid watch root").Build()
	}
	for _, r := range rules {
		if r.Run == nil {
			return nil, errors.ValidationError("watch rule has no action").WithContext("rule", r.Name).Build()
		}
		for _, g := range r.Globs {
			if !doublestar.ValidatePattern(g) {
				return nil, errors.ValidationError("invalid watch glob").
					WithContext("rule", r.Name).
					WithContext("glob", g).
					Build()
			}
		}
	}
	w := &Watcher{
		root:     abs,
		rules:    rules,
		debounce: 100 * time.Millisecond,
		skipDirs: map[string]bool{filepath.Join(abs, "node_modules"): true},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Matches returns the names of the rules whose globs match a root-relative
// slash path.
func (w *Watcher) Matches(rel string) []string {
	var names []string
	for _, r := range w.rules {
		if matchAny(r.Globs, rel) {
			names = append(names, r.Name)
		}
	}
	return names
}

func matchAny(globs []string, rel string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// Run watches until ctx is canceled. Rule errors are logged by the
// coalescers and never stop the watch.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.RuntimeError("failed to create watcher").WithCause(err).Build()
	}
	defer func() { _ = fw.Close() }()

	if err := w.addDirsRecursive(fw, w.root); err != nil {
		return err
	}

	coalescers := make([]*rebuild.Coalescer, len(w.rules))
	for i, r := range w.rules {
		c, err := rebuild.New(rebuild.Config{QuietWindow: w.debounce, Name: r.Name, Logger: w.logger}, r.Run)
		if err != nil {
			return err
		}
		coalescers[i] = c
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range coalescers {
		g.Go(func() error { return c.Run(gctx) })
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					return nil
				}
				w.handle(fw, ev, coalescers)
			case werr, ok := <-fw.Errors:
				if !ok {
					return nil
				}
				w.logger.Warn("Watcher error", slog.String("error", werr.Error()))
			}
		}
	})
	w.logger.Info("Watching for changes", slog.String("root", w.root), slog.Int("rules", len(w.rules)))
	return g.Wait()
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event, coalescers []*rebuild.Coalescer) {
	if shouldIgnoreEvent(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.addDirsRecursive(fw, ev.Name)
			return
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	for i, r := range w.rules {
		if matchAny(r.Globs, rel) {
			coalescers[i].Trigger(ev.Name)
		}
	}
}

func (w *Watcher) addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipDirs[filepath.Clean(path)] || (path != w.root && strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			w.logger.Warn("watch add failed", "dir", path, "error", err)
		}
		return nil
	})
}

// shouldIgnoreEvent returns true for filesystem events that should not trigger rebuilds.
func shouldIgnoreEvent(path string) bool {
	base := filepath.Base(path)

	if strings.HasPrefix(base, ".") {
		return true
	}

	// Editor temp/swap files
	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		(strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#")) {
		return true
	}

	return base == "Thumbs.db" || base == "4913"
}

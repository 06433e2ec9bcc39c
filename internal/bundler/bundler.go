// Package bundler walks the require graph of a script entry point and
// concatenates every module into one browser bundle with a small module
// loader and a combined source map.
//
// Transformed modules are cached by path, modification time and size, so a
// rebuild after a change only re-transforms the files that changed.
package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/pipeline"
	"git.home.luguber.info/inful/assetpipe/internal/sourcemap"
	"git.home.luguber.info/inful/assetpipe/internal/transform"
)

var requirePattern = regexp.MustCompile(`\brequire\(\s*["']([^"']+)["']\s*\)`)

const prelude = `(function (modules, entry) {
  var cache = {};
  function load(id) {
    if (cache[id]) return cache[id].exports;
    var def = modules[id];
    var module = cache[id] = { exports: {} };
    def[0].call(module.exports, function (name) {
      var dep = def[1][name];
      if (dep === undefined) throw new Error("Cannot find module '" + name + "'");
      return load(dep);
    }, module, module.exports);
    return module.exports;
  }
  load(entry);
})({
`

const epilogue = "}, 0);\n"

// Options configure a Bundler.
type Options struct {
	// Entry is the script entry point.
	Entry string
	// Root is the source root. Absolute specifiers ("/lib/x") resolve under it.
	Root string
	// Output is the logical dist path of the bundle, e.g. "scripts/main.js".
	Output string
	Logger *slog.Logger
}

type cached struct {
	modTime  time.Time
	size     int64
	result   *transform.Result
	requires []string
}

type module struct {
	id     int
	path   string
	result *transform.Result
	deps   map[string]int
}

// Bundler builds one bundle from one entry point.
type Bundler struct {
	opts        Options
	transformer transform.Transformer

	build sync.Mutex // serializes Bundle

	mu    sync.Mutex
	cache map[string]*cached
	graph map[string]bool
	// missing holds candidate files for specifiers that did not resolve.
	missing map[string]bool
}

// New returns a bundler. The entry path is made absolute.
func New(opts Options, t transform.Transformer) (*Bundler, error) {
	if t == nil {
		return nil, errors.ValidationError("transformer is required").Build()
	}
	if opts.Entry == "" {
		return nil, errors.ValidationError("entry is required").Build()
	}
	entry, err := filepath.Abs(opts.Entry)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid entry path").Build()
	}
	opts.Entry = entry
	if opts.Root == "" {
		opts.Root = filepath.Dir(entry)
	}
	if opts.Output == "" {
		opts.Output = path.Join("scripts", strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))+".js")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bundler{
		opts:        opts,
		transformer: t,
		cache:       make(map[string]*cached),
		graph:       make(map[string]bool),
		missing:     make(map[string]bool),
	}, nil
}

// Entry returns the absolute entry path.
func (b *Bundler) Entry() string { return b.opts.Entry }

// Graph returns the files reached by the most recent Bundle call, including
// the file that failed if the call failed.
func (b *Bundler) Graph() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.graph))
	for p := range b.graph {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// InGraph reports whether a change to p affects the bundle: p is the entry,
// belongs to the current graph, or would satisfy a require that failed to
// resolve.
func (b *Bundler) InGraph(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	if abs == b.opts.Entry {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.graph[abs] || b.missing[abs]
}

// Missing returns the candidate files of requires that did not resolve in
// the most recent Bundle call.
func (b *Bundler) Missing() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.missing))
	for p := range b.missing {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Invalidate drops cached transforms for paths.
func (b *Bundler) Invalidate(paths ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			delete(b.cache, abs)
		}
	}
}

// Bundle resolves the graph from the entry and returns the bundle as an
// unbuffered artifact ready for the scripts pipeline.
func (b *Bundler) Bundle(ctx context.Context) (*pipeline.Artifact, error) {
	b.build.Lock()
	defer b.build.Unlock()

	if !isFile(b.opts.Entry) {
		return nil, errors.NotFoundError("entry module not found").
			WithContext("file", b.opts.Entry).
			Build()
	}

	var (
		modules []*module
		ids     = make(map[string]int)
		missing = make(map[string]bool)
	)
	defer func() {
		g := make(map[string]bool, len(ids))
		for p := range ids {
			g[p] = true
		}
		b.mu.Lock()
		b.graph = g
		b.missing = missing
		b.mu.Unlock()
	}()

	var visit func(p string) (int, error)
	visit = func(p string) (int, error) {
		if id, ok := ids[p]; ok {
			return id, nil
		}
		m := &module{id: len(modules), path: p, deps: make(map[string]int)}
		modules = append(modules, m)
		ids[p] = m.id

		entry, err := b.load(ctx, p)
		if err != nil {
			return 0, err
		}
		m.result = entry.result
		for _, spec := range entry.requires {
			dep, ok := resolve(b.opts.Root, p, spec)
			if !ok {
				for _, c := range candidates(b.opts.Root, p, spec) {
					missing[c] = true
				}
				return 0, errors.TransformError("cannot find module").
					WithContext("file", p).
					WithContext("module", spec).
					Build()
			}
			depID, err := visit(dep)
			if err != nil {
				return 0, err
			}
			m.deps[spec] = depID
		}
		return m.id, nil
	}

	if _, err := visit(b.opts.Entry); err != nil {
		return nil, err
	}

	data, m, err := b.emit(modules)
	if err != nil {
		return nil, err
	}
	b.opts.Logger.Debug("Bundle assembled",
		slog.String("entry", b.opts.Entry),
		slog.Int("modules", len(modules)),
		slog.Int("bytes", len(data)))

	return &pipeline.Artifact{
		Path:   b.opts.Output,
		Kind:   pipeline.KindScript,
		Source: b.opts.Entry,
		Reader: bytes.NewReader(data),
		Map:    m,
	}, nil
}

func (b *Bundler) load(ctx context.Context, p string) (*cached, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryTransform, "cannot read module").
			WithRetry(errors.RetryUserAction).
			WithContext("file", p).
			Build()
	}

	b.mu.Lock()
	c, ok := b.cache[p]
	b.mu.Unlock()
	if ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		return c, nil
	}

	src, err := os.ReadFile(p) // #nosec G304 -- module paths come from the resolved graph
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryTransform, "cannot read module").
			WithRetry(errors.RetryUserAction).
			WithContext("file", p).
			Build()
	}
	res, err := b.transformer.Transform(ctx, p, src)
	if err != nil {
		return nil, err
	}
	c = &cached{
		modTime:  info.ModTime(),
		size:     info.Size(),
		result:   res,
		requires: findRequires(res.Code),
	}
	b.mu.Lock()
	b.cache[p] = c
	b.mu.Unlock()
	return c, nil
}

func (b *Bundler) emit(modules []*module) ([]byte, *sourcemap.Map, error) {
	var buf bytes.Buffer
	smb := sourcemap.NewBuilder(path.Base(b.opts.Output))

	buf.WriteString(prelude)
	line := strings.Count(prelude, "\n")

	for _, m := range modules {
		fmt.Fprintf(&buf, "%d: [function (require, module, exports) {\n", m.id)
		line++

		code := m.result.Code
		if len(code) > 0 && code[len(code)-1] != '\n' {
			code = append(append([]byte(nil), code...), '\n')
		}
		if m.result.Map != nil {
			if err := smb.Add(line, m.result.Map); err != nil {
				return nil, nil, err
			}
		}
		buf.Write(code)
		line += bytes.Count(code, []byte("\n"))

		deps, err := json.Marshal(m.deps)
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(&buf, "}, %s],\n", deps)
		line++
	}
	buf.WriteString(epilogue)
	return buf.Bytes(), smb.Map(), nil
}

// findRequires returns the distinct require specifiers in code, in order.
func findRequires(code []byte) []string {
	matches := requirePattern.FindAllSubmatch(code, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		spec := string(m[1])
		if seen[spec] {
			continue
		}
		seen[spec] = true
		out = append(out, spec)
	}
	return out
}

package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetpipe/internal/config"
	"git.home.luguber.info/inful/assetpipe/internal/events"
	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/notify"
	"git.home.luguber.info/inful/assetpipe/internal/scheduler"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, n)
}

func (r *recordingNotifier) list() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.calls...)
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingBroadcaster) Reload(_ context.Context, p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, p)
}

func (r *recordingBroadcaster) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.paths {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

type harness struct {
	cfg      *config.Config
	builder  *Builder
	sched    *scheduler.Scheduler
	notifier *recordingNotifier
	reloads  *recordingBroadcaster
	events   *events.MemorySink
	lintOut  *bytes.Buffer
}

func write(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	write(t, filepath.Join(src, "scripts", "main.js"), "var a = require(\"./a\");\nconsole.log(a.value);\n")
	write(t, filepath.Join(src, "scripts", "a.js"), "module.exports = { value: 42 };\n")
	write(t, filepath.Join(src, "index.html"),
		`<!doctype html><html><head><link rel="stylesheet" href="/css/site.css"></head>`+
			`<body><img src="/images/logo.png"><script src="/scripts/main.js"></script></body></html>`)
	write(t, filepath.Join(src, "css", "site.css"), "body { color: red; }\n")
	write(t, filepath.Join(src, "css", "fonts", "x.woff"), "font")
	write(t, filepath.Join(src, "images", "logo.png"), "png")
	write(t, filepath.Join(dir, "package.json"),
		`{"name":"demo","version":"1.2.3","author":"Jane Doe <jane@example.com>","homepage":"https://example.com"}`)

	cfg := config.Default()
	cfg.SrcDir = src
	cfg.DistDir = filepath.Join(dir, "dist")
	cfg.PackageFile = filepath.Join(dir, "package.json")
	cfg.Debounce = 50 * time.Millisecond
	for _, m := range mutate {
		m(cfg)
	}
	require.NoError(t, cfg.Validate())

	h := &harness{
		cfg:      cfg,
		notifier: &recordingNotifier{},
		reloads:  &recordingBroadcaster{},
		events:   &events.MemorySink{},
		lintOut:  &bytes.Buffer{},
	}
	b, err := New(cfg,
		WithNotifier(h.notifier),
		WithBroadcaster(h.reloads),
		WithEmitter(events.NewEmitter(nil, h.events)),
		WithLintOutput(h.lintOut),
	)
	require.NoError(t, err)
	h.builder = b
	h.sched = scheduler.New()
	require.NoError(t, b.RegisterTasks(h.sched))
	return h
}

func (h *harness) script(name string) string {
	return filepath.Join(h.cfg.SrcDir, "scripts", name)
}

func (h *harness) dist(rel string) string {
	return filepath.Join(h.cfg.DistDir, filepath.FromSlash(rel))
}

func TestRegisterTasksCommandSurface(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{
		TaskClean, TaskCleanScripts, TaskCleanStyles, TaskLint, TaskBuildJS, TaskBuildCSS,
		TaskBuildHTML, TaskImages, TaskBrowserSync, TaskWatch, TaskBuild, TaskDefault, TaskRebundle,
	} {
		assert.True(t, h.sched.Has(name), name)
	}
}

func TestBuildProducesHashedScriptWithBannerAndManifest(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuild))

	entry, ok := h.builder.Manifest().Lookup("scripts/main.js")
	require.True(t, ok)
	assert.Regexp(t, `^main-[0-9a-f]{8}\.js$`, entry.Name)

	data, err := os.ReadFile(h.dist("scripts/" + entry.Name))
	require.NoError(t, err)
	banner := fmt.Sprintf("/*! demo v1.2.3 | (c) %d Jane Doe | https://example.com */\n", time.Now().Year())
	assert.True(t, strings.HasPrefix(string(data), banner), string(data))
	assert.Contains(t, string(data), "42")
	assert.Contains(t, string(data), "//# sourceMappingURL="+entry.Name+".map")
	assert.FileExists(t, h.dist("scripts/"+entry.Name+".map"))

	raw, err := os.ReadFile(h.cfg.ManifestPath())
	require.NoError(t, err)
	var manifest map[string]string
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, "/scripts/"+entry.Name, manifest["/scripts/main.js"])
	assert.Contains(t, manifest, "/css/site.css")

	assert.FileExists(t, h.dist("css/fonts/x.woff"))
	assert.FileExists(t, h.dist("images/logo.png"))
	assert.Empty(t, h.notifier.list())
}

func TestBuildIsDeterministic(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuild))
	first, _ := h.builder.Manifest().Lookup("scripts/main.js")

	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuild))
	second, _ := h.builder.Manifest().Lookup("scripts/main.js")
	assert.Equal(t, first.Hash, second.Hash)

	write(t, h.script("a.js"), "module.exports = { value: 4300 };\n")
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuild))
	third, _ := h.builder.Manifest().Lookup("scripts/main.js")
	assert.NotEqual(t, first.Hash, third.Hash)
}

func TestBuildHTMLReferencesHashedAssets(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuild))

	script, ok := h.builder.Manifest().Lookup("scripts/main.js")
	require.True(t, ok)
	style, ok := h.builder.Manifest().Lookup("css/site.css")
	require.True(t, ok)

	out, err := os.ReadFile(h.dist("index.html"))
	require.NoError(t, err)
	html := string(out)
	assert.Contains(t, html, `src="/scripts/`+script.Name+`"`)
	assert.Contains(t, html, `href="/css/`+style.Name+`"`)
	assert.NotContains(t, html, `"/scripts/main.js"`)
	assert.NotContains(t, html, `"/css/site.css"`)
	assert.Contains(t, html, `src="/images/logo.png"`)
	assert.Equal(t, 1, h.reloads.count("index.html"))
}

func TestCleanKeepsDestinationDirectory(t *testing.T) {
	h := newHarness(t)
	write(t, h.dist("stale.txt"), "old")
	write(t, h.dist("scripts/old-1234abcd.js"), "old")
	h.builder.Manifest().Register("scripts/old.js", []byte("x"))

	require.NoError(t, h.sched.RunTasks(t.Context(), TaskClean))

	info, err := os.Stat(h.cfg.DistDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	entries, err := os.ReadDir(h.cfg.DistDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, h.builder.Manifest().Len())
}

func TestCompileErrorNotifiesOnceThenRecovers(t *testing.T) {
	h := newHarness(t)
	main := h.script("main.js")
	write(t, main, "var a = require(\"./a\");\nfunction (\n")

	err := h.sched.RunTasks(t.Context(), TaskBuildJS)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryTransform))
	assert.Equal(t, errors.CategoryTransform, errors.GetCategory(err))

	calls := h.notifier.list()
	require.Len(t, calls, 1)
	assert.Equal(t, CompileErrorTitle, calls[0].Title)
	assert.Contains(t, calls[0].File, "main.js")
	assert.Len(t, h.events.OfKind(events.KindError), 1)

	write(t, main, "var a = require(\"./a\");\nconsole.log(a.value + 1);\n")
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuildJS))

	entry, ok := h.builder.Manifest().Lookup("scripts/main.js")
	require.True(t, ok)
	assert.FileExists(t, h.dist("scripts/"+entry.Name))
	assert.Len(t, h.notifier.list(), 1)
	assert.NotEmpty(t, h.events.OfKind(events.KindDone))
}

func TestLintIsAdvisoryUnlessGated(t *testing.T) {
	h := newHarness(t)
	write(t, h.script("main.js"), "debugger;\n")
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskLint))
	assert.Contains(t, h.lintOut.String(), "no-debugger")

	gated := newHarness(t, func(c *config.Config) { c.Lint.FailOnError = true })
	write(t, gated.script("main.js"), "debugger;\n")
	err := gated.sched.RunTasks(t.Context(), TaskLint)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryLint))
}

func TestMinifyCanBeDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { f := false; c.Minify = &f })
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuildJS))
	entry, ok := h.builder.Manifest().Lookup("scripts/main.js")
	require.True(t, ok)
	data, err := os.ReadFile(h.dist("scripts/" + entry.Name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "module.exports = { value: 42 }")
}

func TestWatchRebuildsOncePerBurst(t *testing.T) {
	h := newHarness(t)
	h.builder.lintOut = io.Discard
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuild))
	before := h.reloads.count("scripts/")
	require.Equal(t, 1, before)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.sched.RunTasks(ctx, TaskWatch) }()
	// Give the watchers time to register directories.
	time.Sleep(150 * time.Millisecond)

	a := h.script("a.js")
	for i := range 3 {
		write(t, a, fmt.Sprintf("module.exports = { value: %d };\n", 100+i))
	}

	require.Eventually(t, func() bool {
		return h.reloads.count("scripts/") == before+1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, before+1, h.reloads.count("scripts/"))
	assert.NotEmpty(t, h.events.OfKind(events.KindChanged))

	cancel()
	require.NoError(t, <-done)
}

func TestWatchSurvivesCompileError(t *testing.T) {
	h := newHarness(t)
	h.builder.lintOut = io.Discard
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuild))
	before := h.reloads.count("scripts/")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.sched.RunTasks(ctx, TaskWatch) }()
	time.Sleep(150 * time.Millisecond)

	a := h.script("a.js")
	write(t, a, "module.exports = {;\n")
	require.Eventually(t, func() bool { return len(h.notifier.list()) == 1 }, 5*time.Second, 10*time.Millisecond)

	write(t, a, "module.exports = { value: 7 };\n")
	require.Eventually(t, func() bool {
		return h.reloads.count("scripts/") == before+1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, h.notifier.list(), 1)

	cancel()
	require.NoError(t, <-done)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestWatchAloneBundlesFirstThenRebuilds(t *testing.T) {
	h := newHarness(t)
	h.builder.lintOut = io.Discard

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.sched.RunTasks(ctx, TaskWatch) }()

	require.Eventually(t, func() bool { return h.reloads.count("scripts/") == 1 }, 5*time.Second, 10*time.Millisecond)
	_, ok := h.builder.Manifest().Lookup("scripts/main.js")
	assert.True(t, ok)
	time.Sleep(150 * time.Millisecond)

	write(t, h.script("a.js"), "module.exports = { value: 5 };\n")
	require.Eventually(t, func() bool { return h.reloads.count("scripts/") == 2 }, 5*time.Second, 10*time.Millisecond)

	write(t, h.script("main.js"), "var a = require(\"./a\");\nconsole.log(a.value * 2);\n")
	require.Eventually(t, func() bool { return h.reloads.count("scripts/") == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.notifier.list())

	cancel()
	require.NoError(t, <-done)
}

func TestDefaultReachesWatchDespiteColdCompileError(t *testing.T) {
	port := freePort(t)
	h := newHarness(t, func(c *config.Config) { c.Server.Port = port })
	h.builder.lintOut = io.Discard
	write(t, h.script("main.js"), "var a = require(\"./a\");\nfunction (\n")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.sched.RunTasks(ctx, TaskDefault) }()

	require.Eventually(t, func() bool { return len(h.notifier.list()) == 1 }, 5*time.Second, 10*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("default returned early: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	_, ok := h.builder.Manifest().Lookup("scripts/main.js")
	assert.False(t, ok)
	assert.FileExists(t, h.dist("index.html"))

	write(t, h.script("main.js"), "var a = require(\"./a\");\nconsole.log(a.value);\n")
	require.Eventually(t, func() bool { return h.reloads.count("scripts/") == 1 }, 5*time.Second, 10*time.Millisecond)
	entry, ok := h.builder.Manifest().Lookup("scripts/main.js")
	require.True(t, ok)
	assert.FileExists(t, h.dist("scripts/"+entry.Name))
	assert.Len(t, h.notifier.list(), 1)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, h.builder.Wait())
}

func TestWatchRebuildsWhenRequiredModuleAppears(t *testing.T) {
	h := newHarness(t)
	h.builder.lintOut = io.Discard
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuild))
	before := h.reloads.count("scripts/")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.sched.RunTasks(ctx, TaskWatch) }()
	time.Sleep(150 * time.Millisecond)

	write(t, h.script("a.js"), "module.exports = { value: require(\"./b\") };\n")
	require.Eventually(t, func() bool { return len(h.notifier.list()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, before, h.reloads.count("scripts/"))

	write(t, h.script("b.js"), "module.exports = 9;\n")
	require.Eventually(t, func() bool {
		return h.reloads.count("scripts/") == before+1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, h.notifier.list(), 1)

	cancel()
	require.NoError(t, <-done)
}

func TestBuildOutsideWatchKeepsCompileError(t *testing.T) {
	h := newHarness(t)
	write(t, h.script("main.js"), "function (\n")
	err := h.sched.RunTasks(t.Context(), TaskBuild)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryTransform, errors.GetCategory(err))
}

func TestBuildCSSDropsDeletedStylesheetFromManifest(t *testing.T) {
	h := newHarness(t)
	extra := filepath.Join(h.cfg.SrcDir, "css", "extra.css")
	write(t, extra, "p { margin: 0; }\n")
	require.NoError(t, h.sched.RunTasks(t.Context(), TaskBuild))
	_, ok := h.builder.Manifest().Lookup("css/extra.css")
	require.True(t, ok)

	require.NoError(t, os.Remove(extra))
	require.NoError(t, h.sched.Run(t.Context(), StyleSequence...))

	_, ok = h.builder.Manifest().Lookup("css/extra.css")
	assert.False(t, ok)
	_, ok = h.builder.Manifest().Lookup("css/site.css")
	assert.True(t, ok)

	raw, err := os.ReadFile(h.cfg.ManifestPath())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "extra")
}

// Package server is the development preview server: it serves the dist
// tree with single-page-app history fallback, injects the live reload client
// into HTML pages and optionally exposes Prometheus metrics.
package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/livereload"
)

// Config configures the preview server.
type Config struct {
	// Root is the directory served, normally the dist root.
	Root string
	// Addr is the listen address, e.g. ":3000".
	Addr string
	// LiveReload injects the reload client and mounts the hub endpoints.
	LiveReload bool
}

// Server serves the built site.
type Server struct {
	cfg     Config
	hub     *livereload.Hub
	metrics http.Handler
	logger  *slog.Logger
	srv     *http.Server
	addr    chan string
}

// Option configures a Server.
type Option func(*Server)

// WithHub mounts the live reload hub.
func WithHub(h *livereload.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New returns an unstarted server.
func New(cfg Config, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	s := &Server{cfg: cfg, logger: slog.Default(), addr: make(chan string, 1)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the bound address once the server is listening.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case a := <-s.addr:
		s.addr <- a
		return a, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Handler returns the HTTP handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	var root http.Handler = http.HandlerFunc(s.serveStatic)
	if s.cfg.LiveReload && s.hub != nil {
		mux.Handle(livereload.EventPath, s.hub)
		mux.HandleFunc(livereload.ScriptPath, livereload.ServeScript)
		root = injectLiveReload(root)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.Handle("/", root)
	return mux
}

// Start listens and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return errors.RuntimeError("failed to bind preview server").WithCause(err).
			WithContext("addr", s.cfg.Addr).
			Build()
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams stay open; no write timeout.
		IdleTimeout: 300 * time.Second,
	}
	s.addr <- ln.Addr().String()
	s.logger.Info("Preview server listening", slog.String("addr", ln.Addr().String()), slog.String("root", s.cfg.Root))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		if s.hub != nil {
			s.hub.Shutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.RuntimeError("preview server failed").WithCause(err).Build()
	}
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	urlPath := path.Clean("/" + r.URL.Path)
	name := filepath.Join(s.cfg.Root, filepath.FromSlash(urlPath))

	info, err := os.Stat(name)
	if err == nil && info.IsDir() {
		name = filepath.Join(name, "index.html")
		info, err = os.Stat(name)
	}
	if err != nil {
		if !historyFallback(r, urlPath) {
			http.NotFound(w, r)
			return
		}
		name = filepath.Join(s.cfg.Root, "index.html")
		if info, err = os.Stat(name); err != nil {
			http.NotFound(w, r)
			return
		}
	}

	f, err := os.Open(name) // #nosec G304 -- confined to the served root by path.Clean
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// historyFallback reports whether a missing path should be answered with
// index.html: an HTML navigation (GET or HEAD accepting text/html) to a
// path whose last segment has no extension.
func historyFallback(r *http.Request, urlPath string) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "text/html") && !strings.Contains(accept, "*/*") {
		return false
	}
	return !strings.Contains(path.Base(urlPath), ".")
}

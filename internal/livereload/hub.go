// Package livereload pushes reload notifications to connected browsers over
// server-sent events.
package livereload

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetpipe/internal/metrics"
)

// EventPath is where browsers subscribe.
const EventPath = "/livereload"

// ScriptPath serves the client snippet.
const ScriptPath = "/livereload.js"

// Event is the payload of one reload notification.
type Event struct {
	Seq  uint64 `json:"seq"`
	Path string `json:"path,omitempty"`
}

// Hub manages SSE clients for reload broadcasts.
type Hub struct {
	mu       sync.RWMutex
	nextID   int
	clients  map[int]*client
	recorder metrics.Recorder
	closed   bool
	seq      uint64
	last     Event
}

type client struct {
	id   int
	ch   chan Event
	done chan struct{}
}

// NewHub returns an empty hub. A nil recorder disables metrics.
func NewHub(r metrics.Recorder) *Hub {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	return &Hub{clients: map[int]*client{}, recorder: r}
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the number of broadcasts so far.
func (h *Hub) Seq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ServeHTTP implements the SSE endpoint.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "livereload shutting down", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	c := &client{ch: make(chan Event, 8), done: make(chan struct{})}
	h.mu.Lock()
	c.id = h.nextID
	h.nextID++
	h.clients[c.id] = c
	current := h.last
	h.mu.Unlock()

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(": connected\n\n"); err != nil {
		slog.Debug("livereload write", "error", err)
		h.removeClient(c.id)
		return
	}
	// The first event tells the client the current sequence; it never reloads.
	if err := writeEvent(bw, current); err != nil {
		h.removeClient(c.id)
		return
	}
	if err := bw.Flush(); err == nil {
		flusher.Flush()
	}

	hb := time.NewTicker(30 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.removeClient(c.id)
			return
		case <-c.done:
			h.removeClient(c.id)
			return
		case <-hb.C:
			if _, err := bw.WriteString(": ping\n\n"); err == nil {
				_ = bw.Flush()
				flusher.Flush()
			} else {
				slog.Debug("livereload ping write", "error", err)
			}
		case ev := <-c.ch:
			if err := writeEvent(bw, ev); err == nil {
				_ = bw.Flush()
				flusher.Flush()
			} else {
				slog.Debug("livereload broadcast write", "error", err)
			}
		}
	}
}

func writeEvent(bw *bufio.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = bw.WriteString("data: " + string(data) + "\n\n")
	return err
}

func (h *Hub) removeClient(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.done)
	}
}

// Reload broadcasts a change of path to every client. Clients whose buffers
// are full are dropped.
func (h *Hub) Reload(_ context.Context, path string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.seq++
	ev := Event{Seq: h.seq, Path: path}
	h.last = ev
	snapshot := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	dropped := 0
	for _, c := range snapshot {
		select {
		case c.ch <- ev:
		default:
			dropped++
			h.removeClient(c.id)
		}
	}
	h.recorder.IncReloadBroadcast()
	slog.Debug("livereload broadcast", "path", path, "clients", len(snapshot), "dropped", dropped)
}

// Shutdown closes all clients and prevents future broadcasts.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = map[int]*client{}
	h.mu.Unlock()
	for _, c := range clients {
		close(c.done)
	}
}

// ServeScript serves the client snippet.
func ServeScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(Script))
}

// Script is the browser side of the hub.
const Script = `(() => {
  if (window.__ASSETPIPE_LR__) return;
  window.__ASSETPIPE_LR__ = true;
  let current = null;
  function connect() {
    const es = new EventSource('` + EventPath + `');
    es.onmessage = (e) => {
      try {
        const ev = JSON.parse(e.data);
        if (current === null) { current = ev.seq; return; }
        if (ev.seq > current) { console.log('[assetpipe] ' + (ev.path || 'change') + ' updated, reloading'); location.reload(); }
      } catch (_) {}
    };
    es.onerror = () => { es.close(); setTimeout(connect, 2000); };
  }
  connect();
})();
`

// Snippet is the tag injected into served HTML pages.
const Snippet = `<script src="` + ScriptPath + `"></script>`

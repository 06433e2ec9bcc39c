// Package cachebust owns the asset manifest: the mapping from logical asset
// paths to their current content-hashed filenames.
//
// Producers (the script and style pipelines) call Register after an artifact
// is finalized; consumers (the markup pipeline) call Rewrite. Correctness of
// Rewrite for a given asset depends on the producing task having completed
// first, which the task graph guarantees by ordering build-html after the
// script and style tasks.
package cachebust

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
	"sync"

	"git.home.luguber.info/inful/assetpipe/internal/hasher"
)

// Entry is one manifest record.
type Entry struct {
	Logical string `json:"logical"`
	Name    string `json:"name"`
	Hash    string `json:"hash"`
}

// HashedPath is the logical path with the hashed filename substituted.
func (e Entry) HashedPath() string {
	return path.Join(path.Dir(e.Logical), e.Name)
}

// Coordinator is the single owner of the asset manifest. One instance is
// created per process and handed to every stage that needs it.
type Coordinator struct {
	hasher *hasher.Hasher

	mu         sync.RWMutex
	entries    map[string]Entry
	generation uint64
}

// New returns an empty coordinator.
func New(h *hasher.Hasher) *Coordinator {
	if h == nil {
		h = hasher.New(hasher.DefaultLength)
	}
	return &Coordinator{hasher: h, entries: make(map[string]Entry)}
}

// NormalizeLogical turns "scripts/main.js", "./scripts/main.js" and
// "/scripts//main.js" into "/scripts/main.js".
func NormalizeLogical(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "./"))
}

// Register hashes data, records logicalPath -> hashed filename and returns
// the hashed filename (base name only, e.g. "main-ab12cd34.js").
func (c *Coordinator) Register(logicalPath string, data []byte) string {
	logical := NormalizeLogical(logicalPath)
	hash := c.hasher.Sum(data)
	name := hasher.HashedName(path.Base(logical), hash)

	c.mu.Lock()
	c.entries[logical] = Entry{Logical: logical, Name: name, Hash: hash}
	c.generation++
	c.mu.Unlock()
	return name
}

// Lookup returns the current entry for a logical path.
func (c *Coordinator) Lookup(logicalPath string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[NormalizeLogical(logicalPath)]
	return e, ok
}

// Generation increases with every change to the manifest: Register,
// Unregister and Reset. It never decreases.
func (c *Coordinator) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Len returns the number of registered assets.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns logical path -> hashed path for every registered asset.
func (c *Coordinator) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entries))
	for k, e := range c.entries {
		out[k] = e.HashedPath()
	}
	return out
}

// Entries returns all entries sorted by logical path.
func (c *Coordinator) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Logical < out[j].Logical })
	return out
}

// Unregister forgets one logical path and reports whether it was present.
func (c *Coordinator) Unregister(logicalPath string) bool {
	logical := NormalizeLogical(logicalPath)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[logical]; !ok {
		return false
	}
	delete(c.entries, logical)
	c.generation++
	return true
}

// Reset forgets every entry. Only a full clean should call it.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.generation++
	c.mu.Unlock()
}

// MarshalManifest renders the snapshot as indented JSON with sorted keys.
func (c *Coordinator) MarshalManifest() ([]byte, error) {
	data, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

package cachebust

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetpipe/internal/hasher"
)

func TestRegisterIsDeterministic(t *testing.T) {
	c := New(hasher.New(8))

	first := c.Register("scripts/main.js", []byte("console.log(1)"))
	second := c.Register("scripts/main.js", []byte("console.log(1)"))
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "main-"))
	assert.True(t, strings.HasSuffix(first, ".js"))
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(first, "main-"), ".js"), 8)

	changed := c.Register("scripts/main.js", []byte("console.log(2)"))
	assert.NotEqual(t, first, changed)

	e, ok := c.Lookup("/scripts/main.js")
	require.True(t, ok)
	assert.Equal(t, changed, e.Name)
	assert.Equal(t, "/scripts/"+changed, e.HashedPath())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(3), c.Generation())
}

func TestNormalizeLogical(t *testing.T) {
	for _, in := range []string{"scripts/main.js", "./scripts/main.js", "/scripts//main.js", "/scripts/../scripts/main.js"} {
		assert.Equal(t, "/scripts/main.js", NormalizeLogical(in), in)
	}
}

func TestSnapshotAndReset(t *testing.T) {
	c := New(nil)
	js := c.Register("scripts/main.js", []byte("a"))
	css := c.Register("styles/site.css", []byte("b"))

	snap := c.Snapshot()
	assert.Equal(t, map[string]string{
		"/scripts/main.js": "/scripts/" + js,
		"/styles/site.css": "/styles/" + css,
	}, snap)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "/scripts/main.js", entries[0].Logical)

	data, err := c.MarshalManifest()
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, snap, decoded)

	gen := c.Generation()
	c.Reset()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Lookup("scripts/main.js")
	assert.False(t, ok)
	assert.Greater(t, c.Generation(), gen)
}

func TestUnregister(t *testing.T) {
	c := New(nil)
	c.Register("css/a.css", []byte("a"))
	c.Register("css/b.css", []byte("b"))
	gen := c.Generation()

	assert.True(t, c.Unregister("/css/a.css"))
	assert.False(t, c.Unregister("css/a.css"))
	assert.Equal(t, gen+1, c.Generation())
	_, ok := c.Lookup("css/a.css")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestConcurrentRegisterAndLookup(t *testing.T) {
	c := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Register("scripts/main.js", []byte("same"))
		}()
		go func() {
			defer wg.Done()
			_, _ = c.Lookup("scripts/main.js")
			_ = c.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}

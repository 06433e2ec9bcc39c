package cachebust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistered(t *testing.T) (*Coordinator, string, string) {
	t.Helper()
	c := New(nil)
	js := c.Register("scripts/main.js", []byte("console.log('x')"))
	css := c.Register("styles/site.css", []byte("body{}"))
	return c, js, css
}

func TestRewriteReplacesRegisteredReferences(t *testing.T) {
	c, js, css := newRegistered(t)
	in := `<!DOCTYPE html>
<html><head>
<link rel="stylesheet" href="/styles/site.css">
<script src="scripts/main.js?v=1"></script>
</head><body><img SRC="./images/logo.png"></body></html>`

	out, err := c.Rewrite([]byte(in))
	require.NoError(t, err)
	got := string(out)

	assert.Contains(t, got, `href="/styles/`+css+`"`)
	assert.Contains(t, got, `src="scripts/`+js+`?v=1"`)
	// Unregistered tags keep their raw bytes, including attribute case.
	assert.Contains(t, got, `<img SRC="./images/logo.png">`)
	assert.Contains(t, got, "<!DOCTYPE html>")
}

func TestRewriteIsStableWithoutChanges(t *testing.T) {
	c := New(nil)
	in := "<html><body><p class=x>Hello &amp; bye</p><!-- note --></body></html>"
	out, err := c.Rewrite([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestRewriteTracksContentChanges(t *testing.T) {
	c := New(nil)
	in := []byte(`<script src="/scripts/main.js"></script>`)

	c.Register("scripts/main.js", []byte("v1"))
	first, err := c.Rewrite(in)
	require.NoError(t, err)

	again, err := c.Rewrite(in)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	c.Register("scripts/main.js", []byte("v2"))
	second, err := c.Rewrite(in)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestRewriteReference(t *testing.T) {
	c, js, _ := newRegistered(t)

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/scripts/main.js", "/scripts/" + js, true},
		{"./scripts/main.js", "./scripts/" + js, true},
		{"scripts/main.js#top", "scripts/" + js + "#top", true},
		{"https://cdn.example.com/scripts/main.js", "", false},
		{"//cdn.example.com/scripts/main.js", "", false},
		{"data:text/javascript,1", "", false},
		{"mailto:someone@example.com", "", false},
		{"/scripts/other.js", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := c.RewriteReference(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumIsDeterministic(t *testing.T) {
	h := New(DefaultLength)
	a := h.Sum([]byte("console.log(1);"))
	b := h.Sum([]byte("console.log(1);"))
	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultLength)
}

func TestSumIsByteSensitive(t *testing.T) {
	h := New(DefaultLength)
	assert.NotEqual(t, h.Sum([]byte("console.log(1);")), h.Sum([]byte("console.log(2);")))
}

func TestNewClampsLength(t *testing.T) {
	assert.Len(t, New(0).Sum(nil), DefaultLength)
	assert.Len(t, New(1000).Sum(nil), DefaultLength)
	assert.Len(t, New(12).Sum(nil), 12)
}

func TestHashedName(t *testing.T) {
	cases := map[string]string{
		"main.js":          "main-abc.js",
		"scripts/main.js":  "scripts/main-abc.js",
		"css/app.min.css":  "css/app.min-abc.css",
		"LICENSE":          "LICENSE-abc",
		"/scripts/main.js": "/scripts/main-abc.js",
	}
	for in, want := range cases {
		assert.Equal(t, want, HashedName(in, "abc"), in)
	}
}

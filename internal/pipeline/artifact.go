// Package pipeline runs finished assets through an ordered list of stages
// (hashing, source maps, minification, banner, writing, reload).
package pipeline

import (
	"io"
	"path"
	"strings"

	"git.home.luguber.info/inful/assetpipe/internal/sourcemap"
)

// Kind identifies the flavor of an artifact.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
)

// KindFor guesses an artifact kind from its path.
func KindFor(p string) Kind {
	if strings.EqualFold(path.Ext(p), ".css") {
		return KindStyle
	}
	return KindScript
}

// Artifact is one file flowing through a pipeline.
type Artifact struct {
	// Path is the logical destination path relative to the dist root,
	// slash separated, e.g. "scripts/main.js".
	Path string
	// OutputPath is Path after cache busting; empty until the cachebust
	// stage runs, in which case Path is written as is.
	OutputPath string
	Kind       Kind
	// Source is the file the artifact was produced from, for diagnostics.
	Source string

	// Reader is an unread body. The buffer stage drains it into Contents.
	Reader   io.Reader
	Contents []byte

	Map     *sourcemap.Map
	MapData []byte

	Hash string
	// Written lists files written by the dest stage, relative to the dist root.
	Written []string
}

// Target returns the path the artifact is written to.
func (a *Artifact) Target() string {
	if a.OutputPath != "" {
		return a.OutputPath
	}
	return a.Path
}

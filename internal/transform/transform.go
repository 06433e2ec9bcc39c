// Package transform compiles individual source modules into browser-ready
// code. The bundler and the style pipeline depend only on the interfaces
// declared here; esbuild backs the default implementations.
package transform

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/sourcemap"
)

// Result is the output of a single transform.
type Result struct {
	Code []byte
	Map  *sourcemap.Map
}

// Transformer turns one source module into CommonJS code that the bundler
// prelude can load.
type Transformer interface {
	Transform(ctx context.Context, path string, src []byte) (*Result, error)
}

// Esbuild is the default Transformer. JSX, TypeScript and modern syntax are
// lowered to ES2015; ES module syntax is rewritten to require/module.exports.
type Esbuild struct {
	// SourceRoot makes source map paths relative. Empty keeps them absolute.
	SourceRoot string
}

// NewEsbuild returns a transformer whose maps reference sources relative to root.
func NewEsbuild(root string) *Esbuild {
	return &Esbuild{SourceRoot: root}
}

// LoaderFor picks the esbuild loader from a file extension.
func LoaderFor(path string) (api.Loader, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return api.LoaderJS, true
	case ".jsx":
		return api.LoaderJSX, true
	case ".ts", ".mts", ".cts":
		return api.LoaderTS, true
	case ".tsx":
		return api.LoaderTSX, true
	case ".json":
		return api.LoaderJSON, true
	case ".css":
		return api.LoaderCSS, true
	default:
		return api.LoaderNone, false
	}
}

// Transform implements Transformer.
func (e *Esbuild) Transform(ctx context.Context, path string, src []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loader, ok := LoaderFor(path)
	if !ok || loader == api.LoaderCSS {
		return nil, errors.TransformError("unsupported script type").
			WithContext("file", path).
			Build()
	}

	result := api.Transform(string(src), api.TransformOptions{
		Loader:         loader,
		Format:         api.FormatCommonJS,
		Target:         api.ES2015,
		Sourcemap:      api.SourceMapExternal,
		SourcesContent: api.SourcesContentInclude,
		Sourcefile:     e.sourceName(path),
		LogLevel:       api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, MessageError(path, result.Errors[0])
	}
	return newResult(result)
}

func (e *Esbuild) sourceName(path string) string {
	if e.SourceRoot == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(e.SourceRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func newResult(result api.TransformResult) (*Result, error) {
	out := &Result{Code: result.Code}
	if len(result.Map) > 0 {
		m, err := sourcemap.Parse(result.Map)
		if err != nil {
			return nil, err
		}
		out.Map = m
	}
	return out, nil
}

// MessageError converts an esbuild diagnostic into a transform error
// carrying file, line and column context.
func MessageError(path string, msg api.Message) error {
	b := errors.TransformError(msg.Text).WithContext("file", path)
	if loc := msg.Location; loc != nil {
		b = b.WithContext("line", loc.Line).
			WithContext("column", loc.Column).
			WithContext("line_text", loc.LineText)
	}
	return b.Build()
}

// Location renders "file:line:column" for a diagnostic.
func Location(path string, msg api.Message) string {
	if msg.Location == nil {
		return path
	}
	return fmt.Sprintf("%s:%d:%d", path, msg.Location.Line, msg.Location.Column)
}

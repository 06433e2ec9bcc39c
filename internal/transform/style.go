package transform

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// StyleCompiler compiles stylesheets. Plain CSS goes straight through
// esbuild; Sass sources are first piped through an external compiler.
type StyleCompiler struct {
	// Command is the Sass compiler invocation, e.g. "sass --stdin".
	// It reads the source on stdin and writes CSS to stdout.
	Command string
	// SourceRoot makes source map paths relative.
	SourceRoot string
}

// styleEngines drive esbuild's vendor prefixing.
var styleEngines = []api.Engine{
	{Name: api.EngineChrome, Version: "58"},
	{Name: api.EngineFirefox, Version: "57"},
	{Name: api.EngineSafari, Version: "11"},
	{Name: api.EngineEdge, Version: "16"},
}

// IsStyle reports whether path is a stylesheet the compiler accepts.
func IsStyle(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".css", ".scss", ".sass":
		return true
	}
	return false
}

// IsPartial reports whether path is a Sass partial (_name.scss), which is
// only compiled as part of another stylesheet.
func IsPartial(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "_")
}

// Compile returns CSS and a source map for one stylesheet.
func (s *StyleCompiler) Compile(ctx context.Context, path string, src []byte) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	css := src
	switch ext {
	case ".css":
	case ".scss", ".sass":
		var err error
		if css, err = s.runSass(ctx, path, src); err != nil {
			return nil, err
		}
	default:
		return nil, errors.TransformError("unsupported stylesheet type").
			WithContext("file", path).
			Build()
	}

	sourcefile := filepath.ToSlash(path)
	if s.SourceRoot != "" {
		if rel, err := filepath.Rel(s.SourceRoot, path); err == nil {
			sourcefile = filepath.ToSlash(rel)
		}
	}
	result := api.Transform(string(css), api.TransformOptions{
		Loader:         api.LoaderCSS,
		Engines:        styleEngines,
		Sourcemap:      api.SourceMapExternal,
		SourcesContent: api.SourcesContentInclude,
		Sourcefile:     sourcefile,
		LogLevel:       api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, MessageError(path, result.Errors[0])
	}
	return newResult(result)
}

func (s *StyleCompiler) runSass(ctx context.Context, path string, src []byte) ([]byte, error) {
	args := strings.Fields(s.Command)
	if len(args) == 0 {
		return nil, errors.ConfigError("style.command is required to compile Sass").
			WithContext("file", path).
			Build()
	}
	if strings.EqualFold(filepath.Ext(path), ".sass") {
		args = append(args, "--indented")
	}
	// #nosec G204 -- command comes from the project configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = filepath.Dir(path)
	cmd.Stdin = bytes.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "sass compilation failed"
		}
		return nil, errors.WrapError(err, errors.CategoryTransform, msg).
			WithRetry(errors.RetryUserAction).
			WithContext("file", path).
			Build()
	}
	return stdout.Bytes(), nil
}

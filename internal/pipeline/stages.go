package pipeline

import (
	"bytes"
	"context"
	"io"
	"path"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/assetpipe/internal/fsutil"
	"git.home.luguber.info/inful/assetpipe/internal/sourcemap"
	"git.home.luguber.info/inful/assetpipe/internal/transform"
)

// Stage names understood by the registry.
const (
	StageBuffer          = "buffer"
	StageCachebust       = "cachebust"
	StageSourcemapsInit  = "sourcemaps-init"
	StageMinify          = "minify"
	StageBanner          = "banner"
	StageSourcemapsWrite = "sourcemaps-write"
	StageDest            = "dest"
	StageReload          = "reload"
)

func bufferStage(Deps) Stage {
	return StageFunc{StageName: StageBuffer, Fn: func(_ context.Context, a *Artifact) error {
		if a.Reader == nil {
			return nil
		}
		data, err := io.ReadAll(a.Reader)
		if err != nil {
			return err
		}
		a.Contents = data
		a.Reader = nil
		return nil
	}}
}

func cachebustStage(d Deps) Stage {
	return StageFunc{StageName: StageCachebust, Fn: func(_ context.Context, a *Artifact) error {
		if d.Manifest == nil {
			return nil
		}
		name := d.Manifest.Register(a.Path, a.Contents)
		a.OutputPath = path.Join(path.Dir(a.Path), name)
		if e, ok := d.Manifest.Lookup(a.Path); ok {
			a.Hash = e.Hash
		}
		if d.Recorder != nil {
			d.Recorder.SetManifestEntries(d.Manifest.Len())
		}
		return nil
	}}
}

func sourcemapsInitStage(Deps) Stage {
	return StageFunc{StageName: StageSourcemapsInit, Fn: func(_ context.Context, a *Artifact) error {
		if a.Map == nil {
			a.Map = sourcemap.Identity(path.Base(a.Path), a.Path, a.Contents)
		}
		return nil
	}}
}

func minifyStage(Deps) Stage {
	return StageFunc{StageName: StageMinify, Fn: func(ctx context.Context, a *Artifact) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		loader := api.LoaderJS
		if a.Kind == KindStyle {
			loader = api.LoaderCSS
		}
		result := api.Transform(string(a.Contents), api.TransformOptions{
			Loader:            loader,
			MinifyWhitespace:  true,
			MinifyIdentifiers: true,
			MinifySyntax:      true,
			Sourcemap:         api.SourceMapExternal,
			Sourcefile:        a.Path,
			LogLevel:          api.LogLevelSilent,
		})
		if len(result.Errors) > 0 {
			return transform.MessageError(a.Path, result.Errors[0])
		}
		a.Contents = result.Code
		if len(result.Map) == 0 {
			return nil
		}
		minMap, err := sourcemap.Parse(result.Map)
		if err != nil {
			return err
		}
		if a.Map == nil {
			a.Map = minMap
			return nil
		}
		composed, err := sourcemap.Compose(minMap, a.Map)
		if err != nil {
			return err
		}
		a.Map = composed
		return nil
	}}
}

func bannerStage(d Deps) Stage {
	return StageFunc{StageName: StageBanner, Fn: func(_ context.Context, a *Artifact) error {
		if d.Banner == "" {
			return nil
		}
		text := d.Banner
		if text[len(text)-1] != '\n' {
			text += "\n"
		}
		a.Contents = append([]byte(text), a.Contents...)
		if a.Map != nil {
			a.Map.ShiftLines(bytes.Count([]byte(text), []byte("\n")))
		}
		return nil
	}}
}

func sourcemapsWriteStage(Deps) Stage {
	return StageFunc{StageName: StageSourcemapsWrite, Fn: func(_ context.Context, a *Artifact) error {
		if a.Map == nil {
			return nil
		}
		base := path.Base(a.Target())
		a.Map.File = base

		if n := len(a.Contents); n > 0 && a.Contents[n-1] != '\n' {
			a.Contents = append(a.Contents, '\n')
		}
		if a.Kind == KindStyle {
			a.Contents = append(a.Contents, "/*# sourceMappingURL="+base+".map */\n"...)
		} else {
			a.Contents = append(a.Contents, "//# sourceMappingURL="+base+".map\n"...)
		}

		data, err := a.Map.Bytes()
		if err != nil {
			return err
		}
		a.MapData = data
		return nil
	}}
}

func destStage(d Deps) Stage {
	return StageFunc{StageName: StageDest, Fn: func(ctx context.Context, a *Artifact) error {
		rel := a.Target()
		target := filepath.Join(d.DestRoot, filepath.FromSlash(rel))
		if err := fsutil.WriteFile(ctx, target, a.Contents); err != nil {
			return err
		}
		a.Written = append(a.Written, rel)
		if a.MapData != nil {
			if err := fsutil.WriteFile(ctx, target+".map", a.MapData); err != nil {
				return err
			}
			a.Written = append(a.Written, rel+".map")
		}
		if d.Recorder != nil {
			d.Recorder.SetBundleBytes(a.Path, len(a.Contents))
		}
		return nil
	}}
}

func reloadStage(d Deps) Stage {
	return StageFunc{StageName: StageReload, Fn: func(ctx context.Context, a *Artifact) error {
		if d.Broadcaster != nil {
			d.Broadcaster.Reload(ctx, a.Target())
		}
		return nil
	}}
}

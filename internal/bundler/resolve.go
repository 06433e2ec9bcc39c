package bundler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// probeExtensions are tried, in order, for specifiers without an extension.
var probeExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".json"}

// resolve maps a require specifier seen in fromFile to a file on disk.
func resolve(root, fromFile, spec string) (string, bool) {
	fromDir := filepath.Dir(fromFile)
	switch {
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"), spec == ".", spec == "..":
		return probe(filepath.Join(fromDir, filepath.FromSlash(spec)))
	case strings.HasPrefix(spec, "/"):
		return probe(filepath.Join(root, filepath.FromSlash(spec)))
	default:
		return resolvePackage(fromDir, spec)
	}
}

// candidates lists the files that would satisfy a relative or root-absolute
// specifier if they existed. Package specifiers yield nothing.
func candidates(root, fromFile, spec string) []string {
	var base string
	switch {
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"), spec == ".", spec == "..":
		base = filepath.Join(filepath.Dir(fromFile), filepath.FromSlash(spec))
	case strings.HasPrefix(spec, "/"):
		base = filepath.Join(root, filepath.FromSlash(spec))
	default:
		return nil
	}
	out := []string{base}
	for _, ext := range probeExtensions {
		out = append(out, base+ext)
	}
	for _, ext := range probeExtensions {
		out = append(out, filepath.Join(base, "index"+ext))
	}
	return out
}

// resolvePackage walks up from dir looking for node_modules/<spec>.
func resolvePackage(dir, spec string) (string, bool) {
	for {
		candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(spec))
		if p, ok := probe(candidate); ok {
			return p, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func probe(base string) (string, bool) {
	if isFile(base) {
		return base, true
	}
	for _, ext := range probeExtensions {
		if isFile(base + ext) {
			return base + ext, true
		}
	}
	if !isDir(base) {
		return "", false
	}
	if main, ok := packageMain(base); ok {
		if p, ok := probe(filepath.Join(base, filepath.FromSlash(main))); ok {
			return p, true
		}
	}
	for _, ext := range probeExtensions {
		idx := filepath.Join(base, "index"+ext)
		if isFile(idx) {
			return idx, true
		}
	}
	return "", false
}

func packageMain(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json")) // #nosec G304 -- resolved from the source tree
	if err != nil {
		return "", false
	}
	var pkg struct {
		Main    string `json:"main"`
		Browser any    `json:"browser"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", false
	}
	if b, ok := pkg.Browser.(string); ok && b != "" {
		return b, true
	}
	return pkg.Main, pkg.Main != ""
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

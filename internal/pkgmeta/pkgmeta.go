// Package pkgmeta reads the project's package.json for the output banner.
package pkgmeta

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// Meta is the subset of package.json used by the build.
type Meta struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Homepage string `json:"homepage"`
	Author   Author `json:"author"`
}

// Author accepts both `"author": "Jane <jane@example.com>"` and
// `"author": {"name": "Jane"}`.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Author) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		name := s
		if i := strings.IndexAny(s, "<("); i >= 0 {
			name = strings.TrimSpace(s[:i])
		}
		a.Name = name
		return nil
	}
	type plain Author
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Author(p)
	return nil
}

// Load reads path. A missing file yields an empty Meta.
func Load(path string) (*Meta, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- configured package file
	if stderrors.Is(err, fs.ErrNotExist) {
		return &Meta{}, nil
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read package metadata").
			WithContext("path", path).
			Build()
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid package metadata").
			WithContext("path", path).
			Build()
	}
	return &m, nil
}

// Banner renders the license comment prepended to built assets:
//
//	/*! name vX | (c) YEAR author | homepage */
//
// An empty Meta renders no banner.
func (m *Meta) Banner(year int) string {
	if m == nil || m.Name == "" {
		return ""
	}
	parts := []string{m.Name}
	if m.Version != "" {
		parts[0] += " v" + m.Version
	}
	copyright := fmt.Sprintf("(c) %d", year)
	if m.Author.Name != "" {
		copyright += " " + m.Author.Name
	}
	parts = append(parts, copyright)
	if m.Homepage != "" {
		parts = append(parts, m.Homepage)
	}
	return "/*! " + strings.Join(parts, " | ") + " */\n"
}

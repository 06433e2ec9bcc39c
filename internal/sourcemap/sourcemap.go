// Package sourcemap reads, writes and combines version 3 source maps.
//
// Only the operations the asset pipeline needs are implemented: decoding the
// VLQ mappings into segments, concatenating per-module maps into a bundle map
// at line offsets, shifting a map when lines are prepended, and composing a
// map produced by a later pass (minification) with the map of its input.
package sourcemap

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// Map is the JSON form of a version 3 source map.
type Map struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	SourceRoot     string   `json:"sourceRoot,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// Segment is one decoded mapping. Columns and lines are zero based.
type Segment struct {
	GenCol    int
	Source    int
	SrcLine   int
	SrcCol    int
	Name      int
	HasSource bool
	HasName   bool
}

// Parse decodes a source map document.
func Parse(data []byte) (*Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid source map").Build()
	}
	if m.Version != 3 {
		return nil, errors.ValidationError("unsupported source map version").WithContext("version", m.Version).Build()
	}
	return &m, nil
}

// Bytes serializes the map.
func (m *Map) Bytes() ([]byte, error) {
	if m.Sources == nil {
		m.Sources = []string{}
	}
	if m.Names == nil {
		m.Names = []string{}
	}
	return json.Marshal(m)
}

// Decode returns the segments of every generated line.
func (m *Map) Decode() ([][]Segment, error) {
	return DecodeMappings(m.Mappings)
}

// ShiftLines moves every mapping down by n generated lines.
func (m *Map) ShiftLines(n int) {
	if n <= 0 {
		return
	}
	m.Mappings = strings.Repeat(";", n) + m.Mappings
}

// Identity maps each line of content onto the same line of source.
func Identity(file, source string, content []byte) *Map {
	lineCount := bytes.Count(content, []byte("\n")) + 1
	lines := make([][]Segment, lineCount)
	for i := range lines {
		lines[i] = []Segment{{GenCol: 0, Source: 0, SrcLine: i, SrcCol: 0, HasSource: true}}
	}
	return &Map{
		Version:        3,
		File:           file,
		Sources:        []string{source},
		SourcesContent: []string{string(content)},
		Names:          []string{},
		Mappings:       EncodeMappings(lines),
	}
}

// Builder concatenates maps of consecutive chunks into one map.
type Builder struct {
	file     string
	sources  []string
	contents []string
	names    []string
	lines    [][]Segment
}

// NewBuilder returns an empty builder for the generated file.
func NewBuilder(file string) *Builder {
	return &Builder{file: file}
}

// Add places m so that its first generated line lands on lineOffset.
func (b *Builder) Add(lineOffset int, m *Map) error {
	decoded, err := m.Decode()
	if err != nil {
		return err
	}
	sourceBase := len(b.sources)
	nameBase := len(b.names)
	for i, src := range m.Sources {
		b.sources = append(b.sources, src)
		content := ""
		if i < len(m.SourcesContent) {
			content = m.SourcesContent[i]
		}
		b.contents = append(b.contents, content)
	}
	b.names = append(b.names, m.Names...)

	for i, line := range decoded {
		target := lineOffset + i
		for len(b.lines) <= target {
			b.lines = append(b.lines, nil)
		}
		for _, seg := range line {
			if seg.HasSource {
				seg.Source += sourceBase
			}
			if seg.HasName {
				seg.Name += nameBase
			}
			b.lines[target] = append(b.lines[target], seg)
		}
	}
	return nil
}

// Map returns the combined map.
func (b *Builder) Map() *Map {
	return &Map{
		Version:        3,
		File:           b.file,
		Sources:        append([]string{}, b.sources...),
		SourcesContent: append([]string{}, b.contents...),
		Names:          append([]string{}, b.names...),
		Mappings:       EncodeMappings(b.lines),
	}
}

// Compose returns a map from outer's generated file to inner's sources.
// outer must describe a transformation whose input is inner's generated file.
// Outer segments that land outside any inner mapping are dropped.
func Compose(outer, inner *Map) (*Map, error) {
	outerLines, err := outer.Decode()
	if err != nil {
		return nil, err
	}
	innerLines, err := inner.Decode()
	if err != nil {
		return nil, err
	}

	names := append([]string{}, inner.Names...)
	nameIndex := make(map[string]int, len(names))
	for i, n := range names {
		nameIndex[n] = i
	}

	result := make([][]Segment, len(outerLines))
	for li, line := range outerLines {
		for _, seg := range line {
			if !seg.HasSource || seg.SrcLine >= len(innerLines) {
				continue
			}
			target, ok := lookup(innerLines[seg.SrcLine], seg.SrcCol)
			if !ok || !target.HasSource {
				continue
			}
			out := Segment{
				GenCol:    seg.GenCol,
				Source:    target.Source,
				SrcLine:   target.SrcLine,
				SrcCol:    target.SrcCol,
				HasSource: true,
			}
			if seg.HasName && seg.Name < len(outer.Names) {
				name := outer.Names[seg.Name]
				idx, exists := nameIndex[name]
				if !exists {
					idx = len(names)
					names = append(names, name)
					nameIndex[name] = idx
				}
				out.Name, out.HasName = idx, true
			} else if target.HasName {
				out.Name, out.HasName = target.Name, true
			}
			result[li] = append(result[li], out)
		}
	}

	return &Map{
		Version:        3,
		File:           outer.File,
		SourceRoot:     inner.SourceRoot,
		Sources:        append([]string{}, inner.Sources...),
		SourcesContent: append([]string{}, inner.SourcesContent...),
		Names:          names,
		Mappings:       EncodeMappings(result),
	}, nil
}

// lookup finds the segment covering col: the last one starting at or before it.
func lookup(line []Segment, col int) (Segment, bool) {
	i := sort.Search(len(line), func(i int) bool { return line[i].GenCol > col })
	if i == 0 {
		return Segment{}, false
	}
	return line[i-1], true
}

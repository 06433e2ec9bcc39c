package sourcemap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVLQ(t *testing.T) {
	cases := map[int]string{0: "A", 1: "C", -1: "D", 15: "e", 16: "gB", -16: "hB", 1000: "w+B"}
	for v, want := range cases {
		var sb strings.Builder
		encodeVLQ(&sb, v)
		assert.Equal(t, want, sb.String(), "encode %d", v)

		got, next, err := decodeVLQ(want, 0)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(want), next)
	}
}

func TestDecodeMappings(t *testing.T) {
	lines, err := DecodeMappings("AAAA,EAAE;AACA;;IACAC")
	require.NoError(t, err)
	require.Len(t, lines, 4)

	assert.Equal(t, []Segment{
		{GenCol: 0, Source: 0, SrcLine: 0, SrcCol: 0, HasSource: true},
		{GenCol: 2, Source: 0, SrcLine: 0, SrcCol: 2, HasSource: true},
	}, lines[0])
	assert.Equal(t, []Segment{{GenCol: 0, SrcLine: 1, SrcCol: 2, HasSource: true}}, lines[1])
	assert.Empty(t, lines[2])
	assert.Equal(t, []Segment{{GenCol: 4, SrcLine: 2, SrcCol: 2, Name: 1, HasSource: true, HasName: true}}, lines[3])
}

func TestEncodeRoundTrip(t *testing.T) {
	in := "AAAA,EAAE;AACA;;IACAC,CAAC;A"
	lines, err := DecodeMappings(in)
	require.NoError(t, err)
	assert.Equal(t, in, EncodeMappings(lines))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeMappings("AA!A")
	require.Error(t, err)
	_, err = DecodeMappings("g")
	require.Error(t, err)
}

func TestIdentity(t *testing.T) {
	m := Identity("app.css", "css/app.css", []byte("a{}\nb{}\n"))
	lines, err := m.Decode()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	for i, line := range lines {
		require.Len(t, line, 1)
		assert.Equal(t, i, line[0].SrcLine)
	}
	assert.Equal(t, []string{"css/app.css"}, m.Sources)
}

func TestShiftLines(t *testing.T) {
	m := &Map{Version: 3, Mappings: "AAAA"}
	m.ShiftLines(1)
	lines, err := m.Decode()
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Empty(t, lines[0])
	assert.Len(t, lines[1], 1)
}

func TestBuilderOffsetsSourcesAndLines(t *testing.T) {
	a := Identity("", "a.js", []byte("one\ntwo"))
	b := Identity("", "b.js", []byte("three"))

	builder := NewBuilder("bundle.js")
	require.NoError(t, builder.Add(1, a))
	require.NoError(t, builder.Add(4, b))
	m := builder.Map()

	assert.Equal(t, []string{"a.js", "b.js"}, m.Sources)
	assert.Equal(t, []string{"one\ntwo", "three"}, m.SourcesContent)

	lines, err := m.Decode()
	require.NoError(t, err)
	require.Len(t, lines, 5)
	assert.Empty(t, lines[0])
	assert.Equal(t, 0, lines[1][0].Source)
	assert.Equal(t, 1, lines[2][0].SrcLine)
	assert.Empty(t, lines[3])
	assert.Equal(t, 1, lines[4][0].Source)
	assert.Equal(t, 0, lines[4][0].SrcLine)
}

func TestCompose(t *testing.T) {
	// inner: bundle line 0 and 1 come from lines 3 and 7 of src.js
	inner := &Map{Version: 3, Sources: []string{"src.js"}, Mappings: EncodeMappings([][]Segment{
		{{GenCol: 0, SrcLine: 3, HasSource: true}},
		{{GenCol: 0, SrcLine: 7, HasSource: true}, {GenCol: 10, SrcLine: 8, HasSource: true}},
	})}
	// outer: minified single line referencing bundle (1,12) and (0,0)
	outer := &Map{Version: 3, File: "min.js", Sources: []string{"bundle.js"}, Names: []string{"foo"}, Mappings: EncodeMappings([][]Segment{
		{
			{GenCol: 0, SrcLine: 0, SrcCol: 0, HasSource: true},
			{GenCol: 5, SrcLine: 1, SrcCol: 12, Name: 0, HasSource: true, HasName: true},
			{GenCol: 9, SrcLine: 40, SrcCol: 0, HasSource: true},
		},
	})}

	m, err := Compose(outer, inner)
	require.NoError(t, err)
	assert.Equal(t, "min.js", m.File)
	assert.Equal(t, []string{"src.js"}, m.Sources)
	assert.Equal(t, []string{"foo"}, m.Names)

	lines, err := m.Decode()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Len(t, lines[0], 2)
	assert.Equal(t, 3, lines[0][0].SrcLine)
	assert.Equal(t, 8, lines[0][1].SrcLine)
	assert.True(t, lines[0][1].HasName)
}

func TestParse(t *testing.T) {
	m, err := Parse([]byte(`{"version":3,"sources":["a.js"],"names":[],"mappings":"AAAA"}`))
	require.NoError(t, err)
	assert.Equal(t, "AAAA", m.Mappings)

	_, err = Parse([]byte(`{"version":2}`))
	require.Error(t, err)

	data, err := (&Map{Version: 3}).Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":3,"sources":[],"names":[],"mappings":""}`, string(data))
}

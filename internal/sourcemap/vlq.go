package sourcemap

import (
	"strings"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base64Chars); i++ {
		idx[base64Chars[i]] = int8(i)
	}
	return idx
}()

func encodeVLQ(sb *strings.Builder, v int) {
	vlq := v << 1
	if v < 0 {
		vlq = (-v << 1) | 1
	}
	for {
		digit := vlq & 31
		vlq >>= 5
		if vlq > 0 {
			digit |= 32
		}
		sb.WriteByte(base64Chars[digit])
		if vlq == 0 {
			return
		}
	}
}

func decodeVLQ(s string, i int) (int, int, error) {
	result, shift := 0, 0
	for {
		if i >= len(s) {
			return 0, i, errors.ValidationError("truncated VLQ in mappings").Build()
		}
		d := base64Index[s[i]]
		if d < 0 {
			return 0, i, errors.ValidationError("invalid character in mappings").WithContext("char", string(s[i])).Build()
		}
		i++
		result += int(d&31) << shift
		if d&32 == 0 {
			break
		}
		shift += 5
	}
	if result&1 == 1 {
		return -(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

func atDelimiter(s string, i int) bool {
	return i >= len(s) || s[i] == ',' || s[i] == ';'
}

// DecodeMappings parses a mappings string into per-line segments.
func DecodeMappings(s string) ([][]Segment, error) {
	var (
		lines                                  [][]Segment
		cur                                    []Segment
		genCol, source, srcLine, srcCol, name int
		v                                      int
		err                                    error
	)
	i := 0
	for i < len(s) {
		switch s[i] {
		case ';':
			lines = append(lines, cur)
			cur = nil
			genCol = 0
			i++
			continue
		case ',':
			i++
			continue
		}

		var seg Segment
		if v, i, err = decodeVLQ(s, i); err != nil {
			return nil, err
		}
		genCol += v
		seg.GenCol = genCol

		if !atDelimiter(s, i) {
			fields := [3]int{}
			for f := range fields {
				if fields[f], i, err = decodeVLQ(s, i); err != nil {
					return nil, err
				}
			}
			source += fields[0]
			srcLine += fields[1]
			srcCol += fields[2]
			seg.Source, seg.SrcLine, seg.SrcCol, seg.HasSource = source, srcLine, srcCol, true

			if !atDelimiter(s, i) {
				if v, i, err = decodeVLQ(s, i); err != nil {
					return nil, err
				}
				name += v
				seg.Name, seg.HasName = name, true
			}
		}
		cur = append(cur, seg)
	}
	lines = append(lines, cur)
	return lines, nil
}

// EncodeMappings serializes per-line segments. Segments within a line must be
// ordered by generated column.
func EncodeMappings(lines [][]Segment) string {
	var sb strings.Builder
	var source, srcLine, srcCol, name int
	for li, line := range lines {
		if li > 0 {
			sb.WriteByte(';')
		}
		genCol := 0
		for si, seg := range line {
			if si > 0 {
				sb.WriteByte(',')
			}
			encodeVLQ(&sb, seg.GenCol-genCol)
			genCol = seg.GenCol
			if !seg.HasSource {
				continue
			}
			encodeVLQ(&sb, seg.Source-source)
			encodeVLQ(&sb, seg.SrcLine-srcLine)
			encodeVLQ(&sb, seg.SrcCol-srcCol)
			source, srcLine, srcCol = seg.Source, seg.SrcLine, seg.SrcCol
			if seg.HasName {
				encodeVLQ(&sb, seg.Name-name)
				name = seg.Name
			}
		}
	}
	return sb.String()
}

// Package fieldpath parses correction field paths like "a.b[0].c" into a
// structured segment sequence. Parsing returns an explicit error value for
// malformed input so that callers can skip a single bad correction instead
// of failing the surrounding operation.
package fieldpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed indicates that a field path could not be parsed.
var ErrMalformed = errors.New("malformed field path")

// SegmentKind distinguishes object-field access from array-index access.
type SegmentKind int

const (
	// KindField selects a named key in an object.
	KindField SegmentKind = iota

	// KindIndex selects a zero-based element in an array.
	KindIndex
)

// Segment is one step of a parsed field path.
type Segment struct {
	Kind  SegmentKind
	Field string // set when Kind == KindField
	Index int    // set when Kind == KindIndex
}

// String renders a segment in path syntax, used in diagnostics.
func (s Segment) String() string {
	if s.Kind == KindIndex {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Field
}

// Path is a parsed field path.
type Path []Segment

// String reassembles the path into its source syntax.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.Kind == KindField && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.String())
	}
	return b.String()
}

// Parse converts a path expression into segments. Supported syntax:
// dot-separated field names with optional bracketed non-negative integer
// indexes, e.g. "items[0].name" or "contacts[2]". An empty path, empty
// field name, unterminated bracket, or non-numeric index yields ErrMalformed.
func Parse(path string) (Path, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrMalformed)
	}

	var segs Path
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrMalformed, path)
		}

		// Split the leading field name from any bracket suffixes.
		bracket := strings.IndexByte(part, '[')
		field := part
		rest := ""
		if bracket >= 0 {
			field = part[:bracket]
			rest = part[bracket:]
		}

		if field == "" {
			return nil, fmt.Errorf("%w: segment %q has no field name", ErrMalformed, part)
		}
		if strings.ContainsAny(field, "]") {
			return nil, fmt.Errorf("%w: unexpected ']' in %q", ErrMalformed, part)
		}
		segs = append(segs, Segment{Kind: KindField, Field: field})

		for rest != "" {
			if rest[0] != '[' {
				return nil, fmt.Errorf("%w: unexpected %q after index in %q", ErrMalformed, string(rest[0]), part)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated bracket in %q", ErrMalformed, part)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("%w: invalid index %q in %q", ErrMalformed, rest[1:end], part)
			}
			segs = append(segs, Segment{Kind: KindIndex, Index: idx})
			rest = rest[end+1:]
		}
	}

	return segs, nil
}

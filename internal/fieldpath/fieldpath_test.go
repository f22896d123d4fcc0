package fieldpath

import (
	"errors"
	"testing"
)

func TestParseValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path string
		want Path
	}{
		{
			name: "single field",
			path: "name",
			want: Path{{Kind: KindField, Field: "name"}},
		},
		{
			name: "nested fields",
			path: "address.city",
			want: Path{
				{Kind: KindField, Field: "address"},
				{Kind: KindField, Field: "city"},
			},
		},
		{
			name: "indexed element",
			path: "items[0]",
			want: Path{
				{Kind: KindField, Field: "items"},
				{Kind: KindIndex, Index: 0},
			},
		},
		{
			name: "index then field",
			path: "items[2].file_name",
			want: Path{
				{Kind: KindField, Field: "items"},
				{Kind: KindIndex, Index: 2},
				{Kind: KindField, Field: "file_name"},
			},
		},
		{
			name: "double index",
			path: "matrix[1][3]",
			want: Path{
				{Kind: KindField, Field: "matrix"},
				{Kind: KindIndex, Index: 1},
				{Kind: KindIndex, Index: 3},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.path)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.path, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.path, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("segment %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseMalformedPaths(t *testing.T) {
	paths := []string{
		"",
		"   ",
		".",
		"a..b",
		".name",
		"name.",
		"[0]",
		"items[",
		"items[]",
		"items[x]",
		"items[-1]",
		"items]0[",
		"items[0]x",
	}

	for _, path := range paths {
		if _, err := Parse(path); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q): got err=%v, want ErrMalformed", path, err)
		}
	}
}

func TestPathStringRoundTrip(t *testing.T) {
	for _, path := range []string{"name", "address.city", "items[0].file_name", "matrix[1][3]"} {
		parsed, err := Parse(path)
		if err != nil {
			t.Fatalf("Parse(%q): %v", path, err)
		}
		if parsed.String() != path {
			t.Errorf("round trip: got %q, want %q", parsed.String(), path)
		}
	}
}

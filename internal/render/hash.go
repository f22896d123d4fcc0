package render

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// SectionHash computes a canonical content hash of a section tree. The JSON
// encoding is canonicalized (RFC 8785) before hashing so that key order and
// whitespace never produce spurious "changed" signals.
func SectionHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("render: failed to marshal section for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("render: failed to canonicalize section: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(canonical)), nil
}

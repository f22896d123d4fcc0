// Package compress provides the compression capability consumed by the tier
// renderer: given a faithful section text and a target tier, it produces a
// more compact derivation. Two implementations exist: a remote summarizer
// client protected by a circuit breaker, and a deterministic local
// heuristic used as the default and in tests.
package compress

import (
	"context"
	"strings"

	"github.com/caseloop/contextengine/pkg/types"
)

// Compressor turns text into a more compact rendition for the target tier.
// The full tier never goes through a Compressor.
type Compressor interface {
	Compress(ctx context.Context, text string, tier types.Tier) (string, error)
}

// Tier size ratios applied by the heuristic compressor, relative to the
// input length.
const (
	standardRatio = 0.5
	criticalRatio = 0.25
)

// Heuristic is a deterministic, model-free compressor. It keeps whole lines
// from the top of the input up to a tier-dependent length budget, so its
// output always satisfies critical <= standard <= full.
type Heuristic struct{}

// NewHeuristic returns the local fallback compressor.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Compress truncates text to the tier's length budget at line boundaries.
// The first line is always kept.
func (h *Heuristic) Compress(_ context.Context, text string, tier types.Tier) (string, error) {
	if text == "" {
		return "", nil
	}

	ratio := standardRatio
	if tier == types.TierCritical {
		ratio = criticalRatio
	}
	budget := int(float64(len(text)) * ratio)

	lines := strings.Split(text, "\n")
	var (
		b    strings.Builder
		size int
	)
	for i, line := range lines {
		// +1 for the newline joining lines.
		cost := len(line) + 1
		if i > 0 && size+cost > budget {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		size += cost
	}
	return b.String(), nil
}

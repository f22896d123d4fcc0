// Package render turns overlaid section data into the three context tiers.
// The full tier is a faithful deterministic text rendering; standard and
// critical derive from it through the compression capability, invoked per
// section and only when that section's content actually changed since the
// previous snapshot.
package render

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/caseloop/contextengine/internal/compress"
	"github.com/caseloop/contextengine/pkg/types"
)

// EstimateTokens is the deterministic, language-agnostic token estimator:
// one token per four characters, rounded up. Applied uniformly across tiers.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Snapshot carries the change-detection state of the previously rendered
// record: canonical section hashes and the compressed per-section fragments.
type Snapshot struct {
	SectionHashes map[types.SectionID]string
	Fragments     map[types.Tier]map[types.SectionID]string
}

// Output is the result of rendering one section set.
type Output struct {
	TierText      map[types.Tier]string
	TokenCounts   map[types.Tier]int
	SectionHashes map[types.SectionID]string
	Fragments     map[types.Tier]map[types.SectionID]string

	// CompressedSections lists the sections for which the compressor was
	// actually invoked (i.e. the ones that changed).
	CompressedSections []types.SectionID
}

// Renderer renders section sets into tiers using a compression capability.
type Renderer struct {
	compressor compress.Compressor
}

// NewRenderer creates a renderer backed by the given compressor.
func NewRenderer(compressor compress.Compressor) *Renderer {
	return &Renderer{compressor: compressor}
}

// Render produces all three tiers for the overlaid section set. prev may be
// nil (first render); when present, sections whose canonical hash matches
// the snapshot reuse their previous compressed fragments instead of
// invoking the compressor again. A compressor failure aborts the render —
// the caller's previously valid record stays untouched because persistence
// happens after rendering.
func (r *Renderer) Render(ctx context.Context, sections types.SectionSet, prev *Snapshot) (*Output, error) {
	out := &Output{
		TierText:      make(map[types.Tier]string, 3),
		TokenCounts:   make(map[types.Tier]int, 3),
		SectionHashes: make(map[types.SectionID]string, len(sections)),
		Fragments: map[types.Tier]map[types.SectionID]string{
			types.TierStandard: make(map[types.SectionID]string),
			types.TierCritical: make(map[types.SectionID]string),
		},
	}

	fullParts := make([]string, 0, len(sections))
	standardParts := make([]string, 0, len(sections))
	criticalParts := make([]string, 0, len(sections))

	for _, id := range types.AllSectionIDs() {
		section, ok := sections[id]
		if !ok {
			continue
		}

		fullFrag := renderSection(id, section)
		fullParts = append(fullParts, fullFrag)

		hash, err := SectionHash(section)
		if err != nil {
			return nil, err
		}
		out.SectionHashes[id] = hash

		standardFrag, criticalFrag, reused, err := r.compressedFragments(ctx, id, fullFrag, hash, prev)
		if err != nil {
			return nil, err
		}
		if !reused {
			out.CompressedSections = append(out.CompressedSections, id)
		}

		out.Fragments[types.TierStandard][id] = standardFrag
		out.Fragments[types.TierCritical][id] = criticalFrag
		standardParts = append(standardParts, standardFrag)
		criticalParts = append(criticalParts, criticalFrag)
	}

	out.TierText[types.TierFull] = strings.Join(fullParts, "\n\n")
	out.TierText[types.TierStandard] = strings.Join(standardParts, "\n\n")
	out.TierText[types.TierCritical] = strings.Join(criticalParts, "\n\n")
	for tier, text := range out.TierText {
		out.TokenCounts[tier] = EstimateTokens(text)
	}

	return out, nil
}

// compressedFragments returns the standard and critical fragments for one
// section, reusing the previous snapshot's fragments when the section is
// unchanged.
func (r *Renderer) compressedFragments(ctx context.Context, id types.SectionID, fullFrag, hash string, prev *Snapshot) (standard, critical string, reused bool, err error) {
	if prev != nil && prev.SectionHashes[id] == hash {
		std, stdOK := prev.Fragments[types.TierStandard][id]
		crit, critOK := prev.Fragments[types.TierCritical][id]
		if stdOK && critOK {
			return std, crit, true, nil
		}
	}

	standard, err = r.compressor.Compress(ctx, fullFrag, types.TierStandard)
	if err != nil {
		return "", "", false, fmt.Errorf("render: compressing %s to standard: %w", id, err)
	}
	critical, err = r.compressor.Compress(ctx, fullFrag, types.TierCritical)
	if err != nil {
		return "", "", false, fmt.Errorf("render: compressing %s to critical: %w", id, err)
	}
	return standard, critical, false, nil
}

// renderSection produces the faithful text block of one section: a heading
// followed by a stable key-sorted rendering of the tree. Keys with the
// reserved underscore prefix (annotations) are serialized data, not display
// data, and are skipped.
func renderSection(id types.SectionID, section types.Section) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(string(id))
	renderMap(&b, map[string]any(section), 0)
	return b.String()
}

func renderMap(b *strings.Builder, m map[string]any, indent int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, "_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte('\n')
		writeIndent(b, indent)
		b.WriteString(k)
		b.WriteByte(':')
		renderValue(b, m[k], indent)
	}
}

func renderValue(b *strings.Builder, v any, indent int) {
	switch tv := v.(type) {
	case map[string]any:
		renderMap(b, tv, indent+1)
	case []any:
		for _, item := range tv {
			b.WriteByte('\n')
			writeIndent(b, indent+1)
			b.WriteString("-")
			switch it := item.(type) {
			case map[string]any:
				renderMap(b, it, indent+2)
			case []any:
				renderValue(b, it, indent+1)
			default:
				b.WriteByte(' ')
				b.WriteString(scalarString(it))
			}
		}
	default:
		b.WriteByte(' ')
		b.WriteString(scalarString(tv))
	}
}

func scalarString(v any) string {
	switch tv := v.(type) {
	case nil:
		return "null"
	case string:
		return tv
	case float64:
		// JSON numbers arrive as float64; render integers without decimals.
		if tv == float64(int64(tv)) {
			return fmt.Sprintf("%d", int64(tv))
		}
		return fmt.Sprintf("%g", tv)
	default:
		return fmt.Sprintf("%v", tv)
	}
}

func writeIndent(b *strings.Builder, indent int) {
	for i := 0; i < indent; i++ {
		b.WriteString("  ")
	}
}

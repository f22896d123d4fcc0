// Package overlay applies user corrections onto gathered section data at
// render time. The overlay is tolerant by contract: a malformed correction
// (bad path syntax, unknown section, out-of-range index, type mismatch)
// is skipped with a diagnostic and never fails the surrounding render.
package overlay

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/caseloop/contextengine/internal/fieldpath"
	"github.com/caseloop/contextengine/pkg/types"
)

// Diagnostic reports one skipped correction.
type Diagnostic struct {
	CorrectionID string
	Reason       string
}

// Apply overlays the active corrections onto the section set in creation
// order, mutating it in place. Section trees must be JSON-shaped
// (map[string]any / []any); the gatherer guarantees this. The returned
// diagnostics list the corrections that could not be applied.
//
// When multiple OVERRIDEs target the same location, the last one applied
// wins, which is the last one created.
func Apply(sections types.SectionSet, corrections []types.Correction) []Diagnostic {
	var diags []Diagnostic

	skip := func(c types.Correction, format string, args ...any) {
		reason := fmt.Sprintf(format, args...)
		diags = append(diags, Diagnostic{CorrectionID: c.ID, Reason: reason})
		log.Printf("WARNING: overlay: skipping correction %s: %s", c.ID, reason)
	}

	for _, c := range corrections {
		if !c.IsActive {
			continue
		}

		section, ok := sections[c.SectionID]
		if !ok {
			skip(c, "unknown section %q", c.SectionID)
			continue
		}

		path, err := fieldpath.Parse(c.FieldPath)
		if err != nil {
			skip(c, "bad field path %q: %v", c.FieldPath, err)
			continue
		}

		root := map[string]any(section)

		switch c.Type {
		case types.CorrectionOverride:
			if err := setAtPath(root, path, parseValue(c.CorrectedValue)); err != nil {
				skip(c, "override failed: %v", err)
			}
		case types.CorrectionAppend:
			if err := appendAtPath(root, path, parseValue(c.CorrectedValue)); err != nil {
				skip(c, "append failed: %v", err)
			}
		case types.CorrectionRemove:
			if err := removeAtPath(root, path); err != nil {
				skip(c, "remove failed: %v", err)
			}
		case types.CorrectionNote:
			attachNote(root, c.FieldPath, c.CorrectedValue)
		default:
			skip(c, "unknown correction type %q", c.Type)
		}
	}

	return diags
}

// parseValue interprets a corrected value as JSON when possible and falls
// back to the raw string otherwise, so users can write both `"Acme"` and
// plain Acme.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// attachNote appends the note under the section's reserved annotation slot,
// keyed by the target path. Notes never alter the primary value and are
// preserved through serialization.
func attachNote(root map[string]any, path, note string) {
	slot, _ := root[types.AnnotationsKey].(map[string]any)
	if slot == nil {
		slot = make(map[string]any)
		root[types.AnnotationsKey] = slot
	}
	notes, _ := slot[path].([]any)
	slot[path] = append(notes, note)
}

// setAtPath replaces or creates the value at path. Missing intermediate
// object fields are created; array indexes must already be in range.
func setAtPath(root map[string]any, path fieldpath.Path, value any) error {
	return descend(root, path, true, func(parent any, last fieldpath.Segment) error {
		switch last.Kind {
		case fieldpath.KindField:
			m, ok := parent.(map[string]any)
			if !ok {
				return fmt.Errorf("cannot set field %q on non-object", last.Field)
			}
			m[last.Field] = value
		case fieldpath.KindIndex:
			s, ok := parent.([]any)
			if !ok {
				return fmt.Errorf("cannot index into non-array")
			}
			if last.Index >= len(s) {
				return fmt.Errorf("index %d out of range (len %d)", last.Index, len(s))
			}
			s[last.Index] = value
		}
		return nil
	})
}

// appendAtPath appends value to the array at path, creating the array when
// the final field is absent.
func appendAtPath(root map[string]any, path fieldpath.Path, value any) error {
	return descend(root, path, true, func(parent any, last fieldpath.Segment) error {
		switch last.Kind {
		case fieldpath.KindField:
			m, ok := parent.(map[string]any)
			if !ok {
				return fmt.Errorf("cannot read field %q on non-object", last.Field)
			}
			existing, present := m[last.Field]
			if !present || existing == nil {
				m[last.Field] = []any{value}
				return nil
			}
			arr, ok := existing.([]any)
			if !ok {
				return fmt.Errorf("field %q is not an array", last.Field)
			}
			m[last.Field] = append(arr, value)
		case fieldpath.KindIndex:
			s, ok := parent.([]any)
			if !ok {
				return fmt.Errorf("cannot index into non-array")
			}
			if last.Index >= len(s) {
				return fmt.Errorf("index %d out of range (len %d)", last.Index, len(s))
			}
			arr, ok := s[last.Index].([]any)
			if !ok {
				return fmt.Errorf("element %d is not an array", last.Index)
			}
			s[last.Index] = append(arr, value)
		}
		return nil
	})
}

// removeAtPath deletes the location at path. Removing an absent field is a
// no-op; removing an out-of-range index is an error.
func removeAtPath(root map[string]any, path fieldpath.Path) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path")
	}

	// Removing an array element rewrites the slice, so the slice itself has
	// to be reassigned in its own parent. descend hands us the container of
	// the final segment; for index-final paths that container is the slice,
	// and the rewrite happens through the segment before it.
	last := path[len(path)-1]
	if last.Kind == fieldpath.KindField {
		return descend(root, path, false, func(parent any, seg fieldpath.Segment) error {
			m, ok := parent.(map[string]any)
			if !ok {
				return fmt.Errorf("cannot remove field %q from non-object", seg.Field)
			}
			delete(m, seg.Field)
			return nil
		})
	}

	if len(path) < 2 {
		return fmt.Errorf("cannot remove a bare index from the section root")
	}
	return descend(root, path[:len(path)-1], false, func(parent any, seg fieldpath.Segment) error {
		cut := func(arr []any) ([]any, error) {
			if last.Index >= len(arr) {
				return nil, fmt.Errorf("index %d out of range (len %d)", last.Index, len(arr))
			}
			return append(arr[:last.Index], arr[last.Index+1:]...), nil
		}
		switch seg.Kind {
		case fieldpath.KindField:
			m, ok := parent.(map[string]any)
			if !ok {
				return fmt.Errorf("cannot read field %q on non-object", seg.Field)
			}
			arr, ok := m[seg.Field].([]any)
			if !ok {
				return fmt.Errorf("field %q is not an array", seg.Field)
			}
			trimmed, err := cut(arr)
			if err != nil {
				return err
			}
			m[seg.Field] = trimmed
		case fieldpath.KindIndex:
			s, ok := parent.([]any)
			if !ok {
				return fmt.Errorf("cannot index into non-array")
			}
			if seg.Index >= len(s) {
				return fmt.Errorf("index %d out of range (len %d)", seg.Index, len(s))
			}
			arr, ok := s[seg.Index].([]any)
			if !ok {
				return fmt.Errorf("element %d is not an array", seg.Index)
			}
			trimmed, err := cut(arr)
			if err != nil {
				return err
			}
			s[seg.Index] = trimmed
		}
		return nil
	})
}

// descend walks to the container holding the final segment of path and
// invokes op(parent, lastSegment). With createMissing, absent intermediate
// object fields are created as empty objects.
func descend(root map[string]any, path fieldpath.Path, createMissing bool, op func(parent any, last fieldpath.Segment) error) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path")
	}

	var cur any = root
	for _, seg := range path[:len(path)-1] {
		switch seg.Kind {
		case fieldpath.KindField:
			m, ok := cur.(map[string]any)
			if !ok {
				return fmt.Errorf("field %q: parent is not an object", seg.Field)
			}
			next, present := m[seg.Field]
			if !present || next == nil {
				if !createMissing {
					return fmt.Errorf("field %q not found", seg.Field)
				}
				created := make(map[string]any)
				m[seg.Field] = created
				next = created
			}
			cur = next
		case fieldpath.KindIndex:
			s, ok := cur.([]any)
			if !ok {
				return fmt.Errorf("index %d: parent is not an array", seg.Index)
			}
			if seg.Index >= len(s) {
				return fmt.Errorf("index %d out of range (len %d)", seg.Index, len(s))
			}
			cur = s[seg.Index]
		}
	}

	return op(cur, path[len(path)-1])
}

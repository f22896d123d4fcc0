// Package types defines the core domain types shared across the context
// engine: context records, sections, corrections, references, and the
// results returned to API consumers.
package types

import "time"

// CurrentSchemaVersion is the schema version written to new context records.
// Records persisted under an older version are treated as stale and fully
// regenerated on the next read.
const CurrentSchemaVersion = 3

// EntityType identifies the kind of business entity a context describes.
type EntityType string

const (
	EntityClient EntityType = "CLIENT"
	EntityCase   EntityType = "CASE"
)

// Valid reports whether the entity type is one of the known values.
func (e EntityType) Valid() bool {
	return e == EntityClient || e == EntityCase
}

// Tier is one of three compaction levels of the same facts, sized for
// different context budgets.
type Tier string

const (
	TierCritical Tier = "critical"
	TierStandard Tier = "standard"
	TierFull     Tier = "full"
)

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	return t == TierCritical || t == TierStandard || t == TierFull
}

// AllTiers returns the three tiers in ascending size order.
func AllTiers() []Tier {
	return []Tier{TierCritical, TierStandard, TierFull}
}

// SectionID names one of the four data groupings composing an entity's context.
type SectionID string

const (
	SectionIdentity       SectionID = "identity"
	SectionPeople         SectionID = "people"
	SectionDocuments      SectionID = "documents"
	SectionCommunications SectionID = "communications"
)

// AllSectionIDs returns the four section IDs in rendering order.
func AllSectionIDs() []SectionID {
	return []SectionID{SectionIdentity, SectionPeople, SectionDocuments, SectionCommunications}
}

// Valid reports whether the section ID is one of the four known sections.
func (s SectionID) Valid() bool {
	switch s {
	case SectionIdentity, SectionPeople, SectionDocuments, SectionCommunications:
		return true
	}
	return false
}

// AnnotationsKey is the reserved key inside a section map where NOTE
// corrections accumulate. It is preserved through serialization but never
// rendered into tier text.
const AnnotationsKey = "_annotations"

// Section is the JSON-shaped data tree of one context section. Values are
// maps, slices, strings, numbers, and booleans as produced by encoding/json.
type Section map[string]any

// SectionSet holds the section trees of a context, keyed by section ID.
type SectionSet map[SectionID]Section

// Clone returns a deep copy of the section set. Overlay application mutates
// section trees in place, so callers that need the pre-overlay data must
// clone first.
func (ss SectionSet) Clone() SectionSet {
	out := make(SectionSet, len(ss))
	for id, sec := range ss {
		out[id] = cloneValue(sec).(map[string]any)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(tv))
		for k, val := range tv {
			m[k] = cloneValue(val)
		}
		return m
	case Section:
		m := make(map[string]any, len(tv))
		for k, val := range tv {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(tv))
		for i, val := range tv {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return tv
	}
}

// ContextRecord is the persisted context of one entity: its section data,
// the three rendered tiers, and the metadata that drives cache and schema
// invalidation. Exactly one live record exists per (entity_type, entity_id).
type ContextRecord struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	// TenantID is the owning tenant, inherited by reference entries and
	// checked by the access guard on every read.
	TenantID string `json:"tenant_id"`

	Sections SectionSet `json:"sections"`

	// TierText holds the rendered text per tier; TokenCounts the matching
	// deterministic token estimates.
	TierText    map[Tier]string `json:"tier_text"`
	TokenCounts map[Tier]int    `json:"token_counts"`

	// SectionHashes are canonical-JSON content hashes of each section at
	// render time, used to skip compression for unchanged sections.
	SectionHashes map[SectionID]string `json:"section_hashes,omitempty"`

	// Fragments are the per-section compressed texts for the standard and
	// critical tiers, kept so partial regenerations can reuse the fragments
	// of sections whose data did not change.
	Fragments map[Tier]map[SectionID]string `json:"fragments,omitempty"`

	SchemaVersion int       `json:"schema_version"`
	Version       int       `json:"version"`
	GeneratedAt   time.Time `json:"generated_at"`
	ValidUntil    time.Time `json:"valid_until"`

	LastCorrectedBy      *string    `json:"last_corrected_by,omitempty"`
	CorrectionsAppliedAt *time.Time `json:"corrections_applied_at,omitempty"`

	// ParentSnapshot is a condensed identity+people copy of the owning
	// client. Present only for CASE records.
	ParentSnapshot Section `json:"parent_snapshot,omitempty"`
}

// IsValid reports whether the record can be served without regeneration:
// schema-current and not past its validity window.
func (r *ContextRecord) IsValid(now time.Time) bool {
	return r.SchemaVersion == CurrentSchemaVersion && r.ValidUntil.After(now)
}

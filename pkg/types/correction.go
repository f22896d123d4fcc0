package types

import "time"

// CorrectionType describes how a correction patches the section data.
type CorrectionType string

const (
	// CorrectionOverride replaces (or creates) the value at the target path.
	CorrectionOverride CorrectionType = "OVERRIDE"

	// CorrectionAppend parses the corrected value as one structured object
	// and appends it to the array at the target path.
	CorrectionAppend CorrectionType = "APPEND"

	// CorrectionRemove deletes the target path, which may be an indexed
	// array element or a scalar field.
	CorrectionRemove CorrectionType = "REMOVE"

	// CorrectionNote attaches the corrected value as an annotation without
	// altering the primary value at the target path.
	CorrectionNote CorrectionType = "NOTE"
)

// Valid reports whether the correction type is one of the known values.
func (t CorrectionType) Valid() bool {
	switch t {
	case CorrectionOverride, CorrectionAppend, CorrectionRemove, CorrectionNote:
		return true
	}
	return false
}

// Correction is a user-supplied patch applied on top of system-derived
// section data at render time. Corrections are never written back into the
// record's stored sections.
type Correction struct {
	ID              string         `json:"id"`
	ContextRecordID string         `json:"context_record_id"`
	SectionID       SectionID      `json:"section_id"`
	FieldPath       string         `json:"field_path"`
	Type            CorrectionType `json:"type"`
	OriginalValue   *string        `json:"original_value,omitempty"`
	CorrectedValue  string         `json:"corrected_value"`
	Reason          *string        `json:"reason,omitempty"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
	IsActive        bool           `json:"is_active"`
}

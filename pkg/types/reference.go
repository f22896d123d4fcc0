package types

import "time"

// RefType classifies a reference entry for display and filtering.
type RefType string

const (
	RefDocument RefType = "DOCUMENT"
	RefEmail    RefType = "EMAIL"
	RefThread   RefType = "THREAD"
)

// Source types used to dispatch reference resolution to the owning
// collaborator store.
const (
	SourceDocument = "document"
	SourceEmail    = "email"
	SourceThread   = "thread"
)

// ReferenceEntry is a lightweight pointer into a document or communication,
// enabling later on-demand retrieval of full detail without inflating the
// primary context text. Entries are bulk-replaced whenever a regeneration
// touches the documents or communications section.
type ReferenceEntry struct {
	ID              string `json:"id"`
	ContextRecordID string `json:"context_record_id"`

	// RefID is the short opaque code surfaced in context text,
	// e.g. "DOC-1a2b3c4d".
	RefID string `json:"ref_id"`

	RefType    RefType   `json:"ref_type"`
	SourceID   string    `json:"source_id"`
	SourceType string    `json:"source_type"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary,omitempty"`
	SourceDate time.Time `json:"source_date"`

	// TenantID is inherited from the owning context record and checked on
	// every resolution.
	TenantID string `json:"tenant_id"`
}

// ResolvedReference is the full detail behind a reference entry, fetched
// from the corresponding collaborator store on demand.
type ResolvedReference struct {
	RefID      string         `json:"ref_id"`
	RefType    RefType        `json:"ref_type"`
	Title      string         `json:"title"`
	Summary    string         `json:"summary,omitempty"`
	SourceDate time.Time      `json:"source_date"`
	Detail     map[string]any `json:"detail,omitempty"`
}

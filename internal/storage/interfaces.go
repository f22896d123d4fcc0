// Package storage provides composable storage interfaces for the context
// engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed, allowing SQLite and
// PostgreSQL backends behind the same contracts.
package storage

import (
	"context"

	"github.com/caseloop/contextengine/pkg/types"
)

// ContextStore persists one context record per (entity type, entity id).
//
// Writes that change section data accept the reference entries derived from
// the new data and apply the record write and the reference bulk-replace in
// a single transaction, so sections+tiers and references either both land
// or neither does.
type ContextStore interface {
	// Get retrieves the live record for an entity regardless of validity.
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, entityType types.EntityType, entityID string) (*types.ContextRecord, error)

	// GetIfValid retrieves the live record only if it is unexpired and
	// schema-current. Returns ErrNotFound when the record is absent, past
	// its validity window, or persisted under an older schema version.
	GetIfValid(ctx context.Context, entityType types.EntityType, entityID string) (*types.ContextRecord, error)

	// UpsertFull replaces all sections and all three tiers. It assigns the
	// next version number, stamps GeneratedAt, resets ValidUntil, and sets
	// the current schema version on the record in place. The entity's
	// reference entries are bulk-replaced (delete-all-then-insert-all) in
	// the same transaction.
	UpsertFull(ctx context.Context, rec *types.ContextRecord, refs []types.ReferenceEntry) error

	// UpdateSections persists a partially regenerated record: only the
	// named sections changed, the rest pass through from the previous
	// version. Version is incremented and ValidUntil reset exactly as in
	// UpsertFull. When rebuildRefs is true the reference entries are
	// bulk-replaced in the same transaction; otherwise they are untouched.
	UpdateSections(ctx context.Context, rec *types.ContextRecord, changed []types.SectionID, refs []types.ReferenceEntry, rebuildRefs bool) error

	// SoftExpire sets the record's ValidUntil to now without touching
	// content, forcing the next read down the regeneration path.
	// Returns ErrNotFound if no record exists.
	SoftExpire(ctx context.Context, entityType types.EntityType, entityID string) error
}

// CorrectionStore manages the lifecycle of overlay corrections.
type CorrectionStore interface {
	// AddCorrection inserts a new correction row.
	AddCorrection(ctx context.Context, c *types.Correction) error

	// GetCorrection retrieves a correction by ID.
	// Returns ErrNotFound if it doesn't exist.
	GetCorrection(ctx context.Context, id string) (*types.Correction, error)

	// UpdateCorrectionValue updates only the corrected value of an existing
	// correction and returns the updated row. All other fields are immutable
	// after creation. Returns ErrNotFound if the correction doesn't exist.
	UpdateCorrectionValue(ctx context.Context, id, correctedValue string) (*types.Correction, error)

	// DeleteCorrection removes the correction row entirely. There is no
	// write-back into the owning record's sections.
	// Returns ErrNotFound if the correction doesn't exist.
	DeleteCorrection(ctx context.Context, id string) error

	// ListActiveCorrections returns the active corrections for a context
	// record ordered by creation time ascending (application order).
	ListActiveCorrections(ctx context.Context, contextRecordID string) ([]types.Correction, error)
}

// ReferenceStore reads the derived reference catalog. Writes happen only
// through the ContextStore transactions above.
type ReferenceStore interface {
	// GetReference retrieves a reference entry by its short ref code.
	// Returns ErrNotFound if it doesn't exist.
	GetReference(ctx context.Context, refID string) (*types.ReferenceEntry, error)

	// ListReferences returns all reference entries owned by a context
	// record, ordered by source date descending.
	ListReferences(ctx context.Context, contextRecordID string) ([]types.ReferenceEntry, error)
}

// Store composes the full persistence surface the engine operates on.
type Store interface {
	ContextStore
	CorrectionStore
	ReferenceStore

	// Close releases any resources held by the store.
	Close() error
}

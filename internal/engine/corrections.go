package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/caseloop/contextengine/internal/fieldpath"
	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/pkg/types"
)

// AddCorrection validates and persists a new overlay correction, then
// invalidates the owning record so the next read re-renders with the
// correction applied. A missing owning record returns (nil, nil).
func (e *Engine) AddCorrection(ctx context.Context, c *types.Correction) (*types.Correction, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil correction", storage.ErrInvalidInput)
	}
	if !c.SectionID.Valid() {
		return nil, fmt.Errorf("%w: unknown section %q", storage.ErrInvalidInput, c.SectionID)
	}
	if !c.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown correction type %q", storage.ErrInvalidInput, c.Type)
	}
	if _, err := fieldpath.Parse(c.FieldPath); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if c.CreatedBy == "" {
		return nil, fmt.Errorf("%w: created_by is required", storage.ErrInvalidInput)
	}

	entityType, entityID, ok := parseRecordID(c.ContextRecordID)
	if !ok {
		return nil, fmt.Errorf("%w: malformed context record id %q", storage.ErrInvalidInput, c.ContextRecordID)
	}

	if _, err := e.store.Get(ctx, entityType, entityID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	c.ID = uuid.NewString()
	c.CreatedAt = e.now()
	c.IsActive = true

	if err := e.store.AddCorrection(ctx, c); err != nil {
		return nil, err
	}
	if err := e.Invalidate(ctx, entityType, entityID, ""); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCorrection changes the corrected value of an existing correction.
// All other fields are immutable. A missing correction returns (nil, nil).
func (e *Engine) UpdateCorrection(ctx context.Context, id, correctedValue string) (*types.Correction, error) {
	updated, err := e.store.UpdateCorrectionValue(ctx, id, correctedValue)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if entityType, entityID, ok := parseRecordID(updated.ContextRecordID); ok {
		if err := e.Invalidate(ctx, entityType, entityID, ""); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// DeleteCorrection removes the correction row entirely. The owning record's
// sections are untouched; the next render simply no longer applies it.
// Returns false when the correction does not exist.
func (e *Engine) DeleteCorrection(ctx context.Context, id string) (bool, error) {
	existing, err := e.store.GetCorrection(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := e.store.DeleteCorrection(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if entityType, entityID, ok := parseRecordID(existing.ContextRecordID); ok {
		if err := e.Invalidate(ctx, entityType, entityID, ""); err != nil {
			return false, err
		}
	}
	return true, nil
}

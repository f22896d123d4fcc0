package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/pkg/types"
)

// AddCorrection inserts a new correction row.
func (s *ContextStore) AddCorrection(ctx context.Context, c *types.Correction) error {
	if c == nil || c.ID == "" || c.ContextRecordID == "" {
		return fmt.Errorf("%w: correction with id and record id is required", storage.ErrInvalidInput)
	}
	if !c.SectionID.Valid() {
		return fmt.Errorf("%w: unknown section %q", storage.ErrInvalidInput, c.SectionID)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown correction type %q", storage.ErrInvalidInput, c.Type)
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var original, reason any
	if c.OriginalValue != nil {
		original = *c.OriginalValue
	}
	if c.Reason != nil {
		reason = *c.Reason
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (
			id, context_record_id, section_id, field_path, type,
			original_value, corrected_value, reason, created_by, created_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.ContextRecordID, string(c.SectionID), c.FieldPath, string(c.Type),
		original, c.CorrectedValue, reason, c.CreatedBy, c.CreatedAt, c.IsActive)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert correction: %w", err)
	}
	return nil
}

// GetCorrection retrieves a correction by ID.
func (s *ContextStore) GetCorrection(ctx context.Context, id string) (*types.Correction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, context_record_id, section_id, field_path, type,
		       original_value, corrected_value, reason, created_by, created_at, is_active
		FROM corrections WHERE id = $1
	`, id)
	return scanCorrection(row)
}

// UpdateCorrectionValue updates only the corrected value of an existing
// correction.
func (s *ContextStore) UpdateCorrectionValue(ctx context.Context, id, correctedValue string) (*types.Correction, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE corrections SET corrected_value = $1 WHERE id = $2
	`, correctedValue, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to update correction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}
	return s.GetCorrection(ctx, id)
}

// DeleteCorrection removes the correction row entirely.
func (s *ContextStore) DeleteCorrection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM corrections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete correction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListActiveCorrections returns active corrections in creation order.
func (s *ContextStore) ListActiveCorrections(ctx context.Context, contextRecordID string) ([]types.Correction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_record_id, section_id, field_path, type,
		       original_value, corrected_value, reason, created_by, created_at, is_active
		FROM corrections
		WHERE context_record_id = $1 AND is_active = TRUE
		ORDER BY created_at ASC, id ASC
	`, contextRecordID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list corrections: %w", err)
	}
	defer rows.Close()

	var out []types.Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read correction rows: %w", err)
	}
	return out, nil
}

func scanCorrection(row scanner) (*types.Correction, error) {
	var (
		c         types.Correction
		sectionID string
		ctype     string
		original  sql.NullString
		reason    sql.NullString
	)

	err := row.Scan(&c.ID, &c.ContextRecordID, &sectionID, &c.FieldPath, &ctype,
		&original, &c.CorrectedValue, &reason, &c.CreatedBy, &c.CreatedAt, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan correction: %w", err)
	}

	c.SectionID = types.SectionID(sectionID)
	c.Type = types.CorrectionType(ctype)
	if original.Valid {
		v := original.String
		c.OriginalValue = &v
	}
	if reason.Valid {
		v := reason.String
		c.Reason = &v
	}
	return &c, nil
}

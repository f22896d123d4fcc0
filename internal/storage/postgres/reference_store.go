package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/pkg/types"
)

// GetReference retrieves a reference entry by its short ref code.
func (s *ContextStore) GetReference(ctx context.Context, refID string) (*types.ReferenceEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, context_record_id, ref_id, ref_type, source_id, source_type,
		       title, summary, source_date, tenant_id
		FROM reference_entries WHERE ref_id = $1
	`, refID)
	return scanReference(row)
}

// ListReferences returns all reference entries owned by a context record,
// newest source first.
func (s *ContextStore) ListReferences(ctx context.Context, contextRecordID string) ([]types.ReferenceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_record_id, ref_id, ref_type, source_id, source_type,
		       title, summary, source_date, tenant_id
		FROM reference_entries
		WHERE context_record_id = $1
		ORDER BY source_date DESC, ref_id ASC
	`, contextRecordID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list references: %w", err)
	}
	defer rows.Close()

	var out []types.ReferenceEntry
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read reference rows: %w", err)
	}
	return out, nil
}

// replaceReferences bulk-replaces the reference entries of a context record
// inside the caller's transaction.
func replaceReferences(ctx context.Context, tx *sql.Tx, contextRecordID string, refs []types.ReferenceEntry) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM reference_entries WHERE context_record_id = $1
	`, contextRecordID); err != nil {
		return fmt.Errorf("postgres: failed to clear references: %w", err)
	}

	for _, ref := range refs {
		var summary any
		if ref.Summary != "" {
			summary = ref.Summary
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reference_entries (
				id, context_record_id, ref_id, ref_type, source_id, source_type,
				title, summary, source_date, tenant_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, ref.ID, contextRecordID, ref.RefID, string(ref.RefType), ref.SourceID,
			ref.SourceType, ref.Title, summary, ref.SourceDate, ref.TenantID); err != nil {
			return fmt.Errorf("postgres: failed to insert reference %s: %w", ref.RefID, err)
		}
	}
	return nil
}

func scanReference(row scanner) (*types.ReferenceEntry, error) {
	var (
		ref     types.ReferenceEntry
		refType string
		summary sql.NullString
	)

	err := row.Scan(&ref.ID, &ref.ContextRecordID, &ref.RefID, &refType,
		&ref.SourceID, &ref.SourceType, &ref.Title, &summary, &ref.SourceDate, &ref.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan reference: %w", err)
	}

	ref.RefType = types.RefType(refType)
	if summary.Valid {
		ref.Summary = summary.String
	}
	return &ref, nil
}

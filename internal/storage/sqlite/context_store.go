// Package sqlite implements the storage interfaces on SQLite via the
// modernc.org/sqlite driver. It is the default backend for single-node
// deployments and for tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/pkg/types"
)

// ContextStore implements storage.Store using SQLite.
type ContextStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewContextStore opens a SQLite database, configures WAL mode, and creates
// the schema. Records written through this store get the default validity
// window; use SetRecordTTL to override.
func NewContextStore(dsn string) (*ContextStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode allows concurrent readers to proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &ContextStore{db: db, ttl: storage.DefaultRecordTTL}, nil
}

// SetRecordTTL overrides the validity window applied on record writes.
func (s *ContextStore) SetRecordTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// GetDB exposes the underlying database connection. Used by handlers that
// need direct read-only queries (e.g. the activity time series).
func (s *ContextStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *ContextStore) Close() error {
	return s.db.Close()
}

// Get retrieves the live record for an entity regardless of validity.
func (s *ContextStore) Get(ctx context.Context, entityType types.EntityType, entityID string) (*types.ContextRecord, error) {
	if !entityType.Valid() || entityID == "" {
		return nil, fmt.Errorf("%w: entity type and id are required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT entity_type, entity_id, tenant_id, sections, tier_text, token_counts,
		       section_hashes, fragments, schema_version, version, generated_at,
		       valid_until, last_corrected_by, corrections_applied_at, parent_snapshot
		FROM context_records
		WHERE entity_type = ? AND entity_id = ?
	`, string(entityType), entityID)

	return scanRecord(row)
}

// GetIfValid retrieves the live record only if it is unexpired and
// schema-current.
func (s *ContextStore) GetIfValid(ctx context.Context, entityType types.EntityType, entityID string) (*types.ContextRecord, error) {
	rec, err := s.Get(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if !rec.IsValid(time.Now()) {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

// UpsertFull replaces all sections and all three tiers, assigns the next
// version, resets the validity window, and bulk-replaces the entity's
// reference entries in the same transaction.
func (s *ContextStore) UpsertFull(ctx context.Context, rec *types.ContextRecord, refs []types.ReferenceEntry) error {
	if rec == nil || !rec.EntityType.Valid() || rec.EntityID == "" {
		return fmt.Errorf("%w: record with entity type and id is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := currentVersion(ctx, tx, rec.EntityType, rec.EntityID)
	if err != nil {
		return err
	}
	stampRecord(rec, prev+1, s.ttl)

	if err := writeRecord(ctx, tx, rec); err != nil {
		return err
	}
	if err := replaceReferences(ctx, tx, storage.RecordID(rec.EntityType, rec.EntityID), refs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit upsert: %w", err)
	}
	return nil
}

// UpdateSections persists a partially regenerated record. The record must
// already exist; rec carries the merged state (changed sections plus the
// passed-through remainder).
func (s *ContextStore) UpdateSections(ctx context.Context, rec *types.ContextRecord, changed []types.SectionID, refs []types.ReferenceEntry, rebuildRefs bool) error {
	if rec == nil || !rec.EntityType.Valid() || rec.EntityID == "" {
		return fmt.Errorf("%w: record with entity type and id is required", storage.ErrInvalidInput)
	}
	if len(changed) == 0 {
		return fmt.Errorf("%w: at least one changed section is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := currentVersion(ctx, tx, rec.EntityType, rec.EntityID)
	if err != nil {
		return err
	}
	if prev == 0 {
		return storage.ErrNotFound
	}
	stampRecord(rec, prev+1, s.ttl)

	if err := writeRecord(ctx, tx, rec); err != nil {
		return err
	}
	if rebuildRefs {
		if err := replaceReferences(ctx, tx, storage.RecordID(rec.EntityType, rec.EntityID), refs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit section update: %w", err)
	}
	return nil
}

// SoftExpire sets the record's validity window end to now without touching
// content.
func (s *ContextStore) SoftExpire(ctx context.Context, entityType types.EntityType, entityID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE context_records SET valid_until = ?
		WHERE entity_type = ? AND entity_id = ?
	`, dbTime(time.Now()), string(entityType), entityID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to soft-expire record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// stampRecord applies the write-time invariants: next version, current
// schema version, fresh generation timestamp, and a reset validity window.
func stampRecord(rec *types.ContextRecord, version int, ttl time.Duration) {
	now := time.Now().UTC()
	rec.Version = version
	rec.SchemaVersion = types.CurrentSchemaVersion
	rec.GeneratedAt = now
	rec.ValidUntil = now.Add(ttl)
}

func currentVersion(ctx context.Context, tx *sql.Tx, entityType types.EntityType, entityID string) (int, error) {
	var v int
	err := tx.QueryRowContext(ctx, `
		SELECT version FROM context_records WHERE entity_type = ? AND entity_id = ?
	`, string(entityType), entityID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to read current version: %w", err)
	}
	return v, nil
}

func writeRecord(ctx context.Context, tx *sql.Tx, rec *types.ContextRecord) error {
	sectionsJSON, err := json.Marshal(rec.Sections)
	if err != nil {
		return fmt.Errorf("failed to marshal sections: %w", err)
	}
	tierJSON, err := json.Marshal(rec.TierText)
	if err != nil {
		return fmt.Errorf("failed to marshal tier text: %w", err)
	}
	tokensJSON, err := json.Marshal(rec.TokenCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal token counts: %w", err)
	}

	var hashesJSON, fragmentsJSON, parentJSON any
	if rec.SectionHashes != nil {
		b, err := json.Marshal(rec.SectionHashes)
		if err != nil {
			return fmt.Errorf("failed to marshal section hashes: %w", err)
		}
		hashesJSON = string(b)
	}
	if rec.Fragments != nil {
		b, err := json.Marshal(rec.Fragments)
		if err != nil {
			return fmt.Errorf("failed to marshal fragments: %w", err)
		}
		fragmentsJSON = string(b)
	}
	if rec.ParentSnapshot != nil {
		b, err := json.Marshal(rec.ParentSnapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal parent snapshot: %w", err)
		}
		parentJSON = string(b)
	}

	var correctedBy any
	if rec.LastCorrectedBy != nil {
		correctedBy = *rec.LastCorrectedBy
	}
	var correctedAt any
	if rec.CorrectionsAppliedAt != nil {
		correctedAt = dbTime(*rec.CorrectionsAppliedAt)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO context_records (
			entity_type, entity_id, tenant_id, sections, tier_text, token_counts,
			section_hashes, fragments, schema_version, version, generated_at,
			valid_until, last_corrected_by, corrections_applied_at, parent_snapshot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			sections = excluded.sections,
			tier_text = excluded.tier_text,
			token_counts = excluded.token_counts,
			section_hashes = excluded.section_hashes,
			fragments = excluded.fragments,
			schema_version = excluded.schema_version,
			version = excluded.version,
			generated_at = excluded.generated_at,
			valid_until = excluded.valid_until,
			last_corrected_by = excluded.last_corrected_by,
			corrections_applied_at = excluded.corrections_applied_at,
			parent_snapshot = excluded.parent_snapshot
	`, string(rec.EntityType), rec.EntityID, rec.TenantID,
		string(sectionsJSON), string(tierJSON), string(tokensJSON),
		hashesJSON, fragmentsJSON, rec.SchemaVersion, rec.Version,
		dbTime(rec.GeneratedAt), dbTime(rec.ValidUntil), correctedBy, correctedAt, parentJSON)
	if err != nil {
		return fmt.Errorf("sqlite: failed to write context record: %w", err)
	}
	return nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*types.ContextRecord, error) {
	var (
		rec                 types.ContextRecord
		entityType          string
		sectionsJSON        string
		tierJSON            string
		tokensJSON          string
		hashesJSON          sql.NullString
		fragmentsJSON       sql.NullString
		generatedAt         string
		validUntil          string
		lastCorrectedBy     sql.NullString
		correctionsApplied  sql.NullString
		parentSnapshotJSON  sql.NullString
	)

	err := row.Scan(&entityType, &rec.EntityID, &rec.TenantID, &sectionsJSON,
		&tierJSON, &tokensJSON, &hashesJSON, &fragmentsJSON, &rec.SchemaVersion,
		&rec.Version, &generatedAt, &validUntil, &lastCorrectedBy,
		&correctionsApplied, &parentSnapshotJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to scan context record: %w", err)
	}

	rec.EntityType = types.EntityType(entityType)

	if err := json.Unmarshal([]byte(sectionsJSON), &rec.Sections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sections: %w", err)
	}
	if err := json.Unmarshal([]byte(tierJSON), &rec.TierText); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tier text: %w", err)
	}
	if err := json.Unmarshal([]byte(tokensJSON), &rec.TokenCounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token counts: %w", err)
	}
	if hashesJSON.Valid {
		if err := json.Unmarshal([]byte(hashesJSON.String), &rec.SectionHashes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal section hashes: %w", err)
		}
	}
	if fragmentsJSON.Valid {
		if err := json.Unmarshal([]byte(fragmentsJSON.String), &rec.Fragments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fragments: %w", err)
		}
	}
	if parentSnapshotJSON.Valid {
		if err := json.Unmarshal([]byte(parentSnapshotJSON.String), &rec.ParentSnapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parent snapshot: %w", err)
		}
	}

	if rec.GeneratedAt, err = parseDBTime(generatedAt); err != nil {
		return nil, err
	}
	if rec.ValidUntil, err = parseDBTime(validUntil); err != nil {
		return nil, err
	}
	if lastCorrectedBy.Valid {
		v := lastCorrectedBy.String
		rec.LastCorrectedBy = &v
	}
	if correctionsApplied.Valid {
		t, err := parseDBTime(correctionsApplied.String)
		if err != nil {
			return nil, err
		}
		rec.CorrectionsAppliedAt = &t
	}

	return &rec, nil
}

// dbTime normalizes timestamps to UTC RFC3339Nano strings so that SQLite
// string comparison and round-tripping stay driver-independent.
func dbTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseDBTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

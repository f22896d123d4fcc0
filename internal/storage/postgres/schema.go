package postgres

// Schema is the complete PostgreSQL schema for the context engine. All
// statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS context_records (
	entity_type            TEXT NOT NULL,
	entity_id              TEXT NOT NULL,
	tenant_id              TEXT NOT NULL,
	sections               JSONB NOT NULL,
	tier_text              JSONB NOT NULL,
	token_counts           JSONB NOT NULL,
	section_hashes         JSONB,
	fragments              JSONB,
	schema_version         INTEGER NOT NULL,
	version                INTEGER NOT NULL,
	generated_at           TIMESTAMPTZ NOT NULL,
	valid_until            TIMESTAMPTZ NOT NULL,
	last_corrected_by      TEXT,
	corrections_applied_at TIMESTAMPTZ,
	parent_snapshot        JSONB,
	PRIMARY KEY (entity_type, entity_id)
);

CREATE TABLE IF NOT EXISTS corrections (
	id                TEXT PRIMARY KEY,
	context_record_id TEXT NOT NULL,
	section_id        TEXT NOT NULL,
	field_path        TEXT NOT NULL,
	type              TEXT NOT NULL,
	original_value    TEXT,
	corrected_value   TEXT NOT NULL,
	reason            TEXT,
	created_by        TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	is_active         BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_corrections_record
	ON corrections(context_record_id, is_active, created_at);

CREATE TABLE IF NOT EXISTS reference_entries (
	id                TEXT PRIMARY KEY,
	context_record_id TEXT NOT NULL,
	ref_id            TEXT NOT NULL UNIQUE,
	ref_type          TEXT NOT NULL,
	source_id         TEXT NOT NULL,
	source_type       TEXT NOT NULL,
	title             TEXT NOT NULL,
	summary           TEXT,
	source_date       TIMESTAMPTZ NOT NULL,
	tenant_id         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reference_entries_record
	ON reference_entries(context_record_id);
`

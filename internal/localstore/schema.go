package localstore

// Schema is the current full schema, kept in sync with the migration files.
// Tests apply it directly to an in-memory database instead of running the
// migration chain.
const Schema = `
CREATE TABLE drafts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL DEFAULT '',
    client_name TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    current_step INTEGER NOT NULL DEFAULT 0,
    linked_assessment_id TEXT,
    form_data BLOB,
    remote_version INTEGER NOT NULL DEFAULT 0,
    last_modified TIMESTAMP NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    updated_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_drafts_last_modified ON drafts(last_modified);

CREATE TABLE sync_queue (
    id TEXT PRIMARY KEY,
    draft_id TEXT NOT NULL,
    action TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    not_before TIMESTAMP
);

CREATE INDEX idx_sync_queue_draft ON sync_queue(draft_id);

CREATE TABLE session_flags (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE audit_log (
    id TEXT PRIMARY KEY,
    event TEXT NOT NULL,
    draft_id TEXT,
    detail TEXT,
    ts TIMESTAMP NOT NULL
);
`

// Package localstore implements draft.LocalStore on SQLite.
package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"draftsync/internal/draft"
	"draftsync/internal/localstore/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the draft.LocalStore interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ draft.LocalStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) a SQLite-backed local store.
// path can be a file path or ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating local store: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is
// responsible for the schema and for configuring the connection.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tests that need a raw configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// The store is written by one process but read by drain operations on
	// other goroutines; wait for locks instead of failing fast.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Draft operations

const draftColumns = `id, tenant_id, client_name, type, status, current_step,
	linked_assessment_id, form_data, remote_version, last_modified, created_by, updated_by`

func (s *SQLiteStore) GetDraft(id string) (*draft.Record, error) {
	row := s.db.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id)
	rec, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, draft.ErrNotFound
		}
		return nil, fmt.Errorf("getting draft: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) PutDraft(rec *draft.Record) error {
	_, err := s.db.Exec(`
		INSERT INTO drafts (`+draftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			client_name = excluded.client_name,
			type = excluded.type,
			status = excluded.status,
			current_step = excluded.current_step,
			linked_assessment_id = excluded.linked_assessment_id,
			form_data = excluded.form_data,
			remote_version = excluded.remote_version,
			last_modified = excluded.last_modified,
			created_by = excluded.created_by,
			updated_by = excluded.updated_by`,
		rec.ID, rec.TenantID, rec.ClientName, string(rec.Type), string(rec.Status),
		rec.CurrentStep, nullString(rec.LinkedAssessmentID), []byte(rec.Data),
		rec.RemoteVersion, rec.LastModified, rec.CreatedBy, rec.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("putting draft: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteDraft(id string) error {
	if _, err := s.db.Exec(`DELETE FROM drafts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDrafts() ([]*draft.Record, error) {
	rows, err := s.db.Query(`SELECT ` + draftColumns + ` FROM drafts ORDER BY last_modified DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	defer rows.Close()

	var out []*draft.Record
	for rows.Next() {
		rec, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning draft: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) HasDraft(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM drafts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking draft existence: %w", err)
	}
	return true, nil
}

// Offline queue operations

func (s *SQLiteStore) AppendQueue(entry *draft.QueueEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_queue (id, draft_id, action, ts, attempts, not_before)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DraftID, string(entry.Action), entry.Timestamp,
		entry.Attempts, nullTime(entry.NotBefore),
	)
	if err != nil {
		return fmt.Errorf("appending queue entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListQueue() ([]*draft.QueueEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, draft_id, action, ts, attempts, not_before
		FROM sync_queue ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	defer rows.Close()

	var out []*draft.QueueEntry
	for rows.Next() {
		var e draft.QueueEntry
		var action string
		var notBefore sql.NullTime
		if err := rows.Scan(&e.ID, &e.DraftID, &action, &e.Timestamp, &e.Attempts, &notBefore); err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		e.Action = draft.QueueAction(action)
		if notBefore.Valid {
			e.NotBefore = notBefore.Time
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateQueueEntry(entry *draft.QueueEntry) error {
	_, err := s.db.Exec(`
		UPDATE sync_queue SET attempts = ?, not_before = ? WHERE id = ?`,
		entry.Attempts, nullTime(entry.NotBefore), entry.ID,
	)
	if err != nil {
		return fmt.Errorf("updating queue entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveQueueEntry(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("removing queue entry: %w", err)
	}
	return nil
}

// Session flags

func (s *SQLiteStore) GetSessionFlag(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM session_flags WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting session flag: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSessionFlag(key, value string) error {
	if value == "" {
		if _, err := s.db.Exec(`DELETE FROM session_flags WHERE key = ?`, key); err != nil {
			return fmt.Errorf("clearing session flag: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO session_flags (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting session flag: %w", err)
	}
	return nil
}

// Audit trail

func (s *SQLiteStore) AppendAudit(event *draft.AuditEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_log (id, event, draft_id, detail, ts)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.Event, nullString(event.DraftID), nullString(event.Detail), event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit events, newest first. Not part of
// draft.LocalStore; used by the CLI's audit command.
func (s *SQLiteStore) ListAudit(limit int) ([]*draft.AuditEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, event, draft_id, detail, ts
		FROM audit_log ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var out []*draft.AuditEvent
	for rows.Next() {
		var e draft.AuditEvent
		var draftID, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Event, &draftID, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.DraftID = draftID.String
		e.Detail = detail.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*draft.Record, error) {
	var rec draft.Record
	var typ, status string
	var linked sql.NullString
	var formData []byte
	var lastModified time.Time
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.ClientName, &typ, &status,
		&rec.CurrentStep, &linked, &formData, &rec.RemoteVersion, &lastModified,
		&rec.CreatedBy, &rec.UpdatedBy)
	if err != nil {
		return nil, err
	}
	rec.Type = draft.RecordType(typ)
	rec.Status = draft.RecordStatus(status)
	rec.LinkedAssessmentID = linked.String
	rec.Data = formData
	rec.LastModified = lastModified
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"draftsync/internal/draft"
	"draftsync/internal/remote/migrations"
)

// PostgresStore implements draft.RemoteStore on Postgres via pgx. Optimistic
// concurrency rides on a version column the server increments on every
// successful write: the conditional update matches on (id, version) and a
// missing row is the conflict signal.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger draft.Logger
}

var _ draft.RemoteStore = (*PostgresStore)(nil)

// NewPostgresStore connects to the database, runs migrations, and returns
// the store.
func NewPostgresStore(ctx context.Context, databaseURL string, logger draft.Logger) (*PostgresStore, error) {
	if err := migrations.Up(databaseURL); err != nil {
		return nil, fmt.Errorf("migrating remote store: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// NewPostgresStoreFromPool wraps an existing pool. The caller owns the pool
// lifecycle and the schema.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, logger draft.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

const draftColumns = `id, tenant_id, client_name, type, status, current_step,
	linked_assessment_id, form_data, version, updated_at, created_by, updated_by`

// Insert creates the remote row with version 1. An id that already exists is
// reported as a version conflict: another device promoted the record first.
func (s *PostgresStore) Insert(ctx context.Context, rec *draft.Record) (*draft.Record, error) {
	const query = `
		INSERT INTO drafts (id, tenant_id, client_name, type, status, current_step,
			linked_assessment_id, form_data, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + draftColumns

	row := s.pool.QueryRow(ctx, query,
		rec.ID, rec.TenantID, rec.ClientName, string(rec.Type), string(rec.Status),
		rec.CurrentStep, rec.LinkedAssessmentID, []byte(rec.Data), rec.CreatedBy, rec.UpdatedBy,
	)
	out, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, draft.ErrVersionConflict
		}
		return nil, fmt.Errorf("inserting draft: %w", err)
	}
	return out, nil
}

// Update is the conditional write: "update row WHERE id = X AND version = V".
// No row updated means the version moved underneath the caller.
func (s *PostgresStore) Update(ctx context.Context, rec *draft.Record, expectedVersion int64) (*draft.Record, error) {
	const query = `
		UPDATE drafts
		SET client_name = $3, type = $4, status = $5, current_step = $6,
			linked_assessment_id = NULLIF($7, '')::uuid, form_data = $8,
			updated_by = $9, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING ` + draftColumns

	row := s.pool.QueryRow(ctx, query,
		rec.ID, expectedVersion, rec.ClientName, string(rec.Type), string(rec.Status),
		rec.CurrentStep, rec.LinkedAssessmentID, []byte(rec.Data), rec.UpdatedBy,
	)
	out, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.Get(ctx, rec.ID); errors.Is(getErr, draft.ErrNotFound) {
				return nil, draft.ErrNotFound
			}
			return nil, draft.ErrVersionConflict
		}
		return nil, fmt.Errorf("updating draft: %w", err)
	}
	return out, nil
}

// Overwrite writes the row with the version guard disabled (keepMine). It is
// an upsert so resolution still succeeds when the remote row was deleted.
func (s *PostgresStore) Overwrite(ctx context.Context, rec *draft.Record) (*draft.Record, error) {
	const query = `
		INSERT INTO drafts (id, tenant_id, client_name, type, status, current_step,
			linked_assessment_id, form_data, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			client_name = excluded.client_name,
			type = excluded.type,
			status = excluded.status,
			current_step = excluded.current_step,
			linked_assessment_id = excluded.linked_assessment_id,
			form_data = excluded.form_data,
			updated_by = excluded.updated_by,
			version = drafts.version + 1,
			updated_at = now()
		RETURNING ` + draftColumns

	row := s.pool.QueryRow(ctx, query,
		rec.ID, rec.TenantID, rec.ClientName, string(rec.Type), string(rec.Status),
		rec.CurrentStep, rec.LinkedAssessmentID, []byte(rec.Data), rec.CreatedBy, rec.UpdatedBy,
	)
	out, err := scanDraft(row)
	if err != nil {
		return nil, fmt.Errorf("overwriting draft: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*draft.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id)
	out, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, draft.ErrNotFound
		}
		return nil, fmt.Errorf("getting draft: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]*draft.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE tenant_id = $1 ORDER BY updated_at DESC`,
		tenantID)
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

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM drafts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	return nil
}

// AcquireLock is a single conditional statement, so acquisition is atomic
// against concurrent callers. A lock is taken when free, already owned by
// the same (user, device), or stale.
func (s *PostgresStore) AcquireLock(ctx context.Context, draftID, userID, deviceID string) (bool, error) {
	const query = `
		UPDATE drafts
		SET locked_by = $2, lock_device_id = $3, locked_at = now()
		WHERE id = $1 AND (
			locked_by IS NULL
			OR (locked_by = $2 AND lock_device_id = $3)
			OR locked_at < now() - $4::interval
		)`

	tag, err := s.pool.Exec(ctx, query, draftID, userID, deviceID, draft.StaleLockTimeout.String())
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLock clears the lock fields if held by userID. Idempotent.
func (s *PostgresStore) ReleaseLock(ctx context.Context, draftID, userID string) error {
	const query = `
		UPDATE drafts
		SET locked_by = NULL, lock_device_id = NULL, locked_at = NULL
		WHERE id = $1 AND locked_by = $2`

	if _, err := s.pool.Exec(ctx, query, draftID, userID); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

func (s *PostgresStore) LockInfo(ctx context.Context, draftID string) (*draft.LockInfo, error) {
	const query = `SELECT locked_by, locked_at, lock_device_id FROM drafts WHERE id = $1`

	var lockedBy, deviceID *string
	var lockedAt *time.Time
	err := s.pool.QueryRow(ctx, query, draftID).Scan(&lockedBy, &lockedAt, &deviceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, draft.ErrNotFound
		}
		return nil, fmt.Errorf("fetching lock info: %w", err)
	}
	if lockedBy == nil || lockedAt == nil {
		return nil, nil
	}

	info := &draft.LockInfo{
		DraftID:  draftID,
		LockedBy: *lockedBy,
		LockedAt: *lockedAt,
		Stale:    time.Since(*lockedAt) > draft.StaleLockTimeout,
	}
	if deviceID != nil {
		info.DeviceID = *deviceID
	}
	return info, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for the LISTEN/NOTIFY feed.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func scanDraft(row pgx.Row) (*draft.Record, error) {
	var rec draft.Record
	var typ, status string
	var linked *string
	var formData []byte
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.ClientName, &typ, &status,
		&rec.CurrentStep, &linked, &formData, &rec.RemoteVersion, &rec.LastModified,
		&rec.CreatedBy, &rec.UpdatedBy)
	if err != nil {
		return nil, err
	}
	rec.Type = draft.RecordType(typ)
	rec.Status = draft.RecordStatus(status)
	if linked != nil {
		rec.LinkedAssessmentID = *linked
	}
	rec.Data = formData
	return &rec, nil
}

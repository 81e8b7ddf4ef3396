package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"draftsync/internal/draft"
)

// PostgresFeed implements draft.ChangeFeed on Postgres LISTEN/NOTIFY. The
// notify trigger publishes ids only (NOTIFY payloads are size-capped), so the
// feed re-fetches the row before emitting insert/update events.
type PostgresFeed struct {
	pool   *pgxpool.Pool
	store  *PostgresStore
	logger draft.Logger
}

var _ draft.ChangeFeed = (*PostgresFeed)(nil)

func NewPostgresFeed(store *PostgresStore, logger draft.Logger) *PostgresFeed {
	return &PostgresFeed{pool: store.Pool(), store: store, logger: logger}
}

// notification mirrors the json built by the notify_draft_change trigger.
type notification struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
}

// Subscribe takes a dedicated connection out of the pool, LISTENs on the
// draft_changes channel, and emits events for tenantID until ctx is
// cancelled or the connection drops. The returned channel is closed on exit;
// callers resubscribe if they want to keep listening.
func (f *PostgresFeed) Subscribe(ctx context.Context, tenantID string) (<-chan draft.ChangeEvent, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, `LISTEN draft_changes`); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listening on draft_changes: %w", err)
	}

	events := make(chan draft.ChangeEvent)
	go func() {
		defer close(events)
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					f.logger.Error("change feed connection lost", "error", err)
				}
				return
			}

			var note notification
			if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
				f.logger.Error("malformed change notification", "payload", n.Payload, "error", err)
				continue
			}
			if note.TenantID != "" && note.TenantID != tenantID {
				continue
			}

			ev, ok := f.buildEvent(ctx, note)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (f *PostgresFeed) buildEvent(ctx context.Context, note notification) (draft.ChangeEvent, bool) {
	kind := draft.ChangeKind(note.Kind)
	switch kind {
	case draft.ChangeDelete:
		return draft.ChangeEvent{Kind: kind, Row: &draft.Record{ID: note.ID}}, true
	case draft.ChangeInsert, draft.ChangeUpdate:
		rec, err := f.store.Get(ctx, note.ID)
		if err != nil {
			// Row can be gone again by the time we look; the delete
			// notification follows.
			if !errors.Is(err, draft.ErrNotFound) {
				f.logger.Error("fetching changed draft", "id", note.ID, "error", err)
			}
			return draft.ChangeEvent{}, false
		}
		return draft.ChangeEvent{Kind: kind, Row: rec}, true
	default:
		f.logger.Error("unknown change kind", "kind", note.Kind)
		return draft.ChangeEvent{}, false
	}
}

// Package remote implements draft.RemoteStore backends.
package remote

import (
	"context"
	"sync"

	"draftsync/internal/draft"
)

// MemoryStore is an in-memory implementation of the RemoteStore and
// ChangeFeed interfaces. It is the reference for the conditional-update and
// atomic-lock semantics and the backend used by tests. Safe for concurrent
// use.
type MemoryStore struct {
	clock draft.Clock

	mu      sync.Mutex
	rows    map[string]*draft.Record
	locks   map[string]*draft.LockInfo
	subs    map[int]*subscriber
	nextSub int
}

type subscriber struct {
	tenantID string
	ch       chan draft.ChangeEvent
}

var (
	_ draft.RemoteStore = (*MemoryStore)(nil)
	_ draft.ChangeFeed  = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory remote store.
func NewMemoryStore(clock draft.Clock) *MemoryStore {
	if clock == nil {
		clock = draft.RealClock{}
	}
	return &MemoryStore{
		clock: clock,
		rows:  make(map[string]*draft.Record),
		locks: make(map[string]*draft.LockInfo),
		subs:  make(map[int]*subscriber),
	}
}

// Insert creates the row with version 1. Inserting an id that already exists
// reports a version conflict: some other device synced the record first.
func (m *MemoryStore) Insert(_ context.Context, rec *draft.Record) (*draft.Record, error) {
	m.mu.Lock()
	if _, exists := m.rows[rec.ID]; exists {
		m.mu.Unlock()
		return nil, draft.ErrVersionConflict
	}
	row := rec.Clone()
	row.RemoteVersion = 1
	row.LastModified = m.clock.Now()
	m.rows[rec.ID] = row
	out := row.Clone()
	m.mu.Unlock()

	m.broadcast(draft.ChangeEvent{Kind: draft.ChangeInsert, Row: out.Clone()})
	return out, nil
}

// Update applies a version-guarded write: it succeeds only when the stored
// version equals expectedVersion, then increments the version.
func (m *MemoryStore) Update(_ context.Context, rec *draft.Record, expectedVersion int64) (*draft.Record, error) {
	m.mu.Lock()
	current, exists := m.rows[rec.ID]
	if !exists {
		m.mu.Unlock()
		return nil, draft.ErrNotFound
	}
	if current.RemoteVersion != expectedVersion {
		m.mu.Unlock()
		return nil, draft.ErrVersionConflict
	}
	row := rec.Clone()
	row.RemoteVersion = current.RemoteVersion + 1
	row.LastModified = m.clock.Now()
	m.rows[rec.ID] = row
	out := row.Clone()
	m.mu.Unlock()

	m.broadcast(draft.ChangeEvent{Kind: draft.ChangeUpdate, Row: out.Clone()})
	return out, nil
}

// Overwrite writes the row regardless of its stored version. A missing row
// is created, so keepMine still succeeds after a remote delete.
func (m *MemoryStore) Overwrite(_ context.Context, rec *draft.Record) (*draft.Record, error) {
	m.mu.Lock()
	row := rec.Clone()
	if current, exists := m.rows[rec.ID]; exists {
		row.RemoteVersion = current.RemoteVersion + 1
	} else {
		row.RemoteVersion = 1
	}
	row.LastModified = m.clock.Now()
	m.rows[rec.ID] = row
	out := row.Clone()
	m.mu.Unlock()

	m.broadcast(draft.ChangeEvent{Kind: draft.ChangeUpdate, Row: out.Clone()})
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*draft.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, exists := m.rows[id]
	if !exists {
		return nil, draft.ErrNotFound
	}
	return row.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string) ([]*draft.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*draft.Record
	for _, row := range m.rows {
		if row.TenantID == tenantID {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	_, existed := m.rows[id]
	delete(m.rows, id)
	delete(m.locks, id)
	m.mu.Unlock()

	if existed {
		m.broadcast(draft.ChangeEvent{Kind: draft.ChangeDelete, Row: &draft.Record{ID: id}})
	}
	return nil
}

// AcquireLock implements the atomic acquire-if-unlocked-or-owned-or-stale
// semantics under a single critical section, matching the single-statement
// behavior of the postgres backend.
func (m *MemoryStore) AcquireLock(_ context.Context, draftID, userID, deviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	current := m.locks[draftID]
	free := current == nil ||
		current.HeldBy(userID, deviceID) ||
		now.Sub(current.LockedAt) > draft.StaleLockTimeout
	if !free {
		return false, nil
	}
	m.locks[draftID] = &draft.LockInfo{
		DraftID:  draftID,
		LockedBy: userID,
		DeviceID: deviceID,
		LockedAt: now,
	}
	return true, nil
}

// ReleaseLock removes the lock if held by userID. Idempotent.
func (m *MemoryStore) ReleaseLock(_ context.Context, draftID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current := m.locks[draftID]; current != nil && current.LockedBy == userID {
		delete(m.locks, draftID)
	}
	return nil
}

func (m *MemoryStore) LockInfo(_ context.Context, draftID string) (*draft.LockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.locks[draftID]
	if current == nil {
		return nil, nil
	}
	info := *current
	info.Stale = m.clock.Now().Sub(current.LockedAt) > draft.StaleLockTimeout
	return &info, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Subscribe returns a feed channel for one tenant. The channel closes when
// ctx is cancelled. Slow consumers drop events rather than block writers;
// the list merger reconciles with a full re-fetch on resubscribe.
func (m *MemoryStore) Subscribe(ctx context.Context, tenantID string) (<-chan draft.ChangeEvent, error) {
	sub := &subscriber{tenantID: tenantID, ch: make(chan draft.ChangeEvent, 64)}

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

// broadcast fans an event out to matching subscribers. Delete events carry
// no tenant, so they go to everyone.
func (m *MemoryStore) broadcast(ev draft.ChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if ev.Row.TenantID != "" && sub.tenantID != "" && ev.Row.TenantID != sub.tenantID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

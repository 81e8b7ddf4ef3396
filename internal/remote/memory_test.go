package remote_test

import (
	"context"
	"testing"
	"time"

	"draftsync/internal/draft"
	"draftsync/internal/remote"
	"draftsync/internal/testutil"
)

func record(id, tenantID, clientName string) *draft.Record {
	return &draft.Record{
		ID:         id,
		TenantID:   tenantID,
		ClientName: clientName,
		Type:       draft.TypeAssessment,
		Status:     draft.StatusDraft,
		Data:       []byte(`{"field":"value"}`),
	}
}

func TestMemoryStore_Insert(t *testing.T) {
	store := remote.NewMemoryStore(testutil.FixedClock())
	ctx := context.Background()

	row, err := store.Insert(ctx, record("d1", "t1", "Acme"))
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if row.RemoteVersion != 1 {
		t.Errorf("version = %d, want 1", row.RemoteVersion)
	}
	if row.LastModified.IsZero() {
		t.Error("LastModified not stamped")
	}

	// A second insert of the same id is a version conflict, not an overwrite.
	if _, err := store.Insert(ctx, record("d1", "t1", "Other")); err != draft.ErrVersionConflict {
		t.Errorf("duplicate Insert() error = %v, want ErrVersionConflict", err)
	}
	got, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ClientName != "Acme" {
		t.Errorf("duplicate insert overwrote the row: %q", got.ClientName)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	store := remote.NewMemoryStore(testutil.FixedClock())
	ctx := context.Background()

	if _, err := store.Insert(ctx, record("d1", "t1", "Acme")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	t.Run("matching version succeeds and bumps", func(t *testing.T) {
		row, err := store.Update(ctx, record("d1", "t1", "Acme v2"), 1)
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if row.RemoteVersion != 2 {
			t.Errorf("version = %d, want 2", row.RemoteVersion)
		}
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		if _, err := store.Update(ctx, record("d1", "t1", "stale"), 1); err != draft.ErrVersionConflict {
			t.Errorf("Update() error = %v, want ErrVersionConflict", err)
		}
	})

	t.Run("missing row is not found", func(t *testing.T) {
		if _, err := store.Update(ctx, record("missing", "t1", "x"), 1); err != draft.ErrNotFound {
			t.Errorf("Update() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryStore_Overwrite(t *testing.T) {
	store := remote.NewMemoryStore(testutil.FixedClock())
	ctx := context.Background()

	t.Run("missing row is created at version 1", func(t *testing.T) {
		row, err := store.Overwrite(ctx, record("d1", "t1", "Acme"))
		if err != nil {
			t.Fatalf("Overwrite() error = %v", err)
		}
		if row.RemoteVersion != 1 {
			t.Errorf("version = %d, want 1", row.RemoteVersion)
		}
	})

	t.Run("existing row is replaced regardless of version", func(t *testing.T) {
		stale := record("d1", "t1", "forced")
		stale.RemoteVersion = 0 // caller's version plays no part
		row, err := store.Overwrite(ctx, stale)
		if err != nil {
			t.Fatalf("Overwrite() error = %v", err)
		}
		if row.RemoteVersion != 2 {
			t.Errorf("version = %d, want 2", row.RemoteVersion)
		}
		if row.ClientName != "forced" {
			t.Errorf("client name = %q, want forced", row.ClientName)
		}
	})
}

func TestMemoryStore_ListFiltersByTenant(t *testing.T) {
	store := remote.NewMemoryStore(testutil.FixedClock())
	ctx := context.Background()

	for _, r := range []*draft.Record{
		record("d1", "t1", "A"),
		record("d2", "t1", "B"),
		record("d3", "t2", "C"),
	} {
		if _, err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert(%s) error = %v", r.ID, err)
		}
	}

	rows, err := store.List(ctx, "t1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows for t1, want 2", len(rows))
	}
	for _, r := range rows {
		if r.TenantID != "t1" {
			t.Errorf("row %s has tenant %q", r.ID, r.TenantID)
		}
	}
}

func TestMemoryStore_DeleteReleasesLock(t *testing.T) {
	store := remote.NewMemoryStore(testutil.FixedClock())
	ctx := context.Background()

	if _, err := store.Insert(ctx, record("d1", "t1", "Acme")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if ok, _ := store.AcquireLock(ctx, "d1", "u1", "dev1"); !ok {
		t.Fatal("AcquireLock() denied")
	}

	if err := store.Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "d1"); err != draft.ErrNotFound {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	info, err := store.LockInfo(ctx, "d1")
	if err != nil {
		t.Fatalf("LockInfo() error = %v", err)
	}
	if info != nil {
		t.Errorf("lock survived the delete: %+v", info)
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := remote.NewMemoryStore(testutil.FixedClock())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := store.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	otherTenant, err := store.Subscribe(ctx, "t2")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if _, err := store.Insert(ctx, record("d1", "t1", "Acme")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != draft.ChangeInsert || ev.Row.ID != "d1" {
			t.Errorf("event = %s %s, want insert d1", ev.Kind, ev.Row.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for insert event")
	}

	// The other tenant's subscriber sees nothing for this insert.
	select {
	case ev := <-otherTenant:
		t.Fatalf("cross-tenant event leaked: %s %s", ev.Kind, ev.Row.ID)
	case <-time.After(50 * time.Millisecond):
	}

	// Deletes carry no tenant and fan out to everyone.
	if err := store.Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for name, ch := range map[string]<-chan draft.ChangeEvent{"t1": events, "t2": otherTenant} {
		select {
		case ev := <-ch:
			if ev.Kind != draft.ChangeDelete || ev.Row.ID != "d1" {
				t.Errorf("%s event = %s %s, want delete d1", name, ev.Kind, ev.Row.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delete event on %s", name)
		}
	}

	// Cancelling the context closes the channel.
	cancel()
	select {
	case _, open := <-events:
		if open {
			// Drain any buffered event, then expect close.
			for range events {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

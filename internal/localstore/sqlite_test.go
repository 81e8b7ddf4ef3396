package localstore_test

import (
	"reflect"
	"testing"
	"time"

	"draftsync/internal/draft"
	"draftsync/internal/localstore"
	"draftsync/internal/testutil"
)

func newStore(t *testing.T) draft.LocalStore {
	t.Helper()
	return testutil.NewTestStore(t)
}

func sampleRecord(id string, modified time.Time) *draft.Record {
	return &draft.Record{
		ID:                 id,
		TenantID:           "t1",
		ClientName:         "Acme",
		Type:               draft.TypeAssessment,
		Status:             draft.StatusDraft,
		CurrentStep:        2,
		LinkedAssessmentID: "a1",
		Data:               []byte(`{"field":"value"}`),
		RemoteVersion:      3,
		LastModified:       modified,
		CreatedBy:          "u1",
		UpdatedBy:          "u2",
	}
}

func TestSQLiteStore_Drafts(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("put and get round-trips all fields", func(t *testing.T) {
		store := newStore(t)
		want := sampleRecord("d1", now)
		if err := store.PutDraft(want); err != nil {
			t.Fatalf("PutDraft() error = %v", err)
		}

		got, err := store.GetDraft("d1")
		if err != nil {
			t.Fatalf("GetDraft() error = %v", err)
		}
		if !got.LastModified.Equal(want.LastModified) {
			t.Errorf("LastModified = %v, want %v", got.LastModified, want.LastModified)
		}
		got.LastModified = want.LastModified
		if !reflect.DeepEqual(got, want) {
			t.Errorf("GetDraft() = %+v, want %+v", got, want)
		}
	})

	t.Run("put overwrites by id", func(t *testing.T) {
		store := newStore(t)
		if err := store.PutDraft(sampleRecord("d1", now)); err != nil {
			t.Fatalf("PutDraft() error = %v", err)
		}
		updated := sampleRecord("d1", now.Add(time.Minute))
		updated.ClientName = "Acme Corp"
		updated.RemoteVersion = 4
		if err := store.PutDraft(updated); err != nil {
			t.Fatalf("second PutDraft() error = %v", err)
		}

		got, err := store.GetDraft("d1")
		if err != nil {
			t.Fatalf("GetDraft() error = %v", err)
		}
		if got.ClientName != "Acme Corp" || got.RemoteVersion != 4 {
			t.Errorf("got %q v%d, want Acme Corp v4", got.ClientName, got.RemoteVersion)
		}
	})

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.GetDraft("missing"); err != draft.ErrNotFound {
			t.Errorf("GetDraft() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("empty optional fields round-trip", func(t *testing.T) {
		store := newStore(t)
		rec := &draft.Record{ID: "d1", Type: draft.TypeServiceContract, Status: draft.StatusDraft}
		if err := store.PutDraft(rec); err != nil {
			t.Fatalf("PutDraft() error = %v", err)
		}
		got, err := store.GetDraft("d1")
		if err != nil {
			t.Fatalf("GetDraft() error = %v", err)
		}
		if got.LinkedAssessmentID != "" {
			t.Errorf("LinkedAssessmentID = %q, want empty", got.LinkedAssessmentID)
		}
		if got.Synced() {
			t.Error("record with version 0 reports synced")
		}
	})

	t.Run("list orders newest first", func(t *testing.T) {
		store := newStore(t)
		for i, id := range []string{"old", "mid", "new"} {
			if err := store.PutDraft(sampleRecord(id, now.Add(time.Duration(i)*time.Hour))); err != nil {
				t.Fatalf("PutDraft(%s) error = %v", id, err)
			}
		}

		recs, err := store.ListDrafts()
		if err != nil {
			t.Fatalf("ListDrafts() error = %v", err)
		}
		if len(recs) != 3 {
			t.Fatalf("got %d drafts, want 3", len(recs))
		}
		if recs[0].ID != "new" || recs[1].ID != "mid" || recs[2].ID != "old" {
			t.Errorf("order = %s, %s, %s", recs[0].ID, recs[1].ID, recs[2].ID)
		}
	})

	t.Run("delete and has", func(t *testing.T) {
		store := newStore(t)
		if err := store.PutDraft(sampleRecord("d1", now)); err != nil {
			t.Fatalf("PutDraft() error = %v", err)
		}

		has, err := store.HasDraft("d1")
		if err != nil {
			t.Fatalf("HasDraft() error = %v", err)
		}
		if !has {
			t.Error("HasDraft() = false for existing draft")
		}

		if err := store.DeleteDraft("d1"); err != nil {
			t.Fatalf("DeleteDraft() error = %v", err)
		}
		has, err = store.HasDraft("d1")
		if err != nil {
			t.Fatalf("HasDraft() error = %v", err)
		}
		if has {
			t.Error("HasDraft() = true after delete")
		}
		// Deleting again is a no-op.
		if err := store.DeleteDraft("d1"); err != nil {
			t.Errorf("second DeleteDraft() error = %v", err)
		}
	})
}

func TestSQLiteStore_Queue(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("entries list in append order", func(t *testing.T) {
		store := newStore(t)
		for i, id := range []string{"q1", "q2", "q3"} {
			entry := &draft.QueueEntry{
				ID:        id,
				DraftID:   "d1",
				Action:    draft.ActionUpsert,
				Timestamp: now.Add(time.Duration(i) * time.Second),
			}
			if err := store.AppendQueue(entry); err != nil {
				t.Fatalf("AppendQueue(%s) error = %v", id, err)
			}
		}

		entries, err := store.ListQueue()
		if err != nil {
			t.Fatalf("ListQueue() error = %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("got %d entries, want 3", len(entries))
		}
		for i, id := range []string{"q1", "q2", "q3"} {
			if entries[i].ID != id {
				t.Errorf("entry %d = %s, want %s", i, entries[i].ID, id)
			}
		}
	})

	t.Run("update persists backoff fields", func(t *testing.T) {
		store := newStore(t)
		entry := &draft.QueueEntry{ID: "q1", DraftID: "d1", Action: draft.ActionDelete, Timestamp: now}
		if err := store.AppendQueue(entry); err != nil {
			t.Fatalf("AppendQueue() error = %v", err)
		}

		entry.Attempts = 2
		entry.NotBefore = now.Add(4 * time.Second)
		if err := store.UpdateQueueEntry(entry); err != nil {
			t.Fatalf("UpdateQueueEntry() error = %v", err)
		}

		entries, err := store.ListQueue()
		if err != nil {
			t.Fatalf("ListQueue() error = %v", err)
		}
		if entries[0].Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", entries[0].Attempts)
		}
		if !entries[0].NotBefore.Equal(entry.NotBefore) {
			t.Errorf("NotBefore = %v, want %v", entries[0].NotBefore, entry.NotBefore)
		}
		if entries[0].Action != draft.ActionDelete {
			t.Errorf("Action = %s, want delete", entries[0].Action)
		}
	})

	t.Run("remove", func(t *testing.T) {
		store := newStore(t)
		if err := store.AppendQueue(&draft.QueueEntry{ID: "q1", DraftID: "d1", Action: draft.ActionUpsert, Timestamp: now}); err != nil {
			t.Fatalf("AppendQueue() error = %v", err)
		}
		if err := store.RemoveQueueEntry("q1"); err != nil {
			t.Fatalf("RemoveQueueEntry() error = %v", err)
		}
		entries, err := store.ListQueue()
		if err != nil {
			t.Fatalf("ListQueue() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("got %d entries, want 0", len(entries))
		}
	})

	t.Run("zero NotBefore round-trips as zero", func(t *testing.T) {
		store := newStore(t)
		if err := store.AppendQueue(&draft.QueueEntry{ID: "q1", DraftID: "d1", Action: draft.ActionUpsert, Timestamp: now}); err != nil {
			t.Fatalf("AppendQueue() error = %v", err)
		}
		entries, err := store.ListQueue()
		if err != nil {
			t.Fatalf("ListQueue() error = %v", err)
		}
		if !entries[0].NotBefore.IsZero() {
			t.Errorf("NotBefore = %v, want zero", entries[0].NotBefore)
		}
	})
}

func TestSQLiteStore_SessionFlags(t *testing.T) {
	store := newStore(t)

	t.Run("missing flag reads as empty", func(t *testing.T) {
		got, err := store.GetSessionFlag("missing")
		if err != nil {
			t.Fatalf("GetSessionFlag() error = %v", err)
		}
		if got != "" {
			t.Errorf("GetSessionFlag() = %q, want empty", got)
		}
	})

	t.Run("set, overwrite, clear", func(t *testing.T) {
		if err := store.SetSessionFlag(draft.FlagActiveDraft, "d1"); err != nil {
			t.Fatalf("SetSessionFlag() error = %v", err)
		}
		if got, _ := store.GetSessionFlag(draft.FlagActiveDraft); got != "d1" {
			t.Errorf("flag = %q, want d1", got)
		}

		if err := store.SetSessionFlag(draft.FlagActiveDraft, "d2"); err != nil {
			t.Fatalf("overwrite SetSessionFlag() error = %v", err)
		}
		if got, _ := store.GetSessionFlag(draft.FlagActiveDraft); got != "d2" {
			t.Errorf("flag = %q, want d2", got)
		}

		// Empty value clears the flag.
		if err := store.SetSessionFlag(draft.FlagActiveDraft, ""); err != nil {
			t.Fatalf("clear SetSessionFlag() error = %v", err)
		}
		if got, _ := store.GetSessionFlag(draft.FlagActiveDraft); got != "" {
			t.Errorf("flag = %q, want empty after clear", got)
		}
	})
}

func TestSQLiteStore_Audit(t *testing.T) {
	store := testutil.NewTestStore(t)
	lister, ok := store.(*localstore.SQLiteStore)
	if !ok {
		t.Fatalf("test store is %T, want *localstore.SQLiteStore", store)
	}

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, event := range []string{"sync_conflict", "conflict_keep_mine", "draft_deleted"} {
		ev := &draft.AuditEvent{
			ID:        string(rune('a' + i)),
			Event:     event,
			DraftID:   "d1",
			Detail:    "detail",
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendAudit(ev); err != nil {
			t.Fatalf("AppendAudit(%s) error = %v", event, err)
		}
	}

	events, err := lister.ListAudit(2)
	if err != nil {
		t.Fatalf("ListAudit() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (limited)", len(events))
	}
	// Newest first.
	if events[0].Event != "draft_deleted" || events[1].Event != "conflict_keep_mine" {
		t.Errorf("order = %s, %s", events[0].Event, events[1].Event)
	}
	if events[0].DraftID != "d1" || events[0].Detail != "detail" {
		t.Errorf("event fields = %q %q", events[0].DraftID, events[0].Detail)
	}
}

func TestNewSQLiteStore_RunsMigrations(t *testing.T) {
	dir := t.TempDir()
	store, err := localstore.NewSQLiteStore(dir + "/drafts.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	if err := store.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	// The migrated schema is usable.
	if err := store.PutDraft(&draft.Record{ID: "d1", Type: draft.TypeAssessment, Status: draft.StatusDraft}); err != nil {
		t.Errorf("PutDraft() on migrated schema error = %v", err)
	}
}

package draft_test

import (
	"context"
	"testing"
	"time"

	"draftsync/internal/draft"
	"draftsync/internal/remote"
	"draftsync/internal/testutil"
)

func metaRecord(id, clientName string, modified time.Time) *draft.Record {
	return &draft.Record{
		ID:           id,
		TenantID:     "t1",
		ClientName:   clientName,
		Type:         draft.TypeAssessment,
		Status:       draft.StatusDraft,
		LastModified: modified,
	}
}

func seedRemote(t *testing.T, rem *remote.MemoryStore, recs ...*draft.Record) {
	t.Helper()
	for _, r := range recs {
		if _, err := rem.Overwrite(context.Background(), r); err != nil {
			t.Fatalf("seeding remote %s: %v", r.ID, err)
		}
	}
}

func TestListMerger_MergesLocalAndRemote(t *testing.T) {
	clock := testutil.FixedClock()
	base := clock.Now()
	local := testutil.NewTestStore(t)
	rem := testutil.NewTestRemote(clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Remote row, a remote+local pair where local is fresher, and a draft
	// that exists only locally.
	seedRemote(t, rem, metaRecord("remote-only", "Remote", base))
	seedRemote(t, rem, metaRecord("shared", "Shared (remote)", base))

	sharedLocal := metaRecord("shared", "Shared (local)", base.Add(time.Hour))
	localOnly := metaRecord("local-only", "Local", base.Add(2*time.Hour))
	for _, r := range []*draft.Record{sharedLocal, localOnly} {
		if err := local.PutDraft(r); err != nil {
			t.Fatalf("PutDraft(%s) error = %v", r.ID, err)
		}
	}

	m := draft.NewListMerger(local, rem, rem, draft.NewNopLogger(), draft.ListMergerConfig{
		TenantID: "t1",
		Enabled:  true,
	})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rows := m.Snapshot()
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3: %v", len(rows), rows)
	}

	// Newest-first ordering.
	if rows[0].ID != "local-only" || rows[1].ID != "shared" || rows[2].ID != "remote-only" {
		t.Errorf("order = %s, %s, %s", rows[0].ID, rows[1].ID, rows[2].ID)
	}
	// The fresher local copy won the shared slot.
	if rows[1].ClientName != "Shared (local)" {
		t.Errorf("shared row = %q, want the fresher local copy", rows[1].ClientName)
	}
	// Snapshots never carry payloads.
	for _, r := range rows {
		if r.Data != nil {
			t.Errorf("row %s carries a payload", r.ID)
		}
	}
}

func TestListMerger_DisabledServesLocalOnly(t *testing.T) {
	clock := testutil.FixedClock()
	local := testutil.NewTestStore(t)
	rem := testutil.NewTestRemote(clock)

	seedRemote(t, rem, metaRecord("remote-only", "Remote", clock.Now()))
	if err := local.PutDraft(metaRecord("local-only", "Local", clock.Now())); err != nil {
		t.Fatalf("PutDraft() error = %v", err)
	}

	m := draft.NewListMerger(local, rem, rem, draft.NewNopLogger(), draft.ListMergerConfig{
		TenantID: "t1",
		Enabled:  false,
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rows := m.Snapshot()
	if len(rows) != 1 || rows[0].ID != "local-only" {
		t.Errorf("rows = %v, want the local row only", rows)
	}
	if m.Connected() {
		t.Error("disabled merger reports connected")
	}
}

func TestListMerger_Apply(t *testing.T) {
	clock := testutil.FixedClock()
	base := clock.Now()
	m := draft.NewListMerger(testutil.NewTestStore(t), testutil.NewTestRemote(clock), nil,
		draft.NewNopLogger(), draft.ListMergerConfig{TenantID: "t1"})

	t.Run("insert appends", func(t *testing.T) {
		m.Apply(draft.ChangeEvent{Kind: draft.ChangeInsert, Row: metaRecord("d1", "One", base)})
		rows := m.Snapshot()
		if len(rows) != 1 || rows[0].ID != "d1" {
			t.Fatalf("rows = %v, want [d1]", rows)
		}
	})

	t.Run("update replaces by id", func(t *testing.T) {
		m.Apply(draft.ChangeEvent{Kind: draft.ChangeUpdate, Row: metaRecord("d1", "One updated", base.Add(time.Minute))})
		rows := m.Snapshot()
		if len(rows) != 1 {
			t.Fatalf("got %d rows, want 1", len(rows))
		}
		if rows[0].ClientName != "One updated" {
			t.Errorf("client name = %q, want One updated", rows[0].ClientName)
		}
	})

	t.Run("stale update loses to fresher row", func(t *testing.T) {
		m.Apply(draft.ChangeEvent{Kind: draft.ChangeUpdate, Row: metaRecord("d1", "Stale", base.Add(-time.Hour))})
		rows := m.Snapshot()
		if rows[0].ClientName != "One updated" {
			t.Errorf("client name = %q, stale event replaced fresher row", rows[0].ClientName)
		}
	})

	t.Run("delete removes", func(t *testing.T) {
		m.Apply(draft.ChangeEvent{Kind: draft.ChangeDelete, Row: &draft.Record{ID: "d1"}})
		if rows := m.Snapshot(); len(rows) != 0 {
			t.Errorf("rows = %v, want empty", rows)
		}
	})

	t.Run("nil row is ignored", func(t *testing.T) {
		m.Apply(draft.ChangeEvent{Kind: draft.ChangeInsert})
		if rows := m.Snapshot(); len(rows) != 0 {
			t.Errorf("rows = %v, want empty", rows)
		}
	})
}

func TestListMerger_LiveFeedEvents(t *testing.T) {
	clock := testutil.FixedClock()
	local := testutil.NewTestStore(t)
	rem := testutil.NewTestRemote(clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := draft.NewListMerger(local, rem, rem, draft.NewNopLogger(), draft.ListMergerConfig{
		TenantID: "t1",
		Enabled:  true,
	})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "feed connection", m.Connected)

	if _, err := rem.Insert(ctx, metaRecord("d1", "Live", clock.Now())); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	waitFor(t, "insert event", func() bool {
		rows := m.Snapshot()
		return len(rows) == 1 && rows[0].ID == "d1"
	})

	if err := rem.Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	waitFor(t, "delete event", func() bool {
		return len(m.Snapshot()) == 0
	})
}

// listFailRemote forces the initial full fetch to fail.
type listFailRemote struct{ draft.RemoteStore }

func (listFailRemote) List(context.Context, string) ([]*draft.Record, error) {
	return nil, context.DeadlineExceeded
}

func TestListMerger_DegradedStartKeepsLocalList(t *testing.T) {
	clock := testutil.FixedClock()
	local := testutil.NewTestStore(t)
	rem := testutil.NewTestRemote(clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := local.PutDraft(metaRecord("d1", "Local", clock.Now())); err != nil {
		t.Fatalf("PutDraft() error = %v", err)
	}

	m := draft.NewListMerger(local, listFailRemote{rem}, rem, draft.NewNopLogger(), draft.ListMergerConfig{
		TenantID: "t1",
		Enabled:  true,
	})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rows := m.Snapshot()
	if len(rows) != 1 || rows[0].ID != "d1" {
		t.Errorf("rows = %v, want the local row", rows)
	}
}

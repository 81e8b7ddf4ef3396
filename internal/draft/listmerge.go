package draft

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ListMergerConfig configures a ListMerger.
type ListMergerConfig struct {
	TenantID string

	// Enabled gates activation; a disabled merger serves the local-only list.
	Enabled bool

	// ResubscribeDelay is the pause before re-opening a dropped feed
	// subscription. Defaults to 5s.
	ResubscribeDelay time.Duration

	// OnChange, if set, is called after every list mutation. Called
	// synchronously from the feed goroutine; keep it cheap.
	OnChange func()
}

// ListMerger maintains a unified, deduplicated, freshest-wins view of all
// drafts for dashboards, merging the remote change feed with locally cached
// records. Merged entries carry metadata only; payloads stay in the stores.
//
// On feed error the merger keeps serving its last good in-memory list and
// flips the Connected flag; it re-subscribes in the background.
type ListMerger struct {
	local  LocalStore
	remote RemoteStore
	feed   ChangeFeed
	logger Logger
	cfg    ListMergerConfig

	mu        sync.Mutex
	rows      map[string]*Record
	connected bool
	started   bool
}

// NewListMerger creates a list merger. Call Start to activate it.
func NewListMerger(local LocalStore, remote RemoteStore, feed ChangeFeed, logger Logger, cfg ListMergerConfig) *ListMerger {
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = 5 * time.Second
	}
	return &ListMerger{
		local:  local,
		remote: remote,
		feed:   feed,
		logger: logger,
		cfg:    cfg,
		rows:   make(map[string]*Record),
	}
}

// Start performs the initial full fetch, merges in local records, and opens
// the persistent change feed subscription. When the merger is disabled or
// has no tenant scope it loads the local list only and returns.
func (m *ListMerger) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if !m.cfg.Enabled || m.cfg.TenantID == "" {
		if err := m.reload(ctx, nil); err != nil {
			return err
		}
		return nil
	}

	remoteRows, err := m.remote.List(ctx, m.cfg.TenantID)
	if err != nil {
		// Degraded start: serve the local list, stay disconnected.
		m.logger.Warn("initial remote fetch failed", "error", err)
		remoteRows = nil
	}
	if err := m.reload(ctx, remoteRows); err != nil {
		return err
	}

	go m.run(ctx)
	return nil
}

// reload rebuilds the map: seed with remote rows, overlay local records that
// are absent remotely or locally fresher.
func (m *ListMerger) reload(ctx context.Context, remoteRows []*Record) error {
	localRows, err := m.local.ListDrafts()
	if err != nil {
		return fmt.Errorf("listing local drafts: %w", err)
	}

	rows := make(map[string]*Record, len(remoteRows)+len(localRows))
	for _, r := range remoteRows {
		rows[r.ID] = stripPayload(r)
	}
	for _, l := range localRows {
		existing, ok := rows[l.ID]
		if !ok || l.LastModified.After(existing.LastModified) {
			rows[l.ID] = stripPayload(l)
		}
	}

	m.mu.Lock()
	m.rows = rows
	m.mu.Unlock()
	m.notify()
	return nil
}

// run owns the feed subscription for the merger's lifetime, re-subscribing
// after drops until ctx is cancelled.
func (m *ListMerger) run(ctx context.Context) {
	for {
		events, err := m.feed.Subscribe(ctx, m.cfg.TenantID)
		if err != nil {
			m.setConnected(false)
			m.logger.Warn("change feed subscribe failed", "error", err)
		} else {
			m.setConnected(true)
			for ev := range events {
				m.Apply(ev)
			}
			m.setConnected(false)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ResubscribeDelay):
		}

		// The feed may have dropped events while down; refresh the seed.
		if rows, err := m.remote.List(ctx, m.cfg.TenantID); err == nil {
			if err := m.reload(ctx, rows); err != nil {
				m.logger.Warn("list reload failed", "error", err)
			}
		}
	}
}

// Apply updates the in-memory list from one change feed event: insert
// appends (deduplicated by id), update replaces by id, delete removes by id.
// No full re-fetch happens per event.
func (m *ListMerger) Apply(ev ChangeEvent) {
	if ev.Row == nil {
		return
	}
	m.mu.Lock()
	switch ev.Kind {
	case ChangeInsert, ChangeUpdate:
		existing, ok := m.rows[ev.Row.ID]
		// Freshest wins: a local-only row newer than the event keeps its slot.
		if !ok || !existing.LastModified.After(ev.Row.LastModified) {
			m.rows[ev.Row.ID] = stripPayload(ev.Row)
		}
	case ChangeDelete:
		delete(m.rows, ev.Row.ID)
	default:
		m.mu.Unlock()
		m.logger.Warn("unknown change event kind", "kind", ev.Kind)
		return
	}
	m.mu.Unlock()
	m.notify()
}

// UpsertLocal folds a locally created or saved record into the list without
// waiting for the feed (offline-only drafts never appear on the feed).
func (m *ListMerger) UpsertLocal(rec *Record) {
	m.Apply(ChangeEvent{Kind: ChangeUpdate, Row: rec})
}

// Snapshot returns the merged list sorted newest-first.
func (m *ListMerger) Snapshot() []*Record {
	m.mu.Lock()
	out := make([]*Record, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.Clone())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Connected reports live-sync health for the UI indicator.
func (m *ListMerger) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *ListMerger) setConnected(v bool) {
	m.mu.Lock()
	changed := m.connected != v
	m.connected = v
	m.mu.Unlock()
	if changed {
		m.logger.Info("change feed connection state", "connected", v)
	}
}

func (m *ListMerger) notify() {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange()
	}
}

// stripPayload clones a record without its payload; list consumers need
// labels and timestamps, not form data (which may be ciphertext locally).
func stripPayload(r *Record) *Record {
	c := r.Clone()
	c.Data = nil
	return c
}

package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Engine defaults, used when the config leaves the corresponding field zero.
const (
	DefaultPushDebounce = 2 * time.Second
	DefaultBackoffMin   = time.Second
	DefaultBackoffMax   = 5 * time.Minute
)

// EngineConfig configures a sync Engine.
type EngineConfig struct {
	TenantID string
	UserID   string
	DeviceID string

	// PushDebounce is the quiet period between a scheduled record and its
	// push; every schedule resets it, so only the last record scheduled
	// within the window is sent.
	PushDebounce time.Duration

	// BackoffMin and BackoffMax bound the offline-queue replay backoff.
	// Each failed replay doubles the delay from BackoffMin up to BackoffMax.
	BackoffMin time.Duration
	BackoffMax time.Duration

	// OnStateChange, if set, is called with each sync state transition.
	// Called synchronously; keep it cheap.
	OnStateChange func(SyncState)

	// OnRemoteAdopted, if set, is called when a useTheirs resolution (or a
	// drain) writes a remote row into the local store as the new baseline.
	// The record carries the plaintext payload. The UI layer uses this to
	// reset the active Autosave instance.
	OnRemoteAdopted func(rec *Record)
}

// Engine propagates local draft snapshots to the remote store under
// optimistic concurrency and mediates version conflicts. One engine instance
// serves one device session.
//
// The "pending record" is an explicit single-slot mailbox owned by the
// engine: each schedule replaces the slot, and the debounce timer drains it.
type Engine struct {
	local  LocalStore
	remote RemoteStore
	cipher Cipher
	logger Logger
	clock  Clock
	idgen  IDGenerator
	cfg    EngineConfig

	mu       sync.Mutex
	state    SyncState
	lastErr  string
	conflict *ConflictInfo
	// conflictLocal is the local pending record at conflict time, kept for
	// the keepMine path.
	conflictLocal *Record
	pending       *Record
	timer         *time.Timer
	online        bool
	gen           int

	// inflight is the at-most-one-inflight push guard. A push started while
	// another is in flight is dropped; the next debounce cycle picks up the
	// latest state.
	inflight atomic.Bool

	// netMu serializes every network write this engine issues. A queue
	// drain and a debounce-fired push must never race on the wire: a drain
	// started while a push is in flight waits for it, and vice versa.
	netMu sync.Mutex
}

// NewEngine creates a sync engine. The engine starts offline; call
// SetOnline(true) once connectivity is established.
func NewEngine(local LocalStore, remote RemoteStore, cipher Cipher, logger Logger, clock Clock, idgen IDGenerator, cfg EngineConfig) *Engine {
	if cfg.PushDebounce <= 0 {
		cfg.PushDebounce = DefaultPushDebounce
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	return &Engine{
		local:  local,
		remote: remote,
		cipher: cipher,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
		cfg:    cfg,
		state:  StateOffline,
	}
}

// configured reports whether the engine has everything it needs to reach the
// remote store. An unconfigured engine queues instead of pushing.
func (e *Engine) configured() bool {
	return e.remote != nil && e.cfg.TenantID != "" && e.cfg.UserID != ""
}

// ScheduleSync stores the record (plaintext payload) as pending and starts
// the debounce window, cancelling any previous timer. If the engine is
// offline or unconfigured, the intent is appended to the offline queue
// immediately instead.
func (e *Engine) ScheduleSync(rec *Record) {
	e.mu.Lock()
	if !e.online || !e.configured() {
		e.mu.Unlock()
		e.enqueue(rec.ID, ActionUpsert)
		return
	}
	e.pending = rec.Clone()
	if e.timer != nil {
		e.timer.Stop()
	}
	gen := e.gen
	e.timer = time.AfterFunc(e.cfg.PushDebounce, func() { e.fire(gen) })
	e.mu.Unlock()
}

// fire runs when the debounce window elapses: it takes the pending record
// and pushes it, unless the generation moved on (flush or shutdown).
func (e *Engine) fire(gen int) {
	e.mu.Lock()
	if gen != e.gen || e.pending == nil {
		e.mu.Unlock()
		return
	}
	rec := e.pending
	e.pending = nil
	e.mu.Unlock()

	if err := e.push(context.Background(), rec); err != nil {
		e.logger.Warn("scheduled push failed", "draft_id", rec.ID, "error", err)
	}
}

// push sends one record to the remote store under the inflight guard.
// A version mismatch becomes the conflict state, not an error. A transport
// failure becomes the error state and re-arms the record as pending so the
// next schedule or flush retries it.
func (e *Engine) push(ctx context.Context, rec *Record) error {
	if !e.inflight.CompareAndSwap(false, true) {
		return ErrSyncInFlight
	}
	defer e.inflight.Store(false)

	e.netMu.Lock()
	defer e.netMu.Unlock()

	e.setState(StateSyncing)

	row, err := e.pushOnce(ctx, rec)
	if errors.Is(err, ErrVersionConflict) {
		e.onConflict(ctx, rec)
		return nil
	}
	if err != nil {
		e.mu.Lock()
		e.lastErr = err.Error()
		if e.pending == nil {
			e.pending = rec
		}
		e.mu.Unlock()
		e.setState(StateError)
		return fmt.Errorf("pushing draft %s: %w", rec.ID, err)
	}

	if err := e.adoptVersion(rec, row); err != nil {
		e.logger.Error("persisting synced baseline failed", "draft_id", rec.ID, "error", err)
	}
	e.setState(StateSynced)
	return nil
}

// pushOnce performs the raw insert-or-guarded-update without touching engine
// state. The record's payload must be plaintext.
func (e *Engine) pushOnce(ctx context.Context, rec *Record) (*Record, error) {
	out := rec.Clone()
	out.TenantID = e.cfg.TenantID
	out.UpdatedBy = e.cfg.UserID
	if !rec.Synced() {
		out.CreatedBy = e.cfg.UserID
		return e.remote.Insert(ctx, out)
	}
	return e.remote.Update(ctx, out, rec.RemoteVersion)
}

// onConflict fetches the authoritative remote row and surfaces a conflict
// for the user to resolve. It never auto-resolves.
func (e *Engine) onConflict(ctx context.Context, rec *Record) {
	info := &ConflictInfo{DraftID: rec.ID, ClientName: rec.ClientName}
	if remote, err := e.remote.Get(ctx, rec.ID); err == nil {
		info.ClientName = remote.ClientName
		info.RemoteVersion = remote.RemoteVersion
		info.RemoteUpdatedAt = remote.LastModified
	} else {
		e.logger.Warn("fetching conflicting remote row failed", "draft_id", rec.ID, "error", err)
	}

	e.mu.Lock()
	e.conflict = info
	e.conflictLocal = rec
	e.mu.Unlock()
	e.audit("sync_conflict", rec.ID, fmt.Sprintf("remote version %d", info.RemoteVersion))
	e.setState(StateConflict)
}

// Resolve applies the user's conflict decision. keepMine force-overwrites the
// remote row with the local pending value and accepts the returned version;
// useTheirs adopts the authoritative remote row as the new local baseline.
// Either path clears the conflict and returns the engine to synced.
func (e *Engine) Resolve(ctx context.Context, how Resolution) error {
	e.mu.Lock()
	info, local := e.conflict, e.conflictLocal
	e.mu.Unlock()
	if info == nil {
		return ErrNoPending
	}

	e.netMu.Lock()
	defer e.netMu.Unlock()

	switch how {
	case KeepMine:
		row, err := e.remote.Overwrite(ctx, local)
		if err != nil {
			return fmt.Errorf("force overwrite of draft %s: %w", info.DraftID, err)
		}
		if err := e.adoptVersion(local, row); err != nil {
			return fmt.Errorf("persisting reconciled version: %w", err)
		}
		e.audit("conflict_keep_mine", info.DraftID, fmt.Sprintf("new version %d", row.RemoteVersion))

	case UseTheirs:
		row, err := e.remote.Get(ctx, info.DraftID)
		if err != nil {
			return fmt.Errorf("fetching remote row for %s: %w", info.DraftID, err)
		}
		if err := e.adoptRemote(row); err != nil {
			return fmt.Errorf("adopting remote row: %w", err)
		}
		e.audit("conflict_use_theirs", info.DraftID, fmt.Sprintf("version %d", row.RemoteVersion))

	default:
		return fmt.Errorf("unknown resolution %q", how)
	}

	e.mu.Lock()
	e.conflict = nil
	e.conflictLocal = nil
	e.mu.Unlock()
	e.setState(StateSynced)
	return nil
}

// Dismiss clears the conflict without resolving it. The local record stays
// pending and will conflict again on the next push.
func (e *Engine) Dismiss() {
	e.mu.Lock()
	e.conflict = nil
	e.conflictLocal = nil
	e.mu.Unlock()
	e.setState(StateIdle)
}

// adoptVersion writes the post-push baseline into the local store: the local
// plaintext payload sealed at rest, carrying the version and timestamp the
// remote store returned.
func (e *Engine) adoptVersion(local *Record, row *Record) error {
	sealed, err := e.cipher.Seal(local.Data)
	if err != nil {
		return fmt.Errorf("sealing baseline: %w", err)
	}
	baseline := local.Clone()
	baseline.Data = sealed
	baseline.RemoteVersion = row.RemoteVersion
	baseline.LastModified = row.LastModified
	baseline.TenantID = row.TenantID
	if err := e.local.PutDraft(baseline); err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	return nil
}

// adoptRemote writes a remote row (plaintext payload) into the local store
// as the new baseline and notifies the UI layer.
func (e *Engine) adoptRemote(row *Record) error {
	sealed, err := e.cipher.Seal(row.Data)
	if err != nil {
		return fmt.Errorf("sealing remote payload: %w", err)
	}
	baseline := row.Clone()
	baseline.Data = sealed
	if err := e.local.PutDraft(baseline); err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	if e.cfg.OnRemoteAdopted != nil {
		e.cfg.OnRemoteAdopted(row.Clone())
	}
	return nil
}

// Delete removes a draft locally and remotely. When offline the remote
// delete is queued.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.local.DeleteDraft(id); err != nil {
		return fmt.Errorf("deleting local draft: %w", err)
	}

	e.mu.Lock()
	online := e.online && e.configured()
	if e.pending != nil && e.pending.ID == id {
		e.pending = nil
	}
	e.mu.Unlock()

	if !online {
		e.enqueue(id, ActionDelete)
		return nil
	}
	e.netMu.Lock()
	err := e.remote.Delete(ctx, id)
	e.netMu.Unlock()
	if err != nil {
		e.enqueue(id, ActionDelete)
		return fmt.Errorf("deleting remote draft (queued for retry): %w", err)
	}
	e.audit("draft_deleted", id, "")
	return nil
}

// Flush cancels the debounce timer, immediately pushes the pending record if
// any, then drains the offline queue. Used before navigation or exit so no
// edit is silently lost.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	rec := e.pending
	e.pending = nil
	online := e.online && e.configured()
	e.mu.Unlock()

	if rec != nil {
		if !online {
			e.enqueue(rec.ID, ActionUpsert)
		} else if err := e.push(ctx, rec); err != nil {
			if !errors.Is(err, ErrSyncInFlight) {
				return err
			}
			// Another push is still on the wire. Re-arm the record so the
			// next schedule or flush retries it instead of losing the edit.
			e.mu.Lock()
			if e.pending == nil {
				e.pending = rec
			}
			e.mu.Unlock()
		}
	}
	if !online {
		return nil
	}
	return e.DrainQueue(ctx)
}

// DrainQueue replays queued intents in order. For each entry it re-reads the
// authoritative current record from the local store, not the possibly-stale
// queued snapshot, so duplicate entries replay as idempotent no-ops.
// Entries that fail stay queued with doubled backoff; other entries in the
// same drain still proceed.
func (e *Engine) DrainQueue(ctx context.Context) error {
	entries, err := e.local.ListQueue()
	if err != nil {
		return fmt.Errorf("listing offline queue: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	e.netMu.Lock()
	defer e.netMu.Unlock()

	now := e.clock.Now()
	var firstErr error
	for _, entry := range entries {
		if now.Before(entry.NotBefore) {
			continue
		}
		if err := e.replay(ctx, entry); err != nil {
			e.logger.Warn("queue replay failed", "draft_id", entry.DraftID, "action", entry.Action, "error", err)
			e.requeue(entry)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.local.RemoveQueueEntry(entry.ID); err != nil {
			e.logger.Warn("removing drained queue entry failed", "entry_id", entry.ID, "error", err)
		}
	}
	return firstErr
}

// replay applies one queue entry against the current local state.
func (e *Engine) replay(ctx context.Context, entry *QueueEntry) error {
	switch entry.Action {
	case ActionDelete:
		return e.remote.Delete(ctx, entry.DraftID)

	case ActionUpsert:
		current, err := e.local.GetDraft(entry.DraftID)
		if errors.Is(err, ErrNotFound) {
			// Draft discarded since the entry was queued; nothing to sync.
			return nil
		}
		if err != nil {
			return fmt.Errorf("re-reading draft: %w", err)
		}
		plain := current.Clone()
		if e.cipher.IsSealed(plain.Data) {
			opened, err := e.cipher.Open(plain.Data)
			if err != nil {
				return fmt.Errorf("opening stored payload: %w", err)
			}
			plain.Data = opened
		}
		row, err := e.pushOnce(ctx, plain)
		if errors.Is(err, ErrVersionConflict) {
			e.onConflict(ctx, plain)
			return nil
		}
		if err != nil {
			return err
		}
		return e.adoptVersion(plain, row)

	default:
		return fmt.Errorf("unknown queue action %q", entry.Action)
	}
}

// requeue re-schedules a failed entry with doubled, capped backoff.
func (e *Engine) requeue(entry *QueueEntry) {
	delay := e.cfg.BackoffMin << entry.Attempts
	if delay > e.cfg.BackoffMax || delay <= 0 {
		delay = e.cfg.BackoffMax
	}
	entry.Attempts++
	entry.NotBefore = e.clock.Now().Add(delay)
	if err := e.local.UpdateQueueEntry(entry); err != nil {
		e.logger.Warn("updating queue backoff failed", "entry_id", entry.ID, "error", err)
	}
}

// SetOnline records connectivity. A transition to online drains the offline
// queue as a detached task; its failures land in the log, never in the
// caller.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if !online {
		e.setState(StateOffline)
		return
	}
	if e.stateNow() == StateOffline {
		e.setState(StateIdle)
	}
	if !was {
		go func() {
			if err := e.DrainQueue(context.Background()); err != nil {
				e.logger.Warn("drain after reconnect failed", "error", err)
			}
		}()
	}
}

// Suspend is the best-effort flush for process suspension (the tab-hidden
// analogue). Errors are logged, not returned: the process may be about to
// stop and there is no one to report to.
func (e *Engine) Suspend() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Flush(ctx); err != nil {
		e.logger.Warn("suspend flush failed", "error", err)
	}
}

// enqueue appends an intent to the offline queue.
func (e *Engine) enqueue(draftID string, action QueueAction) {
	entry := &QueueEntry{
		ID:        e.idgen.New(),
		DraftID:   draftID,
		Action:    action,
		Timestamp: e.clock.Now(),
	}
	if err := e.local.AppendQueue(entry); err != nil {
		e.logger.Error("appending offline queue entry failed", "draft_id", draftID, "error", err)
	}
}

// audit appends to the local audit trail as a detached task.
func (e *Engine) audit(event, draftID, detail string) {
	ev := &AuditEvent{
		ID:        e.idgen.New(),
		Event:     event,
		DraftID:   draftID,
		Detail:    detail,
		Timestamp: e.clock.Now(),
	}
	go func() {
		if err := e.local.AppendAudit(ev); err != nil {
			e.logger.Warn("audit write failed", "event", event, "error", err)
		}
	}()
}

func (e *Engine) setState(s SyncState) {
	e.mu.Lock()
	changed := e.state != s
	e.state = s
	cb := e.cfg.OnStateChange
	e.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}

func (e *Engine) stateNow() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// State returns the engine's current sync state.
func (e *Engine) State() SyncState { return e.stateNow() }

// LastError returns the message captured on the most recent transport
// failure, or "".
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Conflict returns the pending conflict snapshot, or nil.
func (e *Engine) Conflict() *ConflictInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conflict == nil {
		return nil
	}
	c := *e.conflict
	return &c
}

// Pending reports whether a record is waiting in the debounce window.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

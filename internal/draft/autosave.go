package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultDebounceInterval is the quiet period Autosave waits for before
// persisting, when the config does not override it.
const DefaultDebounceInterval = 800 * time.Millisecond

// AutosaveConfig configures an Autosave instance.
type AutosaveConfig struct {
	// DebounceInterval is the quiet period before a save fires. Every update
	// resets it, so of N rapid updates only the last value is persisted.
	DebounceInterval time.Duration

	// OnAfterSave, if set, runs after each successful persist with a snapshot
	// of the record carrying the plaintext payload. The sync engine uses it
	// to pick up the latest saved state.
	OnAfterSave func(rec *Record)
}

// Autosave gives the UI a synchronous-feeling view of one draft's form value
// while persisting encrypted snapshots to the local store without blocking
// input. One instance owns one draft.
type Autosave struct {
	store  LocalStore
	cipher Cipher
	logger Logger
	clock  Clock
	idgen  IDGenerator
	cfg    AutosaveConfig

	mu        sync.Mutex
	rec       *Record
	initial   map[string]any
	data      map[string]any
	dirty     bool
	saving    bool
	lastSaved time.Time
	timer     *time.Timer

	// gen invalidates scheduled saves: Clear and Flush bump it, so a timer
	// that already fired cannot write stale state afterwards.
	gen int
}

// NewAutosave creates an Autosave for the given record skeleton and initial
// form value. Call Load before first use.
func NewAutosave(rec *Record, initial map[string]any, store LocalStore, cipher Cipher, logger Logger, clock Clock, idgen IDGenerator, cfg AutosaveConfig) *Autosave {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	return &Autosave{
		store:   store,
		cipher:  cipher,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
		cfg:     cfg,
		rec:     rec.Clone(),
		initial: DeepCopy(initial),
		data:    DeepCopy(initial),
	}
}

// Load reads any existing persisted snapshot. A plaintext legacy payload is
// transparently encrypted and re-written in place before being exposed; a
// sealed payload is decrypted. Parse or decrypt failures fall back to the
// initial value: corruption is never fatal, it is treated as "no draft".
// Loaded data is deep-merged over the initial value so old drafts receive
// defaults for newly introduced fields.
func (a *Autosave) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.store.GetDraft(a.rec.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		a.logger.Warn("draft load failed, starting from initial value", "draft_id", a.rec.ID, "error", err)
		return nil
	}

	payload := []byte(existing.Data)
	if !a.cipher.IsSealed(payload) {
		// One-time migration of a legacy plaintext snapshot.
		sealed, err := a.cipher.Seal(payload)
		if err != nil {
			a.logger.Error("legacy draft migration failed", "draft_id", a.rec.ID, "error", err)
			a.audit("plaintext_migration_failed", err.Error())
			return nil
		}
		migrated := existing.Clone()
		migrated.Data = sealed
		if err := a.store.PutDraft(migrated); err != nil {
			a.logger.Error("rewriting migrated draft failed", "draft_id", a.rec.ID, "error", err)
			return nil
		}
		if err := a.store.SetSessionFlag(FlagPlaintextMigratedPrefix+a.rec.ID, "1"); err != nil {
			a.logger.Warn("setting migration flag failed", "draft_id", a.rec.ID, "error", err)
		}
	} else {
		payload, err = a.cipher.Open(payload)
		if err != nil {
			a.logger.Error("draft decrypt failed, treating as no draft", "draft_id", a.rec.ID, "error", err)
			a.audit("draft_decrypt_failed", err.Error())
			return nil
		}
	}

	var loaded map[string]any
	if err := json.Unmarshal(payload, &loaded); err != nil {
		a.logger.Error("draft parse failed, treating as no draft", "draft_id", a.rec.ID, "error", err)
		return nil
	}

	a.data = DeepMerge(a.initial, loaded)

	// Adopt persisted metadata; the in-memory record never carries plaintext.
	meta := existing.Clone()
	meta.Data = nil
	a.rec = meta
	return nil
}

// Update deep-merges partial into the current value, marks the draft dirty
// unless silent is set, and schedules a debounced save. Silent updates are
// for derived or auto-populated fields that should not count as user edits.
func (a *Autosave) Update(partial map[string]any, silent bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = DeepMerge(a.data, partial)
	if !silent {
		a.dirty = true
	}
	a.scheduleLocked()
}

// UpdateFunc replaces the current value with fn(current). fn must be pure;
// it receives a copy and its return value becomes the new current value.
func (a *Autosave) UpdateFunc(fn func(current map[string]any) map[string]any, silent bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = DeepCopy(fn(DeepCopy(a.data)))
	if !silent {
		a.dirty = true
	}
	a.scheduleLocked()
}

// SetStep records the wizard position. Advisory only; saved with the next
// snapshot but never marks the draft dirty.
func (a *Autosave) SetStep(step int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.CurrentStep = step
	a.scheduleLocked()
}

// scheduleLocked arms (or re-arms) the single debounce timer. Caller holds mu.
func (a *Autosave) scheduleLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	gen := a.gen
	a.timer = time.AfterFunc(a.cfg.DebounceInterval, func() { a.save(gen) })
}

// save persists the current value if the generation still matches.
// Encryption failure aborts the save and leaves prior persisted state
// untouched; it is reported to the audit trail, never thrown to the UI.
func (a *Autosave) save(gen int) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.saving = true
	plain, err := json.Marshal(a.data)
	if err != nil {
		a.saving = false
		a.mu.Unlock()
		a.logger.Error("draft encode failed", "draft_id", a.rec.ID, "error", err)
		return
	}
	sealed, err := a.cipher.Seal(plain)
	if err != nil {
		a.saving = false
		a.audit("draft_encrypt_failed", err.Error())
		a.mu.Unlock()
		a.logger.Error("draft encrypt failed, save aborted", "draft_id", a.rec.ID, "error", err)
		return
	}

	row := a.rec.Clone()
	row.Data = sealed
	row.LastModified = a.clock.Now()
	if err := a.store.PutDraft(row); err != nil {
		a.saving = false
		a.mu.Unlock()
		a.logger.Error("draft persist failed", "draft_id", a.rec.ID, "error", err)
		return
	}

	a.rec.LastModified = row.LastModified
	a.lastSaved = row.LastModified
	a.dirty = false
	a.saving = false
	after := a.cfg.OnAfterSave
	var snapshot *Record
	if after != nil {
		snapshot = a.rec.Clone()
		snapshot.Data = plain
	}
	a.mu.Unlock()

	a.logger.Debug("draft saved", "draft_id", row.ID)
	if after != nil {
		after(snapshot)
	}
}

// Flush cancels the debounce timer and performs any pending save
// immediately. Used before navigation or exit.
func (a *Autosave) Flush() {
	a.mu.Lock()
	if a.timer == nil || !a.timer.Stop() {
		// Nothing scheduled, or the timer already fired and the save either
		// ran or is waiting on mu and will run when we release it.
		a.mu.Unlock()
		return
	}
	a.timer = nil
	gen := a.gen
	a.mu.Unlock()
	a.save(gen)
}

// Clear cancels any pending save, deletes the persisted snapshot, and resets
// in-memory state to the initial value. No stale write can land afterwards:
// the generation bump invalidates every save scheduled before this call.
func (a *Autosave) Clear() error {
	a.mu.Lock()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	id := a.rec.ID
	a.data = DeepCopy(a.initial)
	a.dirty = false
	a.saving = false
	a.lastSaved = time.Time{}
	a.mu.Unlock()

	if err := a.store.DeleteDraft(id); err != nil {
		return fmt.Errorf("deleting draft snapshot: %w", err)
	}
	if err := a.store.SetSessionFlag(FlagActiveDraft, ""); err != nil {
		a.logger.Warn("clearing active draft flag failed", "draft_id", id, "error", err)
	}
	return nil
}

// HasDraft reports whether a persisted snapshot exists for this draft.
func (a *Autosave) HasDraft() (bool, error) {
	return a.store.HasDraft(a.rec.ID)
}

// Data returns a copy of the current form value.
func (a *Autosave) Data() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return DeepCopy(a.data)
}

// Record returns a snapshot of the record's metadata (no payload).
func (a *Autosave) Record() *Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec.Clone()
}

// AdoptBaseline replaces the in-memory value and metadata with the given
// record, treating its payload as the new plaintext baseline. The useTheirs
// resolution path uses this to reset UI state to the authoritative row.
func (a *Autosave) AdoptBaseline(rec *Record) error {
	var loaded map[string]any
	if err := json.Unmarshal(rec.Data, &loaded); err != nil {
		return fmt.Errorf("parsing baseline payload: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	meta := rec.Clone()
	meta.Data = nil
	a.rec = meta
	a.data = DeepMerge(a.initial, loaded)
	a.dirty = false
	return nil
}

// IsDirty reports whether there are user edits not yet persisted.
func (a *Autosave) IsDirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

// IsSaving reports whether a save is currently in progress.
func (a *Autosave) IsSaving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saving
}

// LastSaved returns the time of the most recent successful persist, or the
// zero time if none has happened yet.
func (a *Autosave) LastSaved() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSaved
}

// audit appends an audit event, best-effort. Caller holds mu or runs on a
// path where blocking the store briefly is acceptable.
func (a *Autosave) audit(event, detail string) {
	err := a.store.AppendAudit(&AuditEvent{
		ID:        a.idgen.New(),
		Event:     event,
		DraftID:   a.rec.ID,
		Detail:    detail,
		Timestamp: a.clock.Now(),
	})
	if err != nil {
		a.logger.Warn("audit write failed", "event", event, "error", err)
	}
}

// Package draft implements the draft synchronization core: a durable local
// store with debounced encrypted autosave, a remote sync engine with
// optimistic concurrency and explicit conflict resolution, a distributed
// per-record edit lock, and a realtime merged draft list.
//
// The package defines the data model and the small consumer interfaces the
// core depends on (LocalStore, RemoteStore, ChangeFeed, Cipher, Logger,
// Clock, IDGenerator). Concrete implementations live in sibling packages.
package draft

import (
	"encoding/json"
	"time"
)

// RecordType discriminates the form variant a record holds.
// It is fixed for the record's lifetime.
type RecordType string

const (
	TypeAssessment      RecordType = "assessment"
	TypeServiceContract RecordType = "serviceContract"
)

// RecordStatus is the submission status of a record. Submitted records may be
// re-opened for edit; they keep their version counter for audit.
type RecordStatus string

const (
	StatusDraft     RecordStatus = "draft"
	StatusSubmitted RecordStatus = "submitted"
)

// Record is the unit of synchronization. The sync core never inspects the
// contents of Data; it is an opaque form payload.
type Record struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenantId"`
	ClientName         string          `json:"clientName"`
	Type               RecordType      `json:"type"`
	Data               json.RawMessage `json:"data"`
	Status             RecordStatus    `json:"status"`
	CurrentStep        int             `json:"currentStep"`
	LastModified       time.Time       `json:"lastModified"`
	LinkedAssessmentID string          `json:"linkedAssessmentId,omitempty"`

	// RemoteVersion is the last version number this device observed from the
	// remote store. Zero means the record has never been synced; the first
	// successful push is an insert.
	RemoteVersion int64 `json:"remoteVersion,omitempty"`

	CreatedBy string `json:"createdBy,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// Clone returns a deep copy of the record. Data is copied so callers can
// mutate the clone without aliasing the original payload.
func (r *Record) Clone() *Record {
	c := *r
	if r.Data != nil {
		c.Data = append(json.RawMessage(nil), r.Data...)
	}
	return &c
}

// Synced reports whether the record has ever been pushed to the remote store.
func (r *Record) Synced() bool { return r.RemoteVersion > 0 }

// QueueAction is the intent recorded in an offline queue entry.
type QueueAction string

const (
	ActionUpsert QueueAction = "upsert"
	ActionDelete QueueAction = "delete"
)

// QueueEntry is one entry of the append-only offline queue. The queue records
// intent only: drain re-reads the current record from the local store before
// acting, so duplicate entries for the same draft replay as no-ops.
type QueueEntry struct {
	ID        string      `json:"id"`
	DraftID   string      `json:"draftId"`
	Action    QueueAction `json:"action"`
	Timestamp time.Time   `json:"timestamp"`

	// Attempts and NotBefore implement the replay backoff policy: each failed
	// replay doubles the delay before the entry is due again.
	Attempts  int       `json:"attempts"`
	NotBefore time.Time `json:"notBefore"`
}

// LockInfo describes the current holder of a draft's edit lock.
// Absence of a lock is represented by a nil *LockInfo.
type LockInfo struct {
	DraftID  string    `json:"draftId"`
	LockedBy string    `json:"lockedBy"`
	DeviceID string    `json:"lockDeviceId"`
	LockedAt time.Time `json:"lockedAt"`

	// Stale is true when the lock is older than the stale-lock timeout and
	// would be reclaimed by the next acquire.
	Stale bool `json:"stale"`
}

// HeldBy reports whether the lock belongs to the given (user, device) pair.
// Lock ownership is per pair, not per user: a user's second device is
// excluded like anyone else.
func (l *LockInfo) HeldBy(userID, deviceID string) bool {
	return l != nil && l.LockedBy == userID && l.DeviceID == deviceID
}

// ConflictInfo is a transient, UI-facing snapshot created when a push is
// rejected for a version mismatch. It is cleared on resolution or dismissal.
type ConflictInfo struct {
	DraftID         string    `json:"draftId"`
	ClientName      string    `json:"clientName"`
	RemoteVersion   int64     `json:"remoteVersion"`
	RemoteUpdatedAt time.Time `json:"remoteUpdatedAt"`
}

// Resolution is the user's choice for resolving a version conflict.
type Resolution string

const (
	// KeepMine re-issues the push with the version guard disabled and accepts
	// the version the remote store returns.
	KeepMine Resolution = "keepMine"
	// UseTheirs discards the local pending change and adopts the
	// authoritative remote row as the new local baseline.
	UseTheirs Resolution = "useTheirs"
)

// SyncState is the sync engine's externally visible state. Idle, Synced,
// Error and Conflict can all re-enter Syncing on the next schedule.
type SyncState string

const (
	StateOffline  SyncState = "offline"
	StateIdle     SyncState = "idle"
	StateSyncing  SyncState = "syncing"
	StateSynced   SyncState = "synced"
	StateError    SyncState = "error"
	StateConflict SyncState = "conflict"
)

// ChangeKind classifies a change feed event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one row-level event from the remote change feed.
// Row carries the full new row for inserts and updates; for deletes only
// Row.ID is guaranteed to be set.
type ChangeEvent struct {
	Kind ChangeKind `json:"kind"`
	Row  *Record    `json:"row"`
}

// AuditEvent is an entry of the local append-only audit trail. Audit writes
// are best-effort: failures are logged and never abort the caller.
type AuditEvent struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	DraftID   string    `json:"draftId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

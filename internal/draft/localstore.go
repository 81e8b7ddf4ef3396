package draft

// LocalStore provides durable on-device storage for draft records, the
// offline queue, session flags and the audit trail. Implementations must be
// transactional per call; the core never holds a store transaction open
// across calls.
//
// Draft payloads (Record.Data) are stored exactly as given. Encryption
// happens above this interface, in the Autosave layer, so a store
// implementation never sees whether a payload is ciphertext.
type LocalStore interface {
	// Draft operations

	// GetDraft returns the draft with the given id, or ErrNotFound.
	GetDraft(id string) (*Record, error)

	// PutDraft inserts or replaces a draft row.
	PutDraft(rec *Record) error

	// DeleteDraft removes a draft row. Deleting a missing draft is a no-op.
	DeleteDraft(id string) error

	// ListDrafts returns all locally stored drafts, newest first.
	ListDrafts() ([]*Record, error)

	// HasDraft is a cheap existence check, used to decide whether to show a
	// resume prompt at startup.
	HasDraft(id string) (bool, error)

	// Offline queue operations

	// AppendQueue appends an entry to the offline queue. The queue is an
	// append-only log and is not deduplicated.
	AppendQueue(entry *QueueEntry) error

	// ListQueue returns all queue entries in append order.
	ListQueue() ([]*QueueEntry, error)

	// UpdateQueueEntry persists backoff bookkeeping (attempts, not-before)
	// for an entry after a failed replay.
	UpdateQueueEntry(entry *QueueEntry) error

	// RemoveQueueEntry deletes a successfully replayed entry.
	RemoveQueueEntry(id string) error

	// Session flags

	// GetSessionFlag returns the value of a session-scoped flag, or "" if
	// the flag is unset.
	GetSessionFlag(key string) (string, error)

	// SetSessionFlag sets a session-scoped flag. An empty value clears it.
	SetSessionFlag(key, value string) error

	// Audit trail

	// AppendAudit appends an audit event. Implementations should make this
	// cheap; callers treat failures as non-fatal.
	AppendAudit(event *AuditEvent) error

	// Close closes the underlying storage.
	Close() error
}

// Session flag keys used by the core.
const (
	// FlagActiveDraft marks the draft id currently being edited, so a page
	// reload does not re-create a duplicate offline-rescue draft.
	FlagActiveDraft = "active_draft_id"

	// FlagPlaintextMigratedPrefix prefixes the one-time legacy-plaintext
	// migration marker; the full key is the prefix plus the draft id.
	FlagPlaintextMigratedPrefix = "plaintext_migrated:"
)

package draft

import "context"

// RemoteStore is the centrally hosted store shared by a team. Exactly one
// remote row exists per record id once synced, and the row's version is
// server-incremented on every successful write.
//
// All operations take a context: remote calls are the core's suspension
// points and must be cancellable.
type RemoteStore interface {
	// Insert creates the remote row and returns it with its initial version.
	Insert(ctx context.Context, rec *Record) (*Record, error)

	// Update performs a version-guarded update: the row is written only if
	// its stored version equals expectedVersion. On a mismatch it returns
	// ErrVersionConflict; the caller decides whether that is a conflict
	// state or a retry. On success the returned row carries the new version.
	Update(ctx context.Context, rec *Record, expectedVersion int64) (*Record, error)

	// Overwrite writes the row regardless of its stored version (the
	// keepMine resolution path) and returns the row with its new version.
	Overwrite(ctx context.Context, rec *Record) (*Record, error)

	// Get returns the current remote row, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns all rows for a tenant, newest first.
	List(ctx context.Context, tenantID string) ([]*Record, error)

	// Delete removes the row. Deleting a missing row is a no-op.
	Delete(ctx context.Context, id string) error

	// Lock RPCs. Acquisition must be atomic against concurrent callers
	// (a single conditional statement, not read-then-write).

	// AcquireLock acquires the edit lock for (userID, deviceID). It succeeds
	// when the lock is free, already held by the same pair, or stale.
	// A false result means another (user, device) holds the lock.
	AcquireLock(ctx context.Context, draftID, userID, deviceID string) (bool, error)

	// ReleaseLock releases the lock if held by userID. Idempotent.
	ReleaseLock(ctx context.Context, draftID, userID string) error

	// LockInfo returns the current holder, or nil when unlocked.
	LockInfo(ctx context.Context, draftID string) (*LockInfo, error)

	// Ping reports whether the remote store is reachable.
	Ping(ctx context.Context) error
}

// ChangeFeed delivers row-level insert/update/delete events for a tenant.
// Subscribe returns once the subscription handshake completes; events arrive
// on the returned channel until ctx is cancelled or the feed fails, at which
// point the channel is closed. A closed channel with a non-nil ctx error is a
// normal shutdown; otherwise the consumer should treat the feed as errored
// and keep serving its last good state.
type ChangeFeed interface {
	Subscribe(ctx context.Context, tenantID string) (<-chan ChangeEvent, error)
}

package draft

import "errors"

// Sentinel errors shared across the core and its backends. Expected
// conditions (offline, conflict, lock denied) are surfaced as typed states by
// the engine and lock coordinator; these sentinels are the transport between
// backends and the core, not the public UI surface.
var (
	// ErrNotFound is returned when a draft does not exist in a store.
	ErrNotFound = errors.New("draft not found")

	// ErrVersionConflict is returned by a conditional remote update when the
	// stored version differs from the caller's last-observed version.
	ErrVersionConflict = errors.New("remote version conflict")

	// ErrLockHeld is returned when another (user, device) holds the edit lock.
	ErrLockHeld = errors.New("draft lock held by another device")

	// ErrOffline is returned when an operation requires the remote store and
	// the engine is offline.
	ErrOffline = errors.New("remote store unreachable")

	// ErrSyncInFlight is returned when a push is rejected because another
	// push is already in flight on the same engine instance.
	ErrSyncInFlight = errors.New("sync already in flight")

	// ErrNoPending is returned by conflict resolution when there is no
	// conflict to resolve.
	ErrNoPending = errors.New("no pending conflict")
)

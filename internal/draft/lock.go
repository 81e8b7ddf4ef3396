package draft

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StaleLockTimeout is how old a lock may be before an acquire treats it as
// free. Reclaim happens inside the remote store's atomic acquire statement;
// there is no separate sweep.
const StaleLockTimeout = 10 * time.Minute

// LockCoordinator acquires and releases the exclusive per-record edit lock so
// two (user, device) pairs cannot edit the same shared draft concurrently.
// Locks are advisory at the application layer: a record that is purely local
// and has never been pushed needs no lock, and callers skip acquisition for
// unsynced records.
type LockCoordinator struct {
	remote   RemoteStore
	logger   Logger
	userID   string
	deviceID string

	mu   sync.Mutex
	held map[string]bool
}

// NewLockCoordinator creates a coordinator for one (user, device) session.
func NewLockCoordinator(remote RemoteStore, logger Logger, userID, deviceID string) *LockCoordinator {
	return &LockCoordinator{
		remote:   remote,
		logger:   logger,
		userID:   userID,
		deviceID: deviceID,
		held:     make(map[string]bool),
	}
}

// Acquire attempts to take the edit lock for a draft. A false result means
// another (user, device) holds it; the caller enters a read-only state and
// may call Acquire again as a manual retry. There is no client-side timeout:
// denial is an explicit boolean, not an error.
func (c *LockCoordinator) Acquire(ctx context.Context, draftID string) (bool, error) {
	ok, err := c.remote.AcquireLock(ctx, draftID, c.userID, c.deviceID)
	if err != nil {
		return false, fmt.Errorf("acquiring lock for %s: %w", draftID, err)
	}
	if ok {
		c.mu.Lock()
		c.held[draftID] = true
		c.mu.Unlock()
		c.logger.Debug("lock acquired", "draft_id", draftID)
	} else {
		c.logger.Info("lock denied", "draft_id", draftID)
	}
	return ok, nil
}

// Release releases the lock for a draft. Idempotent: releasing a lock that
// is not held, or held by someone else, is a no-op on the remote side. The
// lock stays tracked as held until the remote release succeeds, so a failed
// release is retried by ReleaseAll on exit.
func (c *LockCoordinator) Release(ctx context.Context, draftID string) error {
	if err := c.remote.ReleaseLock(ctx, draftID, c.userID); err != nil {
		return fmt.Errorf("releasing lock for %s: %w", draftID, err)
	}
	c.mu.Lock()
	delete(c.held, draftID)
	c.mu.Unlock()
	c.logger.Debug("lock released", "draft_id", draftID)
	return nil
}

// ReleaseDetached releases the lock as a detached task with its own timeout.
// Used during cleanup paths (flush before navigation, process teardown) where
// the caller must not block or fail; errors are observable in the log only.
func (c *LockCoordinator) ReleaseDetached(draftID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.Release(ctx, draftID); err != nil {
			c.logger.Warn("detached lock release failed", "draft_id", draftID, "error", err)
		}
	}()
}

// ReleaseAll releases every lock this session holds. Called on normal exit.
func (c *LockCoordinator) ReleaseAll(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.held))
	for id := range c.held {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)

	var firstErr error
	for _, id := range ids {
		if err := c.Release(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Info returns the current lock holder for UI display ("locked by device X
// since Y"), or nil when the draft is unlocked.
func (c *LockCoordinator) Info(ctx context.Context, draftID string) (*LockInfo, error) {
	info, err := c.remote.LockInfo(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("fetching lock info for %s: %w", draftID, err)
	}
	return info, nil
}

// Holds reports whether this session believes it holds the lock for a draft.
// Advisory: the remote side may have reclaimed a stale lock since.
func (c *LockCoordinator) Holds(draftID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[draftID]
}

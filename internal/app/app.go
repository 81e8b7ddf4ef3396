// Package app is the application layer between the CLI and the draft core.
// It constructs all dependencies from config, exposes high-level operations,
// and manages resource lifecycles on Close.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"draftsync/internal/config"
	"draftsync/internal/draft"
	"draftsync/internal/encryption"
	"draftsync/internal/feed"
	"draftsync/internal/localstore"
	"draftsync/internal/remote"
)

// App wires the local store, remote store, change feed, sync engine, lock
// coordinator, and list merger from a single config. The caller must call
// Close when done.
type App struct {
	cfg     *config.Config
	local   draft.LocalStore
	remote  draft.RemoteStore
	cipher  draft.Cipher
	engine  *draft.Engine
	locks   *draft.LockCoordinator
	merger  *draft.ListMerger
	logger  draft.Logger
	logFile *os.File

	cancelFeed context.CancelFunc
}

// NewApp creates a fully wired App from the given config.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	sessionID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, sessionID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	cipher, err := encryption.NewCipherFromConfig(cfg.Encryption)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	local, err := localstore.NewStoreFromConfig(cfg.Local, cfg.DeviceID)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating local store: %w", err)
	}

	rem, err := remote.NewStoreFromConfig(ctx, cfg.Remote, logger)
	if err != nil {
		local.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating remote store: %w", err)
	}

	engine := draft.NewEngine(local, rem, cipher, logger, draft.RealClock{}, draft.UUIDGenerator{}, draft.EngineConfig{
		TenantID:     cfg.TenantID,
		UserID:       cfg.UserID,
		DeviceID:     cfg.DeviceID,
		PushDebounce: cfg.Sync.PushDebounce(),
		BackoffMin:   cfg.Sync.BackoffMin(),
		BackoffMax:   cfg.Sync.BackoffMax(),
	})

	locks := draft.NewLockCoordinator(rem, logger, cfg.UserID, cfg.DeviceID)

	cf, err := newFeed(cfg, rem, logger)
	if err != nil {
		local.Close()
		logFile.Close()
		return nil, err
	}

	merger := draft.NewListMerger(local, rem, cf, logger, draft.ListMergerConfig{
		TenantID: cfg.TenantID,
		Enabled:  cfg.List.Enabled && cf != nil,
	})

	a := &App{
		cfg:     cfg,
		local:   local,
		remote:  rem,
		cipher:  cipher,
		engine:  engine,
		locks:   locks,
		merger:  merger,
		logger:  logger,
		logFile: logFile,
	}

	// Initial online state comes from a reachability probe; the engine queues
	// writes while offline.
	engine.SetOnline(rem.Ping(ctx) == nil)

	return a, nil
}

// newFeed builds the change feed named by the configuration. A nil feed
// (type "none" or empty) leaves the list merger in local-only mode.
func newFeed(cfg *config.Config, rem draft.RemoteStore, logger draft.Logger) (draft.ChangeFeed, error) {
	switch cfg.Feed.Type {
	case "postgres":
		ps, ok := rem.(*remote.PostgresStore)
		if !ok {
			return nil, fmt.Errorf("feed type %q requires a postgres remote store", cfg.Feed.Type)
		}
		return remote.NewPostgresFeed(ps, logger), nil
	case "websocket":
		if cfg.Feed.URL == "" {
			return nil, fmt.Errorf("feed type %q requires url", cfg.Feed.Type)
		}
		return feed.NewWebsocketFeed(cfg.Feed.URL, logger), nil
	case "memory":
		cf, ok := rem.(draft.ChangeFeed)
		if !ok {
			return nil, fmt.Errorf("feed type %q requires a memory remote store", cfg.Feed.Type)
		}
		return cf, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown feed type: %q", cfg.Feed.Type)
	}
}

// StartList activates the realtime list merger. It is separate from NewApp
// so one-shot CLI commands do not hold a feed subscription open. The
// subscription lives until Close.
func (a *App) StartList() error {
	feedCtx, cancel := context.WithCancel(context.Background())
	a.cancelFeed = cancel
	if err := a.merger.Start(feedCtx); err != nil {
		return fmt.Errorf("starting list merger: %w", err)
	}
	return nil
}

// OpenDraft loads an existing draft into an autosave session, or creates a
// new one when id is empty. It acquires the edit lock first; a held lock is
// reported as draft.ErrLockHeld.
func (a *App) OpenDraft(ctx context.Context, id, clientName string, typ draft.RecordType, initial map[string]any) (*draft.Autosave, error) {
	var rec *draft.Record
	if id == "" {
		rec = &draft.Record{
			ID:         draft.UUIDGenerator{}.New(),
			TenantID:   a.cfg.TenantID,
			ClientName: clientName,
			Type:       typ,
			Status:     draft.StatusDraft,
			CreatedBy:  a.cfg.UserID,
			UpdatedBy:  a.cfg.UserID,
		}
	} else {
		var err error
		rec, err = a.local.GetDraft(id)
		if err != nil {
			return nil, fmt.Errorf("loading draft: %w", err)
		}
		ok, err := a.locks.Acquire(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("acquiring edit lock: %w", err)
		}
		if !ok {
			return nil, draft.ErrLockHeld
		}
	}

	as := draft.NewAutosave(rec, initial, a.local, a.cipher, a.logger, draft.RealClock{}, draft.UUIDGenerator{}, draft.AutosaveConfig{
		DebounceInterval: a.cfg.Sync.SaveDebounce(),
		OnAfterSave:      a.engine.ScheduleSync,
	})
	if err := as.Load(); err != nil {
		a.locks.ReleaseDetached(rec.ID)
		return nil, fmt.Errorf("loading draft state: %w", err)
	}

	if err := a.local.SetSessionFlag(draft.FlagActiveDraft, rec.ID); err != nil {
		a.logger.Warn("recording active draft flag", "id", rec.ID, "error", err)
	}
	return as, nil
}

// CloseDraft flushes pending saves and pushes, then releases the edit lock.
func (a *App) CloseDraft(ctx context.Context, as *draft.Autosave) error {
	as.Flush()
	if err := a.engine.Flush(ctx); err != nil {
		a.logger.Warn("flushing sync engine", "error", err)
	}
	if err := a.local.SetSessionFlag(draft.FlagActiveDraft, ""); err != nil {
		a.logger.Warn("clearing active draft flag", "error", err)
	}
	return a.locks.Release(ctx, as.Record().ID)
}

// ListDrafts returns the merged draft list: when the realtime list is
// running, remote rows overlaid with fresher local ones; otherwise the
// local store's view.
func (a *App) ListDrafts() ([]*draft.Record, error) {
	if a.cancelFeed != nil {
		return a.merger.Snapshot(), nil
	}
	return a.local.ListDrafts()
}

// ShowDraft returns a draft's metadata together with its decrypted payload.
func (a *App) ShowDraft(id string) (*draft.Record, map[string]any, error) {
	rec, err := a.local.GetDraft(id)
	if err != nil {
		return nil, nil, fmt.Errorf("loading draft: %w", err)
	}

	var data map[string]any
	if len(rec.Data) > 0 {
		plain := []byte(rec.Data)
		if a.cipher.IsSealed(plain) {
			plain, err = a.cipher.Open(plain)
			if err != nil {
				return nil, nil, fmt.Errorf("decrypting draft payload: %w", err)
			}
		}
		if err := json.Unmarshal(plain, &data); err != nil {
			return nil, nil, fmt.Errorf("parsing draft payload: %w", err)
		}
	}
	return rec, data, nil
}

// DeleteDraft removes a draft locally and remotely. When offline the remote
// delete is queued for the next drain.
func (a *App) DeleteDraft(ctx context.Context, id string) error {
	return a.engine.Delete(ctx, id)
}

// SyncNow marks the engine online, pushes any pending record, and drains
// the offline queue.
func (a *App) SyncNow(ctx context.Context) error {
	a.engine.SetOnline(a.remote.Ping(ctx) == nil)
	return a.engine.Flush(ctx)
}

// Queue returns the pending offline queue entries in replay order.
func (a *App) Queue() ([]*draft.QueueEntry, error) {
	return a.local.ListQueue()
}

// SyncState reports the engine's current state and last error.
func (a *App) SyncState() (draft.SyncState, string) {
	return a.engine.State(), a.engine.LastError()
}

// Conflict returns the pending conflict, if any.
func (a *App) Conflict() *draft.ConflictInfo {
	return a.engine.Conflict()
}

// Resolve applies a conflict resolution choice.
func (a *App) Resolve(ctx context.Context, how draft.Resolution) error {
	return a.engine.Resolve(ctx, how)
}

// LockStatus returns the lock holder for a draft, or nil when unlocked.
func (a *App) LockStatus(ctx context.Context, id string) (*draft.LockInfo, error) {
	return a.locks.Info(ctx, id)
}

// ReleaseLock force-releases this user's lock on a draft.
func (a *App) ReleaseLock(ctx context.Context, id string) error {
	return a.locks.Release(ctx, id)
}

// auditLister is implemented by stores that retain a local audit trail.
type auditLister interface {
	ListAudit(limit int) ([]*draft.AuditEvent, error)
}

// Audit returns the most recent local audit events.
func (a *App) Audit(limit int) ([]*draft.AuditEvent, error) {
	s, ok := a.local.(auditLister)
	if !ok {
		return nil, nil
	}
	return s.ListAudit(limit)
}

// Close flushes the engine, releases held locks, and closes all resources.
func (a *App) Close() error {
	var firstErr error

	a.engine.Suspend()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.locks.ReleaseAll(ctx); err != nil {
		firstErr = fmt.Errorf("releasing locks: %w", err)
	}

	if a.cancelFeed != nil {
		a.cancelFeed()
	}

	if err := a.local.Close(); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("closing local store: %w", err)
		}
	}

	if ps, ok := a.remote.(*remote.PostgresStore); ok {
		ps.Close()
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

package testutil

import (
	"context"
	"sync"

	"draftsync/internal/draft"
	"draftsync/internal/remote"
)

// NewTestRemote creates a new in-memory remote store for testing, using the
// given clock for lock staleness.
func NewTestRemote(clock draft.Clock) *remote.MemoryStore {
	return remote.NewMemoryStore(clock)
}

// FlakyRemote wraps a RemoteStore and fails write operations while Fail is
// set. Used to exercise offline queueing and drain retry paths.
type FlakyRemote struct {
	draft.RemoteStore

	mu   sync.Mutex
	fail error
}

func NewFlakyRemote(inner draft.RemoteStore) *FlakyRemote {
	return &FlakyRemote{RemoteStore: inner}
}

// SetFail makes subsequent writes return err. Pass nil to heal.
func (f *FlakyRemote) SetFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *FlakyRemote) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *FlakyRemote) Insert(ctx context.Context, rec *draft.Record) (*draft.Record, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	return f.RemoteStore.Insert(ctx, rec)
}

func (f *FlakyRemote) Update(ctx context.Context, rec *draft.Record, expectedVersion int64) (*draft.Record, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	return f.RemoteStore.Update(ctx, rec, expectedVersion)
}

func (f *FlakyRemote) Overwrite(ctx context.Context, rec *draft.Record) (*draft.Record, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	return f.RemoteStore.Overwrite(ctx, rec)
}

func (f *FlakyRemote) Delete(ctx context.Context, id string) error {
	if err := f.failure(); err != nil {
		return err
	}
	return f.RemoteStore.Delete(ctx, id)
}

func (f *FlakyRemote) Ping(ctx context.Context) error {
	if err := f.failure(); err != nil {
		return err
	}
	return f.RemoteStore.Ping(ctx)
}

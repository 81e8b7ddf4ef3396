package draft

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so merge tie-breaking and lock staleness
// are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
// Drafts receive a remote-compatible UUID at local creation time, so there is
// no locally-only id format to special-case at first sync.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

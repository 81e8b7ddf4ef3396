package remote

import (
	"context"
	"fmt"

	"draftsync/internal/config"
	"draftsync/internal/draft"
)

// NewStoreFromConfig builds the remote store named by the configuration.
func NewStoreFromConfig(ctx context.Context, cfg config.RemoteConfig, logger draft.Logger) (draft.RemoteStore, error) {
	switch cfg.Type {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("remote store %q requires database_url", cfg.Type)
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	case "memory":
		return NewMemoryStore(draft.RealClock{}), nil
	default:
		return nil, fmt.Errorf("unknown remote store type: %q", cfg.Type)
	}
}

package localstore

import (
	"fmt"
	"path/filepath"

	"draftsync/internal/config"
	"draftsync/internal/draft"
)

// NewStoreFromConfig creates a LocalStore implementation based on the local
// config type. "memory" is a SQLite store that lives for the process only.
func NewStoreFromConfig(cfg config.LocalConfig, deviceID string) (draft.LocalStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite local store")
		}
		path := filepath.Join(cfg.DataDir, deviceID+".db")
		return NewSQLiteStore(path)
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown local store type: %s", cfg.Type)
	}
}

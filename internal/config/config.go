// Package config reads and writes the draftsync configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for draftsync.
type Config struct {
	TenantID string `toml:"tenant_id"`
	UserID   string `toml:"user_id"`
	DeviceID string `toml:"device_id"`
	BaseDir  string `toml:"base_dir"`
	LogDir   string `toml:"log_dir"`

	Local      LocalConfig      `toml:"local"`
	Remote     RemoteConfig     `toml:"remote"`
	Feed       FeedConfig       `toml:"feed"`
	Encryption EncryptionConfig `toml:"encryption"`
	Sync       SyncConfig       `toml:"sync"`
	List       ListConfig       `toml:"list"`
}

// LocalConfig configures the on-device draft store.
// Tagged union: Type determines which other fields are relevant.
type LocalConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// RemoteConfig configures the shared remote store.
// Tagged union: Type determines which other fields are relevant.
type RemoteConfig struct {
	Type        string `toml:"type"`                   // "postgres" or "memory"
	DatabaseURL string `toml:"database_url,omitempty"` // only used for type=postgres
}

// FeedConfig configures the change feed source.
// Tagged union: Type determines which other fields are relevant.
type FeedConfig struct {
	Type string `toml:"type"`          // "postgres", "websocket", or "none"
	URL  string `toml:"url,omitempty"` // only used for type=websocket
}

// EncryptionConfig configures at-rest encryption of draft payloads.
type EncryptionConfig struct {
	Type    string `toml:"type"` // "age" (default) or "test"
	KeyPath string `toml:"key_path,omitempty"`
}

// SyncConfig holds the sync engine's timing knobs, in milliseconds.
type SyncConfig struct {
	SaveDebounceMS int `toml:"save_debounce_ms"` // autosave quiet period
	PushDebounceMS int `toml:"push_debounce_ms"` // engine push quiet period
	BackoffMinMS   int `toml:"backoff_min_ms"`   // queue replay backoff floor
	BackoffMaxMS   int `toml:"backoff_max_ms"`   // queue replay backoff cap
}

// SaveDebounce returns the autosave debounce as a duration (0 means default).
func (s SyncConfig) SaveDebounce() time.Duration {
	return time.Duration(s.SaveDebounceMS) * time.Millisecond
}

// PushDebounce returns the engine debounce as a duration (0 means default).
func (s SyncConfig) PushDebounce() time.Duration {
	return time.Duration(s.PushDebounceMS) * time.Millisecond
}

// BackoffMin returns the replay backoff floor (0 means default).
func (s SyncConfig) BackoffMin() time.Duration {
	return time.Duration(s.BackoffMinMS) * time.Millisecond
}

// BackoffMax returns the replay backoff cap (0 means default).
func (s SyncConfig) BackoffMax() time.Duration {
	return time.Duration(s.BackoffMaxMS) * time.Millisecond
}

// ListConfig configures the realtime draft list.
type ListConfig struct {
	Enabled bool `toml:"enabled"`
}

// NewConfig creates a Config with the provided identity and default paths.
func NewConfig(tenantID, userID, deviceID, baseDir string) *Config {
	return &Config{
		TenantID: tenantID,
		UserID:   userID,
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Local: LocalConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Encryption: EncryptionConfig{
			Type:    "age",
			KeyPath: filepath.Join(baseDir, "keys", "draftsync.key"),
		},
		List: ListConfig{Enabled: true},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
// It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

package encryption

import (
	"fmt"

	"draftsync/internal/config"
	"draftsync/internal/draft"
)

// NewCipherFromConfig creates a Cipher based on the configuration type.
func NewCipherFromConfig(cfg config.EncryptionConfig) (draft.Cipher, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("age encryption requires key_path to be set")
		}
		return NewAgeCipher(cfg), nil
	case "test":
		return NewTestCipher(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// Package encryption provides the ciphers used for draft payloads at rest.
package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"draftsync/internal/config"
	"draftsync/internal/draft"
)

// ageHeader is the intro line of the age file format. Sealed payloads start
// with it, which is how legacy plaintext drafts are told apart.
const ageHeader = "age-encryption.org/v1"

// AgeCipher implements draft.Cipher using filippo.io/age with an X25519
// device identity. Autosave must decrypt unattended, so the identity is a
// plain key file (0600) rather than a passphrase-protected one.
type AgeCipher struct {
	keyPath string

	mu        sync.Mutex
	identity  *age.X25519Identity
	recipient age.Recipient
}

var _ draft.Cipher = (*AgeCipher)(nil)

// NewAgeCipher creates an AgeCipher from configuration. The key file is
// created on first use if it does not exist.
func NewAgeCipher(cfg config.EncryptionConfig) *AgeCipher {
	return &AgeCipher{keyPath: cfg.KeyPath}
}

// Seal encrypts plaintext to the device identity.
func (c *AgeCipher) Seal(plaintext []byte) ([]byte, error) {
	if err := c.ensureKey(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a payload previously produced by Seal.
func (c *AgeCipher) Open(ciphertext []byte) ([]byte, error) {
	if err := c.ensureKey(); err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), c.identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting payload: %w", err)
	}
	return plain, nil
}

// IsSealed reports whether data starts with the age format header.
func (c *AgeCipher) IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(ageHeader))
}

// ensureKey loads the device identity, generating and persisting a new one
// if the key file does not exist yet.
func (c *AgeCipher) ensureKey() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return nil
	}

	data, err := os.ReadFile(c.keyPath)
	if os.IsNotExist(err) {
		return c.generateLocked()
	}
	if err != nil {
		return fmt.Errorf("reading device key: %w", err)
	}

	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parsing device key: %w", err)
	}
	c.identity = identity
	c.recipient = identity.Recipient()
	return nil
}

// generateLocked creates a fresh identity and writes the key file.
// Caller holds mu.
func (c *AgeCipher) generateLocked() error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating device key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.keyPath), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(c.keyPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing device key: %w", err)
	}

	c.identity = identity
	c.recipient = identity.Recipient()
	return nil
}

// IsConfigured returns true if the device key file exists.
func (c *AgeCipher) IsConfigured() bool {
	_, err := os.Stat(c.keyPath)
	return err == nil
}

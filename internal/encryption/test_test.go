package encryption

import (
	"bytes"
	"testing"

	"draftsync/internal/config"
)

func TestTestCipher_RoundTrip(t *testing.T) {
	c := NewTestCipher()
	input := []byte(`{"field":"value"}`)

	sealed, err := c.Seal(input)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !c.IsSealed(sealed) {
		t.Error("IsSealed() = false for sealed payload")
	}
	if c.IsSealed(input) {
		t.Error("IsSealed() = true for plaintext")
	}

	plain, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(plain, input) {
		t.Errorf("Open() = %q, want %q", plain, input)
	}
}

func TestTestCipher_OpenRejectsMissingHeader(t *testing.T) {
	c := NewTestCipher()
	if _, err := c.Open([]byte("no header here")); err == nil {
		t.Error("Open() without header succeeded")
	}
}

func TestNewCipherFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     string
		keyPath string
		wantErr bool
	}{
		{name: "age with key path", cfg: "age", keyPath: "/tmp/key", wantErr: false},
		{name: "empty defaults to age", cfg: "", keyPath: "/tmp/key", wantErr: false},
		{name: "age without key path", cfg: "age", wantErr: true},
		{name: "test", cfg: "test", wantErr: false},
		{name: "unknown", cfg: "rot13", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCipherFromConfig(config.EncryptionConfig{Type: tt.cfg, KeyPath: tt.keyPath})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCipherFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

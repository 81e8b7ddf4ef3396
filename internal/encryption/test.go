package encryption

import (
	"bytes"
	"fmt"

	"draftsync/internal/draft"
)

// testHeader is prepended to data by TestCipher so sealed output is clearly
// different from plaintext while remaining deterministic and reversible.
var testHeader = []byte("DSENC\x00\x00\x00")

// TestCipher is a simple, deterministic cipher for testing. It prepends a
// fixed 8-byte header on Seal and strips it on Open, requiring no crypto.
type TestCipher struct{}

var _ draft.Cipher = (*TestCipher)(nil)

// NewTestCipher creates a new TestCipher.
func NewTestCipher() *TestCipher {
	return &TestCipher{}
}

func (*TestCipher) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, 0, len(testHeader)+len(plaintext))
	out = append(out, testHeader...)
	return append(out, plaintext...), nil
}

func (*TestCipher) Open(ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return append([]byte(nil), ciphertext[len(testHeader):]...), nil
}

func (*TestCipher) IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, testHeader)
}

package testutil

import (
	"draftsync/internal/draft"
	"draftsync/internal/encryption"
)

// NewTestCipher creates a new test cipher for testing.
func NewTestCipher() draft.Cipher {
	return encryption.NewTestCipher()
}

package draft

// Cipher encrypts draft payloads at rest. Autosave encrypts before handing a
// payload to the LocalStore and decrypts after reading one back.
//
// Sealed output must be self-identifying: IsSealed distinguishes ciphertext
// from legacy plaintext payloads so Load can migrate old drafts in place.
type Cipher interface {
	// Seal encrypts plaintext.
	Seal(plaintext []byte) ([]byte, error)

	// Open decrypts data previously produced by Seal.
	Open(ciphertext []byte) ([]byte, error)

	// IsSealed reports whether data looks like output of Seal.
	IsSealed(data []byte) bool
}

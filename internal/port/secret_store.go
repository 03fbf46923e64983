package port

// SecretStore seals item payloads at rest. Open fails with CORRUPT_PAYLOAD
// rather than returning garbage.
type SecretStore interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// Package secret seals inventory payloads at rest.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/rl1809/keydrop/internal/core/domain"
)

// KeySize is the only accepted key length (AES-256).
const KeySize = 32

// AESGCMSealer seals and opens payloads using AES-256-GCM.
type AESGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer builds a sealer from the process-wide key.
func NewAESGCMSealer(key []byte) (*AESGCMSealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &AESGCMSealer{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext).
func (s *AESGCMSealer) Seal(plaintext []byte) (string, error) {
	if s == nil || s.aead == nil {
		return "", fmt.Errorf("sealer is not configured")
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	payload := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// Open decrypts a sealed payload. Any malformed or unauthenticated input is
// a CORRUPT_PAYLOAD error.
func (s *AESGCMSealer) Open(sealed string) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, fmt.Errorf("sealer is not configured")
	}

	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, domain.WrapError(domain.KindCorruptPayload, "decode sealed payload", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize+s.aead.Overhead() {
		return nil, domain.NewError(domain.KindCorruptPayload, "sealed payload is too short")
	}
	plaintext, err := s.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return nil, domain.WrapError(domain.KindCorruptPayload, "decrypt sealed payload", err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

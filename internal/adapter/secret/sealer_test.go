package secret

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/rl1809/keydrop/internal/core/domain"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestSealer(t *testing.T) *AESGCMSealer {
	t.Helper()
	sealer, err := NewAESGCMSealer(testKey)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	return sealer
}

func TestNewAESGCMSealerRequiresExactKeyLength(t *testing.T) {
	for _, key := range [][]byte{nil, []byte("short"), []byte("0123456789abcdef"), append(testKey, 'x')} {
		if _, err := NewAESGCMSealer(key); err == nil {
			t.Fatalf("expected error for %d-byte key", len(key))
		}
	}
}

// assertSealedShape checks the decoded envelope rather than searching the
// base64 text, which can contain short plaintexts by chance.
func assertSealedShape(t *testing.T, sealer *AESGCMSealer, sealed string, plaintext []byte) {
	t.Helper()
	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("sealed payload is not base64: %v", err)
	}
	want := sealer.aead.NonceSize() + len(plaintext) + sealer.aead.Overhead()
	if len(payload) != want {
		t.Fatalf("sealed payload is %d bytes, want %d", len(payload), want)
	}
	if len(plaintext) >= 8 {
		if bytes.Contains(payload, plaintext) || strings.Contains(sealed, string(plaintext)) {
			t.Fatal("plaintext visible in sealed payload")
		}
	}
}

func TestSealShortPlaintextIsStable(t *testing.T) {
	sealer := newTestSealer(t)
	for i := 0; i < 500; i++ {
		sealed, err := sealer.Seal([]byte("a"))
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		assertSealedShape(t, sealer, sealed, []byte("a"))
		opened, err := sealer.Open(sealed)
		if err != nil || string(opened) != "a" {
			t.Fatalf("open = %q, %v", opened, err)
		}
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	sealer := newTestSealer(t)

	blob := make([]byte, 500)
	if _, err := rand.Read(blob); err != nil {
		t.Fatalf("rand: %v", err)
	}

	cases := map[string][]byte{
		"empty":   {},
		"single":  []byte("a"),
		"binary":  blob,
		"account": []byte("user@example.com:pässwörd✓"),
	}
	for name, plaintext := range cases {
		t.Run(name, func(t *testing.T) {
			sealed, err := sealer.Seal(plaintext)
			if err != nil {
				t.Fatalf("seal: %v", err)
			}
			assertSealedShape(t, sealer, sealed, plaintext)

			opened, err := sealer.Open(sealed)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if !bytes.Equal(opened, plaintext) {
				t.Fatalf("opened = %q, want %q", opened, plaintext)
			}
		})
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	sealer := newTestSealer(t)

	a, err := sealer.Seal([]byte("same"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	b, err := sealer.Seal([]byte("same"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct ciphertexts for repeated plaintext")
	}
}

func TestOpenRejectsCorruptInput(t *testing.T) {
	sealer := newTestSealer(t)
	sealed, err := sealer.Seal([]byte("KEY-1234"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	other, err := NewAESGCMSealer([]byte("fedcba9876543210fedcba9876543210"))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	tampered := []byte(sealed)
	if tampered[len(tampered)-1] == 'A' {
		tampered[len(tampered)-1] = 'B'
	} else {
		tampered[len(tampered)-1] = 'A'
	}

	inputs := map[string]func() ([]byte, error){
		"not base64": func() ([]byte, error) { return sealer.Open("not-base64!!") },
		"too short":  func() ([]byte, error) { return sealer.Open("AAAA") },
		"tampered":   func() ([]byte, error) { return sealer.Open(string(tampered)) },
		"wrong key":  func() ([]byte, error) { return other.Open(sealed) },
	}
	for name, open := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := open()
			if !errors.Is(err, domain.ErrCorruptPayload) {
				t.Fatalf("expected corrupt payload error, got %v", err)
			}
		})
	}
}

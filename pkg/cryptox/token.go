package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SecretSize is the byte length of generated signing secrets.
const SecretSize = 32

// fingerprintKey domain-separates credential fingerprints from any other
// blake2b use of the same value.
var fingerprintKey = []byte("printdesk/credential-fingerprint")

// GenerateSecret returns size random bytes, base64url-encoded without padding.
func GenerateSecret(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("secret size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken returns a deterministic keyed blake2b fingerprint of a
// bearer credential. Fingerprints are what the gateway logs, stores and keys
// in-memory state on, never the credential itself.
//
// The result is base64url-encoded, 22 characters long.
func FingerprintToken(token string) string {
	h, err := blake2b.New(16, fingerprintKey)
	if err != nil {
		// Only fails for invalid sizes or keys longer than 64 bytes.
		panic(fmt.Sprintf("cryptox: blake2b init: %v", err))
	}
	_, _ = h.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

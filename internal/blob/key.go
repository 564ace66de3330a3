package blob

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// KeyFromHex decodes a hex-encoded HMAC key.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(string(bytes.TrimSpace([]byte(s))))
	if err != nil {
		return nil, fmt.Errorf("decode hex key: %w", err)
	}
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("key must be at least %d bytes, got %d", MinKeySize, len(key))
	}
	return key, nil
}

// LoadKeyFile reads a hex-encoded key from path. Surrounding whitespace is
// ignored.
func LoadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return KeyFromHex(string(data))
}

// GenerateKey returns a new random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

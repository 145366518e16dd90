// Package cryptoutil encrypts provider credentials at rest using NaCl
// secretbox with a 32-byte key supplied by configuration.
package cryptoutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Box seals and opens short secrets with a fixed symmetric key.
type Box struct {
	key [32]byte
}

// NewBox builds a Box from a 64-character hex key.
func NewBox(hexKey string) (*Box, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("credential key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(raw))
	}
	var b Box
	copy(b.key[:], raw)
	return &b, nil
}

// Seal encrypts plaintext and returns a base64 string with the nonce
// prepended.
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("encrypted credential is not valid base64: %w", err)
	}
	if len(raw) < nonceSize {
		return "", fmt.Errorf("encrypted credential is too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", fmt.Errorf("failed to decrypt credential")
	}
	return string(plaintext), nil
}

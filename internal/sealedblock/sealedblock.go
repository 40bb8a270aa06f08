// Package sealedblock seals SSK block bytes at rest in the local
// datastore using XChaCha20-Poly1305. sskstore seals every block it
// writes; no write-policy flag is consulted.
package sealedblock

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// StoreKey is a 32-byte symmetric key protecting one node's local datastore.
type StoreKey [32]byte

// NewRandomKey generates a new random datastore key.
func NewRandomKey() (StoreKey, error) {
	var k StoreKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return StoreKey{}, err
	}
	return k, nil
}

// DeriveKey derives a deterministic datastore key from node identity seed
// material, so a restarted node can decrypt entries it wrote previously.
func DeriveKey(seed []byte) StoreKey {
	return sha256.Sum256(seed)
}

func KeyToHex(k StoreKey) string { return hex.EncodeToString(k[:]) }

func ParseKeyHex(s string) (StoreKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return StoreKey{}, err
	}
	if len(b) != 32 {
		return StoreKey{}, fmt.Errorf("sealedblock: expected 32-byte key, got %d", len(b))
	}
	var k StoreKey
	copy(k[:], b)
	return k, nil
}

// Seal encrypts plaintext using XChaCha20-Poly1305, returning nonce and
// ciphertext separately; sskstore stores them concatenated as one bbolt
// value.
func Seal(key StoreKey, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Open decrypts ciphertext sealed by Seal.
func Open(key StoreKey, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

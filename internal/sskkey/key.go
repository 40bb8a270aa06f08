// Package sskkey implements the SSK data model: the routing key derived from
// a public key and slot name, and the signed, collidable block stored under
// it.
package sskkey

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
)

// MaxDataSize is the largest payload an SSK block may carry.
const MaxDataSize = 1024

var (
	ErrNoPubKey     = errors.New("sskkey: block requires a public key")
	ErrDataTooLarge = errors.New("sskkey: data exceeds 1KiB SSK limit")
	ErrBadSignature = errors.New("sskkey: signature verification failed")
	ErrKeyMismatch  = errors.New("sskkey: key does not match public key/slot")
)

// Key is the 32-byte routing identity of an SSK slot: sha256(pubKeyHash || slot).
type Key [32]byte

func (k Key) Hex() string { return hex.EncodeToString(k[:]) }

func ParseKeyHex(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(k) {
		return k, errors.New("sskkey: malformed key hex")
	}
	copy(k[:], b)
	return k, nil
}

// PubKeyHash returns SHA-256(pubKey), the routing identity derived from the
// block's public key.
func PubKeyHash(pub ed25519.PublicKey) [32]byte {
	return sha256.Sum256(pub)
}

// DeriveKey computes the routing key for a (pubkey, slot) pair. The hash
// of the public key, not the raw key material, defines the routing
// identity.
func DeriveKey(pub ed25519.PublicKey, slot string) Key {
	hash := PubKeyHash(pub)
	h := sha256.New()
	h.Write(hash[:])
	h.Write([]byte(slot))
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// Target normalizes a key into the [0,1) routing coordinate peers are
// scored against.
func Target(k Key) float64 {
	v := binary.BigEndian.Uint64(k[:8])
	return float64(v) / float64(math.MaxUint64)
}

// Block is the immutable-until-collision SSK payload. Data and
// Headers are opaque to this package beyond the size cap and signature check.
type Block struct {
	Key       Key
	Headers   []byte
	Data      []byte
	PubKey    ed25519.PublicKey
	Slot      string
	Seq       uint64
	Signature []byte
}

// NewSignedBlock builds and signs a block for (priv, slot), the
// construction path for locally-originated inserts.
func NewSignedBlock(priv ed25519.PrivateKey, slot string, seq uint64, headers, data []byte) (*Block, error) {
	if len(data) > MaxDataSize {
		return nil, ErrDataTooLarge
	}
	pub := priv.Public().(ed25519.PublicKey)
	key := DeriveKey(pub, slot)
	sig := ed25519.Sign(priv, signingPayload(key, seq, headers, data))
	return &Block{
		Key:       key,
		Headers:   append([]byte(nil), headers...),
		Data:      append([]byte(nil), data...),
		PubKey:    pub,
		Slot:      slot,
		Seq:       seq,
		Signature: sig,
	}, nil
}

// ReconstructBlock rebuilds a block from collision-resolution wire fields,
// verifying the signature unless verifyOnConstruct is false. Collision
// handling may rebuild a block whose signature binds to headers other
// than the ones just received on the wire, so the caller decides whether
// construction-time verification applies.
func ReconstructBlock(pub ed25519.PublicKey, slot string, seq uint64, headers, data, sig []byte, verifyOnConstruct bool) (*Block, error) {
	if pub == nil {
		return nil, ErrNoPubKey
	}
	if len(data) > MaxDataSize {
		return nil, ErrDataTooLarge
	}
	key := DeriveKey(pub, slot)
	if verifyOnConstruct {
		if !ed25519.Verify(pub, signingPayload(key, seq, headers, data), sig) {
			return nil, ErrBadSignature
		}
	}
	return &Block{
		Key:       key,
		Headers:   append([]byte(nil), headers...),
		Data:      append([]byte(nil), data...),
		PubKey:    pub,
		Slot:      slot,
		Seq:       seq,
		Signature: append([]byte(nil), sig...),
	}, nil
}

// Verify checks the block's signature against its own fields.
func (b *Block) Verify() error {
	if b.PubKey == nil {
		return ErrNoPubKey
	}
	want := DeriveKey(b.PubKey, b.Slot)
	if want != b.Key {
		return ErrKeyMismatch
	}
	if !ed25519.Verify(b.PubKey, signingPayload(b.Key, b.Seq, b.Headers, b.Data), b.Signature) {
		return ErrBadSignature
	}
	return nil
}

// signingPayload is the canonical byte sequence signed for a block:
// sha256 over key, sequence, headers, and data.
func signingPayload(key Key, seq uint64, headers, data []byte) []byte {
	buf := make([]byte, 0, len(key)+8+len(headers)+len(data))
	buf = append(buf, key[:]...)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, headers...)
	buf = append(buf, data...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

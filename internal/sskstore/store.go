// Package sskstore is the node's local persistent datastore for SSK
// blocks: the record a successful insert commits to disk, and the record
// a collision check reads back.
package sskstore

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"sskinsert/internal/sealedblock"
	"sskinsert/internal/sskkey"
)

const (
	bBlocks = "ssk_blocks"
	bMeta   = "meta"
	kCount  = "count"

	defaultTimeout = 2 * time.Second
	nonceSize      = 24 // chacha20poly1305.NonceSizeX
)

// ErrSlotOccupied is returned by Put when the store already holds a block
// for this key at a sequence number >= the candidate's, the local
// analogue of the network's "seq too low, collision" outcome.
var ErrSlotOccupied = errors.New("sskstore: slot occupied by equal-or-newer sequence")

// storedBlock is the on-disk encoding of an sskkey.Block, sealed at rest
// with an XChaCha20-Poly1305 key derived from the node identity.
type storedBlock struct {
	Headers   []byte `json:"headers"`
	Data      []byte `json:"data"`
	PubKey    []byte `json:"pub_key"`
	Slot      string `json:"slot"`
	Seq       uint64 `json:"seq"`
	Signature []byte `json:"signature"`
}

// Store is a BoltDB-backed datastore of SSK blocks, sealed at rest.
type Store struct {
	db      *bolt.DB
	sealKey sealedblock.StoreKey
}

// Open opens (or creates) a BoltDB database at path. seed is mixed into
// the at-rest sealing key; nodeenv passes the node's ed25519 signing
// private key. The key depends only on seed, so reopening with the same
// seed decrypts entries written earlier.
func Open(path string, seed []byte) (*Store, error) {
	if path == "" {
		return nil, errors.New("sskstore: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, sealKey: sealedblock.DeriveKey(seed)}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bBlocks)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bMeta))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put commits blk to the store. If a block already occupies blk.Key at a
// sequence number >= blk.Seq, it returns ErrSlotOccupied and leaves the
// existing entry untouched; the insert receiver surfaces this as a
// collision, not a failure.
func (s *Store) Put(blk *sskkey.Block) error {
	sb := storedBlock{
		Headers:   blk.Headers,
		Data:      blk.Data,
		PubKey:    blk.PubKey,
		Slot:      blk.Slot,
		Seq:       blk.Seq,
		Signature: blk.Signature,
	}
	plain, err := json.Marshal(sb)
	if err != nil {
		return err
	}
	nonce, ciphertext, err := sealedblock.Seal(s.sealKey, plain)
	if err != nil {
		return err
	}
	sealed := append(append([]byte(nil), nonce...), ciphertext...)

	return s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket([]byte(bBlocks))
		meta := tx.Bucket([]byte(bMeta))

		existingRaw := blocks.Get(blk.Key[:])
		if existingRaw != nil {
			existing, err := s.decode(existingRaw)
			if err != nil {
				return err
			}
			if existing.Seq >= blk.Seq {
				return ErrSlotOccupied
			}
		} else if err := meta.Put([]byte(kCount), encodeI64(decodeI64(meta.Get([]byte(kCount)))+1)); err != nil {
			return err
		}
		return blocks.Put(blk.Key[:], sealed)
	})
}

// Get returns the block stored for key, if any.
func (s *Store) Get(key sskkey.Key) (*sskkey.Block, bool, error) {
	var blk *sskkey.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bBlocks)).Get(key[:])
		if raw == nil {
			return nil
		}
		b, err := s.decode(raw)
		if err != nil {
			return err
		}
		rb, err := sskkey.ReconstructBlock(ed25519.PublicKey(b.PubKey), b.Slot, b.Seq, b.Headers, b.Data, b.Signature, false)
		if err != nil {
			return err
		}
		blk = rb
		return nil
	})
	if err != nil || blk == nil {
		return nil, false, err
	}
	return blk, true, nil
}

// Count returns the number of distinct keys held.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = decodeI64(tx.Bucket([]byte(bMeta)).Get([]byte(kCount)))
		return nil
	})
	return n, err
}

func (s *Store) decode(sealed []byte) (storedBlock, error) {
	var sb storedBlock
	if len(sealed) < nonceSize {
		return sb, errors.New("sskstore: corrupt sealed record")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plain, err := sealedblock.Open(s.sealKey, nonce, ciphertext)
	if err != nil {
		return sb, err
	}
	err = json.Unmarshal(plain, &sb)
	return sb, err
}

func encodeI64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeI64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

package sskstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"sskinsert/internal/sskkey"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "ssk.db"), []byte("test-seed"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func signedBlock(t *testing.T, slot string, seq uint64, data []byte) *sskkey.Block {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	blk, err := sskkey.NewSignedBlock(priv, slot, seq, []byte("headers"), data)
	if err != nil {
		t.Fatalf("NewSignedBlock: %v", err)
	}
	return blk
}

func TestStore_PutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	blk := signedBlock(t, "slot-1", 1, []byte("hello"))

	if err := s.Put(blk); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(blk.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected the block to be found")
	}
	if string(got.Data) != "hello" {
		t.Fatalf("expected data %q, got %q", "hello", got.Data)
	}
	if got.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", got.Seq)
	}
}

func TestStore_PutRejectsEqualOrLowerSeq(t *testing.T) {
	s := openTestStore(t)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	first, err := sskkey.NewSignedBlock(priv, "slot-2", 5, nil, []byte("v5"))
	if err != nil {
		t.Fatalf("NewSignedBlock: %v", err)
	}
	if err := s.Put(first); err != nil {
		t.Fatalf("Put first: %v", err)
	}

	sameSeq, err := sskkey.NewSignedBlock(priv, "slot-2", 5, nil, []byte("v5-again"))
	if err != nil {
		t.Fatalf("NewSignedBlock: %v", err)
	}
	if err := s.Put(sameSeq); err != ErrSlotOccupied {
		t.Fatalf("expected ErrSlotOccupied for equal seq, got %v", err)
	}

	lowerSeq, err := sskkey.NewSignedBlock(priv, "slot-2", 3, nil, []byte("v3"))
	if err != nil {
		t.Fatalf("NewSignedBlock: %v", err)
	}
	if err := s.Put(lowerSeq); err != ErrSlotOccupied {
		t.Fatalf("expected ErrSlotOccupied for lower seq, got %v", err)
	}

	got, _, err := s.Get(first.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Data) != "v5" {
		t.Fatalf("expected the original v5 data to survive, got %q", got.Data)
	}
}

func TestStore_PutAcceptsHigherSeq(t *testing.T) {
	s := openTestStore(t)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	v1, _ := sskkey.NewSignedBlock(priv, "slot-3", 1, nil, []byte("v1"))
	if err := s.Put(v1); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	v2, _ := sskkey.NewSignedBlock(priv, "slot-3", 2, nil, []byte("v2"))
	if err := s.Put(v2); err != nil {
		t.Fatalf("Put v2: %v", err)
	}

	got, _, err := s.Get(v1.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Data) != "v2" {
		t.Fatalf("expected v2 to have replaced v1, got %q", got.Data)
	}
}

func TestStore_GetMissingKeyReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	var key sskkey.Key
	_, ok, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a key never written")
	}
}

func TestStore_CountTracksDistinctKeys(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put(signedBlock(t, "slot-a", 1, []byte("a"))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(signedBlock(t, "slot-b", 1, []byte("b"))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}
}

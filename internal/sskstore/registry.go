package sskstore

import (
	"sync"

	"sskinsert/internal/sskkey"
)

// regKey is the registry's actual key: an insert registers under the
// pair (key, origHTL), not under key alone, so that two unrelated
// concurrent inserts for the same SSK key at different HTLs (e.g. one
// local, one forwarded) don't collide with each other.
type regKey struct {
	key     sskkey.Key
	origHTL int
}

// Registry is the node-wide table of in-flight inserts, keyed on
// (key, origHTL), used for duplicate/loop suppression.
type Registry struct {
	mu      sync.Mutex
	entries map[regKey]bool
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[regKey]bool)}
}

// Start registers (key, htl) as a new in-flight insert. It returns false
// if that exact (key, htl) pair is already being served; the caller
// should treat this as a routing loop and reject immediately. A request
// for the same key at a different HTL is a distinct, unrelated insert and
// is always admitted.
func (r *Registry) Start(key sskkey.Key, htl int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rk := regKey{key: key, origHTL: htl}
	if r.entries[rk] {
		return false
	}
	r.entries[rk] = true
	return true
}

// Finish removes (key, origHTL)'s in-flight entry once the insert
// reaches a terminal status. Deregistration always uses the original
// HTL, not the possibly-clamped current one.
func (r *Registry) Finish(key sskkey.Key, origHTL int) {
	r.mu.Lock()
	delete(r.entries, regKey{key: key, origHTL: origHTL})
	r.mu.Unlock()
}

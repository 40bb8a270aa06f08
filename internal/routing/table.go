// Package routing holds the peer table the insert sender consults to
// pick the next hop: a bucketed table over circular [0,1)
// location-coordinate distance, plus per-job routed-set tracking and
// per-peer admission control.
package routing

import (
	"math"
	"net"
	"strings"
	"sync"
	"time"
)

// PeerInfo is one routable neighbor: its overlay peer ID for transport
// dialing and its routing location in [0,1).
type PeerInfo struct {
	PeerID   string
	Location float64
	Addr     string
	Name     string
	LastSeen time.Time
}

type bucket struct {
	nodes []PeerInfo // LRU: index 0 = most recently seen
	repl  []PeerInfo // bounded replacement cache
}

// distance is circular distance on [0,1): the shorter way around the ring.
func distance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 0.5 {
		d = 1 - d
	}
	return d
}

// bucketIndex maps a circular distance into one of 64 exponentially-spaced
// rings around the node's own location.
func bucketIndex(d float64) int {
	if d <= 0 {
		return 0
	}
	idx := int(-math.Log2(d))
	if idx < 0 {
		idx = 0
	}
	if idx > 63 {
		idx = 63
	}
	return idx
}

type DiversityPolicy struct {
	MaxPerSubnet int
}

// Table is a location-keyed routing table: a ring of 64 distance buckets
// around the owning node's own location, each LRU-ordered with a bounded
// replacement cache.
type Table struct {
	self float64
	k    int

	mu      sync.RWMutex
	buckets [64]bucket

	diversity DiversityPolicy
}

func NewTable(self float64, k int) *Table {
	if k <= 0 {
		k = 20
	}
	return &Table{self: self, k: k, diversity: DiversityPolicy{MaxPerSubnet: 2}}
}

// PingFunc reports whether a candidate-for-eviction peer is still alive.
type PingFunc func(PeerInfo) bool

// Upsert inserts or refreshes a peer with no eviction: if its bucket is
// full the peer is simply dropped. Use UpsertWithEviction to probe the LRU
// tail before dropping.
func (t *Table) Upsert(peerID string, loc float64, addr, name string) {
	t.upsertLRU(peerID, loc, addr, name, time.Now(), nil)
}

// UpsertWithEviction implements Kademlia-style bucket eviction over the
// location ring: existing peer moves to front; free space inserts at
// front; a full bucket pings its LRU tail and only evicts if it is dead.
func (t *Table) UpsertWithEviction(peerID string, loc float64, addr, name string, ping PingFunc) {
	t.upsertLRU(peerID, loc, addr, name, time.Now(), ping)
}

func (t *Table) upsertLRU(peerID string, loc float64, addr, name string, now time.Time, ping PingFunc) {
	bi := bucketIndex(distance(t.self, loc))

	t.mu.Lock()
	b := t.buckets[bi]

	for i := range b.nodes {
		if b.nodes[i].PeerID == peerID {
			ni := b.nodes[i]
			ni.Addr = addr
			if name != "" {
				ni.Name = name
			}
			ni.LastSeen = now

			copy(b.nodes[i:], b.nodes[i+1:])
			b.nodes = b.nodes[:len(b.nodes)-1]
			b.nodes = append([]PeerInfo{ni}, b.nodes...)

			t.buckets[bi] = b
			t.mu.Unlock()
			return
		}
	}

	ni := PeerInfo{PeerID: peerID, Location: loc, Addr: addr, Name: name, LastSeen: now}

	if max := t.diversity.MaxPerSubnet; max > 0 {
		if sk := subnetKey(addr); sk != "" {
			cnt := 0
			for i := range b.nodes {
				if subnetKey(b.nodes[i].Addr) == sk {
					cnt++
				}
			}
			if cnt >= max {
				t.mu.Unlock()
				return
			}
		}
	}

	if len(b.nodes) < t.k {
		b.nodes = append([]PeerInfo{ni}, b.nodes...)
		t.buckets[bi] = b
		t.mu.Unlock()
		return
	}

	if ping == nil {
		t.mu.Unlock()
		return
	}

	tail := b.nodes[len(b.nodes)-1]
	t.mu.Unlock()

	alive := ping(tail)

	t.mu.Lock()
	b = t.buckets[bi]
	if len(b.nodes) < t.k {
		b.nodes = append([]PeerInfo{ni}, b.nodes...)
		t.buckets[bi] = b
		t.mu.Unlock()
		return
	}

	curTail := b.nodes[len(b.nodes)-1]
	if alive && curTail.PeerID == tail.PeerID {
		b = t.addReplacement(b, ni)
		t.buckets[bi] = b
		t.mu.Unlock()
		return
	}

	b.nodes = b.nodes[:len(b.nodes)-1]
	b.nodes = append([]PeerInfo{ni}, b.nodes...)
	t.buckets[bi] = b
	t.mu.Unlock()
}

func (t *Table) addReplacement(b bucket, ni PeerInfo) bucket {
	const replMax = 10
	for i := range b.repl {
		if b.repl[i].PeerID == ni.PeerID {
			return b
		}
	}
	b.repl = append([]PeerInfo{ni}, b.repl...)
	if len(b.repl) > replMax {
		b.repl = b.repl[:replMax]
	}
	return b
}

// Remove drops a peer from the table entirely, called when a connection
// closes so it stops being offered as a routing candidate.
func (t *Table) Remove(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for bi := range t.buckets {
		b := t.buckets[bi]
		for i := range b.nodes {
			if b.nodes[i].PeerID == peerID {
				b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
				t.buckets[bi] = b
				return
			}
		}
	}
}

// Closest returns up to n peers ordered by ascending circular distance
// from target, excluding any peer ID present in excluded.
func (t *Table) Closest(target float64, n int, excluded map[string]bool) []PeerInfo {
	if n <= 0 {
		n = t.k
	}

	t.mu.RLock()
	all := make([]PeerInfo, 0, 64*t.k)
	for i := range t.buckets {
		all = append(all, t.buckets[i].nodes...)
	}
	t.mu.RUnlock()

	filtered := all[:0]
	for _, ni := range all {
		if !excluded[ni.PeerID] {
			filtered = append(filtered, ni)
		}
	}

	sortByDistance(filtered, target)
	if len(filtered) > n {
		filtered = filtered[:n]
	}
	return filtered
}

func sortByDistance(nodes []PeerInfo, target float64) {
	type nd struct {
		ni   PeerInfo
		dist float64
	}
	tmp := make([]nd, len(nodes))
	for i := range nodes {
		tmp[i] = nd{ni: nodes[i], dist: distance(nodes[i].Location, target)}
	}
	for i := 1; i < len(tmp); i++ {
		j := i
		for j > 0 && tmp[j].dist < tmp[j-1].dist {
			tmp[j], tmp[j-1] = tmp[j-1], tmp[j]
			j--
		}
	}
	for i := range tmp {
		nodes[i] = tmp[i].ni
	}
}

func subnetKey(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		port = ""
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "dns:" + strings.ToLower(host)
	}
	if ip.IsLoopback() {
		if port != "" {
			return "loopback:" + host + ":" + port
		}
		return "loopback:" + host
	}
	if v4 := ip.To4(); v4 != nil {
		return "v4:" + net.IPv4(v4[0], v4[1], v4[2], 0).String() + "/24"
	}
	return "ip:" + ip.String()
}

// Size returns the total number of peers held.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for i := range t.buckets {
		n += len(t.buckets[i].nodes)
	}
	return n
}

func (t *Table) SetDiversityLimit(maxPerSubnet int) {
	t.mu.Lock()
	t.diversity.MaxPerSubnet = maxPerSubnet
	t.mu.Unlock()
}

// Package nodestats is the node-level accounting sink the insert sender
// reports byte totals and payload counts to.
package nodestats

import "sync/atomic"

// Sink is intentionally tiny and dependency-free. Implementations must be
// thread-safe: many concurrent inserts report to the same sink.
type Sink interface {
	InsertSentBytes(isSSK bool, delta int)
	InsertReceivedBytes(isSSK bool, delta int)
	SentPayload(n int)
}

// Noop discards everything.
type Noop struct{}

func (Noop) InsertSentBytes(isSSK bool, delta int)     {}
func (Noop) InsertReceivedBytes(isSSK bool, delta int) {}
func (Noop) SentPayload(n int)                         {}

// Atomic is a lock-free in-memory sink, splitting SSK and non-SSK
// totals.
type Atomic struct {
	sskSent     atomic.Int64
	sskReceived atomic.Int64
	otherSent   atomic.Int64
	otherRecv   atomic.Int64
	payloadSent atomic.Int64
}

func (m *Atomic) InsertSentBytes(isSSK bool, delta int) {
	if isSSK {
		m.sskSent.Add(int64(delta))
	} else {
		m.otherSent.Add(int64(delta))
	}
}

func (m *Atomic) InsertReceivedBytes(isSSK bool, delta int) {
	if isSSK {
		m.sskReceived.Add(int64(delta))
	} else {
		m.otherRecv.Add(int64(delta))
	}
}

func (m *Atomic) SentPayload(n int) { m.payloadSent.Add(int64(n)) }

// Snapshot returns a point-in-time copy of the counters for diagnostics.
func (m *Atomic) Snapshot() map[string]int64 {
	return map[string]int64{
		"ssk_sent_bytes":       m.sskSent.Load(),
		"ssk_received_bytes":   m.sskReceived.Load(),
		"other_sent_bytes":     m.otherSent.Load(),
		"other_received_bytes": m.otherRecv.Load(),
		"payload_sent_bytes":   m.payloadSent.Load(),
	}
}

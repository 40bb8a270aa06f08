package insertsender

import "sync"

// byteCounters is pure additive state guarded by its own monitor, separate
// from statusRegister's, so a byte-total read never blocks on the
// critical-path status lock.
type byteCounters struct {
	mu       sync.Mutex
	sent     int64
	received int64
}

func (b *byteCounters) addSent(n int) {
	b.mu.Lock()
	b.sent += int64(n)
	b.mu.Unlock()
}

func (b *byteCounters) addReceived(n int) {
	b.mu.Lock()
	b.received += int64(n)
	b.mu.Unlock()
}

func (b *byteCounters) totals() (sent, received int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent, b.received
}

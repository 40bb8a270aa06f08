package insertsender

import (
	"sync"
	"testing"
)

func TestByteCounters_AddAndTotals(t *testing.T) {
	var b byteCounters
	b.addSent(10)
	b.addSent(5)
	b.addReceived(3)

	sent, received := b.totals()
	if sent != 15 {
		t.Fatalf("expected sent=15, got %d", sent)
	}
	if received != 3 {
		t.Fatalf("expected received=3, got %d", received)
	}
}

func TestByteCounters_ConcurrentAdds(t *testing.T) {
	var b byteCounters
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.addSent(1)
			b.addReceived(2)
		}()
	}
	wg.Wait()

	sent, received := b.totals()
	if sent != 100 {
		t.Fatalf("expected sent=100, got %d", sent)
	}
	if received != 200 {
		t.Fatalf("expected received=200, got %d", received)
	}
}

package routing

import (
	"math"
	"testing"
)

func TestDistance_WrapsAroundRing(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{0.1, 0.2, 0.1},
		{0.05, 0.95, 0.1}, // shorter way is around the wrap
		{0.0, 0.5, 0.5},
	}
	for _, c := range cases {
		// 1-(0.95-0.05) is not exactly 0.1 in float64, so compare within
		// rounding error rather than bit-for-bit.
		if got := distance(c.a, c.b); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("distance(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestTable_ClosestOrdersByDistanceAndExcludes(t *testing.T) {
	tbl := NewTable(0.5, 20)
	tbl.Upsert("near", 0.51, "10.0.0.1:1", "near")
	tbl.Upsert("far", 0.9, "10.0.0.2:1", "far")
	tbl.Upsert("middle", 0.6, "10.0.0.3:1", "middle")

	got := tbl.Closest(0.5, 10, nil)
	if len(got) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(got))
	}
	if got[0].PeerID != "near" || got[1].PeerID != "middle" || got[2].PeerID != "far" {
		t.Fatalf("unexpected order: %v", got)
	}

	excluded := map[string]bool{"near": true}
	got = tbl.Closest(0.5, 10, excluded)
	if len(got) != 2 || got[0].PeerID != "middle" {
		t.Fatalf("expected [middle far] after excluding near, got %v", got)
	}
}

func TestTable_UpsertRefreshesExistingToFront(t *testing.T) {
	tbl := NewTable(0.0, 20)
	tbl.Upsert("a", 0.01, "", "")
	tbl.Upsert("b", 0.01, "", "")

	tbl.Upsert("a", 0.01, "new-addr", "renamed")

	got := tbl.Closest(0.01, 10, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(got))
	}
	var a PeerInfo
	for _, p := range got {
		if p.PeerID == "a" {
			a = p
		}
	}
	if a.Addr != "new-addr" || a.Name != "renamed" {
		t.Fatalf("expected refreshed fields, got %+v", a)
	}
}

func TestTable_RemoveDropsPeer(t *testing.T) {
	tbl := NewTable(0.3, 20)
	tbl.Upsert("gone", 0.31, "", "")
	if tbl.Size() != 1 {
		t.Fatalf("expected 1 peer before remove")
	}
	tbl.Remove("gone")
	if tbl.Size() != 0 {
		t.Fatalf("expected 0 peers after remove")
	}
}

func TestTable_UpsertWithEvictionPingsDeadTail(t *testing.T) {
	tbl := NewTable(0.0, 1) // bucket capacity of 1 forces eviction decisions
	tbl.Upsert("first", 0.001, "", "")

	pinged := false
	tbl.UpsertWithEviction("second", 0.001, "", "", func(PeerInfo) bool {
		pinged = true
		return false // tail is dead, make room for the newcomer
	})

	if !pinged {
		t.Fatalf("expected the full bucket's tail to be pinged")
	}
	got := tbl.Closest(0.001, 10, nil)
	if len(got) != 1 || got[0].PeerID != "second" {
		t.Fatalf("expected dead tail evicted in favor of newcomer, got %v", got)
	}
}

func TestTable_DiversityLimitRejectsSameSubnet(t *testing.T) {
	tbl := NewTable(0.2, 20)
	tbl.SetDiversityLimit(1)
	tbl.Upsert("p1", 0.21, "10.0.0.1:9999", "")
	tbl.Upsert("p2", 0.21, "10.0.0.1:8888", "") // same /24 as p1

	got := tbl.Closest(0.21, 10, nil)
	if len(got) != 1 {
		t.Fatalf("expected the second same-subnet peer to be rejected, got %v", got)
	}
}

func TestTable_BucketIndexStaysInRangeNearBoundaries(t *testing.T) {
	// A sanity check that bucketIndex never panics or goes negative/too-large
	// near the distance boundaries (0 and 0.5).
	for _, d := range []float64{0, 1e-12, 0.5, 0.25, 1.0} {
		if idx := bucketIndex(d); idx < 0 || idx > 63 {
			t.Fatalf("bucketIndex(%v) out of range: %d", d, idx)
		}
	}
}

package routing

import "testing"

func TestAdmission_AllowsUpToBurstThenRejects(t *testing.T) {
	a := NewAdmission(1, 3) // rate irrelevant within one instant
	for i := 0; i < 3; i++ {
		if !a.Allow("peer-1") {
			t.Fatalf("expected token %d to be allowed", i)
		}
	}
	if a.Allow("peer-1") {
		t.Fatalf("expected the 4th immediate request to be rejected")
	}
}

func TestAdmission_TracksPeersIndependently(t *testing.T) {
	a := NewAdmission(1, 1)
	if !a.Allow("peer-1") {
		t.Fatalf("expected peer-1's first request to be allowed")
	}
	if !a.Allow("peer-2") {
		t.Fatalf("expected peer-2's first request to be allowed regardless of peer-1's bucket")
	}
}

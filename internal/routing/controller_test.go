package routing

import "testing"

type fakeConnectedPeer struct {
	id        string
	connected bool
}

func (f fakeConnectedPeer) ID() string      { return f.id }
func (f fakeConnectedPeer) Connected() bool { return f.connected }

func TestController_PickNextSkipsDisconnectedAndExcludesChosen(t *testing.T) {
	tbl := NewTable(0.5, 20)
	tbl.Upsert("dead", 0.50, "", "")
	tbl.Upsert("live", 0.51, "", "")

	live := map[string]bool{"live": true}
	lookup := func(id string) ConnectedPeer {
		return fakeConnectedPeer{id: id, connected: live[id]}
	}

	c := NewController(tbl, NewAdmission(100, 100))
	got, ok := c.PickNext(0.5, lookup)
	if !ok || got.PeerID != "live" {
		t.Fatalf("expected to pick the only connected peer, got %+v ok=%v", got, ok)
	}
	if c.Routed() != 1 {
		t.Fatalf("expected routed count 1, got %d", c.Routed())
	}

	_, ok = c.PickNext(0.5, lookup)
	if ok {
		t.Fatalf("expected no further candidates once the only live peer is excluded")
	}
}

func TestController_PickNextRespectsAdmission(t *testing.T) {
	tbl := NewTable(0.5, 20)
	tbl.Upsert("p1", 0.50, "", "")

	admit := NewAdmission(0, 0) // burst 0: nothing is ever admitted
	c := NewController(tbl, admit)

	_, ok := c.PickNext(0.5, func(id string) ConnectedPeer {
		return fakeConnectedPeer{id: id, connected: true}
	})
	if ok {
		t.Fatalf("expected admission to block the only candidate")
	}
}

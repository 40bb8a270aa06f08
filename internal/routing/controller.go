package routing

// Controller owns the monotonically growing set of peers already
// attempted for one insert, and picks the next candidate from the node's
// shared Table.
type Controller struct {
	table    *Table
	admit    *Admission
	excluded map[string]bool
}

// NewController opens a fresh, empty routed-set against table, scoped to
// one insert job. table and admit are shared across all jobs on the node.
func NewController(table *Table, admit *Admission) *Controller {
	return &Controller{table: table, admit: admit, excluded: make(map[string]bool)}
}

// ConnectedPeer is the minimal peer-liveness surface PickNext needs from
// the overlay layer, kept separate from overlay.Peer so this package does
// not import it.
type ConnectedPeer interface {
	ID() string
	Connected() bool
}

// PickNext returns the closest peer to target that is not in the
// routed-set, or ok=false if no admissible candidate is found. Only the
// k*4 closest non-excluded peers are examined; peers beyond that are not
// considered. lookup resolves a candidate PeerID to its live connection;
// a candidate with no live connection, or that fails admission, is
// skipped and the search proceeds to the next-closest.
func (c *Controller) PickNext(target float64, lookup func(peerID string) ConnectedPeer) (PeerInfo, bool) {
	candidates := c.table.Closest(target, c.table.k*4, c.excluded)
	for _, ni := range candidates {
		p := lookup(ni.PeerID)
		if p == nil || !p.Connected() {
			continue
		}
		if c.admit != nil && !c.admit.Allow(ni.PeerID) {
			continue
		}
		c.excluded[ni.PeerID] = true
		return ni, true
	}
	return PeerInfo{}, false
}

// Exclude adds peerID to the routed-set without selecting it, used when a
// peer is known-bad (e.g. just disconnected) before a pick is attempted.
func (c *Controller) Exclude(peerID string) {
	c.excluded[peerID] = true
}

// Routed reports how many peers this job has already attempted.
func (c *Controller) Routed() int {
	return len(c.excluded)
}

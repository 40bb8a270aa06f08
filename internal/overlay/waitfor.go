package overlay

import (
	"sync"
	"time"
)

// mailboxKey identifies one waiter: a (peer, uid) pair. Every protocol
// wait is scoped to one uid from one peer.
type mailboxKey struct {
	peerID string
	uid    uint64
}

type mailbox struct {
	ch chan InsertWire
}

// mailboxRegistry routes inbound InsertWire messages either to the
// (peer, uid) mailbox that a WaitFor call created (whether or not a
// WaitFor is blocked on it right now), or, if no such mailbox exists or
// it is full, to the node's InsertHandler (the receiving side of the
// protocol, or an unsolicited/late message).
type mailboxRegistry struct {
	mu    sync.Mutex
	boxes map[mailboxKey]*mailbox
}

func (r *mailboxRegistry) init() {
	r.boxes = make(map[mailboxKey]*mailbox)
}

// get returns the mailbox for (peerID, uid), creating it on first use. A
// box persists across consecutive WaitFor calls for the same exchange, so
// a message landing between two waits (headers consumed, data already in
// flight) buffers instead of being lost.
func (r *mailboxRegistry) get(peerID string, uid uint64) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := mailboxKey{peerID, uid}
	b := r.boxes[k]
	if b == nil {
		b = &mailbox{ch: make(chan InsertWire, 8)}
		r.boxes[k] = b
	}
	return b
}

// dropPeer discards every mailbox belonging to peerID; waiters blocked on
// one unblock via the peer's context instead.
func (r *mailboxRegistry) dropPeer(peerID string) {
	r.mu.Lock()
	for k := range r.boxes {
		if k.peerID == peerID {
			delete(r.boxes, k)
		}
	}
	r.mu.Unlock()
}

// deliver hands w to the registered mailbox for (peerID, w.UID), if any.
// Returns true if w was queued in that mailbox.
func (r *mailboxRegistry) deliver(peerID string, w InsertWire) bool {
	r.mu.Lock()
	b := r.boxes[mailboxKey{peerID, w.UID}]
	r.mu.Unlock()
	if b == nil {
		return false
	}
	select {
	case b.ch <- w:
		return true
	default:
		return false
	}
}

func (n *Node) dispatchInsert(p *Peer, w InsertWire) {
	if n.mailboxes.deliver(p.id, w) {
		return
	}
	if n.onInsert != nil {
		n.onInsert(p, w)
	}
}

// Filter describes an open wait: which Kinds terminate it, plus the
// timeout to apply. The insert protocol's waits accept several possible
// replies at once and may loop, so the filter carries an allow-list
// rather than a single expected kind.
type Filter struct {
	Kinds   map[Kind]bool
	Timeout time.Duration
}

func NewFilter(timeout time.Duration, kinds ...Kind) Filter {
	m := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return Filter{Kinds: m, Timeout: timeout}
}

// WaitFor blocks until a message matching f arrives from p on uid, or the
// timeout elapses. A false return is the timeout case; timeouts are
// protocol events, not errors.
func (n *Node) WaitFor(p *Peer, uid uint64, f Filter) (InsertWire, bool) {
	b := n.mailboxes.get(p.id, uid)

	timer := time.NewTimer(f.Timeout)
	defer timer.Stop()

	for {
		select {
		case w := <-b.ch:
			if len(f.Kinds) == 0 || f.Kinds[w.Kind] {
				return w, true
			}
			// Not a Kind this filter accepts; a correct peer would not
			// send it here, but don't let an unexpected message wedge
			// the wait. Keep waiting for the remaining timeout.
			continue
		case <-timer.C:
			return InsertWire{}, false
		case <-p.ctx.Done():
			return InsertWire{}, false
		}
	}
}

package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"sskinsert/internal/netx"
)

var ErrNotConnected = errors.New("overlay: peer not connected")

// Peer is one connected remote node: async and throttled sends over its
// write loop, plus the reputation callbacks the insert sender invokes on
// hop outcomes.
type Peer struct {
	id     string
	addr   netx.Addr
	conn   netx.Conn
	writer *json.Encoder

	sendCh chan Envelope
	once   sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	name string

	mu         sync.Mutex
	connected  bool
	reputation reputationCounters
}

type reputationCounters struct {
	localOverloads int
	successes      int
}

func (p *Peer) ID() string { return p.id }

// Connected reports whether the underlying transport is still usable.
// Sends to a disconnected peer fail with ErrNotConnected, which the
// insert sender treats as a transient retry-another-peer condition.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Peer) markDisconnected() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// SendAsync queues env for the peer's write loop. Fire-and-forget: it
// returns ErrNotConnected instead of blocking forever on a dead peer.
func (p *Peer) SendAsync(env Envelope) error {
	if !p.Connected() {
		return ErrNotConnected
	}
	select {
	case p.sendCh <- env:
		return nil
	default:
		// Outbox full: the peer is not draining, drop it.
		go p.closeLocked()
		return ErrNotConnected
	}
}

// SendThrottled is the send used for large payloads (the data-push
// phase): it blocks until the outbox has room and fails with a
// distinguishable timeout error if none frees up within timeout. No rate
// limit is applied.
func (p *Peer) SendThrottled(env Envelope, timeout time.Duration) error {
	if !p.Connected() {
		return ErrNotConnected
	}
	select {
	case p.sendCh <- env:
		return nil
	case <-time.After(timeout):
		return ErrWaitedTooLong
	}
}

var ErrWaitedTooLong = errors.New("overlay: waited too long to send")

// LocalRejectedOverload records that this peer itself reported (or was
// inferred to be) overloaded.
func (p *Peer) LocalRejectedOverload(label string) {
	p.mu.Lock()
	p.reputation.localOverloads++
	p.mu.Unlock()
}

// SuccessNotOverload records a non-overload terminal outcome for this peer
// on this hop (loop rejection, route-not-found, data-insert-rejected).
func (p *Peer) SuccessNotOverload() {
	p.mu.Lock()
	p.reputation.successes++
	p.mu.Unlock()
}

// OnSuccess records a fully successful insert through this peer.
func (p *Peer) OnSuccess(local, insert bool) {
	p.mu.Lock()
	p.reputation.successes++
	p.mu.Unlock()
}

func (p *Peer) closeLocked() {
	p.once.Do(func() {
		p.markDisconnected()
		if p.cancel != nil {
			p.cancel()
		}
		_ = p.conn.Close()
	})
}

func (n *Node) addPeer(p *Peer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.peers[p.id]; exists || p.id == n.id.ID {
		return false
	}
	n.peers[p.id] = p
	n.emit(Event{Type: EventPeerConnected, PeerID: p.id})
	return true
}

func (n *Node) removePeer(id string) {
	n.mu.Lock()
	p := n.peers[id]
	delete(n.peers, id)
	n.mu.Unlock()
	if p == nil {
		return
	}
	p.closeLocked()
	n.mailboxes.dropPeer(id)
	n.emit(Event{Type: EventPeerDisconnected, PeerID: id})
}

// Peers returns a snapshot of currently connected peers.
func (n *Node) Peers() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

func (n *Node) peerByID(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// PeerByID exposes peerByID for callers outside this package, such as the
// Routing Controller resolving a routing-table candidate to a live
// connection.
func (n *Node) PeerByID(id string) *Peer { return n.peerByID(id) }

func (p *Peer) writeLoop(n *Node) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case env := <-p.sendCh:
			if err := p.writer.Encode(env); err != nil {
				n.Logf("write to %s failed: %v", p.id, err)
				n.removePeer(p.id)
				return
			}
		}
	}
}

package overlay

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"

	"sskinsert/internal/netx"
)

func (n *Node) handleConn(rawConn netx.Conn, inbound bool) {
	p, err := n.establishPeer(rawConn, inbound)
	if err != nil {
		n.Logf("conn setup failed (inbound=%v): %v", inbound, err)
		_ = rawConn.Close()
		return
	}
	if p == nil {
		_ = rawConn.Close()
		return
	}
	defer n.removePeer(p.id)

	if err := n.sendHello(p); err != nil {
		n.Logf("send hello to %s failed: %v", p.id, err)
	}
	n.Logf("connected to peer id=%s inbound=%v", p.id, inbound)

	n.runPeerReadLoop(p)
}

// establishPeer registers a peer bookkeeping entry for rawConn, which has
// already completed its Noise_XX handshake inside Network.Dial/Accept
// (internal/netx folds secureconn's framing into the transport layer
// itself); this just derives the routing identity from the handshake's
// static key and wires up the send/receive plumbing.
func (n *Node) establishPeer(rawConn netx.Conn, inbound bool) (*Peer, error) {
	peerID := hex.EncodeToString(rawConn.RemoteStatic())
	pctx, cancel := context.WithCancel(n.ctx)
	p := &Peer{
		id:     peerID,
		addr:   rawConn.RemoteAddr(),
		conn:   rawConn,
		writer: json.NewEncoder(rawConn),
		sendCh: make(chan Envelope, 128),
		ctx:    pctx,
		cancel: cancel,
	}
	p.connected = true

	if !n.addPeer(p) {
		_ = rawConn.Close()
		return nil, nil
	}

	go p.writeLoop(n)
	return p, nil
}

func (n *Node) runPeerReadLoop(p *Peer) {
	dec := json.NewDecoder(bufio.NewReader(p.conn))
	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			n.Logf("read from %s failed: %v", p.id, err)
			return
		}
		n.handleEnvelope(p, env)
	}
}

func (n *Node) sendHello(p *Peer) error {
	h := Hello{Name: n.cfg.Name, Listen: string(n.addr)}
	return p.SendAsync(Envelope{
		Type:    MsgHello,
		FromID:  n.id.ID,
		Payload: MustMarshal(h),
	})
}

func (n *Node) handleEnvelope(p *Peer, env Envelope) {
	switch env.Type {
	case MsgHello:
		var h Hello
		if err := json.Unmarshal(env.Payload, &h); err == nil {
			p.mu.Lock()
			p.name = h.Name
			p.mu.Unlock()
		}
	case MsgPeerList:
		// Ignored: the routing table is fed only from connect/disconnect
		// events, not from gossiped peer lists.
	case MsgInsert:
		var w InsertWire
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			n.Logf("bad insert payload from %s: %v", p.id, err)
			return
		}
		n.dispatchInsert(p, w)
	default:
		n.Logf("unknown envelope type %q from %s", env.Type, p.id)
	}
}

package nodeenv

import (
	"time"

	"sskinsert/internal/insertsender"
	"sskinsert/internal/overlay"
	"sskinsert/internal/sskmsg"
)

// overlayTransport adapts *overlay.Node's send/wait surface to the
// insertsender.Transport interface, keeping the Protocol Driver free of
// any direct dependency on the concrete transport package.
type overlayTransport struct {
	node *overlay.Node
}

func (t *overlayTransport) toPeer(p insertsender.PeerHandle) *overlay.Peer {
	op, _ := p.(*overlay.Peer)
	return op
}

func (t *overlayTransport) SendAsync(p insertsender.PeerHandle, w sskmsg.Wire) error {
	op := t.toPeer(p)
	if op == nil {
		return insertsender.ErrNotConnected
	}
	err := op.SendAsync(overlay.Envelope{
		Type:    overlay.MsgInsert,
		FromID:  t.node.ID(),
		Payload: overlay.MustMarshal(overlay.InsertWire(w)),
	})
	if err != nil {
		return insertsender.ErrNotConnected
	}
	return nil
}

func (t *overlayTransport) SendThrottled(p insertsender.PeerHandle, w sskmsg.Wire, timeout time.Duration) error {
	op := t.toPeer(p)
	if op == nil {
		return insertsender.ErrNotConnected
	}
	err := op.SendThrottled(overlay.Envelope{
		Type:    overlay.MsgInsert,
		FromID:  t.node.ID(),
		Payload: overlay.MustMarshal(overlay.InsertWire(w)),
	}, timeout)
	switch err {
	case nil:
		return nil
	case overlay.ErrNotConnected:
		return insertsender.ErrNotConnected
	case overlay.ErrWaitedTooLong:
		return insertsender.ErrWaitedTooLong
	default:
		return insertsender.ErrNotConnected
	}
}

func (t *overlayTransport) WaitFor(p insertsender.PeerHandle, uid uint64, f insertsender.Filter) (sskmsg.Wire, bool) {
	op := t.toPeer(p)
	if op == nil {
		return sskmsg.Wire{}, false
	}
	w, ok := t.node.WaitFor(op, uid, overlay.Filter{Kinds: f.Kinds, Timeout: f.Timeout})
	return sskmsg.Wire(w), ok
}

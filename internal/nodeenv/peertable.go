package nodeenv

import (
	"sskinsert/internal/insertsender"
	"sskinsert/internal/overlay"
	"sskinsert/internal/routing"
)

// peerTableAdapter is a per-job routing controller bound to the node's
// shared location table and admission policy, exposed as
// insertsender.PeerTable.
type peerTableAdapter struct {
	node       *overlay.Node
	controller *routing.Controller
}

func newPeerTableAdapter(node *overlay.Node, table *routing.Table, admit *routing.Admission) *peerTableAdapter {
	return &peerTableAdapter{node: node, controller: routing.NewController(table, admit)}
}

func (a *peerTableAdapter) PickNext(target float64) (insertsender.PeerHandle, bool) {
	ni, ok := a.controller.PickNext(target, func(peerID string) routing.ConnectedPeer {
		p := a.node.PeerByID(peerID)
		if p == nil {
			return nil
		}
		return p
	})
	if !ok {
		return nil, false
	}
	p := a.node.PeerByID(ni.PeerID)
	if p == nil {
		return nil, false
	}
	return p, true
}

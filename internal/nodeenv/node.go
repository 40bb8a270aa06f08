// Package nodeenv wires the node-wide environment an insert job runs
// against: the overlay transport, routing table, local datastore,
// in-flight registry, accounting sink, and worker pool.
package nodeenv

import (
	"crypto/ed25519"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"sskinsert/internal/executor"
	"sskinsert/internal/insertsender"
	"sskinsert/internal/netx"
	"sskinsert/internal/nodestats"
	"sskinsert/internal/overlay"
	"sskinsert/internal/routing"
	"sskinsert/internal/sskkey"
	"sskinsert/internal/sskstore"
	"sskinsert/internal/telemetry"
)

// Node is one running overlay participant, capable of originating SSK
// inserts and of servicing inserts forwarded to it by others.
type Node struct {
	cfg    Config
	logger telemetry.Logger

	Overlay  *overlay.Node
	Table    *routing.Table
	Admit    *routing.Admission
	Store    *sskstore.Store
	Registry *sskstore.Registry
	Stats    *nodestats.Atomic
	Executor *executor.Pool

	receiver *insertsender.Receiver

	seq atomic.Uint64
}

// New constructs a node environment but does not yet start listening.
func New(cfg Config, logger telemetry.Logger) (*Node, error) {
	cfg = cfg.withDefaults()

	id, err := overlay.NewIdentity()
	if err != nil {
		return nil, fmt.Errorf("nodeenv: generate identity: %w", err)
	}

	on, err := overlay.NewNode(overlay.NodeConfig{
		Name:       cfg.Name,
		Identity:   id,
		Network:    netx.NewTCPNetwork(id.NoisePriv, id.NoisePub),
		BindAddr:   cfg.Bind,
		Bootstraps: cfg.Bootstraps,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cfg.DataDir, "sskstore.db")
	store, err := sskstore.Open(dbPath, on.SigningKey())
	if err != nil {
		return nil, fmt.Errorf("nodeenv: open store: %w", err)
	}

	self := sskkey.Target(sskkey.Key(sskkey.PubKeyHash(on.Identity().SignPub)))

	n := &Node{
		cfg:      cfg,
		logger:   logger,
		Overlay:  on,
		Table:    routing.NewTable(self, cfg.RoutingTableK),
		Admit:    routing.NewAdmission(cfg.AdmitRate, cfg.AdmitBurst),
		Store:    store,
		Registry: sskstore.NewRegistry(),
		Stats:    &nodestats.Atomic{},
		Executor: executor.New(cfg.ExecutorConcurrency, logger),
	}

	n.receiver = &insertsender.Receiver{
		Node:              on,
		Store:             store,
		Registry:          n.Registry,
		Admit:             n.Admit,
		Logger:            logger,
		AcceptTimeout:     insertsender.AcceptTimeout,
		DataInsertTimeout: cfg.DataInsertTimeout,
	}
	on.SetInsertHandler(n.receiver.Handle)

	go n.trackPeers()

	return n, nil
}

// trackPeers feeds connected/disconnected overlay events into the routing
// table, since this demo-scale node has no separate gossip/discovery
// layer populating it.
func (n *Node) trackPeers() {
	for ev := range n.Overlay.Events() {
		switch ev.Type {
		case overlay.EventPeerConnected:
			p := n.Overlay.PeerByID(ev.PeerID)
			if p == nil {
				continue
			}
			loc := locationFromPeerID(ev.PeerID)
			n.Table.Upsert(ev.PeerID, loc, "", "")
		case overlay.EventPeerDisconnected:
			n.Table.Remove(ev.PeerID)
		}
	}
}

// locationFromPeerID derives a deterministic routing coordinate for a
// peer from its static identity, standing in for a gossiped or announced
// location.
func locationFromPeerID(peerID string) float64 {
	var k sskkey.Key
	copy(k[:], []byte(peerID))
	return sskkey.Target(k)
}

func (n *Node) Start() error { return n.Overlay.Start() }

func (n *Node) Stop() error {
	n.Overlay.Stop()
	return n.Store.Close()
}

// InsertLocal originates a new SSK insert for (priv, slot, data, headers)
// and starts it running.
func (n *Node) InsertLocal(priv ed25519.PrivateKey, slot string, headers, data []byte, htl int) (*insertsender.Job, error) {
	seq := n.seq.Add(1)
	block, err := sskkey.NewSignedBlock(priv, slot, seq, headers, data)
	if err != nil {
		return nil, err
	}

	job, err := insertsender.New(block, n.nextUID(), htl, nil, false, true, true, n.deps())
	if err != nil {
		return nil, err
	}
	job.Start()
	return job, nil
}

func (n *Node) nextUID() uint64 { return n.seq.Add(1) }

func (n *Node) deps() insertsender.Deps {
	return insertsender.Deps{
		Executor:          n.Executor,
		Transport:         &overlayTransport{node: n.Overlay},
		HTLPolicy:         decrementHTL,
		Table:             newPeerTableAdapter(n.Overlay, n.Table, n.Admit),
		Registry:          n.Registry,
		Stats:             n.Stats,
		Logger:            n.logger,
		DataInsertTimeout: n.cfg.DataInsertTimeout,
		FetchTimeout:      n.cfg.FetchTimeout,
		MaxHops:           n.cfg.MaxHops,
	}
}

package overlay

import (
	"context"
	"crypto/ed25519"
	"sync"

	"sskinsert/internal/netx"
	"sskinsert/internal/telemetry"
)

// InsertHandler is the node-supplied callback invoked for every decoded
// INSERT_REQUEST/ACCEPTED/... wire message addressed to this node rather
// than to a job's waitFor mailbox (i.e. the receiving side of the protocol,
// and any message with no matching pending wait).
type InsertHandler func(from *Peer, w InsertWire)

type NodeConfig struct {
	Name string
	// Identity is this node's Noise/ed25519 keypair set. When nil, NewNode
	// generates a fresh one; callers that must hand the same Noise keys to
	// Network (so Dial/Accept can run the handshake themselves) supply it
	// explicitly instead.
	Identity   *Identity
	Network    netx.Network
	BindAddr   string
	Bootstraps []netx.Addr
	Logger     telemetry.Logger
	Debug      bool
}

// Node owns peer connections and dispatches insert-protocol traffic:
// the transport half of what an insert job consumes (per-peer sends and
// uid-scoped message waits).
type Node struct {
	cfg  NodeConfig
	id   *Identity
	addr netx.Addr

	mu    sync.RWMutex
	peers map[string]*Peer

	ctx    context.Context
	cancel context.CancelFunc

	onInsert InsertHandler

	mailboxes mailboxRegistry

	events chan Event
}

type EventType string

const (
	EventPeerConnected    EventType = "peer_connected"
	EventPeerDisconnected EventType = "peer_disconnected"
)

type Event struct {
	Type   EventType
	PeerID string
}

func NewNode(cfg NodeConfig) (*Node, error) {
	id := cfg.Identity
	if id == nil {
		var err error
		id, err = NewIdentity()
		if err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:    cfg,
		id:     id,
		peers:  make(map[string]*Peer),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 128),
	}
	n.mailboxes.init()
	return n, nil
}

func (n *Node) ID() string                     { return n.id.ID }
func (n *Node) Identity() *Identity            { return n.id }
func (n *Node) SigningKey() ed25519.PrivateKey { return n.id.SignPriv }
func (n *Node) ListenAddr() netx.Addr          { return n.addr }
func (n *Node) Events() <-chan Event           { return n.events }

// SetInsertHandler registers the callback for unsolicited/receiving-side
// insert protocol messages. Must be called before Start.
func (n *Node) SetInsertHandler(h InsertHandler) { n.onInsert = h }

func (n *Node) Start() error {
	addr, err := n.cfg.Network.Listen(n.cfg.BindAddr)
	if err != nil {
		return err
	}
	n.addr = addr
	go n.acceptLoop()
	for _, b := range n.cfg.Bootstraps {
		go func(a netx.Addr) { _ = n.ConnectTo(a) }(b)
	}
	return nil
}

func (n *Node) Stop() {
	n.cancel()
	_ = n.cfg.Network.Close()
	n.mu.Lock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()
	for _, p := range peers {
		n.removePeer(p.id)
	}
}

func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
	}
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.cfg.Network.Accept()
		if err != nil {
			n.Logf("accept error: %v", err)
			return
		}
		go n.handleConn(conn, true)
	}
}

// ConnectTo dials addr and, on success, hands the connection (already
// secured by Network.Dial) to the peer bookkeeping path.
func (n *Node) ConnectTo(addr netx.Addr) error {
	conn, err := n.cfg.Network.Dial(addr)
	if err != nil {
		n.Logf("dial %s failed: %v", addr, err)
		return err
	}
	go n.handleConn(conn, false)
	return nil
}

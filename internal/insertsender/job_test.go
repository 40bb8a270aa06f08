package insertsender

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"sskinsert/internal/executor"
	"sskinsert/internal/nodestats"
	"sskinsert/internal/sskkey"
	"sskinsert/internal/sskmsg"
)

// fakePeer is the PeerHandle test double: record what was called rather
// than actually talking to anything.
type fakePeer struct {
	id string

	mu                 sync.Mutex
	localRejects       []string
	successNotOverload int
	onSuccessCalls     int
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string      { return p.id }
func (p *fakePeer) Connected() bool { return true }
func (p *fakePeer) LocalRejectedOverload(label string) {
	p.mu.Lock()
	p.localRejects = append(p.localRejects, label)
	p.mu.Unlock()
}
func (p *fakePeer) SuccessNotOverload() {
	p.mu.Lock()
	p.successNotOverload++
	p.mu.Unlock()
}
func (p *fakePeer) OnSuccess(local, insert bool) {
	p.mu.Lock()
	p.onSuccessCalls++
	p.mu.Unlock()
}

// scriptedTransport replays a fixed queue of WaitFor responses in order,
// regardless of which peer or filter asked; every test in this file drives
// exactly one job on one goroutine, so calls arrive in the exact order the
// protocol phases issue them.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []waitResp
	sendErr   error
}

type waitResp struct {
	w  sskmsg.Wire
	ok bool
}

func (t *scriptedTransport) queue(w sskmsg.Wire) {
	t.mu.Lock()
	t.responses = append(t.responses, waitResp{w: w, ok: true})
	t.mu.Unlock()
}

func (t *scriptedTransport) SendAsync(p PeerHandle, w sskmsg.Wire) error { return t.sendErr }

func (t *scriptedTransport) SendThrottled(p PeerHandle, w sskmsg.Wire, timeout time.Duration) error {
	return t.sendErr
}

func (t *scriptedTransport) WaitFor(p PeerHandle, uid uint64, f Filter) (sskmsg.Wire, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.responses) == 0 {
		return sskmsg.Wire{}, false
	}
	r := t.responses[0]
	t.responses = t.responses[1:]
	return r.w, r.ok
}

// fakeTable hands out peers in a fixed order, then reports no more
// candidates, modeling a drained routing table.
type fakeTable struct {
	peers []PeerHandle
	idx   int
}

func (f *fakeTable) PickNext(target float64) (PeerHandle, bool) {
	if f.idx >= len(f.peers) {
		return nil, false
	}
	p := f.peers[f.idx]
	f.idx++
	return p, true
}

type fakeRegistry struct{}

func (fakeRegistry) Start(key sskkey.Key, htl int) bool { return true }
func (fakeRegistry) Finish(key sskkey.Key, origHTL int) {}

func decrementByOne(requestorID string, htl int) int {
	if htl <= 0 {
		return 0
	}
	return htl - 1
}

func testBlock(t *testing.T, slot string, data, headers []byte) *sskkey.Block {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_ = pub
	blk, err := sskkey.NewSignedBlock(priv, slot, 1, headers, data)
	if err != nil {
		t.Fatalf("new signed block: %v", err)
	}
	return blk
}

func newTestDeps(transport *scriptedTransport, table *fakeTable, maxHops int) Deps {
	return Deps{
		Executor:          executor.New(0, nil),
		Transport:         transport,
		HTLPolicy:         decrementByOne,
		Table:             table,
		Registry:          fakeRegistry{},
		Stats:             nodestats.Noop{},
		DataInsertTimeout: time.Second,
		FetchTimeout:      time.Second,
		MaxHops:           maxHops,
	}
}

func awaitTerminal(t *testing.T, j *Job) Status {
	t.Helper()
	done := make(chan Status, 1)
	go func() { done <- j.AwaitTerminal() }()
	select {
	case s := <-done:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("job uid=%d never reached a terminal status", j.UID())
		return StatusRunning
	}
}

func TestJob_BasicSuccess(t *testing.T) {
	transport := &scriptedTransport{}
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindAccepted, NeedPubKey: false})
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindInsertReply})

	peer := newFakePeer("peer-1")
	table := &fakeTable{peers: []PeerHandle{peer}}

	blk := testBlock(t, "slot-a", []byte("payload"), []byte("headers"))
	job, err := New(blk, 1, 3, nil, false, true, true, newTestDeps(transport, table, 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job.Start()

	if status := awaitTerminal(t, job); status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", status)
	}
	if !job.SentRequest() {
		t.Fatalf("expected sentRequest to be true")
	}
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.onSuccessCalls != 1 {
		t.Fatalf("expected OnSuccess called once, got %d", peer.onSuccessCalls)
	}
}

func TestJob_RouteReallyNotFoundWithNoPeers(t *testing.T) {
	transport := &scriptedTransport{}
	table := &fakeTable{} // no peers at all

	blk := testBlock(t, "slot-b", []byte("payload"), nil)
	job, err := New(blk, 2, 3, nil, false, true, true, newTestDeps(transport, table, 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job.Start()

	status := awaitTerminal(t, job)
	if status != StatusRouteReallyNotFound {
		t.Fatalf("expected ROUTE REALLY NOT FOUND, got %s", status)
	}
	if job.SentRequest() {
		t.Fatalf("expected no request to have been sent")
	}
}

func TestJob_HTLClampViaRouteNotFound(t *testing.T) {
	transport := &scriptedTransport{}
	// Hop 1: accepted, then ROUTE_NOT_FOUND advertising a lower HTL ceiling
	// than the job started with.
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindAccepted, NeedPubKey: false})
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindRouteNotFound, NewHTL: 5})
	// Hop 2: accepted, then success.
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindAccepted, NeedPubKey: false})
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindInsertReply})

	peer1 := newFakePeer("peer-1")
	peer2 := newFakePeer("peer-2")
	table := &fakeTable{peers: []PeerHandle{peer1, peer2}}

	blk := testBlock(t, "slot-c", []byte("payload"), nil)
	job, err := New(blk, 3, 10, nil, false, true, true, newTestDeps(transport, table, 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job.Start()

	status := awaitTerminal(t, job)
	if status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", status)
	}
	if htl := job.GetHTL(); htl > 5 {
		t.Fatalf("expected HTL clamped to <= 5, got %d", htl)
	}
}

func TestJob_OverloadForwardingThenSuccess(t *testing.T) {
	transport := &scriptedTransport{}
	// A non-local overload arrives mid-phase1 wait and must be forwarded,
	// not treated as terminal; the same wait then sees ACCEPTED.
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindRejectedOverload, IsLocal: false})
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindAccepted, NeedPubKey: false})
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindInsertReply})

	peer := newFakePeer("peer-1")
	table := &fakeTable{peers: []PeerHandle{peer}}

	blk := testBlock(t, "slot-d", []byte("payload"), nil)
	job, err := New(blk, 4, 3, nil, false, true, true, newTestDeps(transport, table, 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job.Start()

	status := awaitTerminal(t, job)
	if status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", status)
	}
	if !job.ReceivedRejectedOverload() {
		t.Fatalf("expected receivedRejectedOverload to be set")
	}
}

func TestJob_LocalOverloadThenSuccessDoesNotReportReceivedOverload(t *testing.T) {
	transport := &scriptedTransport{}
	// Hop 1: the directly-contacted peer reports its own (local) overload,
	// which is terminal for that peer but must never be forwarded or show
	// up as ReceivedRejectedOverload(); only non-local reports do that.
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindRejectedOverload, IsLocal: true})
	// Hop 2: a different peer accepts and completes the insert.
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindAccepted, NeedPubKey: false})
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindInsertReply})

	peer1 := newFakePeer("peer-1")
	peer2 := newFakePeer("peer-2")
	table := &fakeTable{peers: []PeerHandle{peer1, peer2}}

	blk := testBlock(t, "slot-e", []byte("payload"), nil)
	job, err := New(blk, 6, 3, nil, false, true, true, newTestDeps(transport, table, 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job.Start()

	status := awaitTerminal(t, job)
	if status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", status)
	}
	if job.ReceivedRejectedOverload() {
		t.Fatalf("expected ReceivedRejectedOverload to be false after only a local overload")
	}
}

func TestJob_CollisionResolutionPreservesOriginalHeaders(t *testing.T) {
	transport := &scriptedTransport{}
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindAccepted, NeedPubKey: false})
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindCollisionHeaders, Headers: []byte("collision-wire-headers")})
	transport.queue(sskmsg.Wire{
		Kind: sskmsg.KindCollisionData,
		Data: []byte("winning collision data"),
		Slot: "slot-e",
		Seq:  9,
		Sig:  []byte("not-checked-because-verify-on-construct-is-false"),
	})
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindInsertReply})

	peer := newFakePeer("peer-1")
	table := &fakeTable{peers: []PeerHandle{peer}}

	blk := testBlock(t, "slot-e", []byte("my original data"), []byte("my original headers"))
	job, err := New(blk, 5, 3, nil, false, true, true, newTestDeps(transport, table, 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job.Start()

	status := awaitTerminal(t, job)
	if status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", status)
	}
	if !job.HasCollided() {
		t.Fatalf("expected hasCollided to be set")
	}
	if got, want := string(job.GetData()), "winning collision data"; got != want {
		t.Fatalf("expected reconstructed data %q, got %q", want, got)
	}
	if got, want := string(job.GetHeaders()), "my original headers"; got != want {
		t.Fatalf("expected reconstruction to keep the pre-overwrite headers %q, got %q", want, got)
	}
}

func TestJob_TimesOutWaitingForFinalReply(t *testing.T) {
	transport := &scriptedTransport{}
	transport.queue(sskmsg.Wire{Kind: sskmsg.KindAccepted, NeedPubKey: false})
	// No phase-3 response queued: WaitFor reports a timeout.

	peer := newFakePeer("peer-1")
	table := &fakeTable{peers: []PeerHandle{peer}}

	blk := testBlock(t, "slot-f", []byte("payload"), nil)
	job, err := New(blk, 6, 3, nil, false, true, true, newTestDeps(transport, table, 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job.Start()

	status := awaitTerminal(t, job)
	if status != StatusTimedOut {
		t.Fatalf("expected TIMED OUT, got %s", status)
	}
}

func TestJob_RejectsBlockWithoutPubKey(t *testing.T) {
	blk := &sskkey.Block{}
	_, err := New(blk, 7, 3, nil, false, true, true, newTestDeps(&scriptedTransport{}, &fakeTable{}, 0))
	if err != ErrMissingPubKey {
		t.Fatalf("expected ErrMissingPubKey, got %v", err)
	}
}

func TestJob_MaxHopsCeiling(t *testing.T) {
	transport := &scriptedTransport{}
	// Every hop gets rejected-as-loop, so the job keeps burning iterations
	// against a table that always has another peer to offer.
	for i := 0; i < 10; i++ {
		transport.queue(sskmsg.Wire{Kind: sskmsg.KindRejectedLoop})
	}

	peers := make([]PeerHandle, 10)
	for i := range peers {
		peers[i] = newFakePeer("peer")
	}
	table := &fakeTable{peers: peers}

	blk := testBlock(t, "slot-g", []byte("payload"), nil)
	job, err := New(blk, 8, 50, nil, false, true, true, newTestDeps(transport, table, 3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job.Start()

	status := awaitTerminal(t, job)
	if status != StatusRouteNotFound && status != StatusRouteReallyNotFound {
		t.Fatalf("expected a route-not-found family status once MaxHops is exceeded, got %s", status)
	}
}

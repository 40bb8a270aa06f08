// Package insertsender implements the SSK Insert Sender: the per-request
// state machine that drives a single SSK block through a structured
// peer-to-peer overlay, selecting hops, pushing payload, and resolving
// collisions, timeouts, and routing failures.
package insertsender

import (
	"errors"
	"time"

	"sskinsert/internal/executor"
	"sskinsert/internal/sskkey"
	"sskinsert/internal/telemetry"
)

// AcceptTimeout bounds every wait up to the final reply; SearchTimeout
// bounds the final-reply wait itself. The data-insert and collision-fetch
// timeouts are transport-tuned and so live on Deps rather than as
// constants here.
const (
	AcceptTimeout = 10 * time.Second
	SearchTimeout = 60 * time.Second
)

var ErrMissingPubKey = errors.New("insertsender: block has no public key")

// Deps bundles the node-environment collaborators a job consumes: the
// worker pool, transport, HTL policy, routing controller, node-wide
// registry, and accounting sink.
type Deps struct {
	Executor  *executor.Pool
	Transport Transport
	HTLPolicy HTLPolicy
	Table     PeerTable
	Registry  Registry
	Stats     Stats
	Logger    telemetry.Logger

	DataInsertTimeout time.Duration
	FetchTimeout      time.Duration

	// MaxHops bounds the outer loop's iteration count. Zero means
	// unbounded.
	MaxHops int
}

// Job is one request's worth of routing and protocol state.
// The block field is mutable: collision resolution replaces
// it in place; everything else about the job's identity (uid, target,
// origHTL) is fixed at construction.
type Job struct {
	uid    uint64
	block  *sskkey.Block
	target float64

	source    PeerHandle
	fromStore bool

	canWriteClientCache bool
	canWriteDatastore   bool

	startTime time.Time

	status *statusRegister
	bytes  byteCounters

	origHTL int
	deps    Deps
}

// New constructs a job for (block, uid, htl, source). It rejects blocks
// with no public key.
func New(block *sskkey.Block, uid uint64, htl int, source PeerHandle, fromStore, canWriteClientCache, canWriteDatastore bool, deps Deps) (*Job, error) {
	if block == nil || block.PubKey == nil {
		return nil, ErrMissingPubKey
	}
	return &Job{
		uid:                 uid,
		block:               block,
		target:              sskkey.Target(block.Key),
		source:              source,
		fromStore:           fromStore,
		canWriteClientCache: canWriteClientCache,
		canWriteDatastore:   canWriteDatastore,
		startTime:           time.Now(),
		status:              newStatusRegister(htl),
		origHTL:             htl,
		deps:                deps,
	}, nil
}

func (j *Job) UID() uint64                        { return j.uid }
func (j *Job) GetHTL() int                        { return j.status.getHTL() }
func (j *Job) GetStatus() Status                  { return j.status.getStatus() }
func (j *Job) AwaitTerminal() Status              { return j.status.awaitTerminal() }
func (j *Job) GetStatusString() string            { return j.status.getStatus().String() }
func (j *Job) SentRequest() bool                  { return j.status.wasSentRequest() }
func (j *Job) HasCollided() bool                  { return j.status.hasCollidedFlag() }
func (j *Job) HasRecentlyCollided() bool          { return j.status.hasRecentlyCollidedConsume() }
func (j *Job) ReceivedRejectedOverload() bool     { return j.status.receivedRejectedOverload() }
func (j *Job) GetBlock() *sskkey.Block            { return j.block }
func (j *Job) GetData() []byte                    { return j.block.Data }
func (j *Job) GetHeaders() []byte                 { return j.block.Headers }
func (j *Job) ByteTotals() (sent, received int64) { return j.bytes.totals() }

// Start registers the job under its original HTL and submits it to the
// node's executor pool. The pool has a single queue with no scheduling
// priorities.
func (j *Job) Start() {
	j.deps.Registry.Start(j.block.Key, j.origHTL)
	j.deps.Executor.Execute(j.run, "insert-sender")
}

// run is the top-level loop. It always terminates via finish, including
// on panic: an uncaught fault finalizes INTERNAL ERROR rather than
// crashing the worker, and deregistration still happens under the
// original HTL.
func (j *Job) run() {
	defer j.deps.Registry.Finish(j.block.Key, j.origHTL)
	defer func() {
		if r := recover(); r != nil {
			if j.deps.Logger != nil {
				j.deps.Logger.Printf("insert-sender uid=%d: panic: %v", j.uid, r)
			}
			j.finishWith(StatusInternalError, nil)
		}
	}()

	var lastPeer PeerHandle
	iterations := 0

	for {
		iterations++
		if j.deps.MaxHops > 0 && iterations > j.deps.MaxHops {
			// Peer-table churn could otherwise keep the loop alive past
			// any useful point; the ceiling guarantees termination even
			// if HTL never reaches zero.
			j.finishWith(StatusRouteNotFound, lastPeer)
			return
		}

		requestor := ""
		if lastPeer != nil {
			requestor = lastPeer.ID()
		} else if j.source != nil {
			requestor = j.source.ID()
		}
		htl := j.deps.HTLPolicy(requestor, j.status.getHTL())
		j.status.setHTL(htl)

		if htl == 0 {
			j.finishWith(StatusSuccess, lastPeer)
			return
		}

		peer, ok := j.deps.Table.PickNext(j.target)
		if !ok {
			j.finishWith(StatusRouteNotFound, lastPeer)
			return
		}
		lastPeer = peer

		outcome := j.runHop(peer)
		switch outcome.kind {
		case hopAdvanceAndTerminate:
			j.finishWith(outcome.code, peer)
			return
		case hopRetryAnotherPeer:
			continue
		case hopAdjustHTLAndRetry:
			j.status.clampHTL(outcome.newHTL)
			continue
		}
	}
}

// finishWith finalizes the job and, on SUCCESS with a known last peer,
// invokes its onSuccess callback outside the status critical section.
func (j *Job) finishWith(code Status, lastPeer PeerHandle) {
	final := j.status.finish(code)
	if final == StatusSuccess && lastPeer != nil {
		lastPeer.OnSuccess(true, true)
	}
}

type hopOutcomeKind int

const (
	hopAdvanceAndTerminate hopOutcomeKind = iota
	hopRetryAnotherPeer
	hopAdjustHTLAndRetry
)

type hopOutcome struct {
	kind   hopOutcomeKind
	code   Status
	newHTL int
}

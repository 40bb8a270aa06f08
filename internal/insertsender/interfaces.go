package insertsender

import (
	"time"

	"sskinsert/internal/sskkey"
	"sskinsert/internal/sskmsg"
)

// PeerHandle is the minimal peer surface the protocol driver needs,
// abstracting over internal/overlay.Peer so tests can substitute a
// scripted double.
type PeerHandle interface {
	ID() string
	Connected() bool
	LocalRejectedOverload(label string)
	SuccessNotOverload()
	OnSuccess(local, insert bool)
}

// Filter describes an open wait: which message Kinds terminate it, plus
// the timeout to apply.
type Filter struct {
	Kinds   map[sskmsg.Kind]bool
	Timeout time.Duration
}

func NewFilter(timeout time.Duration, kinds ...sskmsg.Kind) Filter {
	m := make(map[sskmsg.Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return Filter{Kinds: m, Timeout: timeout}
}

// Transport is the messaging surface the protocol driver consumes:
// fire-and-forget send, throttled send, and a typed, timeout-bounded
// wait keyed on (peer, uid).
type Transport interface {
	SendAsync(p PeerHandle, w sskmsg.Wire) error
	SendThrottled(p PeerHandle, w sskmsg.Wire, timeout time.Duration) error
	WaitFor(p PeerHandle, uid uint64, f Filter) (sskmsg.Wire, bool)
}

// ErrNotConnected and ErrWaitedTooLong classify the transient send
// failures the protocol driver treats as "retry another peer".
// Concrete Transport implementations should return these (or errors
// that errors.Is-match them) so the driver doesn't need to know about
// overlay's own error values.
var (
	ErrNotConnected  = transportError("insertsender: peer not connected")
	ErrWaitedTooLong = transportError("insertsender: waited too long to send")
)

type transportError string

func (e transportError) Error() string { return string(e) }

// PeerTable is the routing surface the job loop consults: pick the next
// closest, admissible, not-yet-routed peer.
type PeerTable interface {
	PickNext(target float64) (PeerHandle, bool)
}

// HTLPolicy decrements htl given the requestor peer ID (or "" for a
// locally-initiated job). The requestor is the previously chosen peer if
// any request was already sent, otherwise the original source: always
// decrementing against the source lets a job linger at boundary HTL
// values across many peers.
type HTLPolicy func(requestorID string, htl int) int

// Registry is the node-wide in-flight insert registry keyed on
// (key, origHTL), used for loop detection.
type Registry interface {
	Start(key sskkey.Key, htl int) bool
	Finish(key sskkey.Key, origHTL int)
}

// Stats is the node-level accounting sink.
type Stats interface {
	InsertSentBytes(isSSK bool, delta int)
	InsertReceivedBytes(isSSK bool, delta int)
	SentPayload(n int)
}

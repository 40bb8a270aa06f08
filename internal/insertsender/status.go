package insertsender

import (
	"fmt"
	"sync"
)

// Status is the job's terminal-state vocabulary.
type Status int

const (
	StatusRunning Status = iota
	StatusSuccess
	StatusRouteNotFound
	StatusRouteReallyNotFound
	StatusInternalError
	StatusTimedOut
	StatusGeneratedRejectedOverload
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "NOT FINISHED"
	case StatusSuccess:
		return "SUCCESS"
	case StatusRouteNotFound:
		return "ROUTE NOT FOUND"
	case StatusRouteReallyNotFound:
		return "ROUTE REALLY NOT FOUND"
	case StatusInternalError:
		return "INTERNAL ERROR"
	case StatusTimedOut:
		return "TIMED OUT"
	case StatusGeneratedRejectedOverload:
		return "GENERATED REJECTED OVERLOAD"
	default:
		return fmt.Sprintf("UNKNOWN STATUS CODE: %d", int(s))
	}
}

// statusRegister is the job's one-shot terminal-state cell:
// status, HTL and the collision bits share one monitor; byte counters
// live on a separate one (bytes.go) so observers reading them never block
// on the critical-path state lock.
type statusRegister struct {
	mu   sync.Mutex
	cond *sync.Cond

	status Status
	htl    int

	hasCollided          bool
	hasRecentlyCollided  bool
	hasForwardedOverload bool
	sentRequest          bool
}

func newStatusRegister(htl int) *statusRegister {
	r := &statusRegister{status: StatusRunning, htl: htl}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// finish stores the terminal code; the caller invokes any lastPeer
// onSuccess callback outside the critical section. It panics if status is
// already terminal: finishing twice is a programming error, not a value
// the caller can recover from.
func (r *statusRegister) finish(code Status) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusRunning {
		panic("insertsender: finish called on an already-terminal job")
	}
	if code == StatusRouteNotFound && !r.sentRequest {
		code = StatusRouteReallyNotFound
	}
	r.status = code
	r.cond.Broadcast()
	return code
}

func (r *statusRegister) getStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// awaitTerminal blocks until status leaves RUNNING and returns the
// terminal value.
func (r *statusRegister) awaitTerminal() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.status == StatusRunning {
		r.cond.Wait()
	}
	return r.status
}

func (r *statusRegister) getHTL() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.htl
}

// setHTL overwrites htl unconditionally; callers are responsible for only
// ever narrowing it (clampHTL does the narrowing variant).
func (r *statusRegister) setHTL(v int) {
	r.mu.Lock()
	r.htl = v
	r.cond.Broadcast()
	r.mu.Unlock()
}

// clampHTL lowers htl to min(htl, newHTL). A peer-advertised HTL may only
// narrow ours, never raise it.
func (r *statusRegister) clampHTL(newHTL int) {
	r.mu.Lock()
	if newHTL < r.htl {
		r.htl = newHTL
	}
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *statusRegister) markSentRequest() {
	r.mu.Lock()
	r.sentRequest = true
	r.mu.Unlock()
}

func (r *statusRegister) wasSentRequest() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sentRequest
}

// markCollided flips hasCollided (sticky) and hasRecentlyCollided (edge,
// consumed once by hasRecentlyCollided()).
func (r *statusRegister) markCollided() {
	r.mu.Lock()
	r.hasCollided = true
	r.hasRecentlyCollided = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *statusRegister) hasCollidedFlag() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasCollided
}

// hasRecentlyCollidedConsume returns the edge bit and clears it; one
// consumer read sees each collision.
func (r *statusRegister) hasRecentlyCollidedConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.hasRecentlyCollided
	r.hasRecentlyCollided = false
	return v
}

// receivedRejectedOverload reports whether a downstream (non-local)
// overload was ever forwarded. There is only one overload bit, set only
// by forwardRejectedOverload: a job that only ever saw a local overload
// before succeeding elsewhere reports false here.
func (r *statusRegister) receivedRejectedOverload() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasForwardedOverload
}

// forwardRejectedOverload is idempotent:
// the first call sets the sticky bit and broadcasts; later calls are
// no-ops. Returns true iff this call was the one that flipped it.
func (r *statusRegister) forwardRejectedOverload() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasForwardedOverload {
		return false
	}
	r.hasForwardedOverload = true
	r.cond.Broadcast()
	return true
}

package insertsender

import (
	"time"

	"sskinsert/internal/sskkey"
	"sskinsert/internal/sskmsg"
)

// runHop drives the per-hop protocol against one chosen peer and returns
// what the outer loop should do next.
func (j *Job) runHop(peer PeerHandle) hopOutcome {
	// Phase 1: acceptance.
	req := sskmsg.Wire{
		Kind: sskmsg.KindInsertRequest,
		UID:  j.uid,
		HTL:  uint16(j.status.getHTL()),
		Key:  j.block.Key.Hex(),
	}
	if err := j.send(peer, req); err != nil {
		// Not connected: abort this peer silently.
		return retryHop()
	}
	j.status.markSentRequest()

	needPubKey, outcome := j.phase1(peer)
	if outcome != nil {
		return *outcome
	}

	if outcome := j.phase2(peer, needPubKey); outcome != nil {
		return *outcome
	}

	return j.phase3(peer)
}

func retryHop() hopOutcome { return hopOutcome{kind: hopRetryAnotherPeer} }

func terminate(code Status) hopOutcome {
	return hopOutcome{kind: hopAdvanceAndTerminate, code: code}
}

func adjustAndRetry(newHTL int) hopOutcome {
	return hopOutcome{kind: hopAdjustHTLAndRetry, newHTL: newHTL}
}

// phase1 waits for {ACCEPTED, REJECTED_LOOP, REJECTED_OVERLOAD} on uid from
// peer, tolerating reorder: a non-local REJECTED_OVERLOAD is forwarded
// upstream and does not end the wait.
func (j *Job) phase1(peer PeerHandle) (needPubKey bool, outcome *hopOutcome) {
	filter := NewFilter(AcceptTimeout, sskmsg.KindAccepted, sskmsg.KindRejectedLoop, sskmsg.KindRejectedOverload)
	for {
		w, ok := j.deps.Transport.WaitFor(peer, j.uid, filter)
		if !ok {
			peer.LocalRejectedOverload("AcceptTimeout")
			j.status.forwardRejectedOverload()
			o := retryHop()
			return false, &o
		}
		j.recordReceived(w)

		switch w.Kind {
		case sskmsg.KindAccepted:
			return w.NeedPubKey, nil
		case sskmsg.KindRejectedLoop:
			peer.SuccessNotOverload()
			o := retryHop()
			return false, &o
		case sskmsg.KindRejectedOverload:
			if w.IsLocal {
				peer.LocalRejectedOverload("RejectedOverloadLocal")
				o := retryHop()
				return false, &o
			}
			j.status.forwardRejectedOverload()
			continue
		}
	}
}

// phase2 pushes headers and throttled data, and optionally exchanges the
// public key.
func (j *Job) phase2(peer PeerHandle, needPubKey bool) *hopOutcome {
	headers := sskmsg.Wire{Kind: sskmsg.KindInsertHeaders, UID: j.uid, Headers: j.block.Headers}
	if err := j.send(peer, headers); err != nil {
		o := retryHop()
		return &o
	}

	data := sskmsg.Wire{
		Kind: sskmsg.KindInsertData, UID: j.uid, Data: j.block.Data,
		Slot: j.block.Slot, Seq: j.block.Seq, Sig: j.block.Signature,
	}
	if err := j.sendThrottled(peer, data, j.deps.DataInsertTimeout); err != nil {
		// not connected, waited too long, or peer restarted: all retry.
		o := retryHop()
		return &o
	}
	j.deps.Stats.SentPayload(len(j.block.Data))

	if !needPubKey {
		return nil
	}

	pk := sskmsg.Wire{Kind: sskmsg.KindPubKey, UID: j.uid, PubKey: j.block.PubKey}
	if err := j.send(peer, pk); err != nil {
		o := retryHop()
		return &o
	}

	filter := NewFilter(AcceptTimeout, sskmsg.KindPubKeyAccepted)
	_, ok := j.deps.Transport.WaitFor(peer, j.uid, filter)
	if !ok {
		j.status.forwardRejectedOverload()
		o := retryHop()
		return &o
	}
	return nil
}

// phase3 is the final-reply wait, which on COLLISION_HEADERS falls into
// phase4 collision resolution and then resumes the same wait loop on the
// same peer.
func (j *Job) phase3(peer PeerHandle) hopOutcome {
	filter := NewFilter(SearchTimeout,
		sskmsg.KindInsertReply, sskmsg.KindRouteNotFound, sskmsg.KindRejectedOverload,
		sskmsg.KindDataInsertRejected, sskmsg.KindCollisionHeaders)

	collisionResolved := false

	for {
		w, ok := j.deps.Transport.WaitFor(peer, j.uid, filter)
		if !ok {
			peer.LocalRejectedOverload("AfterInsertAcceptedTimeout")
			return terminate(StatusTimedOut)
		}
		j.recordReceived(w)

		switch w.Kind {
		case sskmsg.KindInsertReply:
			return terminate(StatusSuccess)

		case sskmsg.KindRouteNotFound:
			peer.SuccessNotOverload()
			return adjustAndRetry(int(w.NewHTL))

		case sskmsg.KindDataInsertRejected:
			peer.SuccessNotOverload()
			if w.Reason == sskmsg.ReasonVerifyFailed && j.fromStore && j.deps.Logger != nil {
				j.deps.Logger.Printf("insert-sender uid=%d: verify failed on data loaded from our own store", j.uid)
			}
			return retryHop()

		case sskmsg.KindRejectedOverload:
			if w.IsLocal {
				return retryHop()
			}
			j.status.forwardRejectedOverload()
			continue

		case sskmsg.KindCollisionHeaders:
			if collisionResolved {
				// Duplicate COLLISION_HEADERS from the same hop: an
				// unexpected-message protocol error on this peer.
				return terminate(StatusInternalError)
			}
			if _, terminal := j.phase4(peer, w); terminal != nil {
				return *terminal
			}
			collisionResolved = true
			continue
		}
	}
}

// phase4 is collision resolution: the remote's preexisting block wins and
// we propagate it henceforth. Headers are overwritten before the data
// body arrives, but the block is reconstructed with the pre-overwrite
// headers, a protocol quirk carried deliberately, pending protocol
// review; do not "fix" it here.
func (j *Job) phase4(peer PeerHandle, collisionHeaders sskmsg.Wire) (ok bool, terminal *hopOutcome) {
	originalHeaders := append([]byte(nil), j.block.Headers...)
	j.block.Headers = append([]byte(nil), collisionHeaders.Headers...)

	filter := NewFilter(j.deps.FetchTimeout, sskmsg.KindCollisionData)
	w, waited := j.deps.Transport.WaitFor(peer, j.uid, filter)
	if !waited {
		o := retryHop()
		return false, &o
	}
	j.recordReceived(w)

	slot := w.Slot
	if slot == "" {
		slot = j.block.Slot
	}
	rb, err := sskkey.ReconstructBlock(j.block.PubKey, slot, w.Seq, originalHeaders, w.Data, w.Sig, false)
	if err != nil {
		o := terminate(StatusInternalError)
		return false, &o
	}

	j.block = rb
	j.status.markCollided()
	return true, nil
}

func (j *Job) send(peer PeerHandle, w sskmsg.Wire) error {
	if err := j.deps.Transport.SendAsync(peer, w); err != nil {
		return err
	}
	n := wireSize(w)
	j.bytes.addSent(n)
	j.deps.Stats.InsertSentBytes(true, n)
	return nil
}

func (j *Job) sendThrottled(peer PeerHandle, w sskmsg.Wire, timeout time.Duration) error {
	if err := j.deps.Transport.SendThrottled(peer, w, timeout); err != nil {
		return err
	}
	n := wireSize(w)
	j.bytes.addSent(n)
	j.deps.Stats.InsertSentBytes(true, n)
	return nil
}

func (j *Job) recordReceived(w sskmsg.Wire) {
	n := wireSize(w)
	j.bytes.addReceived(n)
	j.deps.Stats.InsertReceivedBytes(true, n)
}

func wireSize(w sskmsg.Wire) int {
	return len(w.Headers) + len(w.Data) + len(w.PubKey) + len(w.Key) + len(w.Sig) + len(w.Slot) + 16
}

package insertsender

import (
	"crypto/ed25519"
	"errors"
	"time"

	"sskinsert/internal/overlay"
	"sskinsert/internal/routing"
	"sskinsert/internal/sskkey"
	"sskinsert/internal/sskmsg"
	"sskinsert/internal/sskstore"
	"sskinsert/internal/telemetry"
)

// Receiver is the receiving side of the insert protocol: it answers
// another node's INSERT_REQUEST, pulls the pushed payload, and either
// stores it or reports a collision. It does not forward the insert to
// further peers.
type Receiver struct {
	Node     *overlay.Node
	Store    *sskstore.Store
	Registry *sskstore.Registry
	Admit    *routing.Admission
	Logger   telemetry.Logger

	AcceptTimeout     time.Duration
	DataInsertTimeout time.Duration
}

// Handle is the overlay.InsertHandler hook: only INSERT_REQUEST starts a
// new receiving-side exchange here. Every other Kind normally lands in a
// job's own waitFor mailbox; one that reaches this callback instead is
// logged as unsolicited and dropped.
// The exchange runs on its own goroutine: Handle is invoked from the
// peer's read loop, and handleInsertRequest waits on messages that only
// that same read loop can deliver.
func (r *Receiver) Handle(peer *overlay.Peer, w overlay.InsertWire) {
	if w.Kind != sskmsg.KindInsertRequest {
		if r.Logger != nil {
			r.Logger.Printf("insert-receiver: unsolicited %s from %s uid=%d", w.Kind, peer.ID(), w.UID)
		}
		return
	}
	go r.handleInsertRequest(peer, w)
}

func (r *Receiver) handleInsertRequest(peer *overlay.Peer, w overlay.InsertWire) {
	key, err := sskkey.ParseKeyHex(w.Key)
	if err != nil {
		return
	}

	if r.Admit != nil && !r.Admit.Allow(peer.ID()) {
		r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindRejectedOverload, UID: w.UID, IsLocal: true})
		return
	}

	if !r.Registry.Start(key, int(w.HTL)) {
		r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindRejectedLoop, UID: w.UID})
		return
	}
	defer r.Registry.Finish(key, int(w.HTL))

	existing, haveExisting, _ := r.Store.Get(key)
	needPubKey := !haveExisting

	r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindAccepted, UID: w.UID, NeedPubKey: needPubKey})

	headersW, ok := r.Node.WaitFor(peer, w.UID, overlay.NewFilter(r.AcceptTimeout, sskmsg.KindInsertHeaders))
	if !ok {
		return
	}
	dataW, ok := r.Node.WaitFor(peer, w.UID, overlay.NewFilter(r.DataInsertTimeout, sskmsg.KindInsertData))
	if !ok {
		return
	}

	var pubKey []byte
	if needPubKey {
		pkW, ok := r.Node.WaitFor(peer, w.UID, overlay.NewFilter(r.AcceptTimeout, sskmsg.KindPubKey))
		if !ok {
			return
		}
		pubKey = pkW.PubKey
		r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindPubKeyAccepted, UID: w.UID})
	} else {
		pubKey = existing.PubKey
	}
	if pubKey == nil {
		r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindDataInsertRejected, UID: w.UID, Reason: sskmsg.ReasonVerifyFailed})
		return
	}

	slot := dataW.Slot
	blk, err := sskkey.ReconstructBlock(ed25519.PublicKey(pubKey), slot, dataW.Seq, headersW.Headers, dataW.Data, dataW.Sig, true)
	if err != nil || blk.Key != key {
		r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindDataInsertRejected, UID: w.UID, Reason: sskmsg.ReasonVerifyFailed})
		return
	}

	if err := r.Store.Put(blk); err != nil {
		if errors.Is(err, sskstore.ErrSlotOccupied) {
			colliding, found, _ := r.Store.Get(key)
			if !found {
				r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindDataInsertRejected, UID: w.UID, Reason: sskmsg.ReasonBadSlot})
				return
			}
			r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindCollisionHeaders, UID: w.UID, Headers: colliding.Headers})
			r.reply(peer, overlay.InsertWire{
				Kind: sskmsg.KindCollisionData, UID: w.UID,
				Data: colliding.Data, Slot: colliding.Slot, Seq: colliding.Seq, Sig: colliding.Signature,
			})
			// The preexisting block stays authoritative and is already
			// stored here, so the insert is complete at this node; the
			// sender resumes its final-reply wait after adopting the
			// collision payload and needs a terminal answer.
			r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindInsertReply, UID: w.UID})
			return
		}
		r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindDataInsertRejected, UID: w.UID, Reason: sskmsg.ReasonBadSlot})
		return
	}

	r.reply(peer, overlay.InsertWire{Kind: sskmsg.KindInsertReply, UID: w.UID})
}

func (r *Receiver) reply(peer *overlay.Peer, w overlay.InsertWire) {
	_ = peer.SendAsync(overlay.Envelope{
		Type:    overlay.MsgInsert,
		FromID:  r.Node.ID(),
		Payload: overlay.MustMarshal(w),
	})
}

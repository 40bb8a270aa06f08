// Package overlay manages peer-to-peer transport connections and the
// insert-protocol envelopes exchanged over them: peer sends, typed
// message waits, and peer reputation hooks.
package overlay

import (
	"encoding/json"

	"sskinsert/internal/sskmsg"
)

// MessageType tags the outer Envelope. Only MsgInsert and MsgHello/MsgPeerList
// are handled by this module; other envelope types are out of scope.
type MessageType string

const (
	MsgHello    MessageType = "hello"
	MsgPeerList MessageType = "peer_list"
	MsgInsert   MessageType = "insert"
)

// Envelope is the outer frame every peer connection exchanges.
type Envelope struct {
	Type    MessageType     `json:"type"`
	FromID  string          `json:"from_id"`
	Payload json.RawMessage `json:"payload"`
}

// Hello is exchanged immediately after the transport is secured.
type Hello struct {
	Name   string `json:"name"`
	Listen string `json:"listen"`
}

// PeerInfo/PeerList describe a node's neighbor set. Nothing in this module
// sends a PeerList, and one that is received is ignored.
type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Addr string `json:"addr"`
}

type PeerList struct {
	Peers []PeerInfo `json:"peers"`
}

// Kind and InsertWire are the insert-protocol vocabulary, defined in
// sskmsg so both this package and internal/insertsender share one
// definition without importing each other.
type Kind = sskmsg.Kind
type InsertWire = sskmsg.Wire
type DataInsertRejectReason = sskmsg.DataInsertRejectReason

const (
	KindInsertRequest      = sskmsg.KindInsertRequest
	KindAccepted           = sskmsg.KindAccepted
	KindRejectedLoop       = sskmsg.KindRejectedLoop
	KindRejectedOverload   = sskmsg.KindRejectedOverload
	KindInsertHeaders      = sskmsg.KindInsertHeaders
	KindInsertData         = sskmsg.KindInsertData
	KindPubKey             = sskmsg.KindPubKey
	KindPubKeyAccepted     = sskmsg.KindPubKeyAccepted
	KindInsertReply        = sskmsg.KindInsertReply
	KindRouteNotFound      = sskmsg.KindRouteNotFound
	KindDataInsertRejected = sskmsg.KindDataInsertRejected
	KindCollisionHeaders   = sskmsg.KindCollisionHeaders
	KindCollisionData      = sskmsg.KindCollisionData

	ReasonVerifyFailed = sskmsg.ReasonVerifyFailed
	ReasonBadSlot      = sskmsg.ReasonBadSlot
)

// MustMarshal panics on encode failure; used only for values this package
// constructs itself, never for externally-supplied data.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

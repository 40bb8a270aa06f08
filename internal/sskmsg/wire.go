// Package sskmsg defines the SSK insert protocol's message vocabulary:
// the message types exchanged between a node and one chosen peer while
// driving an insert forward. It is shared by the transport layer
// (internal/overlay) and the protocol driver (internal/insertsender) so
// neither has to import the other's concrete types.
package sskmsg

import "encoding/json"

// Kind enumerates the SSK insert protocol's message types.
type Kind string

const (
	KindInsertRequest      Kind = "INSERT_REQUEST"
	KindAccepted           Kind = "ACCEPTED"
	KindRejectedLoop       Kind = "REJECTED_LOOP"
	KindRejectedOverload   Kind = "REJECTED_OVERLOAD"
	KindInsertHeaders      Kind = "INSERT_HEADERS"
	KindInsertData         Kind = "INSERT_DATA"
	KindPubKey             Kind = "PUBKEY"
	KindPubKeyAccepted     Kind = "PUBKEY_ACCEPTED"
	KindInsertReply        Kind = "INSERT_REPLY"
	KindRouteNotFound      Kind = "ROUTE_NOT_FOUND"
	KindDataInsertRejected Kind = "DATA_INSERT_REJECTED"
	KindCollisionHeaders   Kind = "COLLISION_HEADERS"
	KindCollisionData      Kind = "COLLISION_DATA"
)

// DataInsertRejectReason enumerates why a peer refused a pushed payload.
type DataInsertRejectReason string

const (
	ReasonVerifyFailed DataInsertRejectReason = "VERIFY_FAILED"
	ReasonBadSlot      DataInsertRejectReason = "BAD_SLOT"
)

// Wire is the single flat payload for every insert-protocol message:
// one struct, a Kind tag, and the union of fields each Kind actually
// uses.
type Wire struct {
	Kind Kind   `json:"kind"`
	UID  uint64 `json:"uid"`

	// INSERT_REQUEST
	HTL uint16 `json:"htl,omitempty"`
	Key string `json:"key,omitempty"`

	// ACCEPTED
	NeedPubKey bool `json:"need_pub_key,omitempty"`

	// REJECTED_OVERLOAD
	IsLocal bool `json:"is_local,omitempty"`

	// INSERT_HEADERS / COLLISION_HEADERS
	Headers []byte `json:"headers,omitempty"`

	// INSERT_DATA / COLLISION_DATA
	Data []byte `json:"data,omitempty"`

	// PUBKEY
	PubKey []byte `json:"pub_key,omitempty"`

	// ROUTE_NOT_FOUND: peer-advertised HTL, clamps the sender's HTL downward.
	NewHTL uint16 `json:"new_htl,omitempty"`

	// DATA_INSERT_REJECTED
	Reason DataInsertRejectReason `json:"reason,omitempty"`

	// Insert construction metadata needed to validate a pushed block (slot
	// name and sequence number; see sskkey.Block).
	Slot string `json:"slot,omitempty"`
	Seq  uint64 `json:"seq,omitempty"`
	Sig  []byte `json:"sig,omitempty"`
}

// MustMarshal panics on encode failure; used only for values this process
// constructs itself, never for externally-supplied data.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

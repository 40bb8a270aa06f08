package overlay

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"github.com/flynn/noise"
)

// Identity is a node's overlay transport identity: a Noise static keypair
// (securing the link) plus an ed25519 signing keypair (identifying SSK
// slots the node originates). The two are independent.
type Identity struct {
	NoisePriv []byte
	NoisePub  []byte

	SignPriv ed25519.PrivateKey
	SignPub  ed25519.PublicKey

	ID string // hex(NoisePub), stable per-process overlay peer ID
}

func NewIdentity() (*Identity, error) {
	dh, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &Identity{
		NoisePriv: dh.Private,
		NoisePub:  dh.Public,
		SignPriv:  priv,
		SignPub:   pub,
		ID:        hex.EncodeToString(dh.Public),
	}, nil
}

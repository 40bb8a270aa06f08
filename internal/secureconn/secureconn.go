// Package secureconn secures a raw overlay connection with a Noise_XX
// handshake before any insert-protocol traffic is framed onto it.
package secureconn

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flynn/noise"
)

// SecureConn wraps an underlying stream with Noise cipher states and frames
// every message with a 4-byte big-endian length prefix.
type SecureConn struct {
	underlying io.ReadWriteCloser

	readCS  *noise.CipherState
	writeCS *noise.CipherState

	// PeerStatic is the remote's Noise static public key, learned during the
	// XX handshake. The overlay uses it to bind a transport session to a
	// routing identity independent of whatever address the peer dialed from.
	PeerStatic []byte
}

// Read reads a single length-prefixed encrypted frame and decrypts it.
func (c *SecureConn) Read(p []byte) (int, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.underlying, lenBuf[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return 0, fmt.Errorf("secureconn: invalid frame length")
	}

	ct := make([]byte, n)
	if _, err := io.ReadFull(c.underlying, ct); err != nil {
		return 0, err
	}

	pt, err := c.readCS.Decrypt(nil, nil, ct)
	if err != nil {
		return 0, err
	}

	if len(pt) > len(p) {
		copy(p, pt[:len(p)])
		return len(p), io.ErrShortBuffer
	}
	copy(p, pt)
	return len(pt), nil
}

// Write encrypts p as a single frame and writes it with a length prefix.
func (c *SecureConn) Write(p []byte) (int, error) {
	ct, err := c.writeCS.Encrypt(nil, nil, p)
	if err != nil {
		return 0, err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ct)))

	if _, err := c.underlying.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := c.underlying.Write(ct); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *SecureConn) Close() error {
	return c.underlying.Close()
}

func cipherSuite() noise.CipherSuite {
	return noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
}

// NewSecureClient runs a Noise_XX handshake as initiator and returns a
// SecureConn bound to the responder's static key.
func NewSecureClient(underlying io.ReadWriteCloser, staticPriv, staticPub []byte) (*SecureConn, error) {
	cfg := noise.Config{
		CipherSuite:   cipherSuite(),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     true,
		StaticKeypair: noise.DHKey{Private: staticPriv, Public: staticPub},
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, err
	}

	// -> e
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(underlying, msg); err != nil {
		return nil, err
	}

	// <- e, ee, s, es
	reply, err := readFrame(underlying)
	if err != nil {
		return nil, err
	}
	if _, _, _, err = hs.ReadMessage(nil, reply); err != nil {
		return nil, err
	}

	// -> s, se
	msg2, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(underlying, msg2); err != nil {
		return nil, err
	}

	return &SecureConn{
		underlying: underlying,
		readCS:     cs2,
		writeCS:    cs1,
		PeerStatic: hs.PeerStatic(),
	}, nil
}

// NewSecureServer runs a Noise_XX handshake as responder and returns a
// SecureConn bound to the initiator's static key.
func NewSecureServer(underlying io.ReadWriteCloser, staticPriv, staticPub []byte) (*SecureConn, error) {
	cfg := noise.Config{
		CipherSuite:   cipherSuite(),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     false,
		StaticKeypair: noise.DHKey{Private: staticPriv, Public: staticPub},
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, err
	}

	// <- e
	msg, err := readFrame(underlying)
	if err != nil {
		return nil, err
	}
	if _, _, _, err = hs.ReadMessage(nil, msg); err != nil {
		return nil, err
	}

	// -> e, ee, s, es
	reply, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(underlying, reply); err != nil {
		return nil, err
	}

	// <- s, se
	final, err := readFrame(underlying)
	if err != nil {
		return nil, err
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, final)
	if err != nil {
		return nil, err
	}

	return &SecureConn{
		underlying: underlying,
		readCS:     cs1,
		writeCS:    cs2,
		PeerStatic: hs.PeerStatic(),
	}, nil
}

func writeFrame(w io.Writer, msg []byte) error {
	var lenBuf [2]byte
	if len(msg) > 0xffff {
		return fmt.Errorf("secureconn: handshake message too long")
	}
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 {
		return nil, fmt.Errorf("secureconn: invalid handshake message length")
	}
	msg := make([]byte, n)
	_, err := io.ReadFull(r, msg)
	return msg, err
}

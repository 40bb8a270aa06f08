package netx

import "io"

type PeerID string
type Addr string

// Conn is a secured, framed overlay connection: every Conn a Network hands
// back has already completed its Noise_XX handshake. RemoteStatic carries
// the peer's Noise static public key learned during that handshake, the
// binding the overlay uses for routing identity, independent of whatever
// address the peer dialed from (see internal/secureconn.SecureConn.PeerStatic).
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() Addr
	RemoteStatic() []byte
}

// Network dials and accepts connections that are secured before they are
// ever handed to a caller: the Noise_XX handshake runs inside Dial/Accept
// themselves, folding internal/secureconn's framing into the transport
// layer rather than leaving the overlay to wrap a raw stream afterward.
type Network interface {
	Listen(bindAddr string) (listenAddr Addr, err error)
	Accept() (Conn, error)
	Dial(addr Addr) (Conn, error)
	Close() error
}

package netx

import (
	"net"
	"sync"

	"sskinsert/internal/secureconn"
)

// tcpNetwork dials and accepts raw TCP connections, then runs a Noise_XX
// handshake over each one before it is ever handed back as a Conn; the
// handshake identity is fixed for the lifetime of the Network.
type tcpNetwork struct {
	mu       sync.Mutex
	listener net.Listener

	noisePriv, noisePub []byte
}

// NewTCPNetwork returns a Network bound to (noisePriv, noisePub): every
// connection it dials or accepts is secured with that identity before
// Accept/Dial return it.
func NewTCPNetwork(noisePriv, noisePub []byte) Network {
	return &tcpNetwork{noisePriv: noisePriv, noisePub: noisePub}
}

func (t *tcpNetwork) Listen(bindAddr string) (Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return "", err
	}
	t.listener = l
	return Addr(l.Addr().String()), nil
}

func (t *tcpNetwork) Accept() (Conn, error) {
	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()

	if l == nil {
		return nil, net.ErrClosed
	}
	c, err := l.Accept()
	if err != nil {
		return nil, err
	}
	secure, err := secureconn.NewSecureServer(c, t.noisePriv, t.noisePub)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &tcpConn{secure: secure, remoteAddr: Addr(c.RemoteAddr().String())}, nil
}

func (t *tcpNetwork) Dial(addr Addr) (Conn, error) {
	c, err := net.Dial("tcp", string(addr))
	if err != nil {
		return nil, err
	}
	secure, err := secureconn.NewSecureClient(c, t.noisePriv, t.noisePub)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &tcpConn{secure: secure, remoteAddr: Addr(c.RemoteAddr().String())}, nil
}

func (t *tcpNetwork) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		err := t.listener.Close()
		t.listener = nil
		return err
	}
	return nil
}

// tcpConn is a Noise-secured TCP connection: all reads and writes go
// through the handshake's cipher states rather than the raw socket.
type tcpConn struct {
	secure     *secureconn.SecureConn
	remoteAddr Addr
}

func (c *tcpConn) Read(p []byte) (int, error)  { return c.secure.Read(p) }
func (c *tcpConn) Write(p []byte) (int, error) { return c.secure.Write(p) }
func (c *tcpConn) Close() error                { return c.secure.Close() }
func (c *tcpConn) RemoteAddr() Addr            { return c.remoteAddr }
func (c *tcpConn) RemoteStatic() []byte        { return c.secure.PeerStatic }

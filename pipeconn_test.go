package relidp_test

import (
	"net"
	"sync"
)

// packetMsg is one datagram in flight on a pipeConn pair.
type packetMsg struct {
	data []byte
	from net.Addr
}

// pipeConn is an in-process conn.Conn substitute for two Endpoints talking
// to each other without real sockets. A drop predicate inspects each
// outgoing datagram (kind lives unobfuscated at byte offset 2, see
// wire.XOR's "first four bytes untouched" rule) to simulate loss.
type pipeConn struct {
	addr   net.Addr
	send   chan packetMsg
	recv   chan packetMsg
	closed chan struct{}
	once   sync.Once
	drop   func(buf []byte) bool
}

// newPipe wires two pipeConns back to back: a's writes arrive on b's reads
// and vice versa.
func newPipe(addrA, addrB net.Addr, dropAtoB, dropBtoA func(buf []byte) bool) (a, b *pipeConn) {
	ab := make(chan packetMsg, 256)
	ba := make(chan packetMsg, 256)
	a = &pipeConn{addr: addrA, send: ab, recv: ba, closed: make(chan struct{}), drop: dropAtoB}
	b = &pipeConn{addr: addrB, send: ba, recv: ab, closed: make(chan struct{}), drop: dropBtoA}
	return a, b
}

func (c *pipeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case m := <-c.recv:
		n := copy(p, m.data)
		return n, m.from, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *pipeConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	if c.drop != nil && c.drop(p) {
		return len(p), nil
	}
	cp := append([]byte(nil), p...)
	select {
	case c.send <- packetMsg{data: cp, from: c.addr}:
		return len(p), nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *pipeConn) LocalAddr() net.Addr { return c.addr }

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Package conn is the narrow socket boundary the core engine is built
// against. Per spec.md section 1, the UDP socket implementation, address
// resolution and v4/v6 selection are external collaborators, not part of
// this specification; the engine only ever talks to the small Conn
// interface below; Listen is the stock implementation used when no
// external socket is supplied via Options.Conn.
package conn

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Conn is the narrow interface the endpoint sends and receives datagrams
// through. net.PacketConn already satisfies it.
type Conn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	LocalAddr() net.Addr
	Close() error
}

// udpConn wraps a *net.UDPConn with golang.org/x/net/ipv4 and ipv6
// family-aware control, so the endpoint can be told which family a bound
// socket serves without re-deriving it from string parsing every time a
// datagram arrives.
type udpConn struct {
	*net.UDPConn
	v4 *ipv4.PacketConn
	v6 *ipv6.PacketConn
}

// Family reports which IP family this socket was bound for.
func (c *udpConn) Family() string {
	if c.v6 != nil {
		return "6"
	}
	return "4"
}

// Listen opens a UDP socket on address:port. An empty address binds to all
// interfaces for the requested family. family must be "4" or "6".
func Listen(address string, port uint16, family string) (Conn, error) {
	network := "udp4"
	if family == "6" {
		network = "udp6"
	}
	laddr := &net.UDPAddr{Port: int(port)}
	if address != "" {
		laddr.IP = net.ParseIP(address)
	}

	pc, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s:%d", network, address, port)
	}

	c := &udpConn{UDPConn: pc}
	if family == "6" {
		c.v6 = ipv6.NewPacketConn(pc)
	} else {
		c.v4 = ipv4.NewPacketConn(pc)
	}
	return c, nil
}

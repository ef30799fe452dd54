package relidp

import (
	"net"

	"github.com/relidp/relidp/conn"
	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/wire"
)

// wireTransport is the single implementation of both sender.Transport and
// receiver.Transport: encode, apply the integrity layer, and write to the
// socket. The two engines never touch conn.Conn directly.
type wireTransport struct {
	conn conn.Conn
}

func (t *wireTransport) Send(p peer.Key, pkt wire.Packet) error {
	inner, err := wire.Encode(pkt)
	if err != nil {
		return err
	}
	datagram := wire.Wrap(inner)
	_, err = t.conn.WriteTo(datagram, addrFromPeerKey(p))
	return err
}

func addrFromPeerKey(p peer.Key) net.Addr {
	return &net.UDPAddr{IP: net.ParseIP(p.Address), Port: int(p.Port)}
}

// peerKeyFromAddr builds the canonical peer.Key for a datagram's source
// address, inferring the family from the address itself rather than trusting
// the socket's bound family (a v6 socket can still see v4-mapped peers).
func peerKeyFromAddr(addr net.Addr) peer.Key {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return peer.New(0, addr.String(), peer.V4)
	}
	family := peer.V4
	if udpAddr.IP != nil && udpAddr.IP.To4() == nil {
		family = peer.V6
	}
	return peer.New(uint16(udpAddr.Port), udpAddr.IP.String(), family)
}

package relidp

import (
	"time"

	"github.com/relidp/relidp/conn"
	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/proto"
	"github.com/relidp/relidp/rlog"
)

// Options bundles the endpoint's constructor configuration (spec.md section
// 6, "Configuration options"), with defaults matching the constants table
// in the same section.
type Options struct {
	// ParallelCount overrides proto.ParallelCount (the in-flight window
	// size).
	ParallelCount uint16

	// RemotePort/RemoteAddress/RemoteFamily set the default peer used by
	// Send when its peer argument is omitted. RemoteFamily defaults to
	// peer.V4; RemoteAddress defaults to that family's loopback address
	// when RemotePort is non-zero but RemoteAddress is empty.
	RemotePort    uint16
	RemoteAddress string
	RemoteFamily  peer.Family
	hasRemote     bool

	// Port/Address/Family configure the local bind. Ignored if Conn is
	// supplied.
	Port    uint16
	Address string
	Family  peer.Family

	// BandWidth is the static pacing estimate in Mbps, converted to
	// bytes/sec internally; zero uses proto.DefaultBandwidth.
	BandWidth float64

	// RTT overrides proto.DefaultRTT.
	RTT time.Duration

	// Conn lets the caller supply an already-bound socket instead of
	// having Bind create one.
	Conn conn.Conn

	// Logger overrides the default logger; nil uses a silent logger.
	Logger *rlog.Logger

	// OnMessage is called once per completed inbound transfer, with the
	// reassembled payload.
	OnMessage func(payload []byte, p peer.Key, id uint32)

	// OnDrain is called when an outbound transfer finishes (the receiver's
	// FIN for it arrived).
	OnDrain func(id uint32, p peer.Key)

	// OnTimeout is called when an outbound transfer is abandoned after
	// exhausting its stall retries.
	OnTimeout func(id uint32, p peer.Key)
}

// WithRemote sets the default peer a bare Send(data, nil, ...) targets.
func (o Options) WithRemote(port uint16, address string, family peer.Family) Options {
	o.RemotePort = port
	o.RemoteAddress = address
	o.RemoteFamily = family
	o.hasRemote = true
	return o
}

func (o Options) defaultPeer() (peer.Key, bool) {
	if !o.hasRemote && o.RemotePort == 0 {
		return peer.Key{}, false
	}
	return peer.New(o.RemotePort, o.RemoteAddress, o.RemoteFamily), true
}

func (o Options) bandwidthBytesPerSec() int64 {
	if o.BandWidth <= 0 {
		return proto.DefaultBandwidth
	}
	return int64(o.BandWidth * 1024 * 1024 / 8)
}

func (o Options) rtt() time.Duration {
	if o.RTT <= 0 {
		return proto.DefaultRTT
	}
	return o.RTT
}

func (o Options) parallelCount() uint16 {
	if o.ParallelCount == 0 {
		return proto.ParallelCount
	}
	return o.ParallelCount
}

func (o Options) localFamily() peer.Family {
	if o.Family == peer.V6 {
		return peer.V6
	}
	return peer.V4
}

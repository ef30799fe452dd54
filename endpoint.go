// Package relidp implements a reliable datagram transport layered on top of
// unreliable UDP: selective-repeat ARQ, fragmentation/reassembly, and
// bandwidth-paced delivery (spec.md sections 1-6). Endpoint is the public
// entry point; everything else (seq, wire, session, sender, receiver) is
// internal machinery wired together here.
package relidp

import (
	"net"
	"sync"

	"github.com/relidp/relidp/conn"
	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/proto"
	"github.com/relidp/relidp/receiver"
	"github.com/relidp/relidp/rerr"
	"github.com/relidp/relidp/rlog"
	"github.com/relidp/relidp/sender"
	"github.com/relidp/relidp/wire"
)

const readBufSize = 2048

// Endpoint binds a local UDP socket and runs both the sending and receiving
// halves of the protocol over it.
type Endpoint struct {
	mu     sync.Mutex
	closed bool

	conn        conn.Conn
	defaultPeer *peer.Key

	sender   *sender.Engine
	receiver *receiver.Engine

	stopSenderSweep   func()
	stopReceiverSweep func()

	log *rlog.Logger
	wg  sync.WaitGroup
}

// Bind opens (or adopts, via Options.Conn) a UDP socket and starts the
// endpoint's read loop and session-table sweeps. It is the constructor form
// of spec.md section 6's bind() operation: in Go, construction and the
// socket I/O it requires happen together and can fail together.
func Bind(opts Options) (*Endpoint, error) {
	log := opts.Logger
	if log == nil {
		log = rlog.NewLogger(rlog.LevelSilent, "")
	}

	c := opts.Conn
	if c == nil {
		var err error
		c, err = conn.Listen(opts.Address, opts.Port, string(opts.localFamily()))
		if err != nil {
			return nil, err
		}
	}

	e := &Endpoint{conn: c, log: log}
	if dp, ok := opts.defaultPeer(); ok {
		e.defaultPeer = &dp
	}

	t := &wireTransport{conn: c}
	e.sender = sender.NewEngine(sender.Config{
		ParallelCount: opts.parallelCount(),
		BandWidth:     opts.bandwidthBytesPerSec(),
		RTT:           opts.rtt(),
	}, t, sender.Events{Drain: opts.OnDrain, Timeout: opts.OnTimeout}, log, nil)

	e.receiver = receiver.NewEngine(receiver.Config{
		RTT: opts.rtt(),
	}, t, receiver.Events{Message: opts.OnMessage}, log, nil)

	e.stopSenderSweep = e.sender.AutoClear(proto.SessionTTL, proto.SessionSweepInterval)
	e.stopReceiverSweep = e.receiver.AutoClear(proto.SessionTTL, proto.SessionSweepInterval)

	e.wg.Add(1)
	go e.readLoop()

	return e, nil
}

// LocalAddr reports the bound socket's local address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// Send starts a new outbound transfer. If p is nil, the endpoint's default
// peer (from Options.WithRemote) is used; if neither is set, Send returns an
// InvalidInput error. An empty payload is a no-op: it returns (nil, nil)
// without touching the wire, mirroring spec.md section 6's "empty input
// produces no transfer" edge case. onDrain, if non-nil, is called once the
// receiver's FIN for this specific transfer arrives, in addition to any endpoint-wide
// Options.OnDrain.
func (e *Endpoint) Send(data []byte, p *peer.Key, onDrain func(id uint32, p peer.Key)) (*uint32, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, rerr.ErrState
	}
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) > proto.MaxBufferSize {
		return nil, rerr.New(rerr.InvalidInput, "payload %d bytes exceeds MaxBufferSize %d", len(data), proto.MaxBufferSize)
	}

	target, ok := e.resolvePeer(p)
	if !ok {
		return nil, rerr.New(rerr.InvalidInput, "no peer given and no default peer configured")
	}

	id := e.sender.Send(target, data, onDrain)
	return &id, nil
}

// ForceNextID lets tests (and operators) force a peer's next allocated
// transfer id, to exercise the wrap-at-2^32 behavior deterministically.
func (e *Endpoint) ForceNextID(p peer.Key, next uint32) {
	e.sender.ForceNextID(p.Canonical(), next)
}

// Stats aggregates operational counters from both engines: active sessions,
// duplicate fragments, retransmit-request traffic, and transfer outcomes.
// It is a supplement beyond spec.md's public operations (SPEC_FULL.md),
// grounded on the teacher's GetTrafficStats/ForEachPeer-style accessors.
type Stats struct {
	SendingSessions   int
	ReceivingSessions int

	DuplicateFragments     uint64
	RetransmitRequestsSent uint64
	RetransmitRequestsSeen uint64

	TransfersDelivered uint64
	TransfersAborted   uint64
	TransfersDrained   uint64
	TransfersTimedOut  uint64
}

// Stats snapshots the endpoint's current counters.
func (e *Endpoint) Stats() Stats {
	sendStats := e.sender.Stats()
	recvStats := e.receiver.Stats()
	return Stats{
		SendingSessions:        sendStats.ActiveSessions,
		ReceivingSessions:      recvStats.ActiveSessions,
		DuplicateFragments:     recvStats.DuplicateFragments,
		RetransmitRequestsSent: recvStats.RetransmitRequestsSent,
		RetransmitRequestsSeen: sendStats.RetransmitRequestsSeen,
		TransfersDelivered:     recvStats.TransfersDelivered,
		TransfersAborted:       recvStats.TransfersAborted,
		TransfersDrained:       sendStats.TransfersDrained,
		TransfersTimedOut:      sendStats.TransfersTimedOut,
	}
}

func (e *Endpoint) resolvePeer(p *peer.Key) (peer.Key, bool) {
	if p != nil {
		return p.Canonical(), true
	}
	if e.defaultPeer != nil {
		return *e.defaultPeer, true
	}
	return peer.Key{}, false
}

// Close idempotently tears down the endpoint: session-table sweeps stop,
// both engines drop their sessions and pending timers, the socket closes,
// and the read loop exits. Further Send calls return rerr.ErrState.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.stopSenderSweep()
	e.stopReceiverSweep()
	e.sender.Close()
	e.receiver.Close()
	err := e.conn.Close()
	e.wg.Wait()
	return err
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			e.mu.Lock()
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			e.log.Errorf("read: %v", err)
			return
		}

		datagram := append([]byte(nil), buf[:n]...)
		inner, ok := wire.Unwrap(datagram)
		if !ok {
			e.log.Verbosef("dropped datagram from %v: checksum mismatch", addr)
			continue
		}
		pkt, err := wire.Decode(inner)
		if err != nil {
			e.log.Verbosef("dropped datagram from %v: %v", addr, err)
			continue
		}
		e.dispatch(peerKeyFromAddr(addr), pkt)
	}
}

func (e *Endpoint) dispatch(p peer.Key, pkt wire.Packet) {
	switch pkt.Kind {
	case wire.KindPSH:
		e.receiver.HandlePSH(p, pkt)
	case wire.KindREQ:
		e.sender.HandleREQ(p, pkt.ID, pkt.Sequences)
	case wire.KindFIN:
		e.sender.HandleFIN(p, pkt.ID)
	case wire.KindACK:
		e.receiver.HandleACK(p, pkt)
	case wire.KindERR:
		e.receiver.HandleERR(p, pkt)
	default:
		e.log.Verbosef("%v: dropped packet of unknown kind %#x", p, pkt.Kind)
	}
}

package receiver

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/proto"
	"github.com/relidp/relidp/rlog"
	"github.com/relidp/relidp/seq"
	"github.com/relidp/relidp/session"
	"github.com/relidp/relidp/wire"
)

// Transport is the minimal capability a receiving session needs to put a
// packet on the wire.
type Transport interface {
	Send(p peer.Key, pkt wire.Packet) error
}

// Events lets the engine report a completed transfer up to the endpoint.
type Events struct {
	Message func(payload []byte, p peer.Key, id uint32)
}

// Engine is the receiver side of the protocol (spec.md section 4.E).
type Engine struct {
	table    *Table
	finisher *finisher

	rtt time.Duration

	transport Transport
	events    Events
	log       *rlog.Logger
	clock     clockwork.Clock

	stats stats
}

// stats holds the counters behind the Endpoint's Stats() accessor
// (SPEC_FULL.md's operational-visibility supplement, grounded on
// device/export.go's GetTrafficStats-style atomic accessors).
type stats struct {
	duplicates atomic.Uint64
	reqsSent   atomic.Uint64
	delivered  atomic.Uint64
	aborted    atomic.Uint64
}

// Stats is a snapshot of receiver-side operational counters.
type Stats struct {
	ActiveSessions         int
	DuplicateFragments     uint64
	RetransmitRequestsSent uint64
	TransfersDelivered     uint64
	TransfersAborted       uint64
}

// Config bundles the receiver-relevant options from spec.md section 6.
type Config struct {
	RTT time.Duration
}

func NewEngine(cfg Config, transport Transport, events Events, log *rlog.Logger, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.RTT == 0 {
		cfg.RTT = proto.DefaultRTT
	}
	return &Engine{
		table:     newTable(clock, log),
		finisher:  newFinisher(transport, clock, log),
		rtt:       cfg.RTT,
		transport: transport,
		events:    events,
		log:       log,
		clock:     clock,
	}
}

// HandlePSH admits a fragment: a new (peer, id) lazily creates a session,
// duplicates are dropped and counted, and every non-duplicate PSH
// (re)schedules the hole-check after proto.Latency.
func (e *Engine) HandlePSH(p peer.Key, pkt wire.Packet) {
	key := session.Key{Peer: p, ID: pkt.ID}
	s, _ := e.table.GetOrCreate(key)

	if dup := s.StorePSH(pkt.Seq, pkt.SingleTotal, pkt.TotalCount, pkt.Data); dup {
		e.stats.duplicates.Add(1)
		e.log.Verbosef("%v: duplicate fragment id=%d seq=%d", p, pkt.ID, pkt.Seq)
		return
	}
	s.delayTimer.Schedule(proto.Latency, func() { e.holeCheck(key) })
}

func (e *Engine) holeCheck(key session.Key) {
	s, ok := e.table.Get(key)
	if !ok {
		return
	}

	if s.IsComplete() {
		e.deliver(key, s)
		return
	}

	if s.RetryCount() > proto.ReceiverRetryLimit {
		e.stats.aborted.Add(1)
		e.log.Verbosef("%v: receive aborted id=%d after %d retries", key.Peer, key.ID, s.RetryCount())
		e.table.Delete(key)
		return
	}

	holes := s.HoleScan()
	zipped, err := seq.Zip(holes)
	if err != nil {
		e.log.Errorf("%v: zip holes id=%d: %v", key.Peer, key.ID, err)
		return
	}
	if err := e.transport.Send(key.Peer, wire.Packet{Kind: wire.KindREQ, ID: key.ID, Sequences: zipped}); err != nil {
		e.log.Errorf("%v: send REQ id=%d: %v", key.Peer, key.ID, err)
	}
	e.stats.reqsSent.Add(1)
	s.BumpRetry()
	s.delayTimer.Schedule(e.rtt, func() { e.holeCheck(key) })
}

func (e *Engine) deliver(key session.Key, s *Session) {
	payload := s.Concat()
	if err := e.transport.Send(key.Peer, wire.Packet{Kind: wire.KindFIN, ID: key.ID}); err != nil {
		e.log.Errorf("%v: send FIN id=%d: %v", key.Peer, key.ID, err)
	}
	if e.events.Message != nil {
		e.events.Message(payload, key.Peer, key.ID)
	}
	s.MarkDelivered()
	e.stats.delivered.Add(1)
	e.finisher.Start(key)
}

// HandleACK dispatches an inbound ACK packet; only ACK(FIN) is meaningful
// to the receiver (it stops the finish-notify retry).
func (e *Engine) HandleACK(p peer.Key, pkt wire.Packet) {
	if pkt.AckType != wire.KindFIN {
		return
	}
	e.finisher.Ack(session.Key{Peer: p, ID: pkt.ID})
}

// HandleERR destroys the receiving session immediately: the sender has no
// memory of this transfer, so there is nothing left to wait for.
func (e *Engine) HandleERR(p peer.Key, pkt wire.Packet) {
	if pkt.ErrCode != wire.ErrIDNotFound {
		return
	}
	e.table.Delete(session.Key{Peer: p, ID: pkt.ID})
}

// AutoClear starts the receiver table's idle-TTL sweep.
func (e *Engine) AutoClear(ttl, interval time.Duration) (stop func()) {
	return e.table.AutoClear(ttl, interval)
}

// Close destroys every receiving session and stops the finish-notify set.
func (e *Engine) Close() {
	e.table.Clear()
	e.finisher.Stop()
}

// Stats snapshots the receiver's operational counters.
func (e *Engine) Stats() Stats {
	return Stats{
		ActiveSessions:         e.table.Len(),
		DuplicateFragments:     e.stats.duplicates.Load(),
		RetransmitRequestsSent: e.stats.reqsSent.Load(),
		TransfersDelivered:     e.stats.delivered.Load(),
		TransfersAborted:       e.stats.aborted.Load(),
	}
}

package sender

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	pkgerrors "github.com/pkg/errors"

	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/proto"
	"github.com/relidp/relidp/rlog"
	"github.com/relidp/relidp/seq"
	"github.com/relidp/relidp/session"
	"github.com/relidp/relidp/wire"
)

// Table is the sender-table-specific wrapper over the generic session
// table: it owns the per-peer id allocator (spec.md section 4.D).
type Table struct {
	*session.Table[*Session]
	ids *session.IDAllocator
}

func newTable(clock clockwork.Clock, log *rlog.Logger) *Table {
	t := &Table{ids: session.NewIDAllocator()}
	t.Table = session.NewTable[*Session](clock, func(k session.Key, s *Session) {
		s.Close()
		log.Verbosef("%v: sending session id=%d closed", k.Peer, k.ID)
	})
	return t
}

// Engine is the sender side of the protocol (spec.md section 4.F):
// fragmentation, pacing, REQ/FIN handling and timeout.
type Engine struct {
	table *Table

	parallelWindow uint16
	bandwidth      int64
	rtt            time.Duration

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
	reqsHandled atomic.Uint64
	drains      atomic.Uint64
	timeouts    atomic.Uint64
}

// Stats is a snapshot of sender-side operational counters.
type Stats struct {
	ActiveSessions         int
	RetransmitRequestsSeen uint64
	TransfersDrained       uint64
	TransfersTimedOut      uint64
}

// Config bundles the sender-relevant options from spec.md section 6.
type Config struct {
	ParallelCount uint16
	BandWidth     int64
	RTT           time.Duration
}

func NewEngine(cfg Config, transport Transport, events Events, log *rlog.Logger, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.ParallelCount == 0 {
		cfg.ParallelCount = proto.ParallelCount
	}
	if cfg.BandWidth == 0 {
		cfg.BandWidth = proto.DefaultBandwidth
	}
	if cfg.RTT == 0 {
		cfg.RTT = proto.DefaultRTT
	}
	e := &Engine{
		parallelWindow: cfg.ParallelCount,
		bandwidth:      cfg.BandWidth,
		rtt:            cfg.RTT,
		transport:      transport,
		log:            log,
		clock:          clock,
	}
	// Wrap the caller's events so the engine's own Stats() counters stay
	// accurate regardless of whether the caller supplied callbacks; each
	// Session only ever sees e.events, set once here before any session is
	// created.
	e.events = Events{
		Drain: func(id uint32, p peer.Key) {
			e.stats.drains.Add(1)
			if events.Drain != nil {
				events.Drain(id, p)
			}
		},
		Timeout: func(id uint32, p peer.Key) {
			e.stats.timeouts.Add(1)
			if events.Timeout != nil {
				events.Timeout(id, p)
			}
		},
	}
	e.table = newTable(clock, log)
	return e
}

// Send starts a new outbound transfer to p, returning the allocated
// transfer id. Callers must have already validated data's length against
// proto.MaxBufferSize and handled the empty-input case; Send itself assumes
// len(data) > 0.
func (e *Engine) Send(p peer.Key, data []byte, onDrain func(id uint32, peer peer.Key)) uint32 {
	id := e.table.ids.Alloc(p)
	s := newSession(id, p, data, e.parallelWindow, e.bandwidth, e.rtt, onDrain, e.transport, e.events, e.log, e.clock)
	e.table.Set(session.Key{Peer: p, ID: id}, s)
	s.Start()
	return id
}

// HandleREQ dispatches an inbound REQ packet for (p, id). If no such
// sending session exists, the peer is told via ERR(ID_NOT_FOUND) so it can
// give up rather than retry forever.
func (e *Engine) HandleREQ(p peer.Key, id uint32, zipped []uint16) {
	s, ok := e.table.Get(session.Key{Peer: p, ID: id})
	if !ok {
		e.replyUnknownID(p, id)
		return
	}
	e.stats.reqsHandled.Add(1)
	s.HandleREQ(seq.Unzip(zipped))
}

// HandleFIN dispatches an inbound FIN packet for (p, id): finalize the
// session and remove it from the table, then ACK. The ACK is sent
// unconditionally, even if this (p, id) was already finalized by an earlier
// FIN: the receiver's finish-notify retry resends FIN precisely when its
// previous ACK(FIN) never arrived, so a stale or repeated FIN must still be
// ACKed rather than silently dropped once the session is gone.
func (e *Engine) HandleFIN(p peer.Key, id uint32) {
	key := session.Key{Peer: p, ID: id}
	if s, ok := e.table.Get(key); ok {
		s.HandleFIN()
		e.table.Delete(key)
	}
	if err := e.transport.Send(p, wire.Packet{Kind: wire.KindACK, ID: id, AckType: wire.KindFIN}); err != nil {
		e.log.Errorf("%v: send ACK(FIN) id=%d: %v", p, id, err)
	}
}

func (e *Engine) replyUnknownID(p peer.Key, id uint32) {
	pkt := wire.Packet{Kind: wire.KindERR, ID: id, ErrCode: wire.ErrIDNotFound}
	if err := e.transport.Send(p, pkt); err != nil {
		e.log.Errorf("%v: send ERR(ID_NOT_FOUND) id=%d: %v", p, id, pkgerrors.WithStack(err))
	}
}

// AutoClear starts the sender table's idle-TTL sweep.
func (e *Engine) AutoClear(ttl, interval time.Duration) (stop func()) {
	return e.table.AutoClear(ttl, interval)
}

// Close destroys every sending session.
func (e *Engine) Close() {
	e.table.Clear()
}

// Stats snapshots the sender's operational counters.
func (e *Engine) Stats() Stats {
	return Stats{
		ActiveSessions:         e.table.Len(),
		RetransmitRequestsSeen: e.stats.reqsHandled.Load(),
		TransfersDrained:       e.stats.drains.Load(),
		TransfersTimedOut:      e.stats.timeouts.Load(),
	}
}

// ForceNextID lets tests (and operators) force a peer's next allocated id,
// to exercise the wrap-at-2^32 behavior deterministically.
func (e *Engine) ForceNextID(p peer.Key, next uint32) {
	e.table.ids.Force(p, next)
}

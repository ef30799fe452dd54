// Package sender implements the sender engine (spec.md section 4.F): the
// fragment generator, pacing, in-flight window, REQ/FIN handling, stall
// escalation and the per-transfer timeout.
package sender

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/proto"
	"github.com/relidp/relidp/rlog"
	"github.com/relidp/relidp/rtimer"
	"github.com/relidp/relidp/wire"
)

// Transport is the minimal capability a Session needs to put a packet on
// the wire: encode, wrap and hand it to the peer's socket address.
type Transport interface {
	Send(p peer.Key, pkt wire.Packet) error
}

// Events lets the engine report transfer-level lifecycle changes up to the
// endpoint.
type Events struct {
	Drain   func(id uint32, p peer.Key)
	Timeout func(id uint32, p peer.Key)
}

// Session is one outbound transfer (spec.md section 3, "Sending session").
//
// Per spec.md section 5, "an implementation that uses threads must
// serialize each session's mutations": pacingTimer, stallTimer and
// lastRequestClear each fire their callback on its own goroutine (the real
// clockwork.Clock delegates to time.AfterFunc), concurrently with HandleREQ/
// HandleFIN arriving on the endpoint's read-loop goroutine. mu serializes
// every access to the fields below it; id/peer are set once at construction
// and never mutated, so they're safe to read without it.
type Session struct {
	id   uint32
	peer peer.Key

	mu sync.Mutex

	data           []byte
	totalCount     uint16
	parallelWindow uint16
	rtt            time.Duration
	pacing         pacingParams

	// outbound is the set of sequence numbers awaiting the next pacing
	// tick. Fragments are packed at emission time, not when enqueued here
	// (spec.md 4.F "Fragmentation").
	outbound  map[uint16]struct{}
	lastBurst []uint16

	lastRequestSeqs  map[uint16]struct{}
	lastRequestClear *rtimer.Handle

	pacingTimer  *rtimer.Handle
	stallTimer   *rtimer.Handle
	stallBackoff *backoff.ExponentialBackOff
	stallRound   int

	sentCounts map[uint16]int
	totalSent  int

	done bool
	onDrain func(id uint32, p peer.Key)

	transport Transport
	events    Events
	log       *rlog.Logger
	clock     clockwork.Clock
}

// newSession builds a Session and computes its fragmentation/pacing
// parameters, but does not yet start the opening burst — call Start.
func newSession(
	id uint32,
	p peer.Key,
	data []byte,
	parallelWindow uint16,
	bandwidth int64,
	rtt time.Duration,
	onDrain func(uint32, peer.Key),
	transport Transport,
	events Events,
	log *rlog.Logger,
	clock clockwork.Clock,
) *Session {
	totalCount := uint16((len(data) + proto.MaxPacketPayload - 1) / proto.MaxPacketPayload)
	window := parallelWindow
	if uint16(totalCount) < window {
		window = totalCount
	}

	s := &Session{
		id:              id,
		peer:            p,
		data:            data,
		totalCount:      totalCount,
		parallelWindow:  window,
		rtt:             rtt,
		pacing:          computePacing(bandwidth, parallelWindow, rtt),
		outbound:        make(map[uint16]struct{}),
		lastRequestSeqs: make(map[uint16]struct{}),
		sentCounts:      make(map[uint16]int),
		onDrain:         onDrain,
		transport:       transport,
		events:          events,
		log:             log,
		clock:           clock,
	}
	s.pacingTimer = rtimer.New(clock)
	s.stallTimer = rtimer.New(clock)
	s.lastRequestClear = rtimer.New(clock)
	return s
}

// ID and Peer expose the session's identity for table keys and logging.
func (s *Session) ID() uint32     { return s.id }
func (s *Session) Peer() peer.Key { return s.peer }

// Start enqueues the opening burst [0, parallelCount*frequency) clamped to
// totalCount, and arms the pacing timer.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := int(s.parallelWindow) * s.pacing.frequency
	if end > int(s.totalCount) {
		end = int(s.totalCount)
	}
	for seq := 0; seq < end; seq++ {
		s.outbound[uint16(seq)] = struct{}{}
	}
	s.armPacing()
}

// armPacing and every other unexported helper below assume the caller
// already holds s.mu; only the exported entry points (and timer callbacks,
// which are entry points in their own right) take the lock themselves.
func (s *Session) armPacing() {
	s.pacingTimer.Schedule(s.pacing.interval, s.onPacingTick)
}

// onPacingTick drains up to parallelWindow packets from outbound. If
// nothing was pending, the peer has been silent since the last tick: stop
// the regular pacing timer and begin the escalating stall wait instead.
func (s *Session) onPacingTick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	if len(s.outbound) == 0 {
		s.beginStall()
		return
	}
	s.sendBurst()
	s.armPacing()
}

func (s *Session) sendBurst() {
	seqs := make([]uint16, 0, len(s.outbound))
	for seq := range s.outbound {
		seqs = append(seqs, seq)
		if len(seqs) >= int(s.parallelWindow) {
			break
		}
	}
	for _, seq := range seqs {
		delete(s.outbound, seq)
		s.transmit(seq)
	}
	s.lastBurst = seqs
}

func (s *Session) transmit(seq uint16) {
	start := int(seq) * proto.MaxPacketPayload
	if start >= len(s.data) {
		return
	}
	end := start + proto.MaxPacketPayload
	if end > len(s.data) {
		end = len(s.data)
	}
	pkt := wire.Packet{
		Kind:        wire.KindPSH,
		ID:          s.id,
		Seq:         seq,
		SingleTotal: s.parallelWindow,
		TotalCount:  s.totalCount,
		Data:        s.data[start:end],
	}
	if err := s.transport.Send(s.peer, pkt); err != nil {
		s.log.Errorf("%v: send PSH seq=%d: %v", s.peer, seq, err)
		return
	}
	s.sentCounts[seq]++
	s.totalSent++
}

// beginStall starts the escalating stall-retry wait: RTT+1000ms, then
// multiplied by 1.8 each of up to proto.SenderFinishRetryLimit rounds.
func (s *Session) beginStall() {
	s.stallRound = 0
	s.stallBackoff = backoff.NewExponentialBackOff()
	s.stallBackoff.InitialInterval = s.rtt + time.Second
	s.stallBackoff.Multiplier = 1.8
	s.stallBackoff.RandomizationFactor = 0
	s.stallBackoff.MaxElapsedTime = 0
	// Reset so the first NextBackOff starts from the InitialInterval set
	// above rather than the library default captured at construction.
	s.stallBackoff.Reset()
	s.armStall()
}

func (s *Session) armStall() {
	d := s.stallBackoff.NextBackOff()
	s.stallTimer.Schedule(d, s.onStallFire)
}

func (s *Session) onStallFire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.stallRound++
	if s.stallRound >= proto.SenderFinishRetryLimit {
		s.abandon()
		return
	}
	for _, seq := range s.lastBurst {
		s.transmit(seq)
	}
	s.armStall()
}

// abandon assumes the caller already holds s.mu.
func (s *Session) abandon() {
	s.done = true
	s.cancelTimers()
	if s.events.Timeout != nil {
		s.events.Timeout(s.id, s.peer)
	}
}

// HandleREQ applies spec.md 4.F's request-suppression rule: only the
// sequences not present in the most recent REQ are acted on; a pure repeat
// of the last REQ is a no-op.
func (s *Session) HandleREQ(requested []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.stallTimer.Cancel()
	s.stallRound = 0

	fresh := make([]uint16, 0, len(requested))
	for _, sq := range requested {
		if _, seen := s.lastRequestSeqs[sq]; !seen {
			fresh = append(fresh, sq)
		}
	}
	if len(fresh) == 0 {
		return
	}

	for _, sq := range fresh {
		s.outbound[sq] = struct{}{}
	}

	newSet := make(map[uint16]struct{}, len(requested))
	for _, sq := range requested {
		newSet[sq] = struct{}{}
	}
	s.lastRequestSeqs = newSet
	s.lastRequestClear.Schedule(s.rtt, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastRequestSeqs = make(map[uint16]struct{})
	})

	// Zero-delay yield: let the current callback finish before the
	// generator advances again (spec.md section 5, suspension point c).
	// This closure re-acquires s.mu itself: it runs as its own timer
	// callback, asynchronously with respect to HandleREQ's own critical
	// section above.
	rtimer.New(s.clock).Schedule(0, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.done {
			return
		}
		s.sendBurst()
		s.armPacing()
	})
}

// HandleFIN finalizes the transfer: cancel timers, then fire the
// per-transfer onDrain and Events.Drain. A repeated call is a no-op. Sending
// the ACK(FIN) and removing the session from the table are left to the
// caller (the engine); the repeat rate stays available through RepeatRate.
func (s *Session) HandleFIN() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	s.cancelTimers()
	if s.onDrain != nil {
		s.onDrain(s.id, s.peer)
	}
	if s.events.Drain != nil {
		s.events.Drain(s.id, s.peer)
	}
}

// RepeatRate reports sent/total as the session's per-transfer repeat rate:
// how many packets were actually transmitted (including retries) per
// fragment.
func (s *Session) RepeatRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalCount == 0 {
		return 0
	}
	return float64(s.totalSent) / float64(s.totalCount)
}

func (s *Session) cancelTimers() {
	s.pacingTimer.Cancel()
	s.stallTimer.Cancel()
	s.lastRequestClear.Cancel()
}

// Close cancels every timer the session owns; called by the session table's
// before-destroy hook regardless of how the session ended.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimers()
}

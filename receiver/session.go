// Package receiver implements the receiver engine (spec.md section 4.E):
// reassembly, hole detection, timed retransmission requests, completion and
// the FIN finish-notify retry.
package receiver

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/rtimer"
)

// Session is one inbound transfer (spec.md section 3, "Receiving session").
//
// Per spec.md section 5, "an implementation that uses threads must serialize
// each session's mutations": StorePSH arrives on the endpoint's read-loop
// goroutine while HoleScan/MarkDelivered run from delayTimer's callback,
// which (on the real clock) fires on its own goroutine via time.AfterFunc.
// mu serializes every access to the fields below it; id/peer never change
// after newSession and need no lock.
type Session struct {
	id   uint32
	peer peer.Key

	mu sync.Mutex

	fragments   map[uint16][]byte
	totalCount  uint16 // authoritative once any PSH is seen
	singleTotal uint16 // the sender's current window hint

	lastScanIndex  uint16
	retryCount     int
	duplicateCount int

	delivered   bool
	deliveredAt time.Time

	delayTimer *rtimer.Handle
	clock      clockwork.Clock
}

func newSession(id uint32, p peer.Key, clock clockwork.Clock) *Session {
	return &Session{
		id:         id,
		peer:       p,
		fragments:  make(map[uint16][]byte),
		clock:      clock,
		delayTimer: rtimer.New(clock),
	}
}

func (s *Session) ID() uint32     { return s.id }
func (s *Session) Peer() peer.Key { return s.peer }

// Delivered and DeliveredAt let the receiver table apply its lazy-recycle
// rule (spec.md section 4.D) without reaching into Session internals.
func (s *Session) Delivered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

func (s *Session) DeliveredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveredAt
}

// StorePSH stores a fragment's payload at seq. It reports whether the
// fragment was already present (a duplicate, dropped and counted rather
// than stored again).
func (s *Session) StorePSH(seqNum, singleTotal, totalCount uint16, data []byte) (duplicate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.fragments[seqNum]; exists {
		s.duplicateCount++
		return true
	}
	cp := append([]byte(nil), data...)
	s.fragments[seqNum] = cp
	s.totalCount = totalCount
	s.singleTotal = singleTotal
	s.retryCount = 0
	return false
}

// IsComplete reports whether every fragment in [0, totalCount) has arrived.
func (s *Session) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCount > 0 && len(s.fragments) >= int(s.totalCount)
}

// Concat reassembles the stored fragments into the original payload, in
// sequence order.
func (s *Session) Concat() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, 0, int(s.totalCount)*len(s.fragments))
	for i := uint16(0); i < s.totalCount; i++ {
		out = append(out, s.fragments[i]...)
		if i == 0xFFFF {
			break
		}
	}
	return out
}

// HoleScan walks forward from lastScanIndex over [0, totalCount) collecting
// up to singleTotal empty indices, and advances lastScanIndex to the first
// hole found (or to totalCount if the scan found none).
func (s *Session) HoleScan() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var holes []uint16
	limit := s.singleTotal
	if limit == 0 {
		limit = 1
	}
	advanced := false
	for i := s.lastScanIndex; i < s.totalCount; i++ {
		if _, ok := s.fragments[i]; ok {
			continue
		}
		if !advanced {
			s.lastScanIndex = i
			advanced = true
		}
		holes = append(holes, i)
		if uint16(len(holes)) >= limit {
			break
		}
	}
	if !advanced {
		s.lastScanIndex = s.totalCount
	}
	return holes
}

// MarkDelivered flips the delivered flag and stamps deliveredAt for the
// lazy-recycle grace period.
func (s *Session) MarkDelivered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = true
	s.deliveredAt = s.clock.Now()
}

// RetryCount reports the number of hole-check retries issued so far.
func (s *Session) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// BumpRetry increments the hole-check retry counter.
func (s *Session) BumpRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCount++
}

// Close cancels every timer the session owns.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delayTimer.Cancel()
}

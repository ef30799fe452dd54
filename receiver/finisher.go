package receiver

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/proto"
	"github.com/relidp/relidp/rlog"
	"github.com/relidp/relidp/rtimer"
	"github.com/relidp/relidp/session"
	"github.com/relidp/relidp/wire"
)

// finishEntry is one (peer, id) awaiting ACK(FIN).
type finishEntry struct {
	handle *rtimer.Handle
	count  int
}

// finisher is the process-wide finish-notify retry set (spec.md section
// 4.E "Finish-notify retry"): once a transfer is delivered, its FIN is
// resent at 1Hz until an ACK(FIN) arrives or 10 retries are exhausted.
type finisher struct {
	mu        sync.Mutex
	entries   map[session.Key]*finishEntry
	transport Transport
	clock     clockwork.Clock
	log       *rlog.Logger
}

func newFinisher(transport Transport, clock clockwork.Clock, log *rlog.Logger) *finisher {
	return &finisher{
		entries:   make(map[session.Key]*finishEntry),
		transport: transport,
		clock:     clock,
		log:       log,
	}
}

// Start enqueues k for finish-notify retry and sends the first resend timer.
func (f *finisher) Start(k session.Key) {
	f.mu.Lock()
	if _, exists := f.entries[k]; exists {
		f.mu.Unlock()
		return
	}
	e := &finishEntry{handle: rtimer.New(f.clock)}
	f.entries[k] = e
	f.mu.Unlock()

	f.scheduleResend(k)
}

func (f *finisher) scheduleResend(k session.Key) {
	f.mu.Lock()
	e, ok := f.entries[k]
	f.mu.Unlock()
	if !ok {
		return
	}
	e.handle.Schedule(proto.FinishNotifyInterval, func() { f.fire(k) })
}

func (f *finisher) fire(k session.Key) {
	f.mu.Lock()
	e, ok := f.entries[k]
	if !ok {
		f.mu.Unlock()
		return
	}
	e.count++
	if e.count > proto.FinishRetryLimit {
		delete(f.entries, k)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	if err := f.transport.Send(k.Peer, wire.Packet{Kind: wire.KindFIN, ID: k.ID}); err != nil {
		f.log.Errorf("%v: resend FIN id=%d: %v", k.Peer, k.ID, err)
	}
	f.scheduleResend(k)
}

// Ack removes k from the retry set, cancelling its timer.
func (f *finisher) Ack(k session.Key) {
	f.mu.Lock()
	e, ok := f.entries[k]
	if ok {
		delete(f.entries, k)
	}
	f.mu.Unlock()
	if ok {
		e.handle.Cancel()
	}
}

// Stop cancels every pending finish-notify retry.
func (f *finisher) Stop() {
	f.mu.Lock()
	all := f.entries
	f.entries = make(map[session.Key]*finishEntry)
	f.mu.Unlock()
	for _, e := range all {
		e.handle.Cancel()
	}
}

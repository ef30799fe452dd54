// Package proto holds the wire-level constants shared by every relidp
// package: fragment sizing, pacing defaults and the buffer-size ceiling.
// Collecting them here (rather than in the root package) keeps the leaf
// packages (wire, seq, session, sender, receiver) free to import them
// without creating an import cycle back through the root Endpoint.
package proto

import "time"

const (
	// MaxPacketPayload is the PSH fragment payload ceiling: a 1090-byte MTU
	// target minus 14 bytes of framing headroom (the 2-byte integrity-layer
	// checksum prefix, the inner 6-byte packet header and the 6 bytes of PSH
	// fields: seq, single total and total count).
	MaxPacketPayload = 1076

	// ParallelCount is the default size of the sender's in-flight window.
	ParallelCount = 92

	// Latency is the delay before the receiver's first hole-check after a
	// fragment arrives.
	Latency = 35 * time.Millisecond

	// DefaultRTTBase is added to Latency to produce the default RTT used
	// for hole-check re-scheduling and REQ suppression windows.
	DefaultRTTBase = 200 * time.Millisecond

	// DefaultRTT is DefaultRTTBase + Latency.
	DefaultRTT = DefaultRTTBase + Latency

	// DefaultBandwidth is the static pacing estimate, in bytes/sec, used
	// when no BandWidth option is supplied.
	DefaultBandwidth = 4 * 1024 * 1024

	// MaxBufferSize bounds a single send() call: 2^15 fragments at
	// MaxPacketPayload bytes each.
	MaxBufferSize = 32768 * MaxPacketPayload

	// MaxCounter is the modulus transfer ids wrap around at.
	MaxCounter = 1 << 32

	// ReceiverRetryLimit bounds the receiver's hole-scan retries before it
	// aborts a stalled transfer.
	ReceiverRetryLimit = 10

	// FinishRetryLimit bounds the receiver's finish-notify FIN retries.
	FinishRetryLimit = 10

	// SenderFinishRetryLimit bounds the sender's own stall-wait escalation.
	SenderFinishRetryLimit = 3

	// SessionTTL is the idle duration after which the session tables'
	// sweep removes an entry.
	SessionTTL = 60 * time.Minute

	// SessionSweepInterval is how often each session table sweeps for
	// expired entries.
	SessionSweepInterval = 30 * time.Second

	// DeliveredGrace is how long a delivered receiving session is kept
	// around (to absorb a retransmitted final PSH) before it may be
	// lazily recycled by a new transfer reusing the same id.
	DeliveredGrace = 30 * time.Minute

	// FinishNotifyInterval is the cadence of the receiver's finish-notify
	// FIN retry loop.
	FinishNotifyInterval = 1 * time.Second
)

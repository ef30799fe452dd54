package sender

import (
	"math"
	"time"

	"github.com/relidp/relidp/proto"
)

// pacingParams is the result of spec.md section 4.F's pacing model: the
// per-burst interval and the RTT-relative burst multiplier used to size the
// opening window.
type pacingParams struct {
	interval  time.Duration
	frequency int
}

// computePacing implements:
//
//	interval  = 1000 * parallelSize / (bandwidth - parallelSize)   ms
//	frequency = floor(RTT / interval), clamped >= 1
//
// where parallelSize = parallelWindow * MaxPacketPayload. The interval is
// clamped to 1000ms whenever the division is non-positive or non-finite
// (including the bandwidth == parallelSize edge case, where the divisor is
// zero) — this is spec.md's documented non-bug, not a congestion-control
// scheme.
func computePacing(bandwidth int64, parallelWindow uint16, rtt time.Duration) pacingParams {
	parallelSize := float64(parallelWindow) * float64(proto.MaxPacketPayload)
	divisor := float64(bandwidth) - parallelSize

	intervalMS := 1000 * parallelSize / divisor
	if divisor <= 0 || math.IsNaN(intervalMS) || math.IsInf(intervalMS, 0) || intervalMS <= 0 {
		intervalMS = 1000
	}
	// Convert the float millisecond value straight to a nanosecond-scale
	// Duration rather than truncating to a whole millisecond first: a
	// bandwidth close to parallelSize yields a sub-millisecond intervalMS,
	// and time.Duration(intervalMS)*time.Millisecond would truncate that to
	// zero before the multiply, which then divides by zero below.
	interval := time.Duration(intervalMS * float64(time.Millisecond))
	if interval <= 0 {
		interval = time.Millisecond
	}

	frequency := int(rtt / interval)
	if frequency < 1 {
		frequency = 1
	}
	return pacingParams{interval: interval, frequency: frequency}
}

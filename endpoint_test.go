package relidp_test

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relidp/relidp"
	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/wire"
)

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestLosslessSingleTransferDeliversPayload(t *testing.T) {
	connA, connB := newPipe(addr(20001), addr(20002), nil, nil)

	var mu sync.Mutex
	var got []byte
	epB, err := relidp.Bind(relidp.Options{
		Conn:      connB,
		RTT:       5 * time.Millisecond,
		OnMessage: func(payload []byte, _ peer.Key, _ uint32) { mu.Lock(); got = payload; mu.Unlock() },
	})
	require.NoError(t, err)
	defer epB.Close()

	opts := relidp.Options{Conn: connA, RTT: 5 * time.Millisecond}
	opts = opts.WithRemote(20002, "127.0.0.1", peer.V4)
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	defer epA.Close()

	id, err := epA.Send([]byte("hello, world"), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, id)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, []byte("hello, world"), got)
}

func TestLossyTransferRecoversViaREQ(t *testing.T) {
	var sentPSH int32
	dropAtoB := func(buf []byte) bool {
		if len(buf) < 3 || buf[2] != byte(wire.KindPSH) {
			return false
		}
		// Drop exactly the second PSH fragment sent; the receiver's
		// hole-scan/REQ cycle must recover it.
		return atomic.AddInt32(&sentPSH, 1) == 2
	}
	connA, connB := newPipe(addr(20003), addr(20004), dropAtoB, nil)

	var mu sync.Mutex
	var got []byte
	epB, err := relidp.Bind(relidp.Options{
		Conn:      connB,
		RTT:       5 * time.Millisecond,
		OnMessage: func(payload []byte, _ peer.Key, _ uint32) { mu.Lock(); got = payload; mu.Unlock() },
	})
	require.NoError(t, err)
	defer epB.Close()

	opts := relidp.Options{Conn: connA, RTT: 5 * time.Millisecond}
	opts = opts.WithRemote(20004, "127.0.0.1", peer.V4)
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	defer epA.Close()

	payload := make([]byte, 3*1076) // three fragments
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = epA.Send(payload, nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, 3*time.Second, 2*time.Millisecond)
	require.Equal(t, payload, got)
}

func TestFinishNotifySurvivesFINAndACKLoss(t *testing.T) {
	var finSeen, ackSeen int32
	// B (the receiver) sends FIN to A; drop the first 3 attempts.
	dropBtoA := func(buf []byte) bool {
		if len(buf) < 3 || buf[2] != byte(wire.KindFIN) {
			return false
		}
		return atomic.AddInt32(&finSeen, 1) <= 3
	}
	// A (the sender) ACKs FIN back to B; drop the first 2 attempts.
	dropAtoB := func(buf []byte) bool {
		if len(buf) < 3 || buf[2] != byte(wire.KindACK) {
			return false
		}
		return atomic.AddInt32(&ackSeen, 1) <= 2
	}
	connA, connB := newPipe(addr(20005), addr(20006), dropAtoB, dropBtoA)

	var mu sync.Mutex
	var delivered bool
	var drained bool
	epB, err := relidp.Bind(relidp.Options{
		Conn:      connB,
		RTT:       5 * time.Millisecond,
		OnMessage: func([]byte, peer.Key, uint32) { mu.Lock(); delivered = true; mu.Unlock() },
	})
	require.NoError(t, err)
	defer epB.Close()

	opts := relidp.Options{
		Conn: connA,
		RTT:  5 * time.Millisecond,
		OnDrain: func(uint32, peer.Key) {
			mu.Lock()
			drained = true
			mu.Unlock()
		},
	}
	opts = opts.WithRemote(20006, "127.0.0.1", peer.V4)
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	defer epA.Close()

	_, err = epA.Send([]byte("finish me"), nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered
	}, 3*time.Second, 2*time.Millisecond)

	// The finish-notify retry (1Hz, up to 10 attempts) must survive both
	// the dropped FIN and the dropped ACK(FIN) within its retry budget.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return drained
	}, 10*time.Second, 10*time.Millisecond)
}

func TestUnknownIDREQGetsErrIDNotFound(t *testing.T) {
	probe, connA := newPipe(addr(20007), addr(20008), nil, nil)

	opts := relidp.Options{Conn: connA, RTT: 5 * time.Millisecond}
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	defer epA.Close()

	reqBuf, err := wire.Encode(wire.Packet{Kind: wire.KindREQ, ID: 0xDEADBEEF, Sequences: []uint16{0}})
	require.NoError(t, err)
	_, err = probe.WriteTo(wire.Wrap(reqBuf), connA.LocalAddr())
	require.NoError(t, err)

	result := make(chan wire.Packet, 1)
	go func() {
		buf := make([]byte, 2048)
		n, _, err := probe.ReadFrom(buf)
		if err != nil {
			return
		}
		inner, ok := wire.Unwrap(buf[:n])
		if !ok {
			return
		}
		pkt, err := wire.Decode(inner)
		if err != nil {
			return
		}
		result <- pkt
	}()

	select {
	case pkt := <-result:
		require.Equal(t, wire.KindERR, pkt.Kind)
		require.Equal(t, uint32(0xDEADBEEF), pkt.ID)
		require.Equal(t, wire.ErrIDNotFound, pkt.ErrCode)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ERR(ID_NOT_FOUND)")
	}
}

func TestSenderAbandonsAfterStallRetriesExhausted(t *testing.T) {
	// The peer never replies to anything, so the opening burst drains and
	// the sender's escalating stall retries (RTT+1s, x1.8, 3 rounds) must
	// eventually abandon the transfer.
	_, connA := newPipe(addr(20009), addr(20010), nil, nil)

	opts := relidp.Options{Conn: connA, RTT: 5 * time.Millisecond}
	var mu sync.Mutex
	var timedOut bool
	opts.OnTimeout = func(uint32, peer.Key) { mu.Lock(); timedOut = true; mu.Unlock() }
	opts = opts.WithRemote(20010, "127.0.0.1", peer.V4)
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	defer epA.Close()

	_, err = epA.Send([]byte("nobody is listening"), nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return timedOut
	}, 10*time.Second, 10*time.Millisecond)
}

func TestTransferIDWrapsAtUint32Max(t *testing.T) {
	_, connA := newPipe(addr(20011), addr(20012), nil, nil)
	opts := relidp.Options{Conn: connA, RTT: 5 * time.Millisecond}
	opts = opts.WithRemote(20012, "127.0.0.1", peer.V4)
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	defer epA.Close()

	target := peer.New(20012, "127.0.0.1", peer.V4)
	epA.ForceNextID(target, ^uint32(0))

	id1, err := epA.Send([]byte("a"), nil, nil)
	require.NoError(t, err)
	require.Equal(t, ^uint32(0), *id1)

	id2, err := epA.Send([]byte("b"), nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(0), *id2)
}

func TestSendRejectsOversizePayload(t *testing.T) {
	_, connA := newPipe(addr(20013), addr(20014), nil, nil)
	opts := relidp.Options{Conn: connA, RTT: 5 * time.Millisecond}
	opts = opts.WithRemote(20014, "127.0.0.1", peer.V4)
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	defer epA.Close()

	_, err = epA.Send(make([]byte, 32768*1076+1), nil, nil)
	require.Error(t, err)
}

func TestSendWithoutPeerFailsWithoutDefault(t *testing.T) {
	_, connA := newPipe(addr(20015), addr(20016), nil, nil)
	epA, err := relidp.Bind(relidp.Options{Conn: connA, RTT: 5 * time.Millisecond})
	require.NoError(t, err)
	defer epA.Close()

	_, err = epA.Send([]byte("no home"), nil, nil)
	require.Error(t, err)
}

func TestSendAfterCloseFailsWithState(t *testing.T) {
	_, connA := newPipe(addr(20017), addr(20018), nil, nil)
	opts := relidp.Options{Conn: connA, RTT: 5 * time.Millisecond}
	opts = opts.WithRemote(20018, "127.0.0.1", peer.V4)
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	require.NoError(t, epA.Close())
	require.NoError(t, epA.Close()) // idempotent

	_, err = epA.Send([]byte("too late"), nil, nil)
	require.Error(t, err)
}

func TestStatsReflectsDuplicatesAndDelivery(t *testing.T) {
	connA, connB := newPipe(addr(20021), addr(20022), nil, nil)

	var mu sync.Mutex
	var delivered, drained bool
	epB, err := relidp.Bind(relidp.Options{
		Conn:      connB,
		RTT:       5 * time.Millisecond,
		OnMessage: func([]byte, peer.Key, uint32) { mu.Lock(); delivered = true; mu.Unlock() },
	})
	require.NoError(t, err)
	defer epB.Close()

	opts := relidp.Options{
		Conn: connA,
		RTT:  5 * time.Millisecond,
		OnDrain: func(uint32, peer.Key) {
			mu.Lock()
			drained = true
			mu.Unlock()
		},
	}
	opts = opts.WithRemote(20022, "127.0.0.1", peer.V4)
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	defer epA.Close()

	id, err := epA.Send([]byte("stats probe"), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, id)

	// Replay the same PSH a second time once it has been sent, forcing a
	// counted duplicate on B's reassembly buffer.
	pshBuf, err := wire.Encode(wire.Packet{
		Kind: wire.KindPSH, ID: *id, Seq: 0, SingleTotal: 92, TotalCount: 1,
		Data: []byte("stats probe"),
	})
	require.NoError(t, err)
	_, err = connA.WriteTo(wire.Wrap(pshBuf), connB.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered && drained
	}, 3*time.Second, 2*time.Millisecond)

	statsB := epB.Stats()
	require.Equal(t, uint64(1), statsB.TransfersDelivered)
	require.GreaterOrEqual(t, statsB.DuplicateFragments, uint64(1))

	require.Eventually(t, func() bool {
		return epA.Stats().SendingSessions == 0
	}, 2*time.Second, 2*time.Millisecond)
}

func TestSendEmptyPayloadIsNoOp(t *testing.T) {
	_, connA := newPipe(addr(20019), addr(20020), nil, nil)
	opts := relidp.Options{Conn: connA, RTT: 5 * time.Millisecond}
	opts = opts.WithRemote(20020, "127.0.0.1", peer.V4)
	epA, err := relidp.Bind(opts)
	require.NoError(t, err)
	defer epA.Close()

	id, err := epA.Send(nil, nil, nil)
	require.NoError(t, err)
	require.Nil(t, id)
}

package session_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/relidp/relidp/peer"
	"github.com/relidp/relidp/session"
)

func TestSetReplacesAndDestroysPrior(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var destroyed []int
	tbl := session.NewTable[int](clock, func(_ session.Key, v int) {
		destroyed = append(destroyed, v)
	})

	k := session.Key{Peer: peer.New(1, "", peer.V4), ID: 1}
	tbl.Set(k, 10)
	tbl.Set(k, 20)

	got, ok := tbl.Get(k)
	require.True(t, ok)
	require.Equal(t, 20, got)
	require.Equal(t, []int{10}, destroyed)
}

func TestAtMostOneEntryPerKey(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl := session.NewTable[int](clock, nil)
	k := session.Key{Peer: peer.New(1, "", peer.V4), ID: 1}
	tbl.Set(k, 1)
	tbl.Set(k, 2)
	require.Equal(t, 1, tbl.Len())
}

func TestAutoClearSweepsExpiredEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	destroyedCh := make(chan int, 1)
	tbl := session.NewTable[int](clock, func(_ session.Key, v int) {
		destroyedCh <- v
	})

	k := session.Key{Peer: peer.New(1, "", peer.V4), ID: 1}
	tbl.Set(k, 42)

	stop := tbl.AutoClear(time.Minute, time.Second)
	defer stop()

	clock.BlockUntil(1)
	clock.Advance(2 * time.Minute)

	select {
	case v := <-destroyedCh:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("sweep did not destroy expired entry")
	}
	require.Equal(t, 0, tbl.Len())
}

func TestClearDestroysEverything(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var destroyed int
	tbl := session.NewTable[int](clock, func(_ session.Key, v int) {
		destroyed += v
	})
	tbl.Set(session.Key{Peer: peer.New(1, "", peer.V4), ID: 1}, 1)
	tbl.Set(session.Key{Peer: peer.New(2, "", peer.V4), ID: 1}, 2)
	tbl.Clear()
	require.Equal(t, 3, destroyed)
	require.Equal(t, 0, tbl.Len())
}

func TestIDAllocatorPerPeerAndWrap(t *testing.T) {
	alloc := session.NewIDAllocator()
	a := peer.New(1, "", peer.V4)
	b := peer.New(2, "", peer.V4)

	require.Equal(t, uint32(0), alloc.Alloc(a))
	require.Equal(t, uint32(1), alloc.Alloc(a))
	require.Equal(t, uint32(0), alloc.Alloc(b), "ids are independent per peer")

	alloc.Force(a, ^uint32(0))
	require.Equal(t, ^uint32(0), alloc.Alloc(a))
	require.Equal(t, uint32(0), alloc.Alloc(a), "id wraps to 0 after 2^32-1")
}

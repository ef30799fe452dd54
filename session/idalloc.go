package session

import (
	"sync"

	"github.com/relidp/relidp/peer"
)

// IDAllocator hands out monotonic transfer ids per remote peer key. The
// counter is a plain uint32, so it wraps at 2^32 (spec.md's MAX_COUNTER)
// for free via normal unsigned-integer overflow.
type IDAllocator struct {
	mu   sync.Mutex
	next map[peer.Key]uint32
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{next: make(map[peer.Key]uint32)}
}

// Alloc returns the next id for p and advances that peer's counter.
func (a *IDAllocator) Alloc(p peer.Key) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next[p]
	a.next[p] = id + 1
	return id
}

// Force sets p's next id to be returned by the following Alloc call. It
// exists to make id-wrap behavior deterministically testable.
func (a *IDAllocator) Force(p peer.Key, next uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next[p] = next
}

package receiver

import (
	"github.com/jonboulle/clockwork"

	"github.com/relidp/relidp/proto"
	"github.com/relidp/relidp/rlog"
	"github.com/relidp/relidp/session"
)

// Table is the receiver-table-specific wrapper over the generic session
// table: GetOrCreate implements spec.md section 4.D's lazy-recycle rule —
// a delivered entry idle past proto.DeliveredGrace is torn down and
// replaced rather than handed back, so a peer reusing an id after the
// grace period gets a fresh reassembly buffer instead of a stale one.
type Table struct {
	*session.Table[*Session]
	clock clockwork.Clock
}

func newTable(clock clockwork.Clock, log *rlog.Logger) *Table {
	t := &Table{clock: clock}
	t.Table = session.NewTable[*Session](clock, func(k session.Key, s *Session) {
		s.Close()
		log.Verbosef("%v: receiving session id=%d closed", k.Peer, k.ID)
	})
	return t
}

// GetOrCreate returns the session at k, applying the lazy-recycle rule, and
// reports whether a new session was created.
func (t *Table) GetOrCreate(k session.Key) (s *Session, created bool) {
	existing, ok := t.Get(k)
	if ok {
		if existing.Delivered() && t.clock.Now().Sub(existing.DeliveredAt()) > proto.DeliveredGrace {
			t.Delete(k)
		} else {
			return existing, false
		}
	}
	fresh := newSession(k.ID, k.Peer, t.clock)
	t.Set(k, fresh)
	return fresh, true
}

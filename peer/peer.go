// Package peer implements the remote-peer key (spec section 3): the tuple
// (port, address, family) that identifies a remote endpoint and, paired
// with a transfer id, a session. Keys are canonicalised so that the zero
// value of Family or Address maps onto the loopback address for that
// family, matching spec.md section 4.D's session-table canonicalisation
// rule.
package peer

import "fmt"

// Family distinguishes IPv4 from IPv6 peers. The canonical string form
// ("4" / "6") matches spec.md's "family string is normalised to 4 or 6".
type Family string

const (
	V4 Family = "4"
	V6 Family = "6"
)

func (f Family) loopback() string {
	if f == V6 {
		return "::1"
	}
	return "127.0.0.1"
}

// Key is the canonicalised (port, address, family) tuple used verbatim as a
// hash key by the session tables.
type Key struct {
	Port    uint16
	Address string
	Family  Family
}

// New builds a canonical Key: an empty family defaults to V4, and an empty
// address defaults to that family's loopback address.
func New(port uint16, address string, family Family) Key {
	if family != V4 && family != V6 {
		family = V4
	}
	if address == "" {
		address = family.loopback()
	}
	return Key{Port: port, Address: address, Family: family}
}

// Canonical re-normalises a Key that may have been constructed directly
// (e.g. by a decoder) rather than through New.
func (k Key) Canonical() Key {
	return New(k.Port, k.Address, k.Family)
}

func (k Key) String() string {
	if k.Family == V6 {
		return fmt.Sprintf("[%s]:%d", k.Address, k.Port)
	}
	return fmt.Sprintf("%s:%d", k.Address, k.Port)
}

// Package relidp provides a selective-repeat ARQ transport over UDP.
//
// An Endpoint binds a local socket (or adopts an externally-created one via
// Options.Conn) and exposes Send for outbound transfers and the
// Options.OnMessage/OnDrain/OnTimeout callbacks for inbound delivery and
// outbound lifecycle events. A transfer is addressed by a peer.Key (port,
// address, family) and an internally allocated uint32 id; large payloads are
// split into proto.MaxPacketPayload-sized fragments, paced by a bandwidth
// estimate, and reassembled in order on the receiving side.
package relidp

package wire

import (
	"encoding/binary"

	"github.com/relidp/relidp/proto"
	"github.com/relidp/relidp/rerr"
)

// Kind identifies one of the five packet kinds carried by the inner packet
// header.
type Kind uint8

const (
	KindPSH Kind = 0x01
	KindREQ Kind = 0x02
	KindFIN Kind = 0x03
	KindACK Kind = 0x04
	KindERR Kind = 0x05
)

func (k Kind) String() string {
	switch k {
	case KindPSH:
		return "PSH"
	case KindREQ:
		return "REQ"
	case KindFIN:
		return "FIN"
	case KindACK:
		return "ACK"
	case KindERR:
		return "ERR"
	default:
		return "UNKNOWN"
	}
}

// ErrIDNotFound is the only defined ERR payload code.
const ErrIDNotFound uint16 = 0x0000

const headerSize = 6

// Packet is the decoded form of one inner packet (post integrity-layer
// unwrap). Only the fields relevant to Kind are meaningful.
type Packet struct {
	Kind Kind
	ID   uint32

	// PSH
	Seq         uint16
	SingleTotal uint16
	TotalCount  uint16
	Data        []byte

	// REQ: the zipped (run-encoded) sequence list, as produced by
	// seq.Zip and consumed by seq.Unzip. Packet does not zip/unzip itself
	// so the codec stays a pure framing layer.
	Sequences []uint16

	// ACK
	AckType Kind

	// ERR
	ErrCode uint16
}

// Encode serializes p into an inner packet: 6-byte header followed by the
// kind-specific payload. The integrity layer (Wrap) must still be applied
// before the result is sent on the wire.
func Encode(p Packet) ([]byte, error) {
	var payload []byte
	switch p.Kind {
	case KindPSH:
		if len(p.Data) > proto.MaxPacketPayload {
			return nil, rerr.New(rerr.InvalidInput, "PSH payload %d exceeds MaxPacketPayload %d", len(p.Data), proto.MaxPacketPayload)
		}
		payload = make([]byte, 6+len(p.Data))
		binary.BigEndian.PutUint16(payload[0:2], p.Seq)
		binary.BigEndian.PutUint16(payload[2:4], p.SingleTotal)
		binary.BigEndian.PutUint16(payload[4:6], p.TotalCount)
		copy(payload[6:], p.Data)
	case KindREQ:
		payload = make([]byte, 2*len(p.Sequences))
		for i, s := range p.Sequences {
			binary.BigEndian.PutUint16(payload[2*i:2*i+2], s)
		}
	case KindFIN:
		payload = nil
	case KindACK:
		payload = []byte{byte(p.AckType)}
	case KindERR:
		payload = make([]byte, 2)
		binary.BigEndian.PutUint16(payload, p.ErrCode)
	default:
		return nil, rerr.New(rerr.InvalidInput, "unknown packet kind %#x", p.Kind)
	}

	out := make([]byte, headerSize+len(payload))
	out[0] = byte(p.Kind)
	out[1] = 0 // reserved
	binary.BigEndian.PutUint32(out[2:6], p.ID)
	copy(out[6:], payload)
	return out, nil
}

// Decode parses an inner packet (post integrity-layer unwrap). An unknown
// kind or a malformed payload for its kind returns rerr.ErrWireDrop; callers
// must drop the datagram silently (after logging) rather than propagate the
// error to the user-facing API.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < headerSize {
		return Packet{}, rerr.New(rerr.WireDrop, "packet shorter than header (%d bytes)", len(buf))
	}
	kind := Kind(buf[0])
	id := binary.BigEndian.Uint32(buf[2:6])
	payload := buf[headerSize:]

	p := Packet{Kind: kind, ID: id}
	switch kind {
	case KindPSH:
		if len(payload) < 6 {
			return Packet{}, rerr.New(rerr.WireDrop, "PSH payload too short (%d bytes)", len(payload))
		}
		p.Seq = binary.BigEndian.Uint16(payload[0:2])
		p.SingleTotal = binary.BigEndian.Uint16(payload[2:4])
		p.TotalCount = binary.BigEndian.Uint16(payload[4:6])
		p.Data = append([]byte(nil), payload[6:]...)
	case KindREQ:
		if len(payload)%2 != 0 {
			return Packet{}, rerr.New(rerr.WireDrop, "REQ payload not a multiple of 2 bytes (%d)", len(payload))
		}
		p.Sequences = make([]uint16, len(payload)/2)
		for i := range p.Sequences {
			p.Sequences[i] = binary.BigEndian.Uint16(payload[2*i : 2*i+2])
		}
	case KindFIN:
		// no payload
	case KindACK:
		if len(payload) < 1 {
			return Packet{}, rerr.New(rerr.WireDrop, "ACK payload empty")
		}
		p.AckType = Kind(payload[0])
	case KindERR:
		if len(payload) < 2 {
			return Packet{}, rerr.New(rerr.WireDrop, "ERR payload too short (%d bytes)", len(payload))
		}
		p.ErrCode = binary.BigEndian.Uint16(payload[0:2])
	default:
		return Packet{}, rerr.New(rerr.WireDrop, "unknown packet kind %#x", kind)
	}
	return p, nil
}

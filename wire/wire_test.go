package wire_test

import (
	"testing"

	"github.com/relidp/relidp/wire"
	"github.com/stretchr/testify/require"
)

func TestChecksumRoundTrip(t *testing.T) {
	bufs := [][]byte{
		nil,
		{0x01},
		{0x01, 0x02, 0x03},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
		make([]byte, 4096),
	}
	for _, b := range bufs {
		require.True(t, wire.VerifyChecksum(wire.GenerateChecksum(b)))
	}
}

func TestXORInvolution(t *testing.T) {
	bufs := [][]byte{
		nil,
		{0x01},
		{0x01, 0x02, 0x03, 0x04},
		{0x01, 0x02, 0x03, 0x04, 0x05},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09},
	}
	for _, b := range bufs {
		got := wire.XOR(wire.XOR(b))
		require.Equal(t, b, got)
	}
}

func TestXORShortBufferUnchanged(t *testing.T) {
	b := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	require.Equal(t, b, wire.XOR(b))
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	inner := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x2A, 'h', 'e', 'l', 'l', 'o'}
	wrapped := wire.Wrap(inner)
	got, ok := wire.Unwrap(wrapped)
	require.True(t, ok)
	require.Equal(t, inner, got)
}

func TestUnwrapRejectsCorruption(t *testing.T) {
	inner := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x2A, 'h', 'i'}
	wrapped := wire.Wrap(inner)
	wrapped[len(wrapped)-1] ^= 0xFF
	_, ok := wire.Unwrap(wrapped)
	require.False(t, ok)
}

func TestPacketEncodeDecodePSH(t *testing.T) {
	p := wire.Packet{
		Kind:        wire.KindPSH,
		ID:          0xDEADBEEF,
		Seq:         7,
		SingleTotal: 92,
		TotalCount:  100,
		Data:        []byte("fragment payload"),
	}
	buf, err := wire.Encode(p)
	require.NoError(t, err)
	got, err := wire.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestPacketEncodeDecodeREQ(t *testing.T) {
	p := wire.Packet{Kind: wire.KindREQ, ID: 1, Sequences: []uint16{0x10, 0x20, 0x8030, 0x8033}}
	buf, err := wire.Encode(p)
	require.NoError(t, err)
	got, err := wire.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, p.Sequences, got.Sequences)
}

func TestPacketEncodeDecodeFIN(t *testing.T) {
	p := wire.Packet{Kind: wire.KindFIN, ID: 42}
	buf, err := wire.Encode(p)
	require.NoError(t, err)
	require.Len(t, buf, 6)
	got, err := wire.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, wire.KindFIN, got.Kind)
	require.Equal(t, uint32(42), got.ID)
}

func TestPacketEncodeDecodeACK(t *testing.T) {
	p := wire.Packet{Kind: wire.KindACK, ID: 42, AckType: wire.KindFIN}
	buf, err := wire.Encode(p)
	require.NoError(t, err)
	got, err := wire.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, wire.KindFIN, got.AckType)
}

func TestPacketEncodeDecodeERR(t *testing.T) {
	p := wire.Packet{Kind: wire.KindERR, ID: 99, ErrCode: wire.ErrIDNotFound}
	buf, err := wire.Encode(p)
	require.NoError(t, err)
	got, err := wire.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, wire.ErrIDNotFound, got.ErrCode)
}

func TestDecodeUnknownKindDrops(t *testing.T) {
	buf := []byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0x01}
	_, err := wire.Decode(buf)
	require.Error(t, err)
}

func TestDecodeTooShortDrops(t *testing.T) {
	_, err := wire.Decode([]byte{0x01, 0x02})
	require.Error(t, err)
}

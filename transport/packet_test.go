package transport

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/limits"
)

func testAddress(t *testing.T, seed byte, gh string) address.Address {
	t.Helper()
	g, err := address.ParseGeohash(gh)
	require.NoError(t, err)
	return address.New(g, crypto.NodeID{0: seed, 15: seed}, 0)
}

func testPacket(t *testing.T) *Packet {
	t.Helper()
	return &Packet{
		Header: Header{
			Type:        PacketData,
			TTL:         limits.DefaultHopLimit,
			FlowLabel:   0xBEEF,
			Source:      testAddress(t, 1, "dp3w"),
			Destination: testAddress(t, 2, "u33d").WithFlags(address.Anycast),
			Sequence:    42,
			Timestamp:   time.UnixMilli(1_700_000_000_123),
		},
		Payload: []byte("hello mesh"),
	}
}

func TestPacketSerializeLayout(t *testing.T) {
	p := testPacket(t)

	data, err := p.Serialize()
	require.NoError(t, err)
	require.Len(t, data, HeaderSize+len(p.Payload))

	assert.Equal(t, byte(PacketData), data[0])
	assert.Equal(t, byte(limits.DefaultHopLimit), data[1])
	assert.Equal(t, uint16(0xBEEF), binary.BigEndian.Uint16(data[2:]))
	assert.Equal(t, uint16(len(p.Payload)), binary.BigEndian.Uint16(data[4:]))
	assert.Equal(t, p.Header.Source.AppendCompact(nil), data[6:27])
	assert.Equal(t, p.Header.Destination.AppendCompact(nil), data[27:48])
	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(data[48:]))
	assert.Equal(t, uint64(1_700_000_000_123), binary.BigEndian.Uint64(data[52:]))
	assert.Equal(t, p.Payload, data[HeaderSize:])

	again, err := p.Serialize()
	require.NoError(t, err)
	assert.Equal(t, data, again, "serialization must be deterministic")
}

func TestPacketRoundTrip(t *testing.T) {
	p := testPacket(t)
	p.Extensions = []Extension{
		NewQoS(QoS{Priority: 3, Reliable: true}),
		NewSourceRoute([]crypto.NodeID{{1}, {2}}),
	}

	data, err := p.Serialize()
	require.NoError(t, err)
	assert.Equal(t, len(data), p.Size())

	parsed, err := ParsePacketStrict(data)
	require.NoError(t, err)

	assert.Equal(t, p.Header.Type, parsed.Header.Type)
	assert.Equal(t, p.Header.TTL, parsed.Header.TTL)
	assert.Equal(t, p.Header.FlowLabel, parsed.Header.FlowLabel)
	assert.Equal(t, p.Header.Source, parsed.Header.Source)
	assert.Equal(t, p.Header.Destination, parsed.Header.Destination)
	assert.Equal(t, p.Header.Sequence, parsed.Header.Sequence)
	assert.True(t, p.Header.Timestamp.Equal(parsed.Header.Timestamp))
	assert.Equal(t, p.Payload, parsed.Payload)
	assert.Equal(t, p.Extensions, parsed.Extensions)
}

func TestParsePacketErrors(t *testing.T) {
	valid, err := testPacket(t).Serialize()
	require.NoError(t, err)

	withExt := testPacket(t)
	withExt.Extensions = []Extension{NewQoS(QoS{Priority: 1})}
	validExt, err := withExt.Serialize()
	require.NoError(t, err)

	unknownType := append([]byte(nil), valid...)
	unknownType[0] = 200

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncatedPacket},
		{"short header", valid[:HeaderSize-1], ErrTruncatedPacket},
		{"short payload", valid[:len(valid)-1], ErrTruncatedPacket},
		{"short extensions", validExt[:len(validExt)-1], ErrTruncatedPacket},
		{"unknown type", unknownType, ErrUnknownPacketType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.data)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParsePacketIgnoresTrailingBytes(t *testing.T) {
	p := testPacket(t)
	data, err := p.Serialize()
	require.NoError(t, err)

	parsed, err := ParsePacket(append(data, 0xAA, 0xBB))
	require.NoError(t, err)
	assert.Equal(t, p.Payload, parsed.Payload, "payload length is authoritative")
}

func TestUnknownExtensionHandling(t *testing.T) {
	p := testPacket(t)
	p.Extensions = []Extension{
		{Type: ExtensionType(99), Value: []byte{1, 2, 3}},
		NewRoutingHint(p.Header.Destination.Geohash),
	}
	data, err := p.Serialize()
	require.NoError(t, err)

	_, err = ParsePacketStrict(data)
	assert.ErrorIs(t, err, ErrUnknownExtensionType)

	parsed, err := ParsePacket(data)
	require.NoError(t, err)
	require.Len(t, parsed.Extensions, 2, "unknown extension skipped by length and preserved")
	assert.Equal(t, []byte{1, 2, 3}, parsed.Extensions[0].Value)

	hint, ok := parsed.Extension(ExtRoutingHint)
	require.True(t, ok)
	gh, err := hint.RoutingHint()
	require.NoError(t, err)
	assert.Equal(t, p.Header.Destination.Geohash, gh)
}

func TestSerializeLimits(t *testing.T) {
	p := testPacket(t)
	p.Payload = make([]byte, limits.MaxPayloadSize+1)
	_, err := p.Serialize()
	assert.ErrorIs(t, err, limits.ErrPayloadTooLarge)

	p = testPacket(t)
	p.Extensions = []Extension{{Type: ExtEncryption, Value: make([]byte, limits.MaxExtensionsSize)}}
	_, err = p.Serialize()
	assert.ErrorIs(t, err, ErrExtensionsTooLarge)

	p = testPacket(t)
	p.Header.Type = PacketType(0)
	_, err = p.Serialize()
	assert.ErrorIs(t, err, ErrUnknownPacketType)
}

func TestDecrementTTL(t *testing.T) {
	p := testPacket(t)
	p.Header.TTL = 5

	require.NoError(t, p.DecrementTTL())
	assert.Equal(t, uint8(4), p.Header.TTL)

	data, err := p.Serialize()
	require.NoError(t, err)
	downstream, err := ParsePacket(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), downstream.Header.TTL)

	p.Header.TTL = 0
	assert.ErrorIs(t, p.DecrementTTL(), ErrTTLExpired)
	assert.Equal(t, uint8(0), p.Header.TTL)
}

func TestClone(t *testing.T) {
	p := testPacket(t)
	p.Extensions = []Extension{NewQoS(QoS{Priority: 2})}

	c := p.Clone()
	c.Payload[0] = 'X'
	c.Extensions[0].Value[0] = 9
	c.Header.TTL = 1

	assert.Equal(t, byte('h'), p.Payload[0])
	assert.Equal(t, byte(2), p.Extensions[0].Value[0])
	assert.Equal(t, uint8(limits.DefaultHopLimit), p.Header.TTL)
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "ROUTE_REQUEST", PacketRouteRequest.String())
	assert.Equal(t, "UNKNOWN(99)", PacketType(99).String())
	assert.False(t, PacketType(0).Known())
}

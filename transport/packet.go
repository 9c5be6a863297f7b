// Package transport implements the mesh packet codec and the delivery seam
// between the node and the links it runs over.
//
// A packet is a fixed 64-byte header, a payload whose length the header
// declares, and an optional list of typed extensions:
//
//	packet := &transport.Packet{
//	    Header: transport.Header{
//	        Type:        transport.PacketData,
//	        TTL:         limits.DefaultHopLimit,
//	        Source:      self,
//	        Destination: dest,
//	    },
//	    Payload: []byte("hello"),
//	}
//
//	data, err := packet.Serialize()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = tr.Send(packet, endpoint)
package transport

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/limits"
)

// HeaderSize is the fixed size of the packet header in bytes.
const HeaderSize = 64

// Header field offsets.
const (
	offType        = 0
	offTTL         = 1
	offFlowLabel   = 2
	offPayloadLen  = 4
	offSource      = 6
	offDestination = offSource + address.CompactSize
	offSequence    = offDestination + address.CompactSize
	offTimestamp   = offSequence + 4
	offExtLen      = offTimestamp + 8
	offExtCount    = offExtLen + 2
	offReserved    = offExtCount + 1
)

// PacketType identifies the type of a mesh packet.
type PacketType byte

const (
	PacketData PacketType = iota + 1
	PacketRouteRequest
	PacketRouteReply
	PacketRouteError
	PacketHeartbeat
	PacketAnnounce
	PacketDHTStore
)

// String returns the protocol name of the packet type.
func (t PacketType) String() string {
	switch t {
	case PacketData:
		return "DATA"
	case PacketRouteRequest:
		return "ROUTE_REQUEST"
	case PacketRouteReply:
		return "ROUTE_REPLY"
	case PacketRouteError:
		return "ROUTE_ERROR"
	case PacketHeartbeat:
		return "HEARTBEAT"
	case PacketAnnounce:
		return "ANNOUNCE"
	case PacketDHTStore:
		return "DHT_STORE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Known reports whether the type code is recognized.
func (t PacketType) Known() bool {
	return t >= PacketData && t <= PacketDHTStore
}

// Header is the fixed-size packet header. PayloadLength and the extension
// fields are derived from the packet on serialization.
type Header struct {
	Type        PacketType
	TTL         uint8
	FlowLabel   uint16
	Source      address.Address
	Destination address.Address
	Sequence    uint32
	Timestamp   time.Time
}

// Packet is a mesh packet: header, payload, and extensions.
type Packet struct {
	Header     Header
	Payload    []byte
	Extensions []Extension
}

// Serialize converts a packet to its wire form. The encoding is
// deterministic: [header(64)][payload][extensions].
func (p *Packet) Serialize() ([]byte, error) {
	if !p.Header.Type.Known() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacketType, byte(p.Header.Type))
	}
	if len(p.Payload) > limits.MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes", limits.ErrPayloadTooLarge, len(p.Payload))
	}
	if len(p.Extensions) > limits.MaxExtensions {
		return nil, fmt.Errorf("%w: %d extensions", ErrExtensionsTooLarge, len(p.Extensions))
	}

	extLen := 0
	for _, ext := range p.Extensions {
		if len(ext.Value) > 0xFFFF {
			return nil, fmt.Errorf("%w: extension %s value %d bytes", ErrExtensionsTooLarge, ext.Type, len(ext.Value))
		}
		extLen += extensionHeaderSize + len(ext.Value)
	}
	if extLen > limits.MaxExtensionsSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrExtensionsTooLarge, extLen)
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(p.Payload)+extLen)
	h := &p.Header
	buf[offType] = byte(h.Type)
	buf[offTTL] = h.TTL
	binary.BigEndian.PutUint16(buf[offFlowLabel:], h.FlowLabel)
	binary.BigEndian.PutUint16(buf[offPayloadLen:], uint16(len(p.Payload)))
	copy(buf[offSource:], h.Source.AppendCompact(nil))
	copy(buf[offDestination:], h.Destination.AppendCompact(nil))
	binary.BigEndian.PutUint32(buf[offSequence:], h.Sequence)
	binary.BigEndian.PutUint64(buf[offTimestamp:], timestampMillis(h.Timestamp))
	binary.BigEndian.PutUint16(buf[offExtLen:], uint16(extLen))
	buf[offExtCount] = byte(len(p.Extensions))
	buf[offReserved] = 0

	buf = append(buf, p.Payload...)
	for _, ext := range p.Extensions {
		buf = ext.appendTo(buf)
	}

	return buf, nil
}

// ParsePacket converts wire bytes to a Packet. Unknown extension types are
// skipped by their declared length and preserved opaquely so relays
// forward them unchanged.
func ParsePacket(data []byte) (*Packet, error) {
	return parsePacket(data, false)
}

// ParsePacketStrict is like ParsePacket but fails with
// ErrUnknownExtensionType on any unrecognized extension.
func ParsePacketStrict(data []byte) (*Packet, error) {
	return parsePacket(data, true)
}

func parsePacket(data []byte, strict bool) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncatedPacket, len(data), HeaderSize)
	}

	pt := PacketType(data[offType])
	if !pt.Known() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacketType, data[offType])
	}

	payloadLen := int(binary.BigEndian.Uint16(data[offPayloadLen:]))
	extLen := int(binary.BigEndian.Uint16(data[offExtLen:]))
	extCount := int(data[offExtCount])

	if len(data) < HeaderSize+payloadLen {
		return nil, fmt.Errorf("%w: payload declares %d bytes, %d available",
			ErrTruncatedPacket, payloadLen, len(data)-HeaderSize)
	}
	if len(data) < HeaderSize+payloadLen+extLen {
		return nil, fmt.Errorf("%w: extensions declare %d bytes, %d available",
			ErrTruncatedPacket, extLen, len(data)-HeaderSize-payloadLen)
	}

	// Compact addresses cannot fail on a full header.
	src, _ := address.ParseCompact(data[offSource:])
	dst, _ := address.ParseCompact(data[offDestination:])

	p := &Packet{
		Header: Header{
			Type:        pt,
			TTL:         data[offTTL],
			FlowLabel:   binary.BigEndian.Uint16(data[offFlowLabel:]),
			Source:      src,
			Destination: dst,
			Sequence:    binary.BigEndian.Uint32(data[offSequence:]),
			Timestamp:   millisTimestamp(binary.BigEndian.Uint64(data[offTimestamp:])),
		},
		Payload: make([]byte, payloadLen),
	}
	copy(p.Payload, data[HeaderSize:HeaderSize+payloadLen])

	if extCount > 0 || extLen > 0 {
		exts, err := parseExtensions(data[HeaderSize+payloadLen:HeaderSize+payloadLen+extLen], extCount, strict)
		if err != nil {
			return nil, err
		}
		p.Extensions = exts
	}

	return p, nil
}

// Size returns the length of the serialized packet.
func (p *Packet) Size() int {
	size := HeaderSize + len(p.Payload)
	for _, ext := range p.Extensions {
		size += extensionHeaderSize + len(ext.Value)
	}
	return size
}

// DecrementTTL consumes one hop. It returns ErrTTLExpired, leaving the TTL
// untouched, when the packet has no hops left and must be dropped.
func (p *Packet) DecrementTTL() error {
	if p.Header.TTL == 0 {
		return ErrTTLExpired
	}
	p.Header.TTL--
	return nil
}

// Clone returns a deep copy of the packet, used when one payload is sent
// over several paths or relayed.
func (p *Packet) Clone() *Packet {
	c := &Packet{Header: p.Header}
	if p.Payload != nil {
		c.Payload = append([]byte(nil), p.Payload...)
	}
	if p.Extensions != nil {
		c.Extensions = make([]Extension, len(p.Extensions))
		for i, ext := range p.Extensions {
			c.Extensions[i] = Extension{Type: ext.Type, Value: append([]byte(nil), ext.Value...)}
		}
	}
	return c
}

// Extension returns the first extension of type t.
func (p *Packet) Extension(t ExtensionType) (Extension, bool) {
	for _, ext := range p.Extensions {
		if ext.Type == t {
			return ext, true
		}
	}
	return Extension{}, false
}

func timestampMillis(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixMilli())
}

func millisTimestamp(ms uint64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}

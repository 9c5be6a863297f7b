package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
)

// Extension wire format, repeated after the payload:
//
//	[type(1)][length(2)][value(length)]
//
// Readers skip extensions they do not understand by their declared length,
// so new types can be introduced without breaking older nodes.
const extensionHeaderSize = 3

// ExtensionType identifies the type of a packet extension.
type ExtensionType byte

const (
	ExtRoutingHint ExtensionType = iota + 1
	ExtFragmentation
	ExtEncryption
	ExtQoS
	ExtSourceRoute
)

// String returns the name of the extension type.
func (t ExtensionType) String() string {
	switch t {
	case ExtRoutingHint:
		return "routing-hint"
	case ExtFragmentation:
		return "fragmentation"
	case ExtEncryption:
		return "encryption"
	case ExtQoS:
		return "qos"
	case ExtSourceRoute:
		return "source-route"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Known reports whether the extension type is recognized.
func (t ExtensionType) Known() bool {
	return t >= ExtRoutingHint && t <= ExtSourceRoute
}

// Extension is one typed, length-prefixed packet extension.
type Extension struct {
	Type  ExtensionType
	Value []byte
}

func (e Extension) appendTo(dst []byte) []byte {
	dst = append(dst, byte(e.Type))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(e.Value)))
	return append(dst, e.Value...)
}

func parseExtensions(data []byte, count int, strict bool) ([]Extension, error) {
	exts := make([]Extension, 0, count)
	offset := 0
	for i := 0; i < count; i++ {
		if len(data)-offset < extensionHeaderSize {
			return nil, fmt.Errorf("%w: extension %d header", ErrTruncatedPacket, i)
		}
		t := ExtensionType(data[offset])
		n := int(binary.BigEndian.Uint16(data[offset+1:]))
		offset += extensionHeaderSize
		if len(data)-offset < n {
			return nil, fmt.Errorf("%w: extension %d declares %d bytes, %d available",
				ErrTruncatedPacket, i, n, len(data)-offset)
		}
		if strict && !t.Known() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownExtensionType, byte(t))
		}
		exts = append(exts, Extension{Type: t, Value: append([]byte(nil), data[offset:offset+n]...)})
		offset += n
	}
	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d trailing extension bytes", ErrMalformedExtension, len(data)-offset)
	}
	return exts, nil
}

// NewRoutingHint carries the geohash cell the sender believes the
// destination lives in.
func NewRoutingHint(gh address.Geohash) Extension {
	return Extension{Type: ExtRoutingHint, Value: append([]byte(nil), gh[:]...)}
}

// RoutingHint decodes a routing hint extension.
func (e Extension) RoutingHint() (address.Geohash, error) {
	var gh address.Geohash
	if e.Type != ExtRoutingHint || len(e.Value) != address.GeohashLength {
		return gh, fmt.Errorf("%w: routing hint", ErrMalformedExtension)
	}
	copy(gh[:], e.Value)
	if !gh.Valid() {
		return address.Geohash{}, fmt.Errorf("%w: routing hint geohash", ErrMalformedExtension)
	}
	return gh, nil
}

// Fragment describes one fragment of a payload split across packets.
type Fragment struct {
	ID    uint32
	Index uint16
	Count uint16
}

// NewFragmentation encodes fragment metadata.
func NewFragmentation(f Fragment) Extension {
	v := make([]byte, 8)
	binary.BigEndian.PutUint32(v[0:], f.ID)
	binary.BigEndian.PutUint16(v[4:], f.Index)
	binary.BigEndian.PutUint16(v[6:], f.Count)
	return Extension{Type: ExtFragmentation, Value: v}
}

// Fragment decodes a fragmentation extension.
func (e Extension) Fragment() (Fragment, error) {
	if e.Type != ExtFragmentation || len(e.Value) != 8 {
		return Fragment{}, fmt.Errorf("%w: fragmentation", ErrMalformedExtension)
	}
	f := Fragment{
		ID:    binary.BigEndian.Uint32(e.Value[0:]),
		Index: binary.BigEndian.Uint16(e.Value[4:]),
		Count: binary.BigEndian.Uint16(e.Value[6:]),
	}
	if f.Count == 0 || f.Index >= f.Count {
		return Fragment{}, fmt.Errorf("%w: fragment %d of %d", ErrMalformedExtension, f.Index, f.Count)
	}
	return f, nil
}

// EncryptionInfo is the metadata an end-to-end encrypted payload needs;
// the mesh itself never decrypts.
type EncryptionInfo struct {
	Algorithm uint8
	Nonce     []byte
}

// NewEncryption encodes encryption metadata.
func NewEncryption(info EncryptionInfo) Extension {
	v := make([]byte, 0, 1+len(info.Nonce))
	v = append(v, info.Algorithm)
	return Extension{Type: ExtEncryption, Value: append(v, info.Nonce...)}
}

// Encryption decodes an encryption metadata extension.
func (e Extension) Encryption() (EncryptionInfo, error) {
	if e.Type != ExtEncryption || len(e.Value) < 1 {
		return EncryptionInfo{}, fmt.Errorf("%w: encryption", ErrMalformedExtension)
	}
	return EncryptionInfo{
		Algorithm: e.Value[0],
		Nonce:     append([]byte(nil), e.Value[1:]...),
	}, nil
}

// QoS carries delivery preferences.
type QoS struct {
	Priority uint8
	Reliable bool
}

// NewQoS encodes a QoS extension.
func NewQoS(q QoS) Extension {
	var reliable byte
	if q.Reliable {
		reliable = 1
	}
	return Extension{Type: ExtQoS, Value: []byte{q.Priority, reliable}}
}

// QoS decodes a QoS extension.
func (e Extension) QoS() (QoS, error) {
	if e.Type != ExtQoS || len(e.Value) != 2 {
		return QoS{}, fmt.Errorf("%w: qos", ErrMalformedExtension)
	}
	return QoS{Priority: e.Value[0], Reliable: e.Value[1] != 0}, nil
}

// NewSourceRoute encodes an explicit hop list.
func NewSourceRoute(hops []crypto.NodeID) Extension {
	v := make([]byte, 0, len(hops)*crypto.NodeIDSize)
	for _, h := range hops {
		v = append(v, h[:]...)
	}
	return Extension{Type: ExtSourceRoute, Value: v}
}

// SourceRoute decodes a source route extension.
func (e Extension) SourceRoute() ([]crypto.NodeID, error) {
	if e.Type != ExtSourceRoute || len(e.Value)%crypto.NodeIDSize != 0 {
		return nil, fmt.Errorf("%w: source route", ErrMalformedExtension)
	}
	hops := make([]crypto.NodeID, len(e.Value)/crypto.NodeIDSize)
	for i := range hops {
		copy(hops[i][:], e.Value[i*crypto.NodeIDSize:])
	}
	return hops, nil
}

package address

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opd-ai/geomesh/crypto"
)

// ProtocolVersion is the only address version this implementation issues
// and accepts. The textual scheme is "ipv" followed by the version.
const ProtocolVersion uint8 = 7

const (
	// Size is the length of the binary address form (256 bits).
	Size = 32

	// Bits is the number of bits in an address; host routes cover all of them.
	Bits = Size * 8

	// CompactSize is the length of the compact form carried in packet headers:
	// version/kind, geohash, and node id. Port and checksum are omitted.
	CompactSize = 1 + GeohashLength + crypto.NodeIDSize
)

var (
	// ErrMalformedAddress is returned when an address cannot be decoded.
	ErrMalformedAddress = errors.New("malformed address")

	// ErrChecksumMismatch is returned when the stored checksum does not match
	// the address fields.
	ErrChecksumMismatch = errors.New("address checksum mismatch")

	// ErrUnsupportedVersion is returned for addresses of an unknown version.
	ErrUnsupportedVersion = errors.New("unsupported address version")

	// ErrReservedFlags is returned for addresses using a reserved kind.
	ErrReservedFlags = errors.New("reserved address flags")
)

// Flags is the 4-bit address kind.
type Flags uint8

const (
	Unicast Flags = iota
	Multicast
	Anycast
	Broadcast
)

// String returns the lowercase name of the kind.
func (f Flags) String() string {
	switch f {
	case Unicast:
		return "unicast"
	case Multicast:
		return "multicast"
	case Anycast:
		return "anycast"
	case Broadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(f))
	}
}

// Address is a mesh node address. It is a value type: compare addresses
// with Equal or by Key, never mutate one after creation.
type Address struct {
	Version  uint8
	Flags    Flags
	Geohash  Geohash
	NodeID   crypto.NodeID
	Checksum uint16
	Port     uint16
}

// Key is the identity part of an address (geohash and node id). It is
// comparable and suitable as a map key.
type Key [GeohashLength + crypto.NodeIDSize]byte

// String returns the geohash and node id joined by a colon.
func (k Key) String() string {
	var id crypto.NodeID
	copy(id[:], k[GeohashLength:])
	return string(k[:GeohashLength]) + ":" + id.String()
}

// Generate builds the address owned by kp at the given location.
func Generate(kp *crypto.KeyPair, loc Location) (Address, error) {
	if kp == nil {
		return Address{}, errors.New("nil key pair")
	}

	gh, err := loc.Geohash()
	if err != nil {
		return Address{}, err
	}

	return New(gh, kp.NodeID(), 0), nil
}

// New assembles a unicast address of the current version and computes its checksum.
func New(gh Geohash, id crypto.NodeID, port uint16) Address {
	a := Address{
		Version: ProtocolVersion,
		Flags:   Unicast,
		Geohash: gh,
		NodeID:  id,
		Port:    port,
	}
	a.Checksum = a.computeChecksum()
	return a
}

// WithPort returns a copy of the address carrying port, with the checksum updated.
func (a Address) WithPort(port uint16) Address {
	a.Port = port
	a.Checksum = a.computeChecksum()
	return a
}

// WithFlags returns a copy of the address using the given kind, with the checksum updated.
func (a Address) WithFlags(f Flags) Address {
	a.Flags = f
	a.Checksum = a.computeChecksum()
	return a
}

// Parse decodes the textual form proto:geohash:nodeIdHex[:port].
// The checksum is computed from the decoded fields; call Validate to
// check the version.
func Parse(text string) (Address, error) {
	parts := strings.Split(text, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return Address{}, fmt.Errorf("%w: %q: expected proto:geohash:nodeid[:port]", ErrMalformedAddress, text)
	}

	version, err := parseScheme(parts[0])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrMalformedAddress, text, err)
	}

	gh, err := ParseGeohash(parts[1])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrMalformedAddress, text, err)
	}

	id, err := crypto.ParseNodeID(strings.ToLower(parts[2]))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrMalformedAddress, text, err)
	}

	var port uint16
	if len(parts) == 4 {
		p, err := strconv.ParseUint(parts[3], 10, 16)
		if err != nil || p == 0 {
			return Address{}, fmt.Errorf("%w: %q: invalid port %q", ErrMalformedAddress, text, parts[3])
		}
		port = uint16(p)
	}

	a := Address{
		Version: version,
		Flags:   Unicast,
		Geohash: gh,
		NodeID:  id,
		Port:    port,
	}
	a.Checksum = a.computeChecksum()
	return a, nil
}

// MustParse is like Parse but panics on error. It is intended for tests
// and constants.
func MustParse(text string) Address {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

func parseScheme(s string) (uint8, error) {
	if !strings.HasPrefix(s, "ipv") {
		return 0, fmt.Errorf("unknown scheme %q", s)
	}
	v, err := strconv.ParseUint(s[3:], 10, 4)
	if err != nil {
		return 0, fmt.Errorf("unknown scheme %q", s)
	}
	return uint8(v), nil
}

// String returns the textual form of the address. The port is omitted
// when zero.
func (a Address) String() string {
	s := fmt.Sprintf("ipv%d:%s:%s", a.Version, a.Geohash, a.NodeID)
	if a.Port != 0 {
		s += ":" + strconv.Itoa(int(a.Port))
	}
	return s
}

// Validate checks the version, the kind, and the checksum.
func (a Address) Validate() error {
	if a.Version != ProtocolVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, a.Version)
	}
	if a.Flags > Broadcast {
		return fmt.Errorf("%w: %d", ErrReservedFlags, a.Flags)
	}
	if !a.Geohash.Valid() {
		return fmt.Errorf("%w: invalid geohash %q", ErrMalformedAddress, a.Geohash.String())
	}
	if a.Checksum != a.computeChecksum() {
		return ErrChecksumMismatch
	}
	return nil
}

// IsValid reports whether Validate succeeds.
func (a Address) IsValid() bool {
	return a.Validate() == nil
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Equal compares geohash and node id. Port, kind, and version do not
// distinguish identities.
func (a Address) Equal(b Address) bool {
	return a.Geohash == b.Geohash && a.NodeID == b.NodeID
}

// Key returns the identity part of the address.
func (a Address) Key() Key {
	var k Key
	copy(k[:GeohashLength], a.Geohash[:])
	copy(k[GeohashLength:], a.NodeID[:])
	return k
}

// ClaimedBy reports whether the address's node id is derived from publicKey.
func (a Address) ClaimedBy(publicKey [crypto.KeySize]byte) bool {
	return a.NodeID == crypto.NodeIDFromPublicKey(publicKey)
}

func (a Address) computeChecksum() uint16 {
	var buf [1 + 1 + GeohashLength + crypto.NodeIDSize + 2]byte
	buf[0] = a.Version
	buf[1] = uint8(a.Flags)
	copy(buf[2:], a.Geohash[:])
	copy(buf[2+GeohashLength:], a.NodeID[:])
	binary.BigEndian.PutUint16(buf[2+GeohashLength+crypto.NodeIDSize:], a.Port)
	return crc16(buf[:])
}

// MarshalBinary encodes the 32-byte binary form:
// [version<<4|flags][geohash(4)][node id(16)][checksum(2)][port(2)][reserved(7)].
func (a Address) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	buf[0] = a.Version<<4 | uint8(a.Flags)&0x0F
	copy(buf[1:5], a.Geohash[:])
	copy(buf[5:21], a.NodeID[:])
	binary.BigEndian.PutUint16(buf[21:23], a.Checksum)
	binary.BigEndian.PutUint16(buf[23:25], a.Port)
	return buf, nil
}

// UnmarshalBinary decodes the 32-byte binary form. The stored checksum is
// kept as-is; call Validate to check it.
func (a *Address) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("%w: binary address must be %d bytes, got %d", ErrMalformedAddress, Size, len(data))
	}

	var out Address
	out.Version = data[0] >> 4
	out.Flags = Flags(data[0] & 0x0F)
	copy(out.Geohash[:], data[1:5])
	copy(out.NodeID[:], data[5:21])
	out.Checksum = binary.BigEndian.Uint16(data[21:23])
	out.Port = binary.BigEndian.Uint16(data[23:25])
	*a = out
	return nil
}

// AppendCompact appends the 21-byte compact form to dst.
func (a Address) AppendCompact(dst []byte) []byte {
	dst = append(dst, a.Version<<4|uint8(a.Flags)&0x0F)
	dst = append(dst, a.Geohash[:]...)
	return append(dst, a.NodeID[:]...)
}

// ParseCompact decodes the compact form. The port is zero and the checksum
// is recomputed from the decoded fields.
func ParseCompact(data []byte) (Address, error) {
	if len(data) < CompactSize {
		return Address{}, fmt.Errorf("%w: compact address needs %d bytes, got %d", ErrMalformedAddress, CompactSize, len(data))
	}

	a := Address{
		Version: data[0] >> 4,
		Flags:   Flags(data[0] & 0x0F),
	}
	copy(a.Geohash[:], data[1:1+GeohashLength])
	copy(a.NodeID[:], data[1+GeohashLength:CompactSize])
	a.Checksum = a.computeChecksum()
	return a, nil
}

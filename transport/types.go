package transport

import (
	"fmt"
	"sort"
	"strings"
)

// PacketHandler is a function that processes incoming packets.
type PacketHandler func(packet *Packet, from Endpoint) error

// Transport defines the interface for the links a node runs over.
// This abstraction allows different link implementations to be used
// interchangeably; the mesh core only ever sees packets and endpoints.
type Transport interface {
	// Send delivers a packet to the specified endpoint.
	Send(packet *Packet, to Endpoint) error

	// Close shuts down the transport.
	Close() error

	// LocalEndpoints returns the endpoints the transport is reachable on.
	LocalEndpoints() []Endpoint

	// RegisterHandler registers a handler for a specific packet type.
	RegisterHandler(packetType PacketType, handler PacketHandler)
}

// EndpointKind names the link type of an endpoint.
type EndpointKind string

const (
	EndpointTCP    EndpointKind = "tcp"
	EndpointUDP    EndpointKind = "udp"
	EndpointWebRTC EndpointKind = "webrtc"
	EndpointMemory EndpointKind = "memory"
)

// code returns the one-byte wire code of the kind.
func (k EndpointKind) code() byte {
	switch k {
	case EndpointTCP:
		return 1
	case EndpointUDP:
		return 2
	case EndpointWebRTC:
		return 3
	case EndpointMemory:
		return 4
	default:
		return 0
	}
}

func kindFromCode(c byte) (EndpointKind, bool) {
	switch c {
	case 1:
		return EndpointTCP, true
	case 2:
		return EndpointUDP, true
	case 3:
		return EndpointWebRTC, true
	case 4:
		return EndpointMemory, true
	default:
		return "", false
	}
}

// Endpoint is one way of reaching a peer. Lower Priority is preferred.
type Endpoint struct {
	Kind     EndpointKind
	Address  string
	Priority uint8
}

// String returns kind://address.
func (e Endpoint) String() string {
	return string(e.Kind) + "://" + e.Address
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Kind == "" && e.Address == ""
}

// ParseEndpoint parses kind://address.
func ParseEndpoint(s string) (Endpoint, error) {
	kind, addr, ok := strings.Cut(s, "://")
	if !ok || addr == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: expected kind://address", s)
	}
	ep := Endpoint{Kind: EndpointKind(strings.ToLower(kind)), Address: addr}
	if ep.Kind.code() == 0 {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedEndpoint, kind)
	}
	return ep, nil
}

// SortEndpoints orders endpoints by priority, keeping the given order for ties.
func SortEndpoints(eps []Endpoint) {
	sort.SliceStable(eps, func(i, j int) bool { return eps[i].Priority < eps[j].Priority })
}

// AppendEndpoints appends the wire encoding of an endpoint list:
// [count(1)] then per endpoint [kind(1)][priority(1)][len(1)][address].
func AppendEndpoints(dst []byte, eps []Endpoint) ([]byte, error) {
	if len(eps) > 255 {
		return nil, fmt.Errorf("too many endpoints: %d", len(eps))
	}
	dst = append(dst, byte(len(eps)))
	for _, ep := range eps {
		if len(ep.Address) > 255 {
			return nil, fmt.Errorf("endpoint address too long: %d bytes", len(ep.Address))
		}
		dst = append(dst, ep.Kind.code(), ep.Priority, byte(len(ep.Address)))
		dst = append(dst, ep.Address...)
	}
	return dst, nil
}

// ParseEndpoints decodes an endpoint list and returns the remaining bytes.
// Endpoints of unknown kinds are skipped.
func ParseEndpoints(data []byte) ([]Endpoint, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("%w: endpoint count", ErrTruncatedPacket)
	}
	count := int(data[0])
	data = data[1:]

	eps := make([]Endpoint, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 3 {
			return nil, nil, fmt.Errorf("%w: endpoint %d", ErrTruncatedPacket, i)
		}
		n := int(data[2])
		if len(data) < 3+n {
			return nil, nil, fmt.Errorf("%w: endpoint %d address", ErrTruncatedPacket, i)
		}
		if kind, ok := kindFromCode(data[0]); ok {
			eps = append(eps, Endpoint{Kind: kind, Priority: data[1], Address: string(data[3 : 3+n])})
		}
		data = data[3+n:]
	}
	return eps, data, nil
}

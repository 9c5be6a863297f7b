package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedPacket indicates fewer bytes than the header declares.
	ErrTruncatedPacket = errors.New("truncated packet")

	// ErrUnknownPacketType indicates an unrecognized packet type code.
	ErrUnknownPacketType = errors.New("unknown packet type")

	// ErrUnknownExtensionType indicates an unrecognized extension in strict parsing.
	ErrUnknownExtensionType = errors.New("unknown extension type")

	// ErrMalformedExtension indicates an extension whose value does not match its type.
	ErrMalformedExtension = errors.New("malformed extension")

	// ErrExtensionsTooLarge indicates the extension list exceeds the encodable size.
	ErrExtensionsTooLarge = errors.New("extensions too large")

	// ErrTTLExpired indicates a packet with no hops left.
	ErrTTLExpired = errors.New("ttl expired")

	// ErrUnreachable indicates no transport listens on the endpoint.
	ErrUnreachable = errors.New("endpoint unreachable")

	// ErrQueueFull indicates the receiving side cannot accept more packets.
	ErrQueueFull = errors.New("receive queue full")

	// ErrTransportClosed indicates the transport has been closed.
	ErrTransportClosed = errors.New("transport closed")

	// ErrUnsupportedEndpoint indicates an endpoint kind the transport cannot serve.
	ErrUnsupportedEndpoint = errors.New("unsupported endpoint kind")
)

// TransportError represents a delivery failure at the link layer.
type TransportError struct {
	Op       string   // operation that caused the error
	Endpoint Endpoint // endpoint if relevant
	Err      error    // underlying error
}

func (e *TransportError) Error() string {
	if e.Endpoint.Address != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// newTransportError creates a new TransportError
func newTransportError(op string, ep Endpoint, err error) *TransportError {
	return &TransportError{
		Op:       op,
		Endpoint: ep,
		Err:      err,
	}
}

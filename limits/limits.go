// Package limits provides centralized size and hop limits for the mesh
// protocol. This ensures consistent validation across the codec, the
// router, the DHT, and the node.
package limits

import (
	"errors"
	"fmt"
)

const (
	// DefaultHopLimit is the network-wide initial TTL of originated packets.
	// Route learning estimates hop counts from the TTL a packet has used up.
	DefaultHopLimit = 64

	// MaxPayloadSize is the largest payload the 16-bit payload length field can describe.
	MaxPayloadSize = 65535

	// MaxExtensionsSize bounds the total encoded size of a packet's extensions.
	MaxExtensionsSize = 4096

	// MaxExtensions bounds the number of extensions a packet may carry.
	MaxExtensions = 255

	// MaxDHTValueSize bounds the value of a single DHT entry.
	MaxDHTValueSize = 16 * 1024

	// MaxDHTKeySize bounds the key of a single DHT entry.
	MaxDHTKeySize = 256
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds the maximum size
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidatePayload validates an application payload against MaxPayloadSize.
// Returns an error with context if the payload is empty or exceeds the limit.
func ValidatePayload(payload []byte) error {
	return ValidateSize(payload, MaxPayloadSize)
}

// ValidateSize validates data against the specified maximum size.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrPayloadEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(data), maxSize)
	}
	return nil
}

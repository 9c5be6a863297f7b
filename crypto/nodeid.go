package crypto

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// NodeIDSize is the size of a node identifier in bytes (128 bits).
const NodeIDSize = 16

// NodeID is the 128-bit identifier of a node: the BLAKE2b-256 hash of its
// public key truncated to 16 bytes.
type NodeID [NodeIDSize]byte

// NodeIDFromPublicKey derives the node identifier owned by publicKey.
func NodeIDFromPublicKey(publicKey [KeySize]byte) NodeID {
	sum := blake2b.Sum256(publicKey[:])

	var id NodeID
	copy(id[:], sum[:NodeIDSize])
	return id
}

// ParseNodeID parses a 32-character hexadecimal node identifier.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	if len(s) != 2*NodeIDSize {
		return id, fmt.Errorf("node id must be %d hex characters, got %d", 2*NodeIDSize, len(s))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid node id: %w", err)
	}

	copy(id[:], b)
	return id, nil
}

// String returns the lowercase hexadecimal form of the identifier.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identifier is unset.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// NodeID returns the identifier derived from the key pair's public key.
func (kp *KeyPair) NodeID() NodeID {
	return NodeIDFromPublicKey(kp.Public)
}

// HashNodeID maps arbitrary data, such as a DHT key, into the node id
// space.
func HashNodeID(data []byte) NodeID {
	sum := blake2b.Sum256(data)

	var id NodeID
	copy(id[:], sum[:NodeIDSize])
	return id
}

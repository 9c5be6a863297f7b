// Package crypto implements the identity primitives of the mesh.
//
// This package handles key generation, key derivation, node identifier
// derivation, and Ed25519 signatures.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Node ID:", crypto.NodeIDFromPublicKey(keys.Public))
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Algorithm tags the signature scheme a key pair belongs to.
type Algorithm string

// AlgorithmEd25519 is the only algorithm issued by this package.
const AlgorithmEd25519 Algorithm = "ed25519"

// KeySize is the size of public keys and private seeds in bytes.
const KeySize = 32

var (
	// ErrZeroKey is returned when a secret key consists only of zero bytes.
	ErrZeroKey = errors.New("invalid secret key: all zeros")

	// ErrEmptyKeyMaterial is returned when key derivation gets no input material.
	ErrEmptyKeyMaterial = errors.New("empty key material")
)

// KeyPair is a node's signing identity. Private holds the 32-byte Ed25519
// seed and never leaves the node; Public is shared freely.
type KeyPair struct {
	Public    [KeySize]byte
	Private   [KeySize]byte
	Algorithm Algorithm
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	logger := NewLogger("GenerateKeyPair")
	logger.Entry("generating key pair")
	defer logger.Exit()

	var seed [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		logger.WithError(err, "entropy", "read_seed").Error("Failed to read random seed")
		return nil, fmt.Errorf("read random seed: %w", err)
	}

	return FromSecretKey(seed)
}

// FromSecretKey rebuilds a key pair from an existing private seed.
func FromSecretKey(secretKey [KeySize]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, ErrZeroKey
	}

	priv := ed25519.NewKeyFromSeed(secretKey[:])

	kp := &KeyPair{
		Private:   secretKey,
		Algorithm: AlgorithmEd25519,
	}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))

	return kp, nil
}

// DeriveKeyPair deterministically derives a key pair from operator-supplied
// key material. The info string separates independent identities derived
// from the same material.
func DeriveKeyPair(material []byte, info string) (*KeyPair, error) {
	if len(material) == 0 {
		return nil, ErrEmptyKeyMaterial
	}

	var seed [KeySize]byte
	kdf := hkdf.New(sha256.New, material, nil, []byte("geomesh identity "+info))
	if _, err := io.ReadFull(kdf, seed[:]); err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}

	NewLogger("DeriveKeyPair").
		WithField("info", info).
		WithFields(SecureFieldHash(material, "material")).
		Debug("Derived key pair seed")

	return FromSecretKey(seed)
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}

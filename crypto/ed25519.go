package crypto

import (
	"crypto/ed25519"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature represents an Ed25519 signature.
type Signature [SignatureSize]byte

// ErrEmptyMessage is returned when signing or verifying an empty message.
var ErrEmptyMessage = errors.New("empty message")

// Sign creates an Ed25519 signature for a message using the private seed.
func Sign(message []byte, privateKey [KeySize]byte) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, ErrEmptyMessage
	}

	// Ed25519 private keys are 64 bytes (32 bytes seed + 32 bytes public key)
	edPrivateKey := ed25519.NewKeyFromSeed(privateKey[:])

	var signature Signature
	copy(signature[:], ed25519.Sign(edPrivateKey, message))

	return signature, nil
}

// Verify checks if a signature is valid for a message and public key.
func Verify(message []byte, signature Signature, publicKey [KeySize]byte) (bool, error) {
	if len(message) == 0 {
		return false, ErrEmptyMessage
	}

	return ed25519.Verify(publicKey[:], message, signature[:]), nil
}

// Sign signs message with the key pair's private seed.
func (kp *KeyPair) Sign(message []byte) (Signature, error) {
	return Sign(message, kp.Private)
}

// Package crypto implements node identities for the mesh.
//
// A node is identified by an Ed25519 key pair. Its 128-bit node id is the
// first half of the BLAKE2b-256 hash of the public key, so anyone holding
// the public key can check that an identity claims the right id.
//
// # Core Types
//
//   - [KeyPair]: the Ed25519 seed and public key
//   - [Signature]: a detached Ed25519 signature
//   - [NodeID]: the 128-bit hash-derived identifier
//
// # Usage
//
//	kp, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer crypto.WipeKeyPair(kp)
//
//	sig, err := kp.Sign(message)
//	ok, err := crypto.Verify(message, sig, kp.Public)
//	id := kp.NodeID()
//
// Deterministic identities come from FromSecretKey (a stored seed) or
// DeriveKeyPair (HKDF over arbitrary key material).
//
// # Logging
//
// LoggerHelper wraps logrus with the function-scoped fields used across the
// module. SecureFieldHash logs a stable fingerprint of sensitive bytes
// without revealing them.
package crypto

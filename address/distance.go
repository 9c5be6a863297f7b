package address

import (
	"math/bits"

	"github.com/opd-ai/geomesh/crypto"
)

// XORDistance returns the bitwise XOR of two node identifiers.
func XORDistance(a, b crypto.NodeID) crypto.NodeID {
	var d crypto.NodeID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// LeadingZeros returns the number of leading zero bits of d, in [0, 128].
// Identical identifiers have a distance with 128 leading zeros.
func LeadingZeros(d crypto.NodeID) int {
	for i, b := range d {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return crypto.NodeIDSize * 8
}

// CompareDistance orders two XOR distances: -1 if a < b, 0 if equal, 1 if a > b.
func CompareDistance(a, b crypto.NodeID) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// RoutingDistance folds geographic and identifier closeness into one
// scalar. Each geohash character not shared costs 1; the XOR term adds a
// fraction in [0, 1) that only breaks ties between equally located nodes.
// Identical addresses have distance 0.
func RoutingDistance(a, b Address) float64 {
	shared := CommonPrefixLength(a.Geohash.String(), b.Geohash.String())
	geo := float64(GeohashLength - shared)

	const idBits = crypto.NodeIDSize * 8
	lz := LeadingZeros(XORDistance(a.NodeID, b.NodeID))
	xor := float64(idBits-lz) / float64(idBits+1)

	return geo + xor
}

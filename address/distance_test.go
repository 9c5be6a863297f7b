package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/geomesh/crypto"
)

func TestXORDistance(t *testing.T) {
	var a, b crypto.NodeID
	for i := range a {
		a[i] = 0xFF
		b[i] = 0x0F
	}

	d := XORDistance(a, b)
	for i := range d {
		assert.Equal(t, byte(0xF0), d[i])
	}
	assert.Equal(t, crypto.NodeID{}, XORDistance(a, a))
	assert.Equal(t, XORDistance(a, b), XORDistance(b, a))
}

func TestLeadingZeros(t *testing.T) {
	tests := []struct {
		name string
		d    crypto.NodeID
		want int
	}{
		{"zero", crypto.NodeID{}, 128},
		{"top bit", crypto.NodeID{0x80}, 0},
		{"second byte", crypto.NodeID{0x00, 0x01}, 15},
		{"last bit", crypto.NodeID{15: 0x01}, 127},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LeadingZeros(tt.d))
		})
	}
}

func TestCompareDistance(t *testing.T) {
	assert.Equal(t, -1, CompareDistance(crypto.NodeID{0x01}, crypto.NodeID{0x02}))
	assert.Equal(t, 1, CompareDistance(crypto.NodeID{0x02}, crypto.NodeID{0x01}))
	assert.Equal(t, 0, CompareDistance(crypto.NodeID{0x02}, crypto.NodeID{0x02}))
}

func TestRoutingDistance(t *testing.T) {
	id := func(b byte) crypto.NodeID { return crypto.NodeID{0: b} }
	gh := func(s string) Geohash {
		g, err := ParseGeohash(s)
		require.NoError(t, err)
		return g
	}

	target := New(gh("dp3w"), id(0x00), 0)
	sameCellFarID := New(gh("dp3w"), id(0x80), 0)
	sameCellNearID := New(gh("dp3w"), id(0x01), 0)
	neighbourCell := New(gh("dp3x"), id(0x00), 0)
	otherContinent := New(gh("u33d"), id(0x00), 0)

	assert.Zero(t, RoutingDistance(target, target))
	assert.Less(t, RoutingDistance(target, sameCellNearID), RoutingDistance(target, sameCellFarID))
	assert.Less(t, RoutingDistance(target, sameCellFarID), RoutingDistance(target, neighbourCell),
		"geohash must dominate identifier distance")
	assert.Less(t, RoutingDistance(target, neighbourCell), RoutingDistance(target, otherContinent))
	assert.Less(t, RoutingDistance(target, otherContinent), float64(GeohashLength+1))
	assert.Equal(t, RoutingDistance(target, sameCellFarID), RoutingDistance(sameCellFarID, target))
}

func TestGeohashHelpers(t *testing.T) {
	assert.Equal(t, "u33dc0", EncodeGeohash(52.52, 13.405, 6))
	assert.Equal(t, 1, len(EncodeGeohash(52.52, 13.405, 0)))

	assert.Equal(t, 4, CommonPrefixLength("dp3w", "dp3w"))
	assert.Equal(t, 3, CommonPrefixLength("dp3w", "dp3x"))
	assert.Equal(t, 0, CommonPrefixLength("dp3w", "u33d"))
	assert.Equal(t, 2, CommonPrefixLength("dp", "dp3w"))

	assert.True(t, ValidGeohash("dp3w"))
	assert.False(t, ValidGeohash("dpa"))
	assert.False(t, ValidGeohash(""))

	// Berlin to Paris is roughly 880 km; 4-character cells are ~20-40 km wide.
	d := ApproximateDistanceKm("u33d", "u09t")
	assert.InDelta(t, 880, d, 80)
	assert.Zero(t, ApproximateDistanceKm("u33d", "u33d"))
}

package dht

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockClock() *clock.Mock {
	mc := clock.NewMock()
	mc.Set(testEpoch)
	return mc
}

func testKeyPair(t *testing.T, seed byte) *crypto.KeyPair {
	t.Helper()
	var secret [crypto.KeySize]byte
	for i := range secret {
		secret[i] = seed
	}
	kp, err := crypto.FromSecretKey(secret)
	require.NoError(t, err)
	return kp
}

func testIdentity(t *testing.T, seed byte) (*crypto.KeyPair, address.Address) {
	t.Helper()
	kp := testKeyPair(t, seed)
	addr, err := address.Generate(kp, address.Location{Lat: 52.52, Lon: 13.405})
	require.NoError(t, err)
	return kp, addr
}

// idWithBits returns a node id with the given bit positions set, counted
// from the most significant bit.
func idWithBits(bits ...int) crypto.NodeID {
	var id crypto.NodeID
	for _, b := range bits {
		id[b/8] |= 0x80 >> (b % 8)
	}
	return id
}

func testGeohash(t *testing.T, s string) address.Geohash {
	t.Helper()
	gh, err := address.ParseGeohash(s)
	require.NoError(t, err)
	return gh
}

package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
)

func TestKBucket(t *testing.T) {
	kb := NewKBucket(2)
	a := NewContact(address.New(testGeohash(t, "u33d"), idWithBits(1), 0), [32]byte{1}, testEpoch)
	b := NewContact(address.New(testGeohash(t, "u33d"), idWithBits(2), 0), [32]byte{2}, testEpoch)
	c := NewContact(address.New(testGeohash(t, "u33d"), idWithBits(3), 0), [32]byte{3}, testEpoch)

	assert.True(t, kb.AddContact(a))
	assert.True(t, kb.AddContact(b))
	assert.False(t, kb.AddContact(c), "full bucket without bad contacts")
	assert.Equal(t, 2, kb.Len())

	t.Run("refresh moves to tail", func(t *testing.T) {
		assert.True(t, kb.AddContact(a))
		contacts := kb.Contacts()
		assert.Equal(t, b.ID(), contacts[0].ID())
		assert.Equal(t, a.ID(), contacts[1].ID())
	})

	t.Run("bad contact is replaced", func(t *testing.T) {
		require.True(t, kb.SetStatus(b.ID(), StatusBad))
		assert.True(t, kb.AddContact(c))
		ids := []crypto.NodeID{}
		for _, ct := range kb.Contacts() {
			ids = append(ids, ct.ID())
		}
		assert.ElementsMatch(t, []crypto.NodeID{a.ID(), c.ID()}, ids)
	})

	t.Run("touch", func(t *testing.T) {
		later := testEpoch.Add(5)
		assert.True(t, kb.Touch(a.ID(), later, StatusGood))
		assert.Equal(t, later, kb.Updated())
		assert.False(t, kb.Touch(b.ID(), later, StatusGood))
	})

	assert.True(t, kb.RemoveContact(a.ID()))
	assert.False(t, kb.RemoveContact(a.ID()))
	assert.Equal(t, 1, kb.Len())
}

func TestRoutingTableBucketIndex(t *testing.T) {
	rt := NewRoutingTable(crypto.NodeID{}, 0)

	tests := []struct {
		name string
		id   crypto.NodeID
		want int
	}{
		{"self", crypto.NodeID{}, -1},
		{"top bit", idWithBits(0), 0},
		{"bit 7", idWithBits(7), 7},
		{"last bit", idWithBits(127), 127},
		{"several bits", idWithBits(40, 90), 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rt.BucketIndex(tt.id))
		})
	}
}

func TestRoutingTableNeverAddsSelf(t *testing.T) {
	self := idWithBits(3)
	rt := NewRoutingTable(self, 0)

	assert.False(t, rt.AddContact(NewContact(address.New(testGeohash(t, "u33d"), self, 0), [32]byte{}, testEpoch)))
	assert.Equal(t, 0, rt.Size())

	other := NewContact(address.New(testGeohash(t, "u33d"), idWithBits(5), 0), [32]byte{}, testEpoch)
	require.True(t, rt.AddContact(other))

	got, ok := rt.Contact(other.ID())
	require.True(t, ok)
	assert.Equal(t, other.Address, got.Address)
	assert.Equal(t, 1, rt.Bucket(3).Len())
	assert.True(t, rt.RemoveContact(other.ID()))
	assert.Equal(t, 0, rt.Size())
}

func TestFindClosestPeers(t *testing.T) {
	rt := NewRoutingTable(crypto.NodeID{}, 0)
	berlin := testGeohash(t, "u33d")
	paris := testGeohash(t, "u09t")

	sameAreaNear := NewContact(address.New(berlin, idWithBits(0, 5), 0), [32]byte{1}, testEpoch)
	farArea := NewContact(address.New(paris, idWithBits(0, 120), 0), [32]byte{2}, testEpoch)
	sameAreaFar := NewContact(address.New(berlin, idWithBits(3), 0), [32]byte{3}, testEpoch)
	unrelated := NewContact(address.New(paris, idWithBits(100), 0), [32]byte{4}, testEpoch)
	for _, c := range []Contact{sameAreaNear, farArea, sameAreaFar, unrelated} {
		require.True(t, rt.AddContact(c))
	}

	target := address.New(berlin, idWithBits(0), 0)

	got := rt.FindClosestPeers(target, 3)
	require.Len(t, got, 3)
	assert.Equal(t, sameAreaNear.ID(), got[0].ID())
	assert.Equal(t, sameAreaFar.ID(), got[1].ID())
	assert.Equal(t, farArea.ID(), got[2].ID())

	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t,
			address.RoutingDistance(target, got[i-1].Address),
			address.RoutingDistance(target, got[i].Address))
	}

	assert.Len(t, rt.FindClosestPeers(target, 10), 4)
	assert.Empty(t, rt.FindClosestPeers(target, 0))
	assert.Len(t, rt.AllContacts(), 4)
}

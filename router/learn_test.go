package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/dht"
	"github.com/opd-ai/geomesh/transport"
)

func newContact(addr address.Address, now time.Time) dht.Contact {
	return dht.NewContact(addr, [32]byte{}, now)
}

func TestLearnRoute(t *testing.T) {
	self := testAddr(t, "u33d", 1)
	neighbour := testAddr(t, "u33d", 2)
	src := testAddr(t, "u09t", 3)
	r, log := newTestRouter(t, self, newMockClock(), nil)

	tests := []struct {
		name     string
		ttl      uint8
		wantHops uint8
	}{
		{"from neighbour", 64, 1},
		{"five links", 60, 5},
		{"foreign hop limit", 200, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := &transport.Packet{Header: transport.Header{Type: transport.PacketData, TTL: tt.ttl, Source: src, Destination: self}}
			require.True(t, r.LearnRoute(pkt, neighbour))

			route, ok := r.FindRoute(src)
			require.True(t, ok)
			assert.Equal(t, InterfaceLearned, route.Interface)
			assert.True(t, route.NextHop.Equal(neighbour))
			assert.Equal(t, tt.wantHops, route.HopCount)
			assert.Equal(t, uint32(tt.wantHops), route.Metric)
		})
	}
	assert.Len(t, r.Routes(src), 1, "same next hop replaces")
	assert.Equal(t, 3, log.count(EventRouteAdded))

	t.Run("ignored sources", func(t *testing.T) {
		own := &transport.Packet{Header: transport.Header{TTL: 64, Source: self}}
		assert.False(t, r.LearnRoute(own, neighbour))

		zero := &transport.Packet{Header: transport.Header{TTL: 64}}
		assert.False(t, r.LearnRoute(zero, neighbour))

		bad := src
		bad.Version = 3
		invalid := &transport.Packet{Header: transport.Header{TTL: 64, Source: bad}}
		assert.False(t, r.LearnRoute(invalid, neighbour))
	})
}

func TestRouteError(t *testing.T) {
	self := testAddr(t, "u33d", 1)
	hop := testAddr(t, "u33d", 2)
	dest := testAddr(t, "u09t", 3)
	source := testAddr(t, "u33d", 4)
	r, _ := newTestRouter(t, self, newMockClock(), nil)
	require.True(t, r.AddRoute(RouteEntry{Destination: dest, NextHop: hop, Metric: 1}))

	relay, _ := newTestRouter(t, hop, newMockClock(), nil)
	undeliverable := &transport.Packet{Header: transport.Header{
		Type:        transport.PacketData,
		Source:      source,
		Destination: dest,
		Sequence:    42,
	}}
	rerr := relay.NewRouteError(undeliverable)
	assert.Equal(t, transport.PacketRouteError, rerr.Header.Type)
	assert.True(t, rerr.Header.Destination.Equal(source))
	assert.Equal(t, uint32(42), rerr.Header.Sequence)

	assert.True(t, r.ProcessRouteError(rerr, hop))
	_, ok := r.FindRoute(dest)
	assert.False(t, ok)
	assert.False(t, r.ProcessRouteError(&transport.Packet{Payload: []byte{1, 2}}, hop))
}

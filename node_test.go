package geomesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/router"
	"github.com/opd-ai/geomesh/transport"
)

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(NewOptions())
	assert.ErrorIs(t, err, ErrNoTransport)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestNewIdentity(t *testing.T) {
	network := transport.NewMemoryNetwork()
	kp, addr := testIdentity(t, berlin)

	n := newTestNode(t, network, "a", berlin, func(o *Options) { o.KeyPair = kp })

	assert.True(t, n.Address().Equal(addr))
	assert.Equal(t, kp.Public, n.PublicKey())
	assert.Equal(t, "u33d", n.Address().Geohash.String())
	assert.Equal(t, 0, n.Router().RouteCount())
	assert.NotNil(t, n.DHT())
}

func TestStartStopLifecycle(t *testing.T) {
	network := transport.NewMemoryNetwork()
	n := newTestNode(t, network, "a", berlin)

	assert.False(t, n.IsRunning())
	require.NoError(t, n.Start(context.Background()))
	assert.True(t, n.IsRunning())
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, n.Stop())
	assert.False(t, n.IsRunning())
	assert.NoError(t, n.Stop(), "second stop is a no-op")
	assert.ErrorIs(t, n.Start(context.Background()), ErrStopped)
}

func TestStopClosesSubscriptions(t *testing.T) {
	network := transport.NewMemoryNetwork()
	n := newTestNode(t, network, "a", berlin)
	startNode(t, n)

	ch, cancel := n.Subscribe(4)
	defer cancel()

	require.NoError(t, n.Stop())
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("subscription not closed on stop")
	}

	late, lateCancel := n.Subscribe(1)
	defer lateCancel()
	_, ok := <-late
	assert.False(t, ok, "subscribing after stop yields a closed channel")
}

func TestAddPeer(t *testing.T) {
	network := transport.NewMemoryNetwork()
	a := newTestNode(t, network, "a", berlin)
	b := newTestNode(t, network, "b", paris)
	discovered := collect(t, a, EventPeerDiscovered)
	connected := collect(t, a, EventPeerConnected)

	require.NoError(t, a.AddPeer(peerInfoOf(b, "b")))

	info, ok := a.Peer(b.Address())
	require.True(t, ok)
	assert.Equal(t, DefaultReputation, info.Reputation)
	assert.False(t, info.LastSeen.IsZero())

	route, ok := a.Router().FindRoute(b.Address())
	require.True(t, ok)
	assert.Equal(t, router.InterfaceMesh, route.Interface)
	assert.Equal(t, uint32(1), route.Metric)
	assert.Equal(t, 1, a.DHT().Table().Size())

	assert.Equal(t, b.Address(), discovered.wait(t, 1)[0].Peer)
	assert.Equal(t, b.Address(), connected.wait(t, 1)[0].Peer)

	require.NoError(t, a.AddPeer(peerInfoOf(b, "b")), "re-adding refreshes")
	assert.Len(t, a.Peers(), 1)
}

func TestAddPeerRejects(t *testing.T) {
	network := transport.NewMemoryNetwork()
	a := newTestNode(t, network, "a", berlin, func(o *Options) { o.MaxPeers = 1 })
	b := newTestNode(t, network, "b", paris)
	c := newTestNode(t, network, "c", madrid)

	wrongKey := peerInfoOf(b, "b")
	wrongKey.PublicKey = c.PublicKey()

	noEndpoints := peerInfoOf(b, "b")
	noEndpoints.Endpoints = nil

	tests := []struct {
		name string
		info PeerInfo
	}{
		{"key does not own address", wrongKey},
		{"no endpoints", noEndpoints},
		{"self", peerInfoOf(a, "a")},
		{"zero address", PeerInfo{Endpoints: []transport.Endpoint{memoryEndpoint("x")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, a.AddPeer(tt.info), ErrInvalidPeer)
		})
	}

	require.NoError(t, a.AddPeer(peerInfoOf(b, "b")))
	assert.ErrorIs(t, a.AddPeer(peerInfoOf(c, "c")), ErrMaxPeers)
}

func TestRemovePeer(t *testing.T) {
	network := transport.NewMemoryNetwork()
	a := newTestNode(t, network, "a", berlin)
	b := newTestNode(t, network, "b", paris)
	disconnected := collect(t, a, EventPeerDisconnected)

	require.NoError(t, a.AddPeer(peerInfoOf(b, "b")))
	require.NoError(t, a.RemovePeer(b.Address()))

	_, ok := a.Peer(b.Address())
	assert.False(t, ok)
	assert.Empty(t, a.Router().Routes(b.Address()))
	assert.Equal(t, 0, a.DHT().Table().Size())
	assert.Equal(t, b.Address(), disconnected.wait(t, 1)[0].Peer)

	assert.ErrorIs(t, a.RemovePeer(b.Address()), ErrUnknownPeer)
}

func TestBootstrapAnnounce(t *testing.T) {
	network := transport.NewMemoryNetwork()
	a := newTestNode(t, network, "a", berlin)
	startNode(t, a)
	discovered := collect(t, a, EventPeerDiscovered)

	b := newTestNode(t, network, "b", paris, func(o *Options) {
		o.BootstrapPeers = []BootstrapPeer{{
			Address:   a.Address().String(),
			PublicKey: hexKey(a.PublicKey()),
			Endpoints: []string{"memory://a"},
		}}
	})
	startNode(t, b)

	assert.Equal(t, b.Address(), discovered.wait(t, 1)[0].Peer)

	info, ok := a.Peer(b.Address())
	require.True(t, ok)
	assert.True(t, info.Capabilities.Relay)
	assert.Contains(t, info.Endpoints, memoryEndpoint("b"))

	require.Eventually(t, func() bool {
		p, ok := b.Peer(a.Address())
		return ok && p.Capabilities.Storage
	}, waitTimeout, 5*time.Millisecond, "b learns a's capabilities from the announce back")
}

func TestHeartbeatPrunesSilentPeers(t *testing.T) {
	network := transport.NewMemoryNetwork()
	mock := clock.NewMock()
	a := newTestNode(t, network, "a", berlin, func(o *Options) { o.Clock = mock })
	disconnected := collect(t, a, EventPeerDisconnected)

	ghostKP, ghostAddr := testIdentity(t, rome)
	require.NoError(t, a.AddPeer(PeerInfo{
		Address:   ghostAddr,
		PublicKey: ghostKP.Public,
		Endpoints: []transport.Endpoint{memoryEndpoint("nobody")},
	}))
	startNode(t, a)

	for i := 0; i < 5; i++ {
		mock.Add(a.options.HeartbeatInterval)
	}

	events := disconnected.wait(t, 1)
	assert.Equal(t, ghostAddr, events[0].Peer)
	_, ok := a.Peer(ghostAddr)
	assert.False(t, ok)
}

func TestStopWipesPrivateKey(t *testing.T) {
	network := transport.NewMemoryNetwork()
	kp, _ := testIdentity(t, berlin)
	n := newTestNode(t, network, "a", berlin, func(o *Options) { o.KeyPair = kp })
	startNode(t, n)

	require.NoError(t, n.Stop())
	assert.Equal(t, [crypto.KeySize]byte{}, n.keyPair.Private)
	assert.NotEqual(t, [crypto.KeySize]byte{}, kp.Private, "the caller's key pair is untouched")
}

func TestStopReportsErrors(t *testing.T) {
	network := transport.NewMemoryNetwork()
	link, err := network.Listen("a")
	require.NoError(t, err)

	opts := NewOptions()
	opts.Location = berlin
	opts.Transport = failingClose{link}
	n, err := New(opts)
	require.NoError(t, err)

	err = n.Stop()
	assert.True(t, errors.Is(err, errCloseFailed))
}

var errCloseFailed = errors.New("close failed")

type failingClose struct{ *transport.MemoryTransport }

func (f failingClose) Close() error {
	_ = f.MemoryTransport.Close()
	return errCloseFailed
}

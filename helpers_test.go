package geomesh

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/transport"
)

const waitTimeout = 2 * time.Second

var (
	berlin = address.Location{Lat: 52.52, Lon: 13.405}
	paris  = address.Location{Lat: 48.8566, Lon: 2.3522}
	madrid = address.Location{Lat: 40.4168, Lon: -3.7038}
	rome   = address.Location{Lat: 41.9028, Lon: 12.4964}
)

func memoryEndpoint(name string) transport.Endpoint {
	return transport.Endpoint{Kind: transport.EndpointMemory, Address: name}
}

// newTestNode creates a node listening on name. The node is stopped when
// the test ends; it is started unless configure clears start.
func newTestNode(t *testing.T, network *transport.MemoryNetwork, name string, loc address.Location, configure ...func(*Options)) *Node {
	t.Helper()
	link, err := network.Listen(name)
	require.NoError(t, err)

	opts := NewOptions()
	opts.Location = loc
	opts.Transport = link
	for _, f := range configure {
		f(opts)
	}

	n, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func startNode(t *testing.T, n *Node) {
	t.Helper()
	require.NoError(t, n.Start(context.Background()))
}

func peerInfoOf(n *Node, name string) PeerInfo {
	return PeerInfo{
		Address:   n.Address(),
		PublicKey: n.PublicKey(),
		Endpoints: []transport.Endpoint{memoryEndpoint(name)},
	}
}

// link makes a and b neighbours of each other.
func link(t *testing.T, a *Node, aName string, b *Node, bName string) {
	t.Helper()
	require.NoError(t, a.AddPeer(peerInfoOf(b, bName)))
	require.NoError(t, b.AddPeer(peerInfoOf(a, aName)))
}

func hexKey(k [crypto.KeySize]byte) string {
	return hex.EncodeToString(k[:])
}

func testIdentity(t *testing.T, loc address.Location) (*crypto.KeyPair, address.Address) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr, err := address.Generate(kp, loc)
	require.NoError(t, err)
	return kp, addr
}

// eventSink records the events of one type a node publishes.
type eventSink struct {
	mu     sync.Mutex
	events []Event
	closed chan struct{}
}

func collect(t *testing.T, n *Node, typ EventType) *eventSink {
	t.Helper()
	ch, cancel := n.Subscribe(256)
	t.Cleanup(cancel)

	s := &eventSink{closed: make(chan struct{})}
	go func() {
		defer close(s.closed)
		for ev := range ch {
			if ev.Type != typ {
				continue
			}
			s.mu.Lock()
			s.events = append(s.events, ev)
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *eventSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *eventSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *eventSink) wait(t *testing.T, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return s.count() >= n }, waitTimeout, 5*time.Millisecond)
	return s.all()
}

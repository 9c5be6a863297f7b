package geomesh

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/dht"
	"github.com/opd-ai/geomesh/router"
	"github.com/opd-ai/geomesh/transport"
)

// deliveredCacheSize bounds the (source, sequence) pairs remembered for
// duplicate suppression.
const deliveredCacheSize = 4096

type deliveryKey struct {
	source address.Key
	seq    uint32
}

// Node is a mesh node. It owns the peer table, the router and the DHT,
// and is driven by packets from its transport and by its own timers.
type Node struct {
	options   *Options
	keyPair   *crypto.KeyPair
	self      address.Address
	transport transport.Transport
	clock     clock.Clock

	peers     *peerTable
	router    *router.Router
	dht       *dht.DHT
	events    *eventBus
	delivered *lru.Cache[deliveryKey, struct{}]
	stats     counters
	sequence  atomic.Uint32
	startedAt atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
}

// New creates a node. The transport's handlers are registered here, but
// no traffic is sent before Start.
func New(options *Options) (*Node, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.Transport == nil {
		return nil, ErrNoTransport
	}
	options.applyDefaults()
	if err := options.Validate(); err != nil {
		return nil, err
	}

	kp, err := options.keyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	self, err := address.Generate(kp, options.Location)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}

	clk := options.Clock
	if clk == nil {
		clk = clock.New()
	}

	n := &Node{
		options:   options,
		keyPair:   kp,
		self:      self,
		transport: options.Transport,
		clock:     clk,
		peers:     newPeerTable(),
		events:    newEventBus(),
	}

	var backend dht.Backend
	if options.DataDir != "" {
		backend, err = dht.OpenBolt(filepath.Join(options.DataDir, "dht.db"))
		if err != nil {
			return nil, fmt.Errorf("open dht store: %w", err)
		}
	}
	n.dht, err = dht.New(self, dht.Config{
		Clock:   clk,
		Backend: backend,
		Maintenance: &dht.MaintenanceConfig{
			Interval:        options.MaintenanceInterval,
			NodeTimeout:     options.PeerTimeout,
			PruneTimeout:    options.PeerTimeout,
			RefreshInterval: 15 * time.Minute,
		},
		Refresh: n.refreshBucket,
	})
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		return nil, err
	}

	n.router = router.New(router.Config{
		Local:               self,
		HopLimit:            options.HopLimit,
		RouteLifetime:       options.RouteLifetime,
		MaintenanceInterval: options.MaintenanceInterval,
		Peers:               n.dht,
		Clock:               clk,
		Observer:            n.onRouterEvent,
	})

	n.delivered, err = lru.New[deliveryKey, struct{}](deliveredCacheSize)
	if err != nil {
		return nil, err
	}

	if options.Registerer != nil {
		if err := n.registerMetrics(options.Registerer); err != nil {
			_ = n.dht.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	n.registerHandlers()

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"address":  self.String(),
	}).Info("Created mesh node")

	return n, nil
}

// Address returns the node's mesh address.
func (n *Node) Address() address.Address { return n.self }

// PublicKey returns the node's public key.
func (n *Node) PublicKey() [crypto.KeySize]byte { return n.keyPair.Public }

// Router returns the node's router.
func (n *Node) Router() *router.Router { return n.router }

// DHT returns the node's DHT.
func (n *Node) DHT() *dht.DHT { return n.dht }

// IsRunning reports whether the node has been started and not stopped.
func (n *Node) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Start launches the background loops and contacts the bootstrap peers.
// The loops run until Stop is called or ctx is done.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return ErrStopped
	}
	if n.running {
		n.mu.Unlock()
		return ErrAlreadyRunning
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.running = true
	n.startedAt.Store(n.clock.Now().UnixNano())
	n.mu.Unlock()

	n.dht.Start()

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.router.Run(n.ctx)
	}()
	go n.heartbeatLoop(n.ctx, n.clock.Ticker(n.options.HeartbeatInterval))

	var err error
	for _, bp := range n.options.BootstrapPeers {
		info, perr := bp.peerInfo()
		if perr == nil {
			perr = n.AddPeer(info)
		}
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("bootstrap %s: %w", bp.Address, perr))
			continue
		}
		n.announceTo(info.Address)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Start",
		"address":   n.self.String(),
		"bootstrap": len(n.options.BootstrapPeers),
	}).Info("Mesh node started")

	return err
}

// Stop halts the background loops, closes the transport and the DHT
// store, closes every event subscription and wipes the private key.
// Stopping twice is a no-op.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	wasRunning := n.running
	n.running = false
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.Unlock()

	if wasRunning {
		n.wg.Wait()
	}

	err := multierr.Combine(
		n.transport.Close(),
		n.dht.Close(),
		crypto.WipeKeyPair(n.keyPair),
	)
	n.events.close()

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
		"address":  n.self.String(),
	}).Info("Mesh node stopped")

	return err
}

// AddPeer adds a neighbour: it gets a direct route and a DHT contact.
// Adding a known peer refreshes it.
func (n *Node) AddPeer(info PeerInfo) error {
	if err := info.Address.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPeer, err)
	}
	if info.Address.Equal(n.self) || !info.Address.ClaimedBy(info.PublicKey) {
		return fmt.Errorf("%w: address not owned by public key", ErrInvalidPeer)
	}
	if len(info.Endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints", ErrInvalidPeer)
	}

	now := n.clock.Now()
	if n.peers.update(info.Address, now, nil, info.Endpoints) {
		n.router.AddDirectRoute(info.Address)
		n.dht.Touch(info.Address)
		return nil
	}
	if n.options.MaxPeers > 0 && n.peers.len() >= n.options.MaxPeers {
		return ErrMaxPeers
	}

	if info.LastSeen.IsZero() {
		info.LastSeen = now
	}
	if info.Reputation == 0 {
		info.Reputation = DefaultReputation
	}
	if !n.peers.put(info) {
		return nil
	}

	n.router.AddDirectRoute(info.Address)
	n.dht.AddPeer(info.Address, info.PublicKey)

	logrus.WithFields(logrus.Fields{
		"function":  "AddPeer",
		"peer":      info.Address.String(),
		"endpoints": len(info.Endpoints),
	}).Info("Peer added")

	n.emit(Event{Type: EventPeerDiscovered, Peer: info.Address})
	n.emit(Event{Type: EventPeerConnected, Peer: info.Address})
	return nil
}

// RemovePeer disconnects a neighbour and drops every route through it.
func (n *Node) RemovePeer(addr address.Address) error {
	if _, ok := n.peers.remove(addr); !ok {
		return ErrUnknownPeer
	}
	n.router.HandlePeerDisconnect(addr)
	n.dht.RemovePeer(addr)

	n.emit(Event{Type: EventPeerDisconnected, Peer: addr})
	return nil
}

// Peers returns the peer table.
func (n *Node) Peers() []PeerInfo {
	return n.peers.list()
}

// Peer returns what is known about addr.
func (n *Node) Peer(addr address.Address) (PeerInfo, bool) {
	return n.peers.get(addr)
}

// onRouterEvent turns router events into node events and sends route
// requests to every neighbour.
func (n *Node) onRouterEvent(ev router.Event) {
	switch ev.Type {
	case router.EventRouteAdded:
		route := ev.Route
		n.emit(Event{Type: EventRouteAdded, Peer: route.NextHop, Route: &route})
	case router.EventRouteRemoved:
		route := ev.Route
		n.emit(Event{Type: EventRouteRemoved, Peer: route.NextHop, Route: &route})
	case router.EventRouteRequest:
		for _, p := range n.peers.list() {
			if err := n.sendTo(ev.Request.Clone(), p); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "onRouterEvent",
					"peer":     p.Address.String(),
					"error":    err.Error(),
				}).Debug("Failed to send route request")
			}
		}
	}
}

// refreshBucket announces the node to the contacts of a stale bucket.
func (n *Node) refreshBucket(bucket int) {
	for _, c := range n.dht.Table().Bucket(bucket).Contacts() {
		n.announceTo(c.Address)
	}
}

// heartbeatLoop sends heartbeats and disconnects silent peers.
func (n *Node) heartbeatLoop(ctx context.Context, ticker *clock.Ticker) {
	defer n.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.heartbeat()
		}
	}
}

func (n *Node) heartbeat() {
	for _, addr := range n.peers.silent(n.clock.Now(), n.options.PeerTimeout) {
		logrus.WithFields(logrus.Fields{
			"function": "heartbeat",
			"peer":     addr.String(),
		}).Info("Peer timed out")
		_ = n.RemovePeer(addr)
	}

	for _, p := range n.peers.list() {
		pkt := n.newPacket(transport.PacketHeartbeat, p.Address, nil)
		if err := n.sendTo(pkt, p); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "heartbeat",
				"peer":     p.Address.String(),
				"error":    err.Error(),
			}).Debug("Heartbeat failed")
		}
	}
}

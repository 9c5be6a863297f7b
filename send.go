package geomesh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/dht"
	"github.com/opd-ai/geomesh/limits"
	"github.com/opd-ai/geomesh/router"
	"github.com/opd-ai/geomesh/transport"
)

// newPacket builds a packet from this node with a fresh sequence number.
func (n *Node) newPacket(t transport.PacketType, dest address.Address, payload []byte) *transport.Packet {
	return &transport.Packet{
		Header: transport.Header{
			Type:        t,
			TTL:         n.options.HopLimit,
			Source:      n.self,
			Destination: dest,
			Sequence:    n.sequence.Add(1),
			Timestamp:   n.clock.Now(),
		},
		Payload: payload,
	}
}

// sendTo hands a packet to the best endpoint of a neighbour. The outcome
// moves the neighbour's reputation.
func (n *Node) sendTo(pkt *transport.Packet, peer PeerInfo) error {
	ep, ok := peer.BestEndpoint()
	if !ok {
		return fmt.Errorf("%w: %s has no endpoints", ErrUnknownPeer, peer.Address)
	}
	if err := n.sendToEndpoint(pkt, ep); err != nil {
		n.peers.adjustReputation(peer.Address, -reputationLoss)
		return err
	}
	n.peers.adjustReputation(peer.Address, reputationGain)
	return nil
}

func (n *Node) sendToEndpoint(pkt *transport.Packet, ep transport.Endpoint) error {
	if err := n.transport.Send(pkt, ep); err != nil {
		return err
	}
	n.stats.sent(pkt.Size())
	return nil
}

// sendVia sends a packet to the neighbour nextHop.
func (n *Node) sendVia(pkt *transport.Packet, nextHop address.Address) error {
	peer, ok := n.peers.get(nextHop)
	if !ok {
		return fmt.Errorf("%w: next hop %s", ErrUnknownPeer, nextHop)
	}
	return n.sendTo(pkt, peer)
}

// resolve finds a route to dest, running discovery when none is held.
func (n *Node) resolve(ctx context.Context, dest address.Address) (router.RouteEntry, error) {
	if route, ok := n.router.FindRoute(dest); ok {
		return route, nil
	}
	route, err := n.router.RequestRoute(ctx, dest, n.options.RouteTimeout)
	if err != nil {
		return router.RouteEntry{}, err
	}
	if route == nil {
		return router.RouteEntry{}, ErrNoRouteFound
	}
	return *route, nil
}

func (n *Node) checkSend(dest address.Address, payload []byte) error {
	if err := limits.ValidatePayload(payload); err != nil {
		return err
	}
	if err := dest.Validate(); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if !n.IsRunning() {
		return ErrNotRunning
	}
	return nil
}

// Send delivers payload to dest in a DATA packet. It blocks for at most
// RouteTimeout while a route is discovered.
func (n *Node) Send(ctx context.Context, dest address.Address, payload []byte) error {
	if err := n.checkSend(dest, payload); err != nil {
		return err
	}

	pkt := n.newPacket(transport.PacketData, dest, payload)
	if dest.Equal(n.self) {
		n.deliverLocal(pkt)
		return nil
	}

	route, err := n.resolve(ctx, dest)
	if err != nil {
		n.emitError(dest, err)
		return err
	}

	if err := n.sendVia(pkt, route.NextHop); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Send",
			"destination": dest.String(),
			"next_hop":    route.NextHop.String(),
			"error":       err.Error(),
		}).Warn("Failed to send packet")
		n.emitError(route.NextHop, err)
		return err
	}

	n.emit(Event{Type: EventPacketSent, Peer: route.NextHop, Packet: pkt})
	return nil
}

// SendMultipath sends the same DATA packet over up to paths routes at
// once and returns how many next hops accepted it. The copies share a
// sequence number, so the receiver delivers the payload once. An error is
// returned only when no copy could be sent.
func (n *Node) SendMultipath(ctx context.Context, dest address.Address, payload []byte, paths int) (int, error) {
	if err := n.checkSend(dest, payload); err != nil {
		return 0, err
	}
	if paths < 1 {
		paths = 1
	}

	pkt := n.newPacket(transport.PacketData, dest, payload)
	if dest.Equal(n.self) {
		n.deliverLocal(pkt)
		return 1, nil
	}

	routes := n.router.FindMultipleRoutes(dest, paths)
	if len(routes) == 0 {
		route, err := n.resolve(ctx, dest)
		if err != nil {
			n.emitError(dest, err)
			return 0, err
		}
		routes = []router.RouteEntry{route}
	}

	var sent atomic.Int32
	var g errgroup.Group
	for _, route := range routes {
		g.Go(func() error {
			if err := n.sendVia(pkt.Clone(), route.NextHop); err != nil {
				n.emitError(route.NextHop, err)
				return err
			}
			sent.Add(1)
			n.emit(Event{Type: EventPacketSent, Peer: route.NextHop, Packet: pkt})
			return nil
		})
	}
	err := g.Wait()

	count := int(sent.Load())
	logrus.WithFields(logrus.Fields{
		"function":    "SendMultipath",
		"destination": dest.String(),
		"routes":      len(routes),
		"sent":        count,
	}).Debug("Multipath send finished")

	if count == 0 {
		return 0, err
	}
	return count, nil
}

// Publish signs a key/value entry, stores it locally and replicates it to
// the DHTReplication peers closest to the key. It returns the number of
// peers the entry was sent to.
func (n *Node) Publish(key, value []byte, ttl time.Duration) (int, error) {
	entry, err := dht.NewEntry(n.keyPair, n.self, key, value, ttl, n.clock.Now())
	if err != nil {
		return 0, err
	}
	if err := n.dht.Store(entry); err != nil {
		return 0, err
	}
	payload, err := entry.MarshalBinary()
	if err != nil {
		return 0, err
	}

	target := address.New(n.self.Geohash, crypto.HashNodeID(key), 0)
	replicated := 0
	for _, c := range n.dht.FindClosestPeers(target, n.options.DHTReplication) {
		pkt := n.newPacket(transport.PacketDHTStore, c.Address, payload)
		if err := n.sendVia(pkt, c.Address); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Publish",
				"peer":     c.Address.String(),
				"error":    err.Error(),
			}).Debug("Replication failed")
			continue
		}
		replicated++
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Publish",
		"key_size":   len(key),
		"replicated": replicated,
	}).Debug("Published DHT entry")

	return replicated, nil
}

// Lookup returns the value stored under key, if a live entry is held.
func (n *Node) Lookup(key []byte) ([]byte, bool) {
	entry, ok := n.dht.Fetch(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), entry.Value...), true
}

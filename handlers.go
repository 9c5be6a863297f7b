package geomesh

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/dht"
	"github.com/opd-ai/geomesh/router"
	"github.com/opd-ai/geomesh/transport"
)

var errMalformedAnnounce = errors.New("malformed announce")

// registerHandlers routes every packet type to handlePacket.
func (n *Node) registerHandlers() {
	for t := transport.PacketData; t <= transport.PacketDHTStore; t++ {
		n.transport.RegisterHandler(t, n.handlePacket)
	}
}

// handlePacket is the inbound path: refresh the neighbour, learn the
// reverse route, then dispatch by type. Packets for other destinations are
// relayed.
func (n *Node) handlePacket(pkt *transport.Packet, from transport.Endpoint) error {
	n.stats.received(pkt.Size())

	via, known := n.peers.byFrom(from)
	if known {
		n.peers.touch(via.Address, n.clock.Now())
		n.dht.Touch(via.Address)
		n.router.LearnRoute(pkt, via.Address)
	}

	switch pkt.Header.Type {
	case transport.PacketAnnounce:
		return n.handleAnnounce(pkt, from)
	case transport.PacketHeartbeat:
		return nil
	case transport.PacketRouteRequest:
		return n.handleRouteRequest(pkt, from)
	}

	if !pkt.Header.Destination.Equal(n.self) {
		n.relay(pkt, via, known)
		return nil
	}

	switch pkt.Header.Type {
	case transport.PacketData:
		n.deliverLocal(pkt)
	case transport.PacketRouteReply:
		if known {
			n.router.ProcessRouteReply(pkt, via.Address)
		}
	case transport.PacketRouteError:
		if known {
			n.router.ProcessRouteError(pkt, via.Address)
		}
	case transport.PacketDHTStore:
		n.handleDHTStore(pkt)
	}
	return nil
}

// deliverLocal raises packet:received once per (source, sequence).
func (n *Node) deliverLocal(pkt *transport.Packet) {
	key := deliveryKey{source: pkt.Header.Source.Key(), seq: pkt.Header.Sequence}
	if seen, _ := n.delivered.ContainsOrAdd(key, struct{}{}); seen {
		logrus.WithFields(logrus.Fields{
			"function": "deliverLocal",
			"source":   pkt.Header.Source.String(),
			"sequence": pkt.Header.Sequence,
		}).Debug("Dropping duplicate packet")
		return
	}
	n.emit(Event{Type: EventPacketReceived, Peer: pkt.Header.Source, Packet: pkt})
}

// relay forwards a packet for another destination. The TTL is consumed
// first; a packet that arrives with none left is dropped. A DATA packet
// with no onward route is answered with a ROUTE_ERROR.
func (n *Node) relay(pkt *transport.Packet, via PeerInfo, known bool) {
	logger := logrus.WithFields(logrus.Fields{
		"function":    "relay",
		"type":        pkt.Header.Type.String(),
		"source":      pkt.Header.Source.String(),
		"destination": pkt.Header.Destination.String(),
		"ttl":         pkt.Header.TTL,
	})

	if !n.options.EnableRelay {
		n.stats.packetsDropped.Add(1)
		logger.Debug("Relay disabled, dropping packet")
		return
	}
	if err := pkt.DecrementTTL(); err != nil {
		n.stats.packetsDropped.Add(1)
		logger.Debug("TTL expired, dropping packet")
		return
	}

	route, ok := n.onwardRoute(pkt.Header.Destination, via, known)
	if !ok {
		n.stats.packetsDropped.Add(1)
		logger.Debug("No onward route, dropping packet")
		if known && pkt.Header.Type == transport.PacketData {
			_ = n.sendTo(n.router.NewRouteError(pkt), via)
		}
		return
	}

	if err := n.sendVia(pkt, route.NextHop); err != nil {
		n.stats.packetsDropped.Add(1)
		logger.WithError(err).Warn("Failed to relay packet")
		n.emitError(route.NextHop, err)
		return
	}
	n.stats.packetsForwarded.Add(1)
}

// onwardRoute picks the best route to dest that does not lead back to the
// neighbour the packet came from.
func (n *Node) onwardRoute(dest address.Address, via PeerInfo, known bool) (router.RouteEntry, bool) {
	route, ok := n.router.FindRoute(dest)
	if !ok || route.Interface == router.InterfaceLocal {
		return router.RouteEntry{}, false
	}
	if !known || !route.NextHop.Equal(via.Address) {
		return route, true
	}
	for _, alt := range n.router.FindMultipleRoutes(dest, router.K) {
		if !alt.NextHop.Equal(via.Address) {
			return alt, true
		}
	}
	return router.RouteEntry{}, false
}

func (n *Node) handleRouteRequest(pkt *transport.Packet, from transport.Endpoint) error {
	reply := n.router.ProcessRouteRequest(pkt)
	if reply == nil {
		return nil
	}
	return n.sendToEndpoint(reply, from)
}

func (n *Node) handleDHTStore(pkt *transport.Packet) {
	entry, err := dht.UnmarshalEntry(pkt.Payload)
	if err == nil {
		err = n.dht.Store(entry)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDHTStore",
			"source":   pkt.Header.Source.String(),
			"error":    err.Error(),
		}).Warn("Rejected DHT entry")
	}
}

// announce is the ANNOUNCE payload:
// [public key(32)][capabilities(1)][bandwidth(4)][endpoints].
type announce struct {
	PublicKey    [crypto.KeySize]byte
	Capabilities Capabilities
	Endpoints    []transport.Endpoint
}

func (a announce) marshal() ([]byte, error) {
	buf := make([]byte, 0, crypto.KeySize+5+32)
	buf = append(buf, a.PublicKey[:]...)
	buf = append(buf, a.Capabilities.bits())
	buf = binary.BigEndian.AppendUint32(buf, a.Capabilities.Bandwidth)
	return transport.AppendEndpoints(buf, a.Endpoints)
}

func parseAnnounce(data []byte) (announce, error) {
	if len(data) < crypto.KeySize+5 {
		return announce{}, fmt.Errorf("%w: %d bytes", errMalformedAnnounce, len(data))
	}
	var a announce
	copy(a.PublicKey[:], data[:crypto.KeySize])
	a.Capabilities = capabilitiesFromBits(data[crypto.KeySize], binary.BigEndian.Uint32(data[crypto.KeySize+1:]))

	eps, rest, err := transport.ParseEndpoints(data[crypto.KeySize+5:])
	if err != nil {
		return announce{}, fmt.Errorf("%w: %v", errMalformedAnnounce, err)
	}
	if len(rest) != 0 {
		return announce{}, fmt.Errorf("%w: %d trailing bytes", errMalformedAnnounce, len(rest))
	}
	a.Endpoints = eps
	return a, nil
}

// handleAnnounce creates or refreshes the announcing peer. A newly
// discovered peer is announced back to.
func (n *Node) handleAnnounce(pkt *transport.Packet, from transport.Endpoint) error {
	src := pkt.Header.Source
	ann, err := parseAnnounce(pkt.Payload)
	if err == nil && !src.ClaimedBy(ann.PublicKey) {
		err = fmt.Errorf("%w: source not owned by announced key", errMalformedAnnounce)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAnnounce",
			"from":     from.String(),
			"error":    err.Error(),
		}).Warn("Dropping announce")
		return nil
	}

	if n.peers.update(src, n.clock.Now(), &ann.Capabilities, ann.Endpoints) {
		n.peers.bind(src, from)
		n.router.AddDirectRoute(src)
		n.dht.Touch(src)
		return nil
	}

	eps := ann.Endpoints
	if len(eps) == 0 {
		eps = []transport.Endpoint{from}
	}
	if err := n.AddPeer(PeerInfo{
		Address:      src,
		PublicKey:    ann.PublicKey,
		Capabilities: ann.Capabilities,
		Endpoints:    eps,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAnnounce",
			"peer":     src.String(),
			"error":    err.Error(),
		}).Info("Not adding announced peer")
		return nil
	}
	n.peers.bind(src, from)
	n.announceTo(src)
	return nil
}

// announcePayload describes this node to its neighbours.
func (n *Node) announcePayload() []byte {
	eps := append(n.transport.LocalEndpoints(), n.options.listenEndpoints()...)
	payload, err := announce{
		PublicKey: n.keyPair.Public,
		Capabilities: Capabilities{
			Relay:     n.options.EnableRelay,
			Multipath: true,
			Storage:   true,
		},
		Endpoints: eps,
	}.marshal()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "announcePayload",
			"error":    err.Error(),
		}).Error("Failed to encode announce")
	}
	return payload
}

// announceTo sends an ANNOUNCE to a known peer.
func (n *Node) announceTo(addr address.Address) {
	peer, ok := n.peers.get(addr)
	if !ok {
		return
	}
	pkt := n.newPacket(transport.PacketAnnounce, addr, n.announcePayload())
	if err := n.sendTo(pkt, peer); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "announceTo",
			"peer":     addr.String(),
			"error":    err.Error(),
		}).Debug("Announce failed")
	}
}

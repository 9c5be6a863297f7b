// Package geomesh implements a node of a location-aware peer-to-peer mesh.
//
// Every node derives an Ed25519 identity, a 128-bit node id (the hash of its
// public key) and a 256-bit address that carries a four-character geohash of
// the node's approximate location. Packets are routed toward destinations
// using direct and learned routes first, geographic proximity second, and
// the DHT as a last resort.
//
// # Getting Started
//
// Create a node with options and subscribe to its events:
//
//	network := transport.NewMemoryNetwork()
//	link, err := network.Listen("berlin-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	options := geomesh.NewOptions()
//	options.Location = address.Location{Lat: 52.52, Lon: 13.405}
//	options.Transport = link
//
//	node, err := geomesh.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Stop()
//
//	events, cancel := node.Subscribe(64)
//	defer cancel()
//
//	if err := node.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
//	for ev := range events {
//	    if ev.Type == geomesh.EventPacketReceived {
//	        fmt.Printf("%s: %s\n", ev.Peer, ev.Packet.Payload)
//	    }
//	}
//
// # Core Types
//
//   - [Node]: the node façade owning the peer table, router and DHT
//   - [Options]: configuration, loadable from YAML with [LoadOptions]
//   - [PeerInfo]: what the node knows about a neighbour
//   - [Event]: lifecycle and traffic notifications
//   - [NodeStats]: counters and gauges, also exported to Prometheus
//
// # Sending
//
// [Node.Send] resolves a route (running discovery when none is held) and
// hands a DATA packet to the next hop's best endpoint:
//
//	err := node.Send(ctx, dest, []byte("hello"))
//	switch {
//	case errors.Is(err, geomesh.ErrNoRouteFound):
//	    // nobody knows the way
//	case errors.As(err, new(*transport.TransportError)):
//	    // the next hop could not be reached
//	}
//
// [Node.SendMultipath] sends the same packet over several routes; the
// receiver delivers it once.
//
// # DHT
//
// [Node.Publish] signs a key/value entry, stores it locally and replicates
// it to the closest peers. [Node.Lookup] reads the local store. Entries
// expire by TTL and are not republished.
//
// # Relaying
//
// With EnableRelay set, packets for other destinations are forwarded with
// their TTL decremented by one. Packets arriving with a TTL of zero are
// dropped.
//
// # Sub-packages
//
//   - crypto: key pairs, signatures and node ids
//   - address: addresses, geohash helpers and distance metrics
//   - transport: packet codec, extensions and the in-memory transport
//   - dht: k-bucket routing table and signed key/value store
//   - router: route table, discovery and learning
//   - limits: protocol size and hop limits
package geomesh

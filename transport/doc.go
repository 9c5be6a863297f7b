// Package transport defines the mesh packet format and the link abstraction
// nodes send it over.
//
// # Packets
//
// A packet is a fixed 64-byte header followed by the payload and then the
// extensions:
//
//	[type(1)][ttl(1)][flow label(2)][payload length(2)]
//	[source(21)][destination(21)][sequence(4)][timestamp ms(8)]
//	[extensions length(2)][extension count(1)][reserved(1)]
//
// Addresses travel in their compact 21-byte form. Serialization is
// deterministic, and ParsePacket never panics on malformed input:
//
//	data, err := pkt.Serialize()
//	if err != nil {
//	    return err
//	}
//	parsed, err := transport.ParsePacket(data)
//	if errors.Is(err, transport.ErrTruncatedPacket) {
//	    // drop it
//	}
//
// Extensions are type-length-value records. Known types have typed
// constructors and accessors (routing hint, fragmentation, encryption, QoS,
// source route). ParsePacket keeps unknown types opaquely so relays forward
// them unchanged; ParsePacketStrict rejects them.
//
// # Links
//
// The Transport interface is the only thing the mesh core sees of the
// network:
//
//	type Transport interface {
//	    Send(packet *Packet, to Endpoint) error
//	    Close() error
//	    LocalEndpoints() []Endpoint
//	    RegisterHandler(packetType PacketType, handler PacketHandler)
//	}
//
// An Endpoint is a kind (tcp, udp, webrtc, memory) plus an address and a
// priority. Send failures are returned as *TransportError, which carries
// the operation and endpoint and unwraps to a sentinel such as
// ErrUnreachable or ErrQueueFull.
//
// MemoryNetwork connects MemoryTransports inside one process. Packets are
// serialized on Send and parsed on receipt, so they take the same path as
// on a real link, and links can be cut to simulate partitions:
//
//	network := transport.NewMemoryNetwork()
//	a, _ := network.Listen("a")
//	b, _ := network.Listen("b")
//	b.RegisterHandler(transport.PacketData, handle)
//	err := a.Send(pkt, transport.Endpoint{Kind: transport.EndpointMemory, Address: "b"})
package transport

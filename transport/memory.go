package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultInboxSize is the receive queue length of a MemoryTransport.
const DefaultInboxSize = 256

// MemoryNetwork connects MemoryTransports living in one process. Every
// packet is serialized on send and parsed on receipt, so the full wire
// codec is exercised. Links can be cut to simulate failures.
type MemoryNetwork struct {
	mu         sync.RWMutex
	transports map[string]*MemoryTransport
	cut        map[[2]string]bool
}

// NewMemoryNetwork creates an empty in-process network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		transports: make(map[string]*MemoryTransport),
		cut:        make(map[[2]string]bool),
	}
}

// Listen attaches a new transport reachable at memory://name.
func (n *MemoryNetwork) Listen(name string) (*MemoryTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.transports[name]; exists {
		return nil, fmt.Errorf("memory endpoint %q already in use", name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &MemoryTransport{
		network:  n,
		local:    Endpoint{Kind: EndpointMemory, Address: name},
		handlers: make(map[PacketType]PacketHandler),
		inbox:    make(chan delivery, DefaultInboxSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	n.transports[name] = t

	go t.processPackets()

	return t, nil
}

// CutLink drops all packets from a to b until RestoreLink is called.
func (n *MemoryNetwork) CutLink(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[[2]string{a, b}] = true
}

// RestoreLink undoes CutLink.
func (n *MemoryNetwork) RestoreLink(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cut, [2]string{a, b})
}

func (n *MemoryNetwork) lookup(from, to string) (*MemoryTransport, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.cut[[2]string{from, to}] {
		return nil, ErrUnreachable
	}
	t, ok := n.transports[to]
	if !ok {
		return nil, ErrUnreachable
	}
	return t, nil
}

func (n *MemoryNetwork) detach(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.transports, name)
}

type delivery struct {
	data []byte
	from Endpoint
}

// MemoryTransport is a Transport on a MemoryNetwork. Inbound packets are
// handled one at a time on the transport's own goroutine.
type MemoryTransport struct {
	network  *MemoryNetwork
	local    Endpoint
	handlers map[PacketType]PacketHandler
	mu       sync.RWMutex
	inbox    chan delivery
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// RegisterHandler registers a handler for a specific packet type.
func (t *MemoryTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[packetType] = handler
}

// Send serializes the packet and queues it on the receiving transport.
func (t *MemoryTransport) Send(packet *Packet, to Endpoint) error {
	if t.ctx.Err() != nil {
		return newTransportError("send", to, ErrTransportClosed)
	}
	if to.Kind != EndpointMemory {
		return newTransportError("send", to, ErrUnsupportedEndpoint)
	}

	data, err := packet.Serialize()
	if err != nil {
		return newTransportError("send", to, err)
	}

	peer, err := t.network.lookup(t.local.Address, to.Address)
	if err != nil {
		return newTransportError("send", to, err)
	}

	return peer.enqueue(delivery{data: data, from: t.local})
}

func (t *MemoryTransport) enqueue(d delivery) error {
	select {
	case <-t.ctx.Done():
		return newTransportError("send", t.local, ErrUnreachable)
	default:
	}

	select {
	case t.inbox <- d:
		return nil
	default:
		return newTransportError("send", t.local, ErrQueueFull)
	}
}

// Close detaches the transport and stops its receive loop.
func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		t.network.detach(t.local.Address)
		t.cancel()
	})
	<-t.done
	return nil
}

// LocalEndpoints returns the single memory endpoint of the transport.
func (t *MemoryTransport) LocalEndpoints() []Endpoint {
	return []Endpoint{t.local}
}

// processPackets handles incoming packets until the transport is closed.
func (t *MemoryTransport) processPackets() {
	defer close(t.done)

	for {
		select {
		case <-t.ctx.Done():
			return
		case d := <-t.inbox:
			t.processIncomingPacket(d)
		}
	}
}

// processIncomingPacket parses and dispatches a single incoming packet.
// Malformed packets are dropped.
func (t *MemoryTransport) processIncomingPacket(d delivery) {
	packet, err := ParsePacket(d.data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "processIncomingPacket",
			"local":    t.local.String(),
			"from":     d.from.String(),
			"size":     len(d.data),
			"error":    err.Error(),
		}).Warn("Dropping malformed packet")
		return
	}

	t.dispatchPacketToHandler(packet, d.from)
}

// dispatchPacketToHandler finds and executes the appropriate packet handler.
func (t *MemoryTransport) dispatchPacketToHandler(packet *Packet, from Endpoint) {
	t.mu.RLock()
	handler, exists := t.handlers[packet.Header.Type]
	t.mu.RUnlock()

	if !exists {
		logrus.WithFields(logrus.Fields{
			"function":    "dispatchPacketToHandler",
			"local":       t.local.String(),
			"packet_type": packet.Header.Type.String(),
		}).Debug("No handler registered for packet type")
		return
	}

	if err := handler(packet, from); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "dispatchPacketToHandler",
			"local":       t.local.String(),
			"from":        from.String(),
			"packet_type": packet.Header.Type.String(),
			"error":       err.Error(),
		}).Debug("Packet handler returned error")
	}
}

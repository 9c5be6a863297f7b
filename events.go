package geomesh

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/router"
	"github.com/opd-ai/geomesh/transport"
)

// EventType names a node event.
type EventType string

const (
	EventPeerDiscovered   EventType = "peer:discovered"
	EventPeerConnected    EventType = "peer:connected"
	EventPeerDisconnected EventType = "peer:disconnected"
	EventPacketReceived   EventType = "packet:received"
	EventPacketSent       EventType = "packet:sent"
	EventRouteAdded       EventType = "route:added"
	EventRouteRemoved     EventType = "route:removed"
	EventError            EventType = "error"
)

// Event is a notification from a node. Peer is the neighbour involved, or
// the packet source for EventPacketReceived. Packet, Route and Err are set
// where they apply.
type Event struct {
	Type   EventType
	Time   time.Time
	Peer   address.Address
	Packet *transport.Packet
	Route  *router.RouteEntry
	Err    error
}

// eventBus fans events out to subscriber channels. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type eventBus struct {
	subs   map[int]chan Event
	next   int
	closed bool
	mu     sync.Mutex
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logrus.WithFields(logrus.Fields{
				"function":   "publish",
				"event":      string(ev.Type),
				"subscriber": id,
			}).Warn("Subscriber too slow, dropping event")
		}
	}
}

// close closes every subscriber channel. Later subscriptions get a
// closed channel.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribe returns a channel receiving the node's events and a function
// that ends the subscription. The channel is closed when the node stops
// or the subscription ends. Events are dropped for a subscriber whose
// buffer is full.
func (n *Node) Subscribe(buffer int) (<-chan Event, func()) {
	return n.events.subscribe(buffer)
}

func (n *Node) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = n.clock.Now()
	}
	n.events.publish(ev)
}

func (n *Node) emitError(peer address.Address, err error) {
	n.emit(Event{Type: EventError, Peer: peer, Err: err})
}

package router

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/dht"
	"github.com/opd-ai/geomesh/limits"
	"github.com/opd-ai/geomesh/transport"
)

const (
	// DefaultRouteLifetime is how long confirmed and learned routes live
	// without being refreshed.
	DefaultRouteLifetime = 5 * time.Minute

	// DefaultMaintenanceInterval is how often Run purges expired routes.
	DefaultMaintenanceInterval = 60 * time.Second

	// DHTRouteLifetime is the expiry of provisional DHT-derived routes.
	DHTRouteLifetime = 60 * time.Second

	// dhtMetricScale converts a routing distance into a route metric.
	dhtMetricScale = 100
)

// PeerFinder returns the DHT contacts closest to a target. *dht.DHT
// implements it.
type PeerFinder interface {
	FindClosestPeers(target address.Address, count int) []dht.Contact
}

// EventType names a router event.
type EventType string

const (
	EventRouteAdded   EventType = "route:added"
	EventRouteRemoved EventType = "route:removed"
	EventRouteRequest EventType = "route:request"
)

// Event is passed to the Observer. Request is set for EventRouteRequest
// and holds the ROUTE_REQUEST packet to send to neighbours.
type Event struct {
	Type    EventType
	Route   RouteEntry
	Request *transport.Packet
}

// Observer receives router events. It is never called with a router lock
// held, so it may call back into the router.
type Observer func(Event)

// Config configures a Router.
type Config struct {
	Local               address.Address
	HopLimit            uint8
	RouteLifetime       time.Duration
	MaintenanceInterval time.Duration
	Peers               PeerFinder
	Clock               clock.Clock
	Observer            Observer
}

// Router owns the route table and the discovery state of one node.
type Router struct {
	local    address.Address
	hopLimit uint8
	lifetime time.Duration
	interval time.Duration
	peers    PeerFinder
	clock    clock.Clock
	observer Observer

	table *Table

	pending  map[address.Key]*pendingRequest
	seen     *bloom.BloomFilter
	prevSeen *bloom.BloomFilter
	mu       sync.Mutex
}

// New creates a router for the node at cfg.Local.
func New(cfg Config) *Router {
	if cfg.HopLimit == 0 {
		cfg.HopLimit = limits.DefaultHopLimit
	}
	if cfg.RouteLifetime <= 0 {
		cfg.RouteLifetime = DefaultRouteLifetime
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Router{
		local:    cfg.Local,
		hopLimit: cfg.HopLimit,
		lifetime: cfg.RouteLifetime,
		interval: cfg.MaintenanceInterval,
		peers:    cfg.Peers,
		clock:    cfg.Clock,
		observer: cfg.Observer,
		table:    NewTable(K),
		pending:  make(map[address.Key]*pendingRequest),
		seen:     newSeenFilter(),
		prevSeen: newSeenFilter(),
	}
}

// Local returns the router's own address.
func (r *Router) Local() address.Address { return r.local }

// HopLimit returns the initial TTL of packets originated here.
func (r *Router) HopLimit() uint8 { return r.hopLimit }

// AddRoute inserts a route. A zero Expiry means now plus the route
// lifetime and a zero PrefixLength means a host route.
func (r *Router) AddRoute(e RouteEntry) bool {
	if e.Destination.Equal(r.local) {
		return false
	}
	if e.Expiry.IsZero() {
		e.Expiry = r.clock.Now().Add(r.lifetime)
	}
	if e.PrefixLength == 0 {
		e.PrefixLength = HostPrefixLength
	}
	if e.Interface == "" {
		e.Interface = InterfaceMesh
	}

	added, dropped := r.table.Add(e)
	if added {
		logrus.WithFields(logrus.Fields{
			"function": "AddRoute",
			"route":    e.String(),
		}).Debug("Route added")
		r.emit(Event{Type: EventRouteAdded, Route: e})
	}
	r.emitRemoved(dropped)
	return added
}

// AddDirectRoute installs the one-hop route to a neighbour.
func (r *Router) AddDirectRoute(peer address.Address) bool {
	return r.AddRoute(RouteEntry{
		Destination: peer,
		NextHop:     peer,
		Metric:      1,
		HopCount:    1,
		Interface:   InterfaceMesh,
	})
}

// RemoveRoute deletes the route to dest through nextHop.
func (r *Router) RemoveRoute(dest, nextHop address.Address) bool {
	removed, ok := r.table.Remove(dest, nextHop)
	if ok {
		r.emit(Event{Type: EventRouteRemoved, Route: removed})
	}
	return ok
}

// Routes returns the unexpired routes held for dest, best first.
func (r *Router) Routes(dest address.Address) []RouteEntry {
	return r.table.Routes(dest, r.clock.Now())
}

// RouteCount returns the number of routes held.
func (r *Router) RouteCount() int {
	return r.table.Len()
}

// FindRoute resolves the best route to dest, or reports false when none
// of the sources has one.
func (r *Router) FindRoute(dest address.Address) (RouteEntry, bool) {
	now := r.clock.Now()

	if dest.Equal(r.local) {
		return r.localRoute(now), true
	}

	if route, ok := r.table.Best(dest, now); ok {
		return route, true
	}

	if route, ok := r.findByPrefix(dest, now); ok {
		return route, true
	}

	routes := r.dhtRoutes(dest, 1, now)
	if len(routes) > 0 {
		return routes[0], true
	}
	return RouteEntry{}, false
}

// FindMultipleRoutes returns up to count routes to dest with distinct next
// hops: held routes first, then DHT candidates.
func (r *Router) FindMultipleRoutes(dest address.Address, count int) []RouteEntry {
	if count <= 0 {
		return nil
	}
	now := r.clock.Now()
	if dest.Equal(r.local) {
		return []RouteEntry{r.localRoute(now)}
	}

	candidates := r.table.Routes(dest, now)
	if len(candidates) < count {
		candidates = append(candidates, r.dhtRoutes(dest, count, now)...)
	}

	seen := make(map[address.Key]bool, len(candidates))
	out := make([]RouteEntry, 0, count)
	for _, c := range candidates {
		key := c.NextHop.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == count {
			break
		}
	}
	return out
}

func (r *Router) localRoute(now time.Time) RouteEntry {
	return RouteEntry{
		Destination:  r.local,
		PrefixLength: HostPrefixLength,
		NextHop:      r.local,
		Expiry:       now.Add(r.lifetime),
		Interface:    InterfaceLocal,
	}
}

// findByPrefix reuses the next hop of a route toward a destination sharing
// the longest geohash prefix with dest.
func (r *Router) findByPrefix(dest address.Address, now time.Time) (RouteEntry, bool) {
	for n := address.GeohashLength; n >= 1; n-- {
		base, ok := r.table.BestByPrefix(dest, n, now)
		if !ok {
			continue
		}
		return RouteEntry{
			Destination:  dest,
			PrefixLength: geohashPrefixLength(n),
			NextHop:      base.NextHop,
			Metric:       base.Metric + uint32(address.GeohashLength-n) + 1,
			Expiry:       base.Expiry,
			HopCount:     saturatingInc(base.HopCount),
			Interface:    base.Interface,
		}, true
	}
	return RouteEntry{}, false
}

// dhtRoutes synthesizes provisional single-hop routes toward the DHT
// contacts closest to dest.
func (r *Router) dhtRoutes(dest address.Address, count int, now time.Time) []RouteEntry {
	if r.peers == nil {
		return nil
	}
	if count < K {
		count = K
	}

	var out []RouteEntry
	for _, c := range r.peers.FindClosestPeers(dest, count) {
		if c.Address.Equal(r.local) {
			continue
		}
		out = append(out, RouteEntry{
			Destination:  dest,
			PrefixLength: HostPrefixLength,
			NextHop:      c.Address,
			Metric:       DHTMetric(dest, c.Address),
			Expiry:       now.Add(DHTRouteLifetime),
			HopCount:     1,
			Interface:    InterfaceDHT,
		})
	}
	return out
}

// DHTMetric is the metric of a provisional route to dest through via: the
// routing distance between them scaled by 100, plus one full distance unit
// so that a DHT candidate never ranks ahead of a direct link.
func DHTMetric(dest, via address.Address) uint32 {
	d := address.RoutingDistance(dest, via)
	return uint32(math.Round((1 + d) * dhtMetricScale))
}

// hopsTravelled estimates how many links a packet crossed from its
// remaining TTL. Senders do not decrement before the first link, so a
// packet from a neighbour counts as one hop.
func (r *Router) hopsTravelled(ttl uint8) uint8 {
	if ttl >= r.hopLimit {
		return 1
	}
	return r.hopLimit - ttl + 1
}

func saturatingInc(v uint8) uint8 {
	if v == math.MaxUint8 {
		return v
	}
	return v + 1
}

func (r *Router) emit(ev Event) {
	if r.observer != nil {
		r.observer(ev)
	}
}

func (r *Router) emitRemoved(routes []RouteEntry) {
	for _, route := range routes {
		r.emit(Event{Type: EventRouteRemoved, Route: route})
	}
}

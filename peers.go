package geomesh

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/transport"
)

const (
	// DefaultReputation is the reputation of a new peer.
	DefaultReputation = 50
	// MaxReputation caps a peer's reputation.
	MaxReputation = 100

	reputationGain = 1
	reputationLoss = 5
)

// Capabilities describes what a peer offers the mesh.
type Capabilities struct {
	Relay     bool
	Multipath bool
	Storage   bool
	Gateway   bool
	// Bandwidth in kbit/s, zero when unknown.
	Bandwidth uint32
}

const (
	capRelay byte = 1 << iota
	capMultipath
	capStorage
	capGateway
)

func (c Capabilities) bits() byte {
	var b byte
	if c.Relay {
		b |= capRelay
	}
	if c.Multipath {
		b |= capMultipath
	}
	if c.Storage {
		b |= capStorage
	}
	if c.Gateway {
		b |= capGateway
	}
	return b
}

func capabilitiesFromBits(b byte, bandwidth uint32) Capabilities {
	return Capabilities{
		Relay:     b&capRelay != 0,
		Multipath: b&capMultipath != 0,
		Storage:   b&capStorage != 0,
		Gateway:   b&capGateway != 0,
		Bandwidth: bandwidth,
	}
}

// PeerInfo is what the node knows about a neighbour.
type PeerInfo struct {
	Address      address.Address
	PublicKey    [crypto.KeySize]byte
	LastSeen     time.Time
	RTT          time.Duration
	Capabilities Capabilities
	// Endpoints are ordered by priority, most preferred first.
	Endpoints  []transport.Endpoint
	Reputation int
}

// BestEndpoint returns the most preferred endpoint.
func (p PeerInfo) BestEndpoint() (transport.Endpoint, bool) {
	if len(p.Endpoints) == 0 {
		return transport.Endpoint{}, false
	}
	best := p.Endpoints[0]
	for _, ep := range p.Endpoints[1:] {
		if ep.Priority < best.Priority {
			best = ep
		}
	}
	return best, true
}

func (p PeerInfo) clone() PeerInfo {
	p.Endpoints = append([]transport.Endpoint(nil), p.Endpoints...)
	return p
}

// peerTable indexes peers by address and by the endpoints they were
// reached on.
type peerTable struct {
	peers      map[address.Key]*PeerInfo
	byEndpoint map[transport.Endpoint]address.Key
	mu         sync.RWMutex
}

func newPeerTable() *peerTable {
	return &peerTable{
		peers:      make(map[address.Key]*PeerInfo),
		byEndpoint: make(map[transport.Endpoint]address.Key),
	}
}

// put inserts a peer, reporting false if it was already present.
func (pt *peerTable) put(info PeerInfo) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	key := info.Address.Key()
	if _, exists := pt.peers[key]; exists {
		return false
	}
	stored := info.clone()
	transport.SortEndpoints(stored.Endpoints)
	pt.peers[key] = &stored
	for _, ep := range stored.Endpoints {
		pt.byEndpoint[endpointKey(ep)] = key
	}
	return true
}

// update merges announced details into a known peer.
func (pt *peerTable) update(addr address.Address, now time.Time, caps *Capabilities, eps []transport.Endpoint) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	p, ok := pt.peers[addr.Key()]
	if !ok {
		return false
	}
	p.LastSeen = now
	if caps != nil {
		p.Capabilities = *caps
	}
	if len(eps) > 0 {
		for _, ep := range p.Endpoints {
			delete(pt.byEndpoint, endpointKey(ep))
		}
		p.Endpoints = append([]transport.Endpoint(nil), eps...)
		transport.SortEndpoints(p.Endpoints)
		for _, ep := range p.Endpoints {
			pt.byEndpoint[endpointKey(ep)] = addr.Key()
		}
	}
	return true
}

func (pt *peerTable) remove(addr address.Address) (PeerInfo, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	key := addr.Key()
	p, ok := pt.peers[key]
	if !ok {
		return PeerInfo{}, false
	}
	delete(pt.peers, key)
	for ep, k := range pt.byEndpoint {
		if k == key {
			delete(pt.byEndpoint, ep)
		}
	}
	return *p, true
}

func (pt *peerTable) get(addr address.Address) (PeerInfo, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	p, ok := pt.peers[addr.Key()]
	if !ok {
		return PeerInfo{}, false
	}
	return p.clone(), true
}

// byFrom returns the peer reached on ep.
func (pt *peerTable) byFrom(ep transport.Endpoint) (PeerInfo, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	key, ok := pt.byEndpoint[endpointKey(ep)]
	if !ok {
		return PeerInfo{}, false
	}
	return pt.peers[key].clone(), true
}

// bind records that addr was reached on ep.
func (pt *peerTable) bind(addr address.Address, ep transport.Endpoint) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, ok := pt.peers[addr.Key()]; ok {
		pt.byEndpoint[endpointKey(ep)] = addr.Key()
	}
}

func (pt *peerTable) touch(addr address.Address, now time.Time) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if p, ok := pt.peers[addr.Key()]; ok {
		p.LastSeen = now
	}
}

// adjustReputation moves a peer's reputation by delta within [0, MaxReputation].
func (pt *peerTable) adjustReputation(addr address.Address, delta int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	p, ok := pt.peers[addr.Key()]
	if !ok {
		return
	}
	p.Reputation += delta
	if p.Reputation < 0 {
		p.Reputation = 0
	}
	if p.Reputation > MaxReputation {
		p.Reputation = MaxReputation
	}
}

// list returns all peers ordered by address.
func (pt *peerTable) list() []PeerInfo {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	out := make([]PeerInfo, 0, len(pt.peers))
	for _, p := range pt.peers {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out
}

// silent returns peers not seen within timeout.
func (pt *peerTable) silent(now time.Time, timeout time.Duration) []address.Address {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	var out []address.Address
	for _, p := range pt.peers {
		if now.Sub(p.LastSeen) >= timeout {
			out = append(out, p.Address)
		}
	}
	return out
}

func (pt *peerTable) len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.peers)
}

// endpointKey drops the priority, which is not part of where a packet
// came from.
func endpointKey(ep transport.Endpoint) transport.Endpoint {
	ep.Priority = 0
	return ep
}

package geomesh

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// NodeStats is a snapshot of a node's counters and gauges.
type NodeStats struct {
	PacketsSent      uint64
	PacketsReceived  uint64
	PacketsForwarded uint64
	PacketsDropped   uint64
	BytesSent        uint64
	BytesReceived    uint64

	ConnectedPeers int
	RouteCount     int
	DHTEntries     int
	Uptime         time.Duration
}

type counters struct {
	packetsSent      atomic.Uint64
	packetsReceived  atomic.Uint64
	packetsForwarded atomic.Uint64
	packetsDropped   atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
}

func (c *counters) sent(bytes int) {
	c.packetsSent.Add(1)
	c.bytesSent.Add(uint64(bytes))
}

func (c *counters) received(bytes int) {
	c.packetsReceived.Add(1)
	c.bytesReceived.Add(uint64(bytes))
}

// Stats returns the node's current statistics.
func (n *Node) Stats() NodeStats {
	return NodeStats{
		PacketsSent:      n.stats.packetsSent.Load(),
		PacketsReceived:  n.stats.packetsReceived.Load(),
		PacketsForwarded: n.stats.packetsForwarded.Load(),
		PacketsDropped:   n.stats.packetsDropped.Load(),
		BytesSent:        n.stats.bytesSent.Load(),
		BytesReceived:    n.stats.bytesReceived.Load(),
		ConnectedPeers:   n.peers.len(),
		RouteCount:       n.router.RouteCount(),
		DHTEntries:       n.dht.Entries(),
		Uptime:           n.uptime(),
	}
}

func (n *Node) uptime() time.Duration {
	started := n.startedAt.Load()
	if started == 0 {
		return 0
	}
	return n.clock.Since(time.Unix(0, started))
}

// registerMetrics exports the node statistics on reg. The collectors
// read the same atomics as Stats.
func (n *Node) registerMetrics(reg prometheus.Registerer) error {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "geomesh",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "geomesh",
			Name:      name,
			Help:      help,
		}, f)
	}

	collectors := []prometheus.Collector{
		counter("packets_sent_total", "Packets sent by this node.", &n.stats.packetsSent),
		counter("packets_received_total", "Packets received by this node.", &n.stats.packetsReceived),
		counter("packets_forwarded_total", "Packets relayed toward other nodes.", &n.stats.packetsForwarded),
		counter("packets_dropped_total", "Packets dropped without delivery.", &n.stats.packetsDropped),
		counter("bytes_sent_total", "Bytes sent by this node.", &n.stats.bytesSent),
		counter("bytes_received_total", "Bytes received by this node.", &n.stats.bytesReceived),
		gauge("connected_peers", "Peers in the peer table.", func() float64 { return float64(n.peers.len()) }),
		gauge("routes", "Routes held by the router.", func() float64 { return float64(n.router.RouteCount()) }),
		gauge("dht_entries", "Entries held by the DHT store.", func() float64 { return float64(n.dht.Entries()) }),
		gauge("uptime_seconds", "Time since the node started.", func() float64 { return n.uptime().Seconds() }),
	}

	var err error
	for _, c := range collectors {
		err = multierr.Append(err, reg.Register(c))
	}
	return err
}

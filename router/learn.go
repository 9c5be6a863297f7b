package router

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/transport"
)

// LearnRoute records a reverse route toward the declared source of a
// received packet through the neighbour via that delivered it. The hop
// count and metric are estimated from the remaining TTL.
func (r *Router) LearnRoute(pkt *transport.Packet, via address.Address) bool {
	src := pkt.Header.Source
	if src.IsZero() || src.Equal(r.local) || via.IsZero() || via.Equal(r.local) {
		return false
	}
	if err := src.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "LearnRoute",
			"source":   src.String(),
			"error":    err.Error(),
		}).Debug("Not learning route to invalid source")
		return false
	}

	hops := r.hopsTravelled(pkt.Header.TTL)
	return r.AddRoute(RouteEntry{
		Destination:  src,
		PrefixLength: HostPrefixLength,
		NextHop:      via,
		Metric:       uint32(hops),
		Expiry:       r.clock.Now().Add(r.lifetime),
		HopCount:     hops,
		Interface:    InterfaceLearned,
	})
}

// NewRouteError builds the ROUTE_ERROR sent back to the source of a packet
// that could not be forwarded toward its destination.
func (r *Router) NewRouteError(undeliverable *transport.Packet) *transport.Packet {
	return &transport.Packet{
		Header: transport.Header{
			Type:        transport.PacketRouteError,
			TTL:         r.hopLimit,
			FlowLabel:   undeliverable.Header.FlowLabel,
			Source:      r.local,
			Destination: undeliverable.Header.Source,
			Sequence:    undeliverable.Header.Sequence,
			Timestamp:   r.clock.Now(),
		},
		Payload: undeliverable.Header.Destination.AppendCompact(nil),
	}
}

// ProcessRouteError drops the route to the unreachable destination named
// by a ROUTE_ERROR that arrived through via.
func (r *Router) ProcessRouteError(pkt *transport.Packet, via address.Address) bool {
	target, err := ParseRouteError(pkt.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ProcessRouteError",
			"error":    err.Error(),
		}).Warn("Dropping malformed route error")
		return false
	}
	return r.RemoveRoute(target, via)
}

package router

import (
	"context"
	"errors"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/transport"
)

// ErrRequestCancelled is returned by RequestRoute when the pending request
// is revoked with CancelRequest.
var ErrRequestCancelled = errors.New("router: route request cancelled")

const (
	seenFilterCapacity = 10000
	seenFilterFPRate   = 0.001
)

// pendingRequest is shared by every caller waiting on the same
// destination. done is closed once route or cancelled is set.
type pendingRequest struct {
	id        uuid.UUID
	target    address.Address
	waiters   int
	done      chan struct{}
	route     RouteEntry
	cancelled bool
}

func newSeenFilter() *bloom.BloomFilter {
	return bloom.NewWithEstimates(seenFilterCapacity, seenFilterFPRate)
}

// RequestRoute resolves dest, running discovery when no confirmed route is
// held. Discovery emits EventRouteRequest and waits for a matching reply
// for at most timeout; on timeout the current FindRoute answer, possibly
// nil, is returned without error. Concurrent callers for the same
// destination share one request.
func (r *Router) RequestRoute(ctx context.Context, dest address.Address, timeout time.Duration) (*RouteEntry, error) {
	if route, ok := r.FindRoute(dest); ok && route.Interface != InterfaceDHT {
		return &route, nil
	}

	timer := r.clock.Timer(timeout)
	defer timer.Stop()

	req, first := r.joinRequest(dest)
	if first {
		r.emitRequest(req)
	}

	select {
	case <-req.done:
		if req.cancelled {
			return nil, ErrRequestCancelled
		}
		route := req.route
		return &route, nil

	case <-timer.C:
		r.leaveRequest(req)
		logrus.WithFields(logrus.Fields{
			"function":    "RequestRoute",
			"destination": dest.String(),
			"timeout":     timeout,
		}).Debug("Route discovery timed out")
		if route, ok := r.FindRoute(dest); ok {
			return &route, nil
		}
		return nil, nil

	case <-ctx.Done():
		r.leaveRequest(req)
		return nil, ctx.Err()
	}
}

// CancelRequest revokes the pending request for dest. Every waiter returns
// ErrRequestCancelled. It reports whether a request was pending.
func (r *Router) CancelRequest(dest address.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[dest.Key()]
	if !ok {
		return false
	}
	delete(r.pending, dest.Key())
	req.cancelled = true
	close(req.done)
	return true
}

// PendingRequests returns the number of destinations under discovery.
func (r *Router) PendingRequests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) joinRequest(dest address.Address) (*pendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dest.Key()
	if req, ok := r.pending[key]; ok {
		req.waiters++
		return req, false
	}

	req := &pendingRequest{
		id:      uuid.New(),
		target:  dest,
		waiters: 1,
		done:    make(chan struct{}),
	}
	r.pending[key] = req
	r.seen.Add(req.id[:])
	return req, true
}

// leaveRequest drops a waiter; the request is forgotten with its last one.
func (r *Router) leaveRequest(req *pendingRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req.waiters--
	key := req.target.Key()
	if req.waiters <= 0 && r.pending[key] == req {
		delete(r.pending, key)
	}
}

func (r *Router) emitRequest(req *pendingRequest) {
	payload, _ := RouteRequest{ID: req.id, Target: req.target}.MarshalBinary()
	pkt := &transport.Packet{
		Header: transport.Header{
			Type:        transport.PacketRouteRequest,
			TTL:         r.hopLimit,
			Source:      r.local,
			Destination: req.target,
			Timestamp:   r.clock.Now(),
		},
		Payload: payload,
	}

	logrus.WithFields(logrus.Fields{
		"function":    "RequestRoute",
		"destination": req.target.String(),
		"request_id":  req.id.String(),
	}).Debug("Starting route discovery")

	r.emit(Event{Type: EventRouteRequest, Request: pkt})
}

// ProcessRouteRequest answers a ROUTE_REQUEST when the target is this node
// or a confirmed route to it is held. It returns the ROUTE_REPLY to send
// back to the requester, or nil. Requests are never forwarded and each
// request id is answered once.
func (r *Router) ProcessRouteRequest(pkt *transport.Packet) *transport.Packet {
	req, err := ParseRouteRequest(pkt.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ProcessRouteRequest",
			"error":    err.Error(),
		}).Warn("Dropping malformed route request")
		return nil
	}

	if r.markSeen(req.ID) {
		return nil
	}

	requester := pkt.Header.Source
	reply := RouteReply{ID: req.ID, Target: req.Target}
	if !req.Target.Equal(r.local) {
		route, ok := r.table.Best(req.Target, r.clock.Now())
		if !ok || route.NextHop.Equal(requester) {
			return nil
		}
		reply.HopCount = route.HopCount
		reply.Metric = route.Metric
	}

	payload, _ := reply.MarshalBinary()
	return &transport.Packet{
		Header: transport.Header{
			Type:        transport.PacketRouteReply,
			TTL:         r.hopLimit,
			FlowLabel:   pkt.Header.FlowLabel,
			Source:      r.local,
			Destination: requester,
			Timestamp:   r.clock.Now(),
		},
		Payload: payload,
	}
}

// markSeen records a request id and reports whether it was already known.
func (r *Router) markSeen(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen.Test(id[:]) || r.prevSeen.Test(id[:]) {
		return true
	}
	r.seen.Add(id[:])
	return false
}

// ProcessRouteReply records the route a ROUTE_REPLY advertises, through
// the neighbour via that delivered it, and completes the matching pending
// request. Replies to unknown requests are ignored.
func (r *Router) ProcessRouteReply(pkt *transport.Packet, via address.Address) bool {
	rep, err := ParseRouteReply(pkt.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ProcessRouteReply",
			"error":    err.Error(),
		}).Warn("Dropping malformed route reply")
		return false
	}

	r.mu.Lock()
	req, ok := r.pending[rep.Target.Key()]
	if !ok || req.id != rep.ID {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, rep.Target.Key())
	r.mu.Unlock()

	hops := r.hopsTravelled(pkt.Header.TTL)
	route := RouteEntry{
		Destination:  rep.Target,
		PrefixLength: HostPrefixLength,
		NextHop:      via,
		Metric:       rep.Metric + uint32(hops),
		Expiry:       r.clock.Now().Add(r.lifetime),
		HopCount:     addHops(rep.HopCount, hops),
		Interface:    InterfaceMesh,
	}
	r.AddRoute(route)

	r.mu.Lock()
	req.route = route
	close(req.done)
	r.mu.Unlock()
	return true
}

func addHops(a, b uint8) uint8 {
	if int(a)+int(b) > 255 {
		return 255
	}
	return a + b
}

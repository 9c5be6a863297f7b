package router

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/opd-ai/geomesh/address"
)

// ErrMalformedPayload is returned for route control payloads that cannot
// be decoded.
var ErrMalformedPayload = errors.New("router: malformed control payload")

const (
	requestIDSize    = 16
	routeRequestSize = requestIDSize + address.CompactSize
	routeReplySize   = routeRequestSize + 1 + 4
	routeErrorSize   = address.CompactSize
)

// RouteRequest is the payload of a ROUTE_REQUEST packet.
type RouteRequest struct {
	ID     uuid.UUID
	Target address.Address
}

// RouteReply is the payload of a ROUTE_REPLY packet. HopCount and Metric
// are the replier's own cost toward Target.
type RouteReply struct {
	ID       uuid.UUID
	Target   address.Address
	HopCount uint8
	Metric   uint32
}

// MarshalBinary encodes [request id(16)][target compact(21)].
func (r RouteRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, routeRequestSize)
	buf = append(buf, r.ID[:]...)
	return r.Target.AppendCompact(buf), nil
}

// ParseRouteRequest decodes a ROUTE_REQUEST payload.
func ParseRouteRequest(data []byte) (RouteRequest, error) {
	if len(data) != routeRequestSize {
		return RouteRequest{}, fmt.Errorf("%w: route request is %d bytes, want %d", ErrMalformedPayload, len(data), routeRequestSize)
	}
	var req RouteRequest
	copy(req.ID[:], data[:requestIDSize])
	target, err := address.ParseCompact(data[requestIDSize:])
	if err != nil {
		return RouteRequest{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	req.Target = target
	return req, nil
}

// MarshalBinary encodes [request id(16)][target compact(21)][hops(1)][metric(4)].
func (r RouteReply) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, routeReplySize)
	buf = append(buf, r.ID[:]...)
	buf = r.Target.AppendCompact(buf)
	buf = append(buf, r.HopCount)
	return binary.BigEndian.AppendUint32(buf, r.Metric), nil
}

// ParseRouteReply decodes a ROUTE_REPLY payload.
func ParseRouteReply(data []byte) (RouteReply, error) {
	if len(data) != routeReplySize {
		return RouteReply{}, fmt.Errorf("%w: route reply is %d bytes, want %d", ErrMalformedPayload, len(data), routeReplySize)
	}
	var rep RouteReply
	copy(rep.ID[:], data[:requestIDSize])
	target, err := address.ParseCompact(data[requestIDSize:routeRequestSize])
	if err != nil {
		return RouteReply{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	rep.Target = target
	rep.HopCount = data[routeRequestSize]
	rep.Metric = binary.BigEndian.Uint32(data[routeRequestSize+1:])
	return rep, nil
}

// ParseRouteError decodes a ROUTE_ERROR payload: the compact address of
// the destination that could not be reached.
func ParseRouteError(data []byte) (address.Address, error) {
	if len(data) != routeErrorSize {
		return address.Address{}, fmt.Errorf("%w: route error is %d bytes, want %d", ErrMalformedPayload, len(data), routeErrorSize)
	}
	target, err := address.ParseCompact(data)
	if err != nil {
		return address.Address{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return target, nil
}

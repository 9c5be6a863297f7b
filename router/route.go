package router

import (
	"fmt"
	"time"

	"github.com/opd-ai/geomesh/address"
)

// Interface tags where a route came from.
type Interface string

const (
	InterfaceLocal   Interface = "local"
	InterfaceMesh    Interface = "mesh"
	InterfaceLearned Interface = "learned"
	InterfaceDHT     Interface = "dht"
)

const (
	// K is the number of routes retained per destination.
	K = 3

	// HostPrefixLength is the prefix length of a route to one address.
	HostPrefixLength = address.Bits
)

// RouteEntry is one candidate route to a destination.
type RouteEntry struct {
	Destination  address.Address
	PrefixLength int
	NextHop      address.Address
	Metric       uint32
	Expiry       time.Time
	HopCount     uint8
	Interface    Interface
}

// Expired reports whether the route is no longer eligible at now.
func (r RouteEntry) Expired(now time.Time) bool {
	return !r.Expiry.After(now)
}

// String returns a short human readable form of the route.
func (r RouteEntry) String() string {
	return fmt.Sprintf("%s/%d via %s metric=%d hops=%d [%s]",
		r.Destination, r.PrefixLength, r.NextHop, r.Metric, r.HopCount, r.Interface)
}

// geohashPrefixLength is the prefix length of a route derived from a
// destination sharing n geohash characters with the target.
func geohashPrefixLength(n int) int {
	return 8 + 8*n
}

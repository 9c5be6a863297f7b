// Package router selects next hops for mesh packets.
//
// A Router keeps up to K candidate routes per destination, ordered by
// metric (lower is better). Resolving a destination tries, in order:
//
//  1. the local address (a zero-cost local route)
//  2. direct routes held for the destination
//  3. routes toward destinations sharing the longest geohash prefix with
//     the target, from four characters down to one
//  4. a provisional single-hop route toward the DHT contact closest to
//     the target
//
// Routes are filled in by explicit discovery (RequestRoute sends a
// ROUTE_REQUEST to neighbours; ProcessRouteReply records the answer) and
// by passive learning from every received packet (LearnRoute). Expired
// routes are purged by MaintainRoutes, which Run calls periodically, and
// HandlePeerDisconnect strips every route through a departed neighbour.
//
// Route selection re-reads the table on every call, so two sends to the
// same destination may take different routes if the table changes in
// between.
package router

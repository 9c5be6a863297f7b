// Package dht implements the Kademlia-style peer table and key/value store
// of the mesh.
//
// Each node keeps its contacts in k-buckets indexed by the number of
// leading zero bits of the XOR distance between the contact's node id and
// its own. Closest-peer queries walk the buckets outward from the target's
// distance class and rank the result by address.RoutingDistance, so
// geographically close peers come first.
//
// # Key/value store
//
// The store holds publisher-signed entries keyed by arbitrary byte
// strings:
//
//	entry, err := dht.NewEntry(keys, self, []byte("service/relay"), value, time.Hour, time.Now())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Store(entry); err != nil {
//	    log.Fatal(err)
//	}
//
// Any holder can verify an entry without trusting whoever handed it over.
// Entries expire by TTL and are not republished; callers that want an
// entry to persist must store it again before it expires. A BoltBackend
// keeps entries across restarts.
//
// # Maintenance
//
// The Maintainer expires entries, marks silent contacts bad, prunes
// contacts that stay bad, and reports stale buckets so the owner can
// refresh them.
package dht

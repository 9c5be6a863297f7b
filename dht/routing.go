package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
)

// BucketCount is the number of k-buckets: one per possible leading-zero
// count of a distance between distinct 128-bit identifiers.
const BucketCount = crypto.NodeIDSize * 8

// DefaultBucketSize is the default k.
const DefaultBucketSize = 20

// KBucket implements a k-bucket for the Kademlia DHT. Contacts are kept in
// least-recently-seen order; the last element is the freshest.
type KBucket struct {
	contacts []Contact
	maxSize  int
	updated  time.Time
	mu       sync.RWMutex
}

// NewKBucket creates a new k-bucket with the specified maximum size.
func NewKBucket(maxSize int) *KBucket {
	return &KBucket{
		contacts: make([]Contact, 0, maxSize),
		maxSize:  maxSize,
	}
}

// AddContact adds a contact to the k-bucket if there is space or if it
// can replace a bad contact. A known contact is refreshed and moved to
// the tail.
func (kb *KBucket) AddContact(c Contact) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, existing := range kb.contacts {
		if existing.ID() == c.ID() {
			kb.contacts = append(kb.contacts[:i], kb.contacts[i+1:]...)
			kb.contacts = append(kb.contacts, c)
			kb.updated = c.LastSeen
			return true
		}
	}

	if len(kb.contacts) < kb.maxSize {
		kb.contacts = append(kb.contacts, c)
		kb.updated = c.LastSeen
		return true
	}

	for i, existing := range kb.contacts {
		if existing.Status == StatusBad {
			kb.contacts = append(kb.contacts[:i], kb.contacts[i+1:]...)
			kb.contacts = append(kb.contacts, c)
			kb.updated = c.LastSeen
			return true
		}
	}

	return false
}

// RemoveContact removes the contact with the given id.
// Returns true if the contact was found and removed.
func (kb *KBucket) RemoveContact(id crypto.NodeID) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, c := range kb.contacts {
		if c.ID() == id {
			kb.contacts = append(kb.contacts[:i], kb.contacts[i+1:]...)
			return true
		}
	}
	return false
}

// Touch marks a contact as seen at now with the given status.
func (kb *KBucket) Touch(id crypto.NodeID, now time.Time, status ContactStatus) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, c := range kb.contacts {
		if c.ID() == id {
			c.LastSeen = now
			c.Status = status
			kb.contacts = append(kb.contacts[:i], kb.contacts[i+1:]...)
			kb.contacts = append(kb.contacts, c)
			kb.updated = now
			return true
		}
	}
	return false
}

// SetStatus changes a contact's status without refreshing it.
func (kb *KBucket) SetStatus(id crypto.NodeID, status ContactStatus) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i := range kb.contacts {
		if kb.contacts[i].ID() == id {
			kb.contacts[i].Status = status
			return true
		}
	}
	return false
}

// Contacts returns a copy of all contacts, least recently seen first.
func (kb *KBucket) Contacts() []Contact {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	result := make([]Contact, len(kb.contacts))
	copy(result, kb.contacts)
	return result
}

// Len returns the number of contacts.
func (kb *KBucket) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.contacts)
}

// Updated returns when the bucket last gained or refreshed a contact.
func (kb *KBucket) Updated() time.Time {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.updated
}

// RoutingTable manages k-buckets for the DHT.
type RoutingTable struct {
	kBuckets [BucketCount]*KBucket
	self     crypto.NodeID
}

// NewRoutingTable creates a new DHT routing table around self.
func NewRoutingTable(self crypto.NodeID, bucketSize int) *RoutingTable {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}

	rt := &RoutingTable{self: self}
	for i := range rt.kBuckets {
		rt.kBuckets[i] = NewKBucket(bucketSize)
	}
	return rt
}

// BucketIndex returns the bucket a node id belongs in, or -1 for self.
func (rt *RoutingTable) BucketIndex(id crypto.NodeID) int {
	lz := address.LeadingZeros(address.XORDistance(rt.self, id))
	if lz >= BucketCount {
		return -1
	}
	return lz
}

// AddContact adds a contact to the appropriate k-bucket.
func (rt *RoutingTable) AddContact(c Contact) bool {
	idx := rt.BucketIndex(c.ID())
	if idx < 0 {
		return false // Don't add ourselves
	}
	return rt.kBuckets[idx].AddContact(c)
}

// RemoveContact removes a contact by id.
func (rt *RoutingTable) RemoveContact(id crypto.NodeID) bool {
	idx := rt.BucketIndex(id)
	if idx < 0 {
		return false
	}
	return rt.kBuckets[idx].RemoveContact(id)
}

// Touch refreshes a known contact.
func (rt *RoutingTable) Touch(id crypto.NodeID, now time.Time) bool {
	idx := rt.BucketIndex(id)
	if idx < 0 {
		return false
	}
	return rt.kBuckets[idx].Touch(id, now, StatusGood)
}

// Contact looks up a contact by id.
func (rt *RoutingTable) Contact(id crypto.NodeID) (Contact, bool) {
	idx := rt.BucketIndex(id)
	if idx < 0 {
		return Contact{}, false
	}
	for _, c := range rt.kBuckets[idx].Contacts() {
		if c.ID() == id {
			return c, true
		}
	}
	return Contact{}, false
}

// Bucket returns the k-bucket at index i.
func (rt *RoutingTable) Bucket(i int) *KBucket {
	return rt.kBuckets[i]
}

// FindClosestPeers returns up to count contacts closest to target. Buckets
// are scanned from the target's distance class outward (i, i-1, i+1, ...)
// until count contacts are gathered or none remain; the gathered contacts
// are ranked by routing distance to target, XOR distance breaking ties.
func (rt *RoutingTable) FindClosestPeers(target address.Address, count int) []Contact {
	if count <= 0 {
		return []Contact{}
	}

	start := rt.BucketIndex(target.NodeID)
	if start < 0 {
		start = BucketCount - 1
	}

	var found []Contact
	for step := 0; step < 2*BucketCount && len(found) < count; step++ {
		// 0, -1, +1, -2, +2, ...
		offset := (step + 1) / 2
		if step%2 == 1 {
			offset = -offset
		}
		idx := start + offset
		if idx < 0 || idx >= BucketCount {
			continue
		}
		found = append(found, rt.kBuckets[idx].Contacts()...)
	}

	sort.SliceStable(found, func(i, j int) bool {
		di := address.RoutingDistance(target, found[i].Address)
		dj := address.RoutingDistance(target, found[j].Address)
		if di != dj {
			return di < dj
		}
		return address.CompareDistance(found[i].Distance(target.NodeID), found[j].Distance(target.NodeID)) < 0
	})

	if len(found) > count {
		found = found[:count]
	}
	return found
}

// AllContacts returns all contacts from all k-buckets.
func (rt *RoutingTable) AllContacts() []Contact {
	var all []Contact
	for _, bucket := range rt.kBuckets {
		all = append(all, bucket.Contacts()...)
	}
	return all
}

// Size returns the total number of contacts.
func (rt *RoutingTable) Size() int {
	n := 0
	for _, bucket := range rt.kBuckets {
		n += bucket.Len()
	}
	return n
}

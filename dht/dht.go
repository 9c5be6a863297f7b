package dht

import (
	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
)

// Config configures a DHT.
type Config struct {
	BucketSize  int
	Clock       clock.Clock
	Backend     Backend
	Maintenance *MaintenanceConfig
	Refresh     RefreshFunc
}

// DHT ties the routing table, the entry store and their maintenance
// together for one node.
type DHT struct {
	self       address.Address
	table      *RoutingTable
	store      *Store
	maintainer *Maintainer
	clock      clock.Clock
}

// New creates a DHT for the node at self.
func New(self address.Address, cfg Config) (*DHT, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	store, err := NewStore(cfg.Clock, cfg.Backend)
	if err != nil {
		return nil, err
	}

	table := NewRoutingTable(self.NodeID, cfg.BucketSize)
	return &DHT{
		self:       self,
		table:      table,
		store:      store,
		maintainer: NewMaintainer(table, store, cfg.Clock, cfg.Maintenance, cfg.Refresh),
		clock:      cfg.Clock,
	}, nil
}

// Self returns the local address.
func (d *DHT) Self() address.Address { return d.self }

// Table returns the routing table.
func (d *DHT) Table() *RoutingTable { return d.table }

// AddPeer adds or refreshes a contact. It reports false when the
// contact's bucket is full or the contact is the local node.
func (d *DHT) AddPeer(addr address.Address, publicKey [crypto.KeySize]byte) bool {
	c := NewContact(addr, publicKey, d.clock.Now())
	c.Status = StatusGood
	added := d.table.AddContact(c)

	logrus.WithFields(logrus.Fields{
		"function": "DHT.AddPeer",
		"peer":     addr.String(),
		"added":    added,
	}).Debug("DHT contact update")

	return added
}

// RemovePeer removes a contact.
func (d *DHT) RemovePeer(addr address.Address) bool {
	return d.table.RemoveContact(addr.NodeID)
}

// Touch marks a known contact as seen now.
func (d *DHT) Touch(addr address.Address) bool {
	return d.table.Touch(addr.NodeID, d.clock.Now())
}

// FindClosestPeers returns up to count contacts closest to target.
func (d *DHT) FindClosestPeers(target address.Address, count int) []Contact {
	return d.table.FindClosestPeers(target, count)
}

// Store verifies and stores an entry.
func (d *DHT) Store(e *Entry) error {
	return d.store.Put(e)
}

// Fetch returns the unexpired entry stored under key.
func (d *DHT) Fetch(key []byte) (*Entry, bool) {
	return d.store.Get(key)
}

// Entries returns the number of entries held.
func (d *DHT) Entries() int { return d.store.Len() }

// Start starts background maintenance.
func (d *DHT) Start() { d.maintainer.Start() }

// Maintain runs one maintenance pass immediately.
func (d *DHT) Maintain() { d.maintainer.RunOnce() }

// Close stops maintenance and closes the store backend.
func (d *DHT) Close() error {
	d.maintainer.Stop()
	return d.store.Close()
}

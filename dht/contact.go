package dht

import (
	"time"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
)

// ContactStatus represents the liveness status of a contact.
type ContactStatus uint8

const (
	StatusUnknown ContactStatus = iota
	StatusBad
	StatusGood
)

// String returns a lowercase name of the status.
func (s ContactStatus) String() string {
	switch s {
	case StatusBad:
		return "bad"
	case StatusGood:
		return "good"
	default:
		return "unknown"
	}
}

// Contact is a peer as seen by the DHT.
type Contact struct {
	Address   address.Address
	PublicKey [crypto.KeySize]byte
	LastSeen  time.Time
	Status    ContactStatus
}

// NewContact creates a contact last seen at now.
func NewContact(addr address.Address, publicKey [crypto.KeySize]byte, now time.Time) Contact {
	return Contact{
		Address:   addr,
		PublicKey: publicKey,
		LastSeen:  now,
		Status:    StatusUnknown,
	}
}

// ID returns the contact's node identifier.
func (c Contact) ID() crypto.NodeID {
	return c.Address.NodeID
}

// Distance calculates the XOR distance between this contact and id.
func (c Contact) Distance(id crypto.NodeID) crypto.NodeID {
	return address.XORDistance(c.Address.NodeID, id)
}

// IsActive checks if the contact has been seen within the timeout period.
func (c Contact) IsActive(now time.Time, timeout time.Duration) bool {
	return now.Sub(c.LastSeen) < timeout
}

// Update marks the contact as seen at now and good.
func (c *Contact) Update(now time.Time) {
	c.LastSeen = now
	c.Status = StatusGood
}

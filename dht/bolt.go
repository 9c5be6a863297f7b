package dht

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bEntries  = "dht_entries"
	defaultTO = 2 * time.Second
)

// BoltBackend is a BoltDB-backed Backend.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) a BoltDB database at path.
func OpenBolt(path string) (*BoltBackend, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bEntries))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

// Save writes an entry under its key.
func (b *BoltBackend) Save(e *Entry) error {
	val, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bEntries)).Put(e.Key, val)
	})
}

// Delete removes the entry stored under key.
func (b *BoltBackend) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bEntries)).Delete(key)
	})
}

// Load returns every decodable entry. Corrupt records are skipped.
func (b *BoltBackend) Load() ([]*Entry, error) {
	var out []*Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bEntries)).ForEach(func(k, v []byte) error {
			e, err := UnmarshalEntry(v)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "BoltBackend.Load",
					"key_size": len(k),
					"error":    err.Error(),
				}).Warn("Skipping corrupt DHT record")
				return nil
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// Close closes the database.
func (b *BoltBackend) Close() error { return b.db.Close() }

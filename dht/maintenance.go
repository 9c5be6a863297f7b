package dht

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// MaintenanceConfig holds configuration for DHT maintenance.
type MaintenanceConfig struct {
	// How often entries are expired and contacts checked
	Interval time.Duration
	// How long a contact can be silent before being marked bad
	NodeTimeout time.Duration
	// How long a bad contact is kept before being removed
	PruneTimeout time.Duration
	// A bucket untouched for this long is reported to RefreshBucket
	RefreshInterval time.Duration
}

// DefaultMaintenanceConfig returns sensible defaults for DHT maintenance.
func DefaultMaintenanceConfig() *MaintenanceConfig {
	return &MaintenanceConfig{
		Interval:        1 * time.Minute,
		NodeTimeout:     10 * time.Minute,
		PruneTimeout:    1 * time.Hour,
		RefreshInterval: 15 * time.Minute,
	}
}

// RefreshFunc is called with the index of a bucket that has not been
// updated within the refresh interval.
type RefreshFunc func(bucket int)

// Maintainer handles periodic DHT maintenance tasks.
type Maintainer struct {
	routingTable *RoutingTable
	store        *Store
	config       *MaintenanceConfig
	clock        clock.Clock
	refresh      RefreshFunc

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewMaintainer creates a new DHT maintenance manager. store and refresh
// may be nil.
func NewMaintainer(routingTable *RoutingTable, store *Store, clk clock.Clock,
	config *MaintenanceConfig, refresh RefreshFunc,
) *Maintainer {
	if config == nil {
		config = DefaultMaintenanceConfig()
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Maintainer{
		routingTable: routingTable,
		store:        store,
		config:       config,
		clock:        clk,
		refresh:      refresh,
	}
}

// Start begins the DHT maintenance process.
func (m *Maintainer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.isRunning = true
	m.wg.Add(1)
	go m.maintenanceRoutine(m.clock.Ticker(m.config.Interval))
}

// Stop halts all maintenance tasks.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Maintainer) maintenanceRoutine(ticker *clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce()
		}
	}
}

// RunOnce performs a single maintenance pass.
func (m *Maintainer) RunOnce() {
	expired := 0
	if m.store != nil {
		expired = m.store.Expire()
	}
	marked, pruned := m.pruneDeadContacts()
	stale := m.refreshStaleBuckets()

	logrus.WithFields(logrus.Fields{
		"function":      "Maintainer.RunOnce",
		"expired":       expired,
		"marked_bad":    marked,
		"pruned":        pruned,
		"stale_buckets": stale,
	}).Debug("DHT maintenance pass complete")
}

// pruneDeadContacts marks contacts silent for longer than NodeTimeout as
// bad and removes those silent for longer than NodeTimeout+PruneTimeout.
func (m *Maintainer) pruneDeadContacts() (marked, pruned int) {
	now := m.clock.Now()
	removeAfter := m.config.NodeTimeout + m.config.PruneTimeout

	for i := 0; i < BucketCount; i++ {
		bucket := m.routingTable.Bucket(i)
		for _, c := range bucket.Contacts() {
			silent := now.Sub(c.LastSeen)
			switch {
			case silent >= removeAfter:
				if bucket.RemoveContact(c.ID()) {
					pruned++
				}
			case silent >= m.config.NodeTimeout && c.Status != StatusBad:
				if bucket.SetStatus(c.ID(), StatusBad) {
					marked++
				}
			}
		}
	}
	return marked, pruned
}

func (m *Maintainer) refreshStaleBuckets() int {
	if m.refresh == nil {
		return 0
	}
	now := m.clock.Now()

	stale := 0
	for i := 0; i < BucketCount; i++ {
		bucket := m.routingTable.Bucket(i)
		if bucket.Len() == 0 || now.Sub(bucket.Updated()) < m.config.RefreshInterval {
			continue
		}
		stale++
		m.refresh(i)
	}
	return stale
}

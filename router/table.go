package router

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/geomesh/address"
)

// Table holds at most k routes per destination, sorted ascending by
// metric. A route with the same next hop as a held one replaces it.
type Table struct {
	routes map[address.Key][]RouteEntry
	k      int
	mu     sync.RWMutex
}

// NewTable creates an empty table keeping k routes per destination.
func NewTable(k int) *Table {
	if k <= 0 {
		k = K
	}
	return &Table{
		routes: make(map[address.Key][]RouteEntry),
		k:      k,
	}
}

// Add inserts a route. It reports whether the route was kept and returns
// routes pushed out of the destination's list.
func (t *Table) Add(e RouteEntry) (bool, []RouteEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := e.Destination.Key()
	list := t.routes[key]

	next := make([]RouteEntry, 0, len(list)+1)
	var dropped []RouteEntry
	for _, existing := range list {
		if existing.NextHop.Equal(e.NextHop) {
			continue
		}
		next = append(next, existing)
	}
	next = append(next, e)
	sort.SliceStable(next, func(i, j int) bool { return next[i].Metric < next[j].Metric })

	kept := true
	if len(next) > t.k {
		for _, r := range next[t.k:] {
			if r == e {
				kept = false
				continue
			}
			dropped = append(dropped, r)
		}
		next = next[:t.k]
	}

	if !kept {
		// Leave the list as it was.
		return false, nil
	}
	t.routes[key] = next
	return true, dropped
}

// Remove deletes the route to dest through nextHop.
func (t *Table) Remove(dest, nextHop address.Address) (RouteEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := dest.Key()
	list := t.routes[key]
	for i, r := range list {
		if r.NextHop.Equal(nextHop) {
			t.setList(key, append(list[:i:i], list[i+1:]...))
			return r, true
		}
	}
	return RouteEntry{}, false
}

// Best returns the lowest-metric unexpired route to dest.
func (t *Table) Best(dest address.Address, now time.Time) (RouteEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.routes[dest.Key()] {
		if !r.Expired(now) {
			return r, true
		}
	}
	return RouteEntry{}, false
}

// Routes returns the unexpired routes to dest, best first.
func (t *Table) Routes(dest address.Address, now time.Time) []RouteEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []RouteEntry
	for _, r := range t.routes[dest.Key()] {
		if !r.Expired(now) {
			out = append(out, r)
		}
	}
	return out
}

// BestByPrefix returns the lowest-metric unexpired route among
// destinations other than target whose geohash shares exactly n leading
// characters with target's.
func (t *Table) BestByPrefix(target address.Address, n int, now time.Time) (RouteEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	targetGH := target.Geohash.String()
	var best RouteEntry
	found := false
	for _, list := range t.routes {
		for _, r := range list {
			if r.Expired(now) || r.Destination.Equal(target) {
				continue
			}
			if address.CommonPrefixLength(targetGH, r.Destination.Geohash.String()) != n {
				continue
			}
			if !found || r.Metric < best.Metric {
				best, found = r, true
			}
			// The list is sorted, the first unexpired entry is its best.
			break
		}
	}
	return best, found
}

// Purge removes every route expired at now and returns them.
func (t *Table) Purge(now time.Time) []RouteEntry {
	return t.removeWhere(func(r RouteEntry) bool { return r.Expired(now) })
}

// RemoveNextHop removes every route whose next hop is hop.
func (t *Table) RemoveNextHop(hop address.Address) []RouteEntry {
	return t.removeWhere(func(r RouteEntry) bool { return r.NextHop.Equal(hop) })
}

func (t *Table) removeWhere(match func(RouteEntry) bool) []RouteEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []RouteEntry
	for key, list := range t.routes {
		kept := list[:0]
		for _, r := range list {
			if match(r) {
				removed = append(removed, r)
				continue
			}
			kept = append(kept, r)
		}
		t.setList(key, kept)
	}
	return removed
}

// setList must be called with mu held.
func (t *Table) setList(key address.Key, list []RouteEntry) {
	if len(list) == 0 {
		delete(t.routes, key)
		return
	}
	t.routes[key] = list
}

// Len returns the number of routes held, expired or not.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, list := range t.routes {
		n += len(list)
	}
	return n
}

// All returns a copy of every route held.
func (t *Table) All() []RouteEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []RouteEntry
	for _, list := range t.routes {
		out = append(out, list...)
	}
	return out
}

package router

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/geomesh/address"
)

// MaintainRoutes purges expired routes and ages the duplicate request
// filter. It returns the number of routes removed.
func (r *Router) MaintainRoutes() int {
	removed := r.table.Purge(r.clock.Now())

	r.mu.Lock()
	r.prevSeen = r.seen
	r.seen = newSeenFilter()
	r.mu.Unlock()

	r.emitRemoved(removed)

	if len(removed) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "MaintainRoutes",
			"removed":  len(removed),
			"routes":   r.table.Len(),
		}).Debug("Purged expired routes")
	}
	return len(removed)
}

// Run calls MaintainRoutes every maintenance interval until ctx is done.
func (r *Router) Run(ctx context.Context) {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.MaintainRoutes()
		}
	}
}

// HandlePeerDisconnect removes every route whose next hop is peer and
// returns how many were removed.
func (r *Router) HandlePeerDisconnect(peer address.Address) int {
	removed := r.table.RemoveNextHop(peer)
	r.emitRemoved(removed)

	logrus.WithFields(logrus.Fields{
		"function": "HandlePeerDisconnect",
		"peer":     peer.String(),
		"removed":  len(removed),
	}).Info("Removed routes through disconnected peer")

	return len(removed)
}

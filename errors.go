package geomesh

import "errors"

var (
	// ErrNoTransport is returned by New when Options.Transport is nil.
	ErrNoTransport = errors.New("geomesh: no transport configured")

	// ErrNoRouteFound is returned by Send when no route to the
	// destination is known and discovery found none.
	ErrNoRouteFound = errors.New("geomesh: no route found")

	// ErrNotRunning is returned by operations that need a started node.
	ErrNotRunning = errors.New("geomesh: node not running")

	// ErrAlreadyRunning is returned by Start on a started node.
	ErrAlreadyRunning = errors.New("geomesh: node already running")

	// ErrStopped is returned by Start on a stopped node.
	ErrStopped = errors.New("geomesh: node stopped")

	// ErrMaxPeers is returned by AddPeer when the peer table is full.
	ErrMaxPeers = errors.New("geomesh: peer limit reached")

	// ErrUnknownPeer is returned for addresses not in the peer table.
	ErrUnknownPeer = errors.New("geomesh: unknown peer")

	// ErrInvalidPeer is returned by AddPeer for peers whose address is
	// invalid or not owned by their public key.
	ErrInvalidPeer = errors.New("geomesh: invalid peer")
)

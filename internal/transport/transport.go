// Package transport is the data-plane capability the SM core consumes. The
// session handshake touches it in exactly three places: filling local
// routing info, resolving a peer's routing info, and allocating the
// per-session queue pair.
package transport

import (
	"errors"

	"github.com/danmuck/fabrpc/internal/sm"
)

var (
	ErrOutOfMemory       = errors.New("transport: buffer allocation failed")
	ErrRingExhausted     = errors.New("transport: recv ring slots exhausted")
	ErrRoutingResolution = errors.New("transport: routing resolution failed")
)

// Transport is owned by a single endpoint thread; implementations need no
// internal locking.
type Transport interface {
	// Kind tags the fabric this transport speaks.
	Kind() sm.TransportType

	// FillLocalRoutingInfo writes this endpoint's opaque routing record
	// into md.
	FillLocalRoutingInfo(md *sm.EndpointMetadata) error

	// ResolveRemoteRoutingInfo validates and resolves the peer routing
	// record carried in md. Returns ErrRoutingResolution on failure.
	ResolveRemoteRoutingInfo(md *sm.EndpointMetadata) error

	// AllocQueuePair reserves data-plane resources for a session. Returns
	// ErrOutOfMemory or ErrRingExhausted when the respective pool is
	// empty; no resources are consumed on failure.
	AllocQueuePair(sessionNum uint32) error

	// FreeQueuePair releases a session's data-plane resources. Unknown
	// session numbers are ignored.
	FreeQueuePair(sessionNum uint32)

	// PollCompletions drains data-plane completion events. Non-blocking;
	// called once per event-loop tick.
	PollCompletions()
}

// WireErr maps a transport failure to its wire-observable error kind.
func WireErr(err error) sm.ErrType {
	switch {
	case err == nil:
		return sm.NoError
	case errors.Is(err, ErrOutOfMemory):
		return sm.OutOfMemory
	case errors.Is(err, ErrRingExhausted):
		return sm.RingExhausted
	case errors.Is(err, ErrRoutingResolution):
		return sm.RoutingResolutionFailure
	}
	return sm.RoutingResolutionFailure
}

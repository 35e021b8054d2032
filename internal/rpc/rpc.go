// Package rpc implements the per-endpoint session-management plane: the
// session table and state machine, the control-packet retry engine, the
// request and response handlers, and the event-loop tick that drives them.
//
// An Endpoint is single-threaded and cooperative. Every session mutation
// happens on the owning thread; the only cross-thread surface is the inbox
// hook it shares with the Nexus.
package rpc

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/fabrpc/internal/nexus"
	"github.com/danmuck/fabrpc/internal/observability"
	"github.com/danmuck/fabrpc/internal/sm"
	"github.com/danmuck/fabrpc/internal/timing"
	"github.com/danmuck/fabrpc/internal/transport"
)

// Retry engine budget for one in-flight SM request.
const (
	RetransMs = 5  // retransmit after this much silence
	TimeoutMs = 50 // give up and fail the session after this much silence
)

var (
	ErrNilHandler  = errors.New("rpc: nil session event handler")
	ErrNoPhyPorts  = errors.New("rpc: endpoint manages no fabric ports")
	ErrInvalidPort = errors.New("rpc: fabric port not managed by this endpoint")
)

// Handler receives session events, synchronously from the endpoint thread,
// exactly once per terminal transition. The session pointer is valid only
// for the duration of the call; the handler must not reenter the
// endpoint's SM API.
type Handler func(s *Session, event sm.EventType, errType sm.ErrType)

// Endpoint is one single-threaded RPC worker, identified by the pair
// (hostname, app TID).
type Endpoint struct {
	nx      *nexus.Nexus
	appTID  uint8
	handler Handler

	transport transport.Transport
	sender    sm.Sender
	clock     timing.Clock
	phyPorts  []uint8

	hook  *nexus.Hook
	table SessionTable

	// retryQueue holds session numbers of client sessions with exactly
	// one SM request in flight.
	retryQueue []uint32

	rng    *rand.Rand
	logger zerolog.Logger
	name   string
}

// NewEndpoint registers an endpoint with the Nexus and returns it ready to
// tick. phyPorts lists the fabric ports this endpoint manages.
func NewEndpoint(nx *nexus.Nexus, appTID uint8, handler Handler,
	tr transport.Transport, sender sm.Sender, clock timing.Clock,
	phyPorts []uint8) (*Endpoint, error) {

	if handler == nil {
		return nil, ErrNilHandler
	}
	if len(phyPorts) == 0 {
		return nil, ErrNoPhyPorts
	}

	e := &Endpoint{
		nx:        nx,
		appTID:    appTID,
		handler:   handler,
		transport: tr,
		sender:    sender,
		clock:     clock,
		phyPorts:  phyPorts,
		hook:      nexus.NewHook(appTID),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		name:      fmt.Sprintf("%s:%d", nx.Hostname(), appTID),
	}
	e.logger = log.With().Str("endpoint", e.name).Logger()

	if err := nx.RegisterHook(e.hook); err != nil {
		return nil, err
	}
	e.logger.Info().Msg("endpoint up")
	return e, nil
}

// Name returns "hostname:tid" for logs and metrics.
func (e *Endpoint) Name() string { return e.name }

// Shutdown unregisters the endpoint from the Nexus. Packets addressed to
// it afterwards are dropped.
func (e *Endpoint) Shutdown() {
	e.nx.UnregisterHook(e.appTID)
	e.logger.Info().Msg("endpoint down")
}

func (e *Endpoint) managesPort(port uint8) bool {
	for _, p := range e.phyPorts {
		if p == port {
			return true
		}
	}
	return false
}

// generateStartSeq draws a fresh 48-bit base for the data-plane sequence
// space.
func (e *Endpoint) generateStartSeq() uint64 {
	return e.rng.Uint64() & sm.StartSeqMask
}

// emitEvent invokes the application handler for one terminal transition.
func (e *Endpoint) emitEvent(s *Session, event sm.EventType, errType sm.ErrType) {
	e.logger.Info().
		Uint32("session", s.LocalNum()).
		Str("event", event.String()).
		Str("err", errType.String()).
		Msg("session event")
	observability.RecordEvent(e.name, event.String(), errType.String())
	e.handler(s, event, errType)
}

// bury tombstones the slot and releases the session's data-plane
// resources. The final act of handling a terminal event.
func (e *Endpoint) bury(num uint32) {
	e.transport.FreeQueuePair(num)
	e.table.Bury(num)
	observability.SetLiveSessions(e.name, e.table.Live())
}

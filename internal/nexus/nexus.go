// Package nexus is the process-wide demultiplexer for session-management
// traffic: it owns the management UDP port and routes each incoming packet
// to the inbox of the endpoint it addresses. It holds no session state.
package nexus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/fabrpc/internal/sm"
	"github.com/danmuck/fabrpc/internal/udp"
)

var ErrTIDInUse = errors.New("nexus: app tid already registered")

// Nexus demultiplexes SM packets to per-endpoint hooks. One per process.
type Nexus struct {
	hostname string
	mgmtPort uint16

	mu    sync.Mutex
	hooks map[uint8]*Hook

	sender   sm.Sender
	listener *udp.Listener
}

// New binds the management UDP port and starts the receive loop.
func New(hostname string, mgmtPort uint16) (*Nexus, error) {
	n := NewInProc(hostname)
	n.mgmtPort = mgmtPort
	listener, err := udp.Listen(mgmtPort)
	if err != nil {
		return nil, fmt.Errorf("nexus: %w", err)
	}
	n.listener = listener
	go listener.Serve(n.DeliverBytes)
	log.Info().Str("hostname", hostname).Uint16("mgmt_port", mgmtPort).Msg("nexus up")
	return n, nil
}

// NewInProc returns a Nexus with no socket. Packets arrive only through
// Deliver; used by in-memory fabrics and tests.
func NewInProc(hostname string) *Nexus {
	return &Nexus{
		hostname: hostname,
		hooks:    make(map[uint8]*Hook),
	}
}

func (n *Nexus) Hostname() string { return n.hostname }

// SetSender installs the sender used to refuse requests for endpoints
// that do not exist here.
func (n *Nexus) SetSender(s sm.Sender) { n.sender = s }

// RegisterHook installs an endpoint's inbox in the hook table.
func (n *Nexus) RegisterHook(h *Hook) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.hooks[h.AppTID]; ok {
		return fmt.Errorf("%w: %d", ErrTIDInUse, h.AppTID)
	}
	n.hooks[h.AppTID] = h
	return nil
}

// UnregisterHook removes an endpoint's inbox. Packets addressed to the TID
// afterwards are dropped.
func (n *Nexus) UnregisterHook(appTID uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.hooks, appTID)
}

// DeliverBytes decodes one datagram payload and routes it. Malformed
// datagrams are dropped; the fabric is allowed to corrupt or truncate.
func (n *Nexus) DeliverBytes(payload []byte) {
	pkt, err := sm.Unmarshal(payload)
	if err != nil {
		log.Debug().Err(err).Int("len", len(payload)).Msg("dropping malformed sm packet")
		return
	}
	n.Deliver(pkt)
}

// Deliver routes a packet to its target endpoint's hook: requests go to the
// server-side TID, responses back to the client-side TID. Ownership of pkt
// passes to the endpoint on enqueue.
func (n *Nexus) Deliver(pkt *sm.Packet) {
	tid := pkt.Client.AppTID
	if pkt.Type.IsReq() {
		tid = pkt.Server.AppTID
	}

	n.mu.Lock()
	hook, ok := n.hooks[tid]
	n.mu.Unlock()
	if !ok {
		n.refuse(pkt, tid)
		return
	}
	hook.Enqueue(pkt)
}

// refuse answers a request addressed to a TID with no endpoint behind it,
// so the remote client fails fast instead of waiting out its timeout.
// Responses for unknown TIDs are just dropped.
func (n *Nexus) refuse(pkt *sm.Packet, tid uint8) {
	if !pkt.Type.IsReq() || n.sender == nil {
		log.Debug().
			Uint8("app_tid", tid).
			Str("pkt_type", pkt.Type.String()).
			Msg("dropping sm packet for unknown endpoint")
		return
	}
	log.Warn().
		Uint8("app_tid", tid).
		Str("client", pkt.Client.Name()).
		Msg("refusing sm request for unknown endpoint")
	if err := pkt.RespondInPlace(sm.InvalidRemoteRpcID); err != nil {
		return
	}
	if err := n.sender.Send(pkt, pkt.Client.HostnameString()); err != nil {
		log.Warn().Err(err).Msg("refusal send failed")
	}
}

// HookTIDs returns the registered endpoint TIDs, for the admin surface.
// Plain ints, so they render as numbers rather than a base64 byte blob.
func (n *Nexus) HookTIDs() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	tids := make([]int, 0, len(n.hooks))
	for tid := range n.hooks {
		tids = append(tids, int(tid))
	}
	return tids
}

// Close shuts the receive loop down. Endpoints must be destroyed first.
func (n *Nexus) Close() error {
	if n.listener == nil {
		return nil
	}
	return n.listener.Close()
}

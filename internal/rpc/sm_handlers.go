package rpc

import (
	"github.com/danmuck/fabrpc/internal/observability"
	"github.com/danmuck/fabrpc/internal/sm"
	"github.com/danmuck/fabrpc/internal/transport"
)

// handleSessionManagement drains the inbox and processes every packet the
// Nexus queued since the last tick.
func (e *Endpoint) handleSessionManagement() {
	for _, pkt := range e.hook.Drain() {
		observability.RecordPacketRx(e.name, pkt.Type.String())
		switch pkt.Type {
		case sm.PktConnectReq:
			e.handleConnectReq(pkt)
		case sm.PktConnectResp:
			e.handleConnectResp(pkt)
		case sm.PktDisconnectReq:
			e.handleDisconnectReq(pkt)
		case sm.PktDisconnectResp:
			e.handleDisconnectResp(pkt)
		default:
			e.logger.Debug().Str("pkt_type", pkt.Type.String()).Msg("dropping unknown sm packet")
		}
	}
}

// respondMut flips the request in place into a response and sends it back
// to the client endpoint.
func (e *Endpoint) respondMut(pkt *sm.Packet, errType sm.ErrType) {
	if err := pkt.RespondInPlace(errType); err != nil {
		e.logger.Error().Err(err).Msg("cannot respond to non-request")
		return
	}
	e.sendPkt(pkt, pkt.Client.HostnameString())
}

// handleConnectReq serves a connect request: validate, install a server
// session, fill in the local metadata, reply. On any failure nothing is
// allocated and the matching error kind goes back on the wire.
func (e *Endpoint) handleConnectReq(pkt *sm.Packet) {
	e.logger.Debug().Str("client", pkt.Client.Name()).Msg("connect request")

	if pkt.Server.AppTID != e.appTID {
		e.respondMut(pkt, sm.InvalidRemoteRpcID)
		return
	}
	if pkt.Client.TransportType != e.transport.Kind() {
		e.respondMut(pkt, sm.InvalidTransport)
		return
	}

	// A duplicate of a request we already served: reply with the stored
	// server metadata instead of installing a second session.
	if existing := e.table.FindServerByClient(&pkt.Client); existing != nil {
		e.logger.Debug().
			Uint32("session", existing.LocalNum()).
			Msg("duplicate connect request")
		pkt.Server = existing.Server
		e.respondMut(pkt, sm.NoError)
		return
	}

	if err := e.transport.ResolveRemoteRoutingInfo(&pkt.Client); err != nil {
		e.logger.Warn().Err(err).Str("client", pkt.Client.Name()).Msg("connect request rejected")
		e.respondMut(pkt, sm.RoutingResolutionFailure)
		return
	}

	if e.table.Len() >= MaxSessionsPerThread {
		e.respondMut(pkt, sm.OutOfMemory)
		return
	}

	num := e.table.NextNum()
	if err := e.transport.AllocQueuePair(num); err != nil {
		e.logger.Warn().Err(err).Msg("connect request rejected")
		e.respondMut(pkt, transport.WireErr(err))
		return
	}

	server := sm.NewEndpointMetadata()
	server.TransportType = e.transport.Kind()
	if err := server.SetHostname(e.nx.Hostname()); err != nil {
		e.transport.FreeQueuePair(num)
		e.respondMut(pkt, sm.RoutingResolutionFailure)
		return
	}
	server.AppTID = e.appTID
	server.PhyPort = e.resolvePhyPort(pkt.Server.PhyPort)
	server.SessionNum = num
	server.StartSeq = e.generateStartSeq()
	if err := e.transport.FillLocalRoutingInfo(&server); err != nil {
		e.transport.FreeQueuePair(num)
		e.respondMut(pkt, sm.RoutingResolutionFailure)
		return
	}

	s := &Session{
		Role:   RoleServer,
		State:  sm.StateConnected,
		Client: pkt.Client,
		Server: server,
	}
	if _, err := e.table.Append(s); err != nil {
		e.transport.FreeQueuePair(num)
		e.respondMut(pkt, sm.OutOfMemory)
		return
	}
	observability.SetLiveSessions(e.name, e.table.Live())

	e.logger.Info().
		Uint32("session", num).
		Str("client", pkt.Client.Name()).
		Msg("server session installed")

	pkt.Server = server
	e.respondMut(pkt, sm.NoError)
}

// handleConnectResp drives a client session out of the connect-in-progress
// state. Late duplicates are dropped by the state check.
func (e *Endpoint) handleConnectResp(pkt *sm.Packet) {
	s := e.matchClientSession(pkt)
	if s == nil || s.State != sm.StateConnectInProgress {
		e.logger.Debug().Str("client", pkt.Client.Name()).Msg("dropping stale connect response")
		return
	}
	num := pkt.Client.SessionNum
	e.retryQueueRemove(num)

	if pkt.Err != sm.NoError {
		s.State = sm.StateError
		e.emitEvent(s, sm.EventConnectFailed, pkt.Err)
		e.bury(num)
		return
	}

	s.Server = pkt.Server
	if err := e.transport.ResolveRemoteRoutingInfo(&s.Server); err != nil {
		e.logger.Warn().Err(err).Uint32("session", num).Msg("server routing unusable")
		s.State = sm.StateError
		e.emitEvent(s, sm.EventConnectFailed, sm.RoutingResolutionFailure)
		e.bury(num)
		return
	}

	s.State = sm.StateConnected
	e.logger.Info().
		Uint32("session", num).
		Str("server", s.Server.Name()).
		Msg("session connected")
	e.emitEvent(s, sm.EventConnected, sm.NoError)
}

// handleDisconnectReq buries the server session if it still exists.
// Duplicate disconnects are idempotent: the reply is NoError either way,
// since the client has proved it no longer cares.
func (e *Endpoint) handleDisconnectReq(pkt *sm.Packet) {
	num := pkt.Server.SessionNum
	s := e.table.Lookup(num)
	if s != nil && s.Role == RoleServer && s.Client.SameLocation(&pkt.Client) {
		e.logger.Info().
			Uint32("session", num).
			Str("client", pkt.Client.Name()).
			Msg("server session disconnected")
		e.bury(num)
	}
	e.respondMut(pkt, sm.NoError)
}

// handleDisconnectResp finishes a client teardown. Any error kind counts
// as success: the server either buried the session or never had it.
func (e *Endpoint) handleDisconnectResp(pkt *sm.Packet) {
	s := e.matchClientSession(pkt)
	if s == nil || s.State != sm.StateDisconnectInProgress {
		e.logger.Debug().Str("client", pkt.Client.Name()).Msg("dropping stale disconnect response")
		return
	}
	num := pkt.Client.SessionNum
	e.retryQueueRemove(num)

	s.State = sm.StateDisconnected
	e.emitEvent(s, sm.EventDisconnected, sm.NoError)
	e.bury(num)
}

// matchClientSession resolves a response to the in-flight client session
// it answers: the local session number plus the remote endpoint identity
// must both line up.
func (e *Endpoint) matchClientSession(pkt *sm.Packet) *Session {
	s := e.table.Lookup(pkt.Client.SessionNum)
	if s == nil || !s.IsClient() {
		return nil
	}
	if !s.Client.SameLocation(&pkt.Client) {
		return nil
	}
	if s.Server.Hostname != pkt.Server.Hostname || s.Server.AppTID != pkt.Server.AppTID {
		return nil
	}
	return s
}

// resolvePhyPort honors the requested fabric port when this endpoint
// manages it and falls back to the first managed port otherwise.
func (e *Endpoint) resolvePhyPort(requested uint8) uint8 {
	if e.managesPort(requested) {
		return requested
	}
	return e.phyPorts[0]
}

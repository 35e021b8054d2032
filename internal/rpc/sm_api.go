package rpc

import (
	"fmt"

	"github.com/danmuck/fabrpc/internal/observability"
	"github.com/danmuck/fabrpc/internal/sm"
)

// CreateSession allocates a client session and starts connection
// establishment. The session number is returned immediately; the handler
// fires later with Connected or ConnectFailed. Failures here are local
// only and never produce an event.
func (e *Endpoint) CreateSession(localPort uint8, remoteHostname string,
	remoteTID uint8, remotePort uint8) (uint32, error) {

	if !e.managesPort(localPort) {
		return sm.InvalidSessionNum, fmt.Errorf("%w: %d", ErrInvalidPort, localPort)
	}
	if e.table.Len() >= MaxSessionsPerThread {
		return sm.InvalidSessionNum, ErrTableFull
	}

	s := &Session{Role: RoleClient, State: sm.StateConnectInProgress}

	client := sm.NewEndpointMetadata()
	client.TransportType = e.transport.Kind()
	if err := client.SetHostname(e.nx.Hostname()); err != nil {
		return sm.InvalidSessionNum, err
	}
	client.AppTID = e.appTID
	client.PhyPort = localPort
	client.SessionNum = e.table.NextNum()
	client.StartSeq = e.generateStartSeq()
	if err := e.transport.FillLocalRoutingInfo(&client); err != nil {
		return sm.InvalidSessionNum, err
	}

	// The server side stays partial: its session number and start seq are
	// filled in by the connect response.
	server := sm.NewEndpointMetadata()
	server.TransportType = e.transport.Kind()
	if err := server.SetHostname(remoteHostname); err != nil {
		return sm.InvalidSessionNum, err
	}
	server.AppTID = remoteTID
	server.PhyPort = remotePort

	if err := e.transport.AllocQueuePair(client.SessionNum); err != nil {
		return sm.InvalidSessionNum, err
	}

	s.Client = client
	s.Server = server
	num, err := e.table.Append(s)
	if err != nil {
		e.transport.FreeQueuePair(client.SessionNum)
		return sm.InvalidSessionNum, err
	}
	observability.SetLiveSessions(e.name, e.table.Live())

	e.logger.Info().
		Uint32("session", num).
		Str("server", s.Server.RpcName()).
		Msg("create session")

	e.sendConnectReqOne(s)
	e.retryQueueAdd(num)
	return num, nil
}

// DestroySession disconnects and destroys a client session. Returns false
// if the session number is invalid, the session is not a client session,
// or connection establishment is still in progress (callers must wait for
// the connect callback first). On a session already in the error state it
// emits Disconnected synchronously, with no wire traffic, and returns
// true.
func (e *Endpoint) DestroySession(sessionNum uint32) bool {
	s := e.table.Lookup(sessionNum)
	if s == nil || !s.IsClient() {
		return false
	}

	switch s.State {
	case sm.StateConnected:
		s.State = sm.StateDisconnectInProgress
		e.logger.Info().Uint32("session", sessionNum).Msg("destroy session")
		e.sendDisconnectReqOne(s)
		e.retryQueueAdd(sessionNum)
		return true
	case sm.StateError:
		s.State = sm.StateDisconnected
		e.emitEvent(s, sm.EventDisconnected, sm.NoError)
		e.bury(sessionNum)
		return true
	default:
		// Mid-connect or mid-disconnect; the caller must wait for the
		// outstanding callback.
		return false
	}
}

// IsConnected reports whether sessionNum is a live session in the
// connected state.
func (e *Endpoint) IsConnected(sessionNum uint32) bool {
	s := e.table.Lookup(sessionNum)
	return s != nil && s.State == sm.StateConnected
}

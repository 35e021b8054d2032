package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/fabrpc/internal/sm"
	"github.com/danmuck/fabrpc/internal/testutil/testlog"
	"github.com/danmuck/fabrpc/internal/transport"
)

func TestHappyConnect(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cli, srv, cliRec, srvRec, num := connectedPair(t, w)

	require.Equal(t, uint32(0), num)
	require.Equal(t, []recordedEvent{{num: 0, event: sm.EventConnected, err: sm.NoError}}, cliRec.events)
	require.Empty(t, srvRec.events, "server sessions produce no events")

	// The server-filled metadata is fully populated on the client side.
	s := cli.table.Lookup(num)
	require.NotNil(t, s)
	require.Equal(t, "srv", s.Server.HostnameString())
	require.NotEqual(t, sm.InvalidSessionNum, s.Server.SessionNum)
	require.NotEqual(t, sm.InvalidStartSeq, s.Server.StartSeq)
	require.Zero(t, s.Server.StartSeq&^sm.StartSeqMask)

	// ...and matches the server's own view of the session.
	ss := srv.table.Lookup(s.Server.SessionNum)
	require.NotNil(t, ss)
	require.Equal(t, RoleServer, ss.Role)
	require.Equal(t, sm.StateConnected, ss.State)
	require.Equal(t, ss.Server, s.Server)
}

func TestLossyConnectRecovers(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cliRec, srvRec := &recorder{}, &recorder{}
	srv := w.addEndpoint(t, w.addNexus("srv"), 0, nil, srvRec)
	cli := w.addEndpoint(t, w.addNexus("cli"), 0, nil, cliRec)

	w.fabric.DropNext(1) // eat the first connect request
	num, err := cli.CreateSession(0, "srv", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, w.fabric.Dropped())

	srv.RunEventLoopOnce()
	cli.RunEventLoopOnce()
	require.False(t, cli.IsConnected(num))

	// Past the retransmission threshold the retry engine resends.
	w.clock.AdvanceMs(6)
	cli.RunEventLoopOnce()
	srv.RunEventLoopOnce()
	cli.RunEventLoopOnce()
	require.True(t, cli.IsConnected(num))
	require.Equal(t, []recordedEvent{{num: num, event: sm.EventConnected, err: sm.NoError}}, cliRec.events)
}

func TestConnectTimeout(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cliRec := &recorder{}
	w.addEndpoint(t, w.addNexus("srv"), 0, nil, &recorder{})
	cli := w.addEndpoint(t, w.addNexus("cli"), 0, nil, cliRec)

	w.fabric.Blackhole("srv", true)
	num, err := cli.CreateSession(0, "srv", 0, 0)
	require.NoError(t, err)

	// Retransmits keep vanishing; past the timeout the session fails.
	w.clock.AdvanceMs(20)
	cli.RunEventLoopOnce()
	require.Empty(t, cliRec.events)

	w.clock.AdvanceMs(31)
	cli.RunEventLoopOnce()
	require.Equal(t, []recordedEvent{{num: num, event: sm.EventConnectFailed, err: sm.SrvDisconnected}}, cliRec.events)
	require.False(t, cli.IsConnected(num))
	require.False(t, cli.DestroySession(num), "buried session must reject destroy")
	require.Empty(t, cli.retryQueue)

	// The slot stays buried; the next session gets a fresh number.
	next, err := cli.CreateSession(0, "srv", 0, 0)
	require.NoError(t, err)
	require.Equal(t, num+1, next)
}

func TestConnectToUnknownRemoteRpcID(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cliRec := &recorder{}
	w.addEndpoint(t, w.addNexus("srv"), 0, nil, &recorder{})
	cli := w.addEndpoint(t, w.addNexus("cli"), 0, nil, cliRec)

	// No endpoint with TID 7 exists on "srv"; its nexus refuses.
	num, err := cli.CreateSession(0, "srv", 7, 0)
	require.NoError(t, err)

	cli.RunEventLoopOnce()
	require.Equal(t, []recordedEvent{{num: num, event: sm.EventConnectFailed, err: sm.InvalidRemoteRpcID}}, cliRec.events)
	require.False(t, cli.IsConnected(num))
}

func TestCleanDisconnect(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cli, srv, cliRec, _, num := connectedPair(t, w)
	serverNum := cli.table.Lookup(num).Server.SessionNum

	require.True(t, cli.DestroySession(num))
	srv.RunEventLoopOnce()
	cli.RunEventLoopOnce()

	require.Equal(t, recordedEvent{num: num, event: sm.EventDisconnected, err: sm.NoError}, cliRec.events[len(cliRec.events)-1])
	require.Equal(t, 1, cliRec.terminalCount())
	require.False(t, cli.IsConnected(num))
	require.Nil(t, srv.table.Lookup(serverNum), "server slot must be buried")
	require.False(t, cli.DestroySession(num), "second destroy must fail")
}

func TestDestroyDuringConnectRejected(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cliRec := &recorder{}
	srv := w.addEndpoint(t, w.addNexus("srv"), 0, nil, &recorder{})
	cli := w.addEndpoint(t, w.addNexus("cli"), 0, nil, cliRec)

	num, err := cli.CreateSession(0, "srv", 0, 0)
	require.NoError(t, err)
	require.False(t, cli.DestroySession(num), "mid-connect destroy must be rejected")

	srv.RunEventLoopOnce()
	cli.RunEventLoopOnce()
	require.True(t, cli.IsConnected(num))
	require.True(t, cli.DestroySession(num), "destroy after connect callback succeeds")
}

func TestDisconnectTimeoutIsBounded(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cli, _, cliRec, _, num := connectedPair(t, w)

	w.fabric.Blackhole("srv", true)
	require.True(t, cli.DestroySession(num))

	w.clock.AdvanceMs(51)
	cli.RunEventLoopOnce()
	require.Equal(t, recordedEvent{num: num, event: sm.EventDisconnected, err: sm.SrvDisconnected}, cliRec.events[len(cliRec.events)-1])
	require.Equal(t, 1, cliRec.terminalCount())
	require.False(t, cli.IsConnected(num))
}

func TestDuplicateConnectRequestIsIdempotent(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cliRec := &recorder{}
	srv := w.addEndpoint(t, w.addNexus("srv"), 0, nil, &recorder{})
	cli := w.addEndpoint(t, w.addNexus("cli"), 0, nil, cliRec)

	num, err := cli.CreateSession(0, "srv", 0, 0)
	require.NoError(t, err)

	// Let the retry engine duplicate the request before the server runs.
	w.clock.AdvanceMs(6)
	cli.RunEventLoopOnce()

	// The server sees both copies in one tick: one session, two replies.
	srv.RunEventLoopOnce()
	require.Equal(t, 1, srv.table.Live())

	// The first reply connects; the second is dropped as stale.
	cli.RunEventLoopOnce()
	require.True(t, cli.IsConnected(num))
	require.Equal(t, []recordedEvent{{num: num, event: sm.EventConnected, err: sm.NoError}}, cliRec.events)
}

func TestDuplicateDisconnectRequestIsIdempotent(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cli, srv, cliRec, _, num := connectedPair(t, w)

	require.True(t, cli.DestroySession(num))
	w.clock.AdvanceMs(6)
	cli.RunEventLoopOnce() // duplicates the disconnect request

	srv.RunEventLoopOnce()
	cli.RunEventLoopOnce()
	require.Equal(t, 1, cliRec.terminalCount())
	require.False(t, cli.IsConnected(num))
}

func TestServerRejectsMismatchedTransport(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cliRec := &recorder{}
	srvTr := &otherKindTransport{Datagram: transport.NewDatagram("srv", 31851)}
	srv := w.addEndpoint(t, w.addNexus("srv"), 0, srvTr, &recorder{})
	cli := w.addEndpoint(t, w.addNexus("cli"), 0, nil, cliRec)

	num, err := cli.CreateSession(0, "srv", 0, 0)
	require.NoError(t, err)

	srv.RunEventLoopOnce()
	cli.RunEventLoopOnce()
	require.Equal(t, []recordedEvent{{num: num, event: sm.EventConnectFailed, err: sm.InvalidTransport}}, cliRec.events)
	require.Zero(t, srv.table.Live())
}

// otherKindTransport reports a different fabric kind than the one the
// client speaks.
type otherKindTransport struct {
	*transport.Datagram
}

func (t *otherKindTransport) Kind() sm.TransportType { return sm.TransportInfiniBand }

func TestServerRingExhaustionSurfacesOnConnect(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cliRec := &recorder{}
	srvTr := transport.NewDatagram("srv", 31851)
	srvTr.SetRingSlots(0)
	srv := w.addEndpoint(t, w.addNexus("srv"), 0, srvTr, &recorder{})
	cli := w.addEndpoint(t, w.addNexus("cli"), 0, nil, cliRec)

	num, err := cli.CreateSession(0, "srv", 0, 0)
	require.NoError(t, err)

	srv.RunEventLoopOnce()
	cli.RunEventLoopOnce()
	require.Equal(t, []recordedEvent{{num: num, event: sm.EventConnectFailed, err: sm.RingExhausted}}, cliRec.events)
	require.Zero(t, srv.table.Live(), "no slot consumed on failed install")
}

func TestDestroyOnErrorStateSessionIsSynchronous(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cliRec := &recorder{}
	cli := w.addEndpoint(t, w.addNexus("cli"), 0, nil, cliRec)

	// Hand-install a session stranded in the error state.
	s := &Session{Role: RoleClient, State: sm.StateError}
	s.Client = sm.NewEndpointMetadata()
	require.NoError(t, s.Client.SetHostname("cli"))
	s.Client.AppTID = 0
	s.Client.SessionNum = cli.table.NextNum()
	num, err := cli.table.Append(s)
	require.NoError(t, err)

	sentBefore := w.fabric.Sent() + w.fabric.Dropped()
	require.True(t, cli.DestroySession(num))
	require.Equal(t, []recordedEvent{{num: num, event: sm.EventDisconnected, err: sm.NoError}}, cliRec.events)
	require.Equal(t, sentBefore, w.fabric.Sent()+w.fabric.Dropped(), "no wire traffic for error-state destroy")
	require.False(t, cli.DestroySession(num))
}

func TestCreateSessionLocalFailures(t *testing.T) {
	testlog.Start(t)
	w := newWorld()
	cli := w.addEndpoint(t, w.addNexus("cli"), 0, nil, &recorder{})

	_, err := cli.CreateSession(9, "srv", 0, 0)
	require.ErrorIs(t, err, ErrInvalidPort)

	longName := make([]byte, sm.MaxHostnameLen)
	for i := range longName {
		longName[i] = 'x'
	}
	_, err = cli.CreateSession(0, string(longName), 0, 0)
	require.ErrorIs(t, err, sm.ErrHostnameTooLong)
}

package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/fabrpc/internal/nexus"
	"github.com/danmuck/fabrpc/internal/sm"
	"github.com/danmuck/fabrpc/internal/testutil/memfabric"
	"github.com/danmuck/fabrpc/internal/timing"
	"github.com/danmuck/fabrpc/internal/transport"
)

// world is a deterministic two-or-more-host fabric with a hand-driven
// clock, for exercising the SM scenarios end to end in one process.
type world struct {
	clock  *timing.ManualClock
	fabric *memfabric.Fabric
}

func newWorld() *world {
	return &world{
		clock:  timing.NewManualClock(),
		fabric: memfabric.New(),
	}
}

func (w *world) addNexus(hostname string) *nexus.Nexus {
	nx := nexus.NewInProc(hostname)
	nx.SetSender(w.fabric)
	w.fabric.Attach(hostname, nx)
	return nx
}

type recordedEvent struct {
	num   uint32
	event sm.EventType
	err   sm.ErrType
}

// recorder collects handler callbacks for later assertions.
type recorder struct {
	events []recordedEvent
}

func (r *recorder) handler(s *Session, event sm.EventType, errType sm.ErrType) {
	r.events = append(r.events, recordedEvent{num: s.LocalNum(), event: event, err: errType})
}

func (r *recorder) terminalCount() int {
	n := 0
	for _, ev := range r.events {
		if ev.event == sm.EventConnectFailed || ev.event == sm.EventDisconnected {
			n++
		}
	}
	return n
}

func (w *world) addEndpoint(t *testing.T, nx *nexus.Nexus, tid uint8,
	tr transport.Transport, rec *recorder) *Endpoint {
	t.Helper()
	if tr == nil {
		tr = transport.NewDatagram(nx.Hostname(), 31851)
	}
	e, err := NewEndpoint(nx, tid, rec.handler, tr, w.fabric, w.clock, []uint8{0})
	require.NoError(t, err)
	return e
}

// connectedPair wires a client endpoint on host "cli" to a server endpoint
// on host "srv" and completes the handshake.
func connectedPair(t *testing.T, w *world) (cli, srv *Endpoint, cliRec, srvRec *recorder, num uint32) {
	t.Helper()
	cliRec, srvRec = &recorder{}, &recorder{}
	srv = w.addEndpoint(t, w.addNexus("srv"), 0, nil, srvRec)
	cli = w.addEndpoint(t, w.addNexus("cli"), 0, nil, cliRec)

	num, err := cli.CreateSession(0, "srv", 0, 0)
	require.NoError(t, err)

	srv.RunEventLoopOnce()
	cli.RunEventLoopOnce()
	require.True(t, cli.IsConnected(num))
	return cli, srv, cliRec, srvRec, num
}

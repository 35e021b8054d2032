package nexus

import (
	"errors"
	"testing"

	"github.com/danmuck/fabrpc/internal/sm"
	"github.com/danmuck/fabrpc/internal/testutil/testlog"
)

func newReq(t *testing.T, clientHost string, clientTID uint8, serverTID uint8) *sm.Packet {
	t.Helper()
	pkt := sm.NewPacket(sm.PktConnectReq)
	if err := pkt.Client.SetHostname(clientHost); err != nil {
		t.Fatalf("set hostname: %v", err)
	}
	pkt.Client.AppTID = clientTID
	pkt.Client.SessionNum = 0
	pkt.Server.AppTID = serverTID
	return pkt
}

func TestRegisterHookRejectsDuplicateTID(t *testing.T) {
	testlog.Start(t)
	n := NewInProc("srv")
	if err := n.RegisterHook(NewHook(1)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := n.RegisterHook(NewHook(1)); !errors.Is(err, ErrTIDInUse) {
		t.Fatalf("duplicate tid accepted: %v", err)
	}
	n.UnregisterHook(1)
	if err := n.RegisterHook(NewHook(1)); err != nil {
		t.Fatalf("re-register after unregister: %v", err)
	}
}

func TestDeliverRoutesByDirection(t *testing.T) {
	testlog.Start(t)
	n := NewInProc("srv")
	server := NewHook(2)
	client := NewHook(5)
	if err := n.RegisterHook(server); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := n.RegisterHook(client); err != nil {
		t.Fatalf("register: %v", err)
	}

	// A request goes to the server-side TID.
	n.Deliver(newReq(t, "cli", 5, 2))
	if server.Pending() != 1 || client.Pending() != 0 {
		t.Fatalf("request misrouted: server=%d client=%d", server.Pending(), client.Pending())
	}

	// A response goes back to the client-side TID.
	resp := newReq(t, "cli", 5, 2)
	if err := resp.RespondInPlace(sm.NoError); err != nil {
		t.Fatalf("respond: %v", err)
	}
	n.Deliver(resp)
	if client.Pending() != 1 {
		t.Fatalf("response misrouted: client=%d", client.Pending())
	}
}

// loopSender feeds refusal responses straight back into a nexus, playing
// the role of the client-side fabric.
type loopSender struct{ target *Nexus }

func (s *loopSender) Send(p *sm.Packet, dstHostname string) error {
	s.target.DeliverBytes(p.Marshal())
	return nil
}

func TestDeliverRefusesUnknownEndpoint(t *testing.T) {
	testlog.Start(t)
	srvNexus := NewInProc("srv")
	cliNexus := NewInProc("cli")
	srvNexus.SetSender(&loopSender{target: cliNexus})

	cliHook := NewHook(5)
	if err := cliNexus.RegisterHook(cliHook); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Nothing registered at TID 7 on the server: the nexus must answer
	// for it so the client fails fast.
	srvNexus.Deliver(newReq(t, "cli", 5, 7))

	pkts := cliHook.Drain()
	if len(pkts) != 1 {
		t.Fatalf("expected one refusal, got %d", len(pkts))
	}
	if pkts[0].Type != sm.PktConnectResp || pkts[0].Err != sm.InvalidRemoteRpcID {
		t.Fatalf("unexpected refusal: %v %v", pkts[0].Type, pkts[0].Err)
	}
}

func TestDeliverBytesDropsMalformed(t *testing.T) {
	testlog.Start(t)
	n := NewInProc("srv")
	hook := NewHook(2)
	if err := n.RegisterHook(hook); err != nil {
		t.Fatalf("register: %v", err)
	}
	n.DeliverBytes([]byte{1, 2, 3})
	if hook.Pending() != 0 {
		t.Fatalf("malformed datagram delivered")
	}
}

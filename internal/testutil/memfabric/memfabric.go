// Package memfabric is a test double for the management-port fabric: it
// routes marshalled SM packets between in-process Nexus instances by
// hostname, with deterministic loss controls.
package memfabric

import (
	"sync"

	"github.com/danmuck/fabrpc/internal/sm"
)

// Node is the delivery surface of one fake host.
type Node interface {
	DeliverBytes(payload []byte)
}

// Fabric implements sm.Sender over a hostname routing table. Every send
// round-trips the wire codec, so tests exercise the real byte layout.
type Fabric struct {
	mu        sync.Mutex
	nodes     map[string]Node
	dropNext  int
	blackhole map[string]bool
	sent      int
	dropped   int
}

func New() *Fabric {
	return &Fabric{
		nodes:     make(map[string]Node),
		blackhole: make(map[string]bool),
	}
}

// Attach registers a host on the fabric.
func (f *Fabric) Attach(hostname string, n Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[hostname] = n
}

// DropNext discards the next n sends, whatever their destination.
func (f *Fabric) DropNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropNext = n
}

// Blackhole makes every send to hostname vanish until cleared.
func (f *Fabric) Blackhole(hostname string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blackhole[hostname] = on
}

// Sent returns how many packets reached a destination.
func (f *Fabric) Sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

// Dropped returns how many packets the loss controls ate.
func (f *Fabric) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Send implements sm.Sender. An unknown destination behaves like loss, as
// it would on a real fabric.
func (f *Fabric) Send(p *sm.Packet, dstHostname string) error {
	payload := p.Marshal()

	f.mu.Lock()
	if f.dropNext > 0 || f.blackhole[dstHostname] {
		if f.dropNext > 0 {
			f.dropNext--
		}
		f.dropped++
		f.mu.Unlock()
		return nil
	}
	node, ok := f.nodes[dstHostname]
	if !ok {
		f.dropped++
		f.mu.Unlock()
		return nil
	}
	f.sent++
	f.mu.Unlock()

	node.DeliverBytes(payload)
	return nil
}

package transport

import (
	"bytes"
	"fmt"

	"github.com/danmuck/fabrpc/internal/sm"
)

const (
	// DefaultRingSlots bounds concurrent sessions per transport instance;
	// each queue pair consumes one recv ring slot.
	DefaultRingSlots = 256

	// DefaultBufBudget is the per-transport buffer pool in bytes.
	DefaultBufBudget = 16 * 1024 * 1024

	// qpBufBytes is charged against the buffer pool per queue pair.
	qpBufBytes = 64 * 1024
)

// Datagram is the UDP-backed fabric transport. Routing info is the
// endpoint's data-plane locator, "host:port" as ASCII bytes.
type Datagram struct {
	host     string
	dataPort uint16

	ringSlots int
	bufBytes  int
	qps       map[uint32]struct{}
}

// NewDatagram returns a datagram transport rooted at host:dataPort with the
// default resource pools.
func NewDatagram(host string, dataPort uint16) *Datagram {
	return &Datagram{
		host:      host,
		dataPort:  dataPort,
		ringSlots: DefaultRingSlots,
		bufBytes:  DefaultBufBudget,
		qps:       make(map[uint32]struct{}),
	}
}

// SetRingSlots overrides the recv ring pool. Intended for tests that need
// to provoke RingExhausted deterministically.
func (t *Datagram) SetRingSlots(n int) { t.ringSlots = n }

// SetBufBudget overrides the buffer pool in bytes.
func (t *Datagram) SetBufBudget(n int) { t.bufBytes = n }

func (t *Datagram) Kind() sm.TransportType { return sm.TransportDatagram }

func (t *Datagram) FillLocalRoutingInfo(md *sm.EndpointMetadata) error {
	locator := fmt.Sprintf("%s:%d", t.host, t.dataPort)
	if len(locator) >= sm.RoutingInfoSize {
		return fmt.Errorf("%w: locator %q too long", ErrRoutingResolution, locator)
	}
	md.RoutingInfo = sm.RoutingInfo{}
	copy(md.RoutingInfo[:], locator)
	return nil
}

func (t *Datagram) ResolveRemoteRoutingInfo(md *sm.EndpointMetadata) error {
	locator := md.RoutingInfo[:]
	if i := bytes.IndexByte(locator, 0); i >= 0 {
		locator = locator[:i]
	}
	if len(locator) == 0 {
		return fmt.Errorf("%w: empty remote locator", ErrRoutingResolution)
	}
	if bytes.IndexByte(locator, ':') <= 0 {
		return fmt.Errorf("%w: malformed remote locator %q", ErrRoutingResolution, locator)
	}
	return nil
}

func (t *Datagram) AllocQueuePair(sessionNum uint32) error {
	if _, ok := t.qps[sessionNum]; ok {
		return nil
	}
	if len(t.qps) >= t.ringSlots {
		return fmt.Errorf("%w: %d slots in use", ErrRingExhausted, len(t.qps))
	}
	if t.bufBytes < qpBufBytes {
		return fmt.Errorf("%w: %d bytes left", ErrOutOfMemory, t.bufBytes)
	}
	t.bufBytes -= qpBufBytes
	t.qps[sessionNum] = struct{}{}
	return nil
}

func (t *Datagram) FreeQueuePair(sessionNum uint32) {
	if _, ok := t.qps[sessionNum]; !ok {
		return
	}
	delete(t.qps, sessionNum)
	t.bufBytes += qpBufBytes
}

func (t *Datagram) PollCompletions() {}

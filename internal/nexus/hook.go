package nexus

import (
	"sync"
	"sync/atomic"

	"github.com/danmuck/fabrpc/internal/sm"
)

// Hook is the inbox one endpoint shares with the process-wide Nexus: the
// single cross-thread surface of the SM plane. The Nexus appends under the
// mutex; the owning endpoint swaps the list out once per event-loop tick.
type Hook struct {
	AppTID uint8

	mu      sync.Mutex
	pkts    []*sm.Packet
	counter atomic.Int64 // queued-packet hint; the list is the source of truth
}

// NewHook returns an inbox for the endpoint with the given app TID.
func NewHook(appTID uint8) *Hook {
	return &Hook{AppTID: appTID}
}

// Enqueue hands ownership of p to the endpoint. Called by the Nexus from
// any thread.
func (h *Hook) Enqueue(p *sm.Packet) {
	h.mu.Lock()
	h.pkts = append(h.pkts, p)
	h.counter.Add(1)
	h.mu.Unlock()
}

// Drain swaps the pending list out and returns it. The caller owns the
// returned packets. Called only by the owning endpoint.
func (h *Hook) Drain() []*sm.Packet {
	if h.counter.Load() == 0 {
		return nil
	}
	h.mu.Lock()
	pkts := h.pkts
	h.pkts = nil
	h.counter.Add(-int64(len(pkts)))
	h.mu.Unlock()
	return pkts
}

// Pending returns the queued-packet hint without taking the lock.
func (h *Hook) Pending() int64 {
	return h.counter.Load()
}

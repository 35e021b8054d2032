package rpc

import (
	"github.com/danmuck/fabrpc/internal/observability"
	"github.com/danmuck/fabrpc/internal/sm"
)

// sendConnectReqOne transmits one connect request for a client session and
// leaves the retry bookkeeping to the caller.
func (e *Endpoint) sendConnectReqOne(s *Session) {
	pkt := sm.NewPacket(sm.PktConnectReq)
	pkt.Client = s.Client
	pkt.Server = s.Server
	e.sendPkt(pkt, s.Server.HostnameString())
}

func (e *Endpoint) sendDisconnectReqOne(s *Session) {
	pkt := sm.NewPacket(sm.PktDisconnectReq)
	pkt.Client = s.Client
	pkt.Server = s.Server
	e.sendPkt(pkt, s.Server.HostnameString())
}

func (e *Endpoint) sendPkt(pkt *sm.Packet, dstHostname string) {
	observability.RecordPacketTx(e.name, pkt.Type.String())
	if err := e.sender.Send(pkt, dstHostname); err != nil {
		// A failed fire-and-forget send is indistinguishable from fabric
		// loss; the retry engine covers it.
		e.logger.Warn().Err(err).Str("dst", dstHostname).Msg("sm send failed")
	}
}

func (e *Endpoint) retryQueueContains(sessionNum uint32) bool {
	for _, num := range e.retryQueue {
		if num == sessionNum {
			return true
		}
	}
	return false
}

// retryQueueAdd stamps the session's request timestamp and enqueues it.
// A session can have at most one SM request in flight.
func (e *Endpoint) retryQueueAdd(sessionNum uint32) {
	if e.retryQueueContains(sessionNum) {
		return
	}
	s := e.table.Lookup(sessionNum)
	if s == nil || !s.IsClient() {
		return
	}
	s.mgmtReqTSC = e.clock.Now()
	s.mgmtReqStartTSC = s.mgmtReqTSC
	e.retryQueue = append(e.retryQueue, sessionNum)
}

func (e *Endpoint) retryQueueRemove(sessionNum uint32) {
	for i, num := range e.retryQueue {
		if num == sessionNum {
			e.retryQueue = append(e.retryQueue[:i], e.retryQueue[i+1:]...)
			return
		}
	}
}

// retryInFlight is the per-tick scan: one linear pass over the outstanding
// client requests, retransmitting the quiet ones and failing the expired
// ones. Scan order matches insertion order.
func (e *Endpoint) retryInFlight() {
	if len(e.retryQueue) == 0 {
		return
	}
	now := e.clock.Now()

	// Timeouts remove entries mid-scan, so walk a snapshot and re-check
	// membership and state for each entry.
	snapshot := make([]uint32, len(e.retryQueue))
	copy(snapshot, e.retryQueue)

	for _, num := range snapshot {
		if !e.retryQueueContains(num) {
			continue
		}
		s := e.table.Lookup(num)
		if s == nil {
			e.retryQueueRemove(num)
			continue
		}
		if s.State != sm.StateConnectInProgress && s.State != sm.StateDisconnectInProgress {
			// A response handled earlier this tick already moved the
			// session on.
			e.retryQueueRemove(num)
			continue
		}

		sinceStartMs := e.clock.ToMs(now - s.mgmtReqStartTSC)
		sinceSendMs := e.clock.ToMs(now - s.mgmtReqTSC)
		switch {
		case sinceStartMs > TimeoutMs:
			e.failOnTimeout(num, s)
		case sinceSendMs > RetransMs:
			e.logger.Debug().
				Uint32("session", num).
				Str("state", s.State.String()).
				Msg("retrying sm request")
			observability.RecordRetransmit(e.name)
			if s.State == sm.StateConnectInProgress {
				e.sendConnectReqOne(s)
			} else {
				e.sendDisconnectReqOne(s)
			}
			s.mgmtReqTSC = e.clock.Now()
		}
	}
}

// failOnTimeout promotes an expired in-flight request to its terminal
// failure state.
func (e *Endpoint) failOnTimeout(num uint32, s *Session) {
	e.logger.Warn().
		Uint32("session", num).
		Str("state", s.State.String()).
		Msg("sm request timed out")
	observability.RecordTimeout(e.name)
	e.retryQueueRemove(num)

	if s.State == sm.StateConnectInProgress {
		s.State = sm.StateError
		e.emitEvent(s, sm.EventConnectFailed, sm.SrvDisconnected)
	} else {
		s.State = sm.StateDisconnected
		e.emitEvent(s, sm.EventDisconnected, sm.SrvDisconnected)
	}
	e.bury(num)
}

package rpc

import (
	"github.com/danmuck/fabrpc/internal/sm"
)

// Role is which side of the session this endpoint owns.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Session is a long-lived one-to-one control record between a client
// endpoint and a server endpoint. Both sides carry both metadata records,
// populated incrementally as the handshake progresses.
type Session struct {
	Role  Role
	State sm.SessionState

	Client sm.EndpointMetadata
	Server sm.EndpointMetadata

	// mgmtReqTSC is the cycle count at which the last SM request was
	// transmitted; it paces retransmissions. mgmtReqStartTSC is the count
	// at which the request first went out; it bounds the timeout, so a
	// stream of retransmits cannot postpone failure forever. Client
	// sessions only.
	mgmtReqTSC      uint64
	mgmtReqStartTSC uint64

	cc bool
}

func (s *Session) IsClient() bool { return s.Role == RoleClient }

// LocalNum returns this session's number in the owning endpoint's table.
func (s *Session) LocalNum() uint32 {
	if s.Role == RoleClient {
		return s.Client.SessionNum
	}
	return s.Server.SessionNum
}

// EnableCongestionControl turns congestion control on for this session's
// data-plane traffic.
func (s *Session) EnableCongestionControl() { s.cc = true }

// DisableCongestionControl turns congestion control off.
func (s *Session) DisableCongestionControl() { s.cc = false }

// CongestionControlEnabled reports the congestion-control flag.
func (s *Session) CongestionControlEnabled() bool { return s.cc }

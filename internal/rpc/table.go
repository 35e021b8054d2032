package rpc

import (
	"errors"

	"github.com/danmuck/fabrpc/internal/sm"
)

// MaxSessionsPerThread caps sessions (live plus buried) an endpoint can
// create over its lifetime.
const MaxSessionsPerThread = 1024

var ErrTableFull = errors.New("rpc: session table full")

// SessionTable is the append-only session arena. A buried session leaves a
// nil tombstone; slots are never reused, so session numbers are stable and
// strictly monotonic.
type SessionTable struct {
	sessions []*Session
}

// NextNum returns the number the next appended session will get.
func (t *SessionTable) NextNum() uint32 {
	return uint32(len(t.sessions))
}

// Append adds s and returns its session number.
func (t *SessionTable) Append(s *Session) (uint32, error) {
	if len(t.sessions) >= MaxSessionsPerThread {
		return sm.InvalidSessionNum, ErrTableFull
	}
	num := uint32(len(t.sessions))
	t.sessions = append(t.sessions, s)
	return num, nil
}

// Lookup returns the live session at num, or nil if num is out of range or
// the slot is buried.
func (t *SessionTable) Lookup(num uint32) *Session {
	if num >= uint32(len(t.sessions)) {
		return nil
	}
	return t.sessions[num]
}

// Bury replaces the slot with the tombstone. Idempotent.
func (t *SessionTable) Bury(num uint32) {
	if num >= uint32(len(t.sessions)) {
		return
	}
	t.sessions[num] = nil
}

// Len returns live plus buried slots.
func (t *SessionTable) Len() int { return len(t.sessions) }

// Live counts sessions that have not been buried.
func (t *SessionTable) Live() int {
	live := 0
	for _, s := range t.sessions {
		if s != nil {
			live++
		}
	}
	return live
}

// FindServerByClient returns the server-role session whose client side
// matches the location triple of md, or nil. Used to keep Connect requests
// idempotent under duplication.
func (t *SessionTable) FindServerByClient(md *sm.EndpointMetadata) *Session {
	for _, s := range t.sessions {
		if s == nil || s.Role != RoleServer {
			continue
		}
		if s.Client.SameLocation(md) {
			return s
		}
	}
	return nil
}

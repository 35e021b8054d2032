package sm

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

const (
	// MaxHostnameLen bounds the fixed-width, zero-padded hostname buffer.
	MaxHostnameLen = 64

	// RoutingInfoSize is sized to the widest supported transport's opaque
	// routing record.
	RoutingInfoSize = 48

	// StartSeqMask keeps start sequences within 48 bits; the high 16 bits
	// of the wire field are reserved and must be zero.
	StartSeqMask uint64 = (1 << 48) - 1
)

// Invalid sentinels for metadata fields that are filled in incrementally as
// the handshake progresses.
const (
	InvalidAppTID     uint8  = math.MaxUint8
	InvalidPhyPort    uint8  = math.MaxUint8
	InvalidSessionNum uint32 = math.MaxUint32
	InvalidStartSeq   uint64 = math.MaxUint64
)

var ErrHostnameTooLong = errors.New("sm: hostname exceeds metadata buffer")

// RoutingInfo is the opaque transport routing record carried in metadata.
type RoutingInfo [RoutingInfoSize]byte

// EndpointMetadata is the identity and locator of one side of a session.
type EndpointMetadata struct {
	TransportType TransportType
	Hostname      [MaxHostnameLen]byte
	AppTID        uint8
	PhyPort       uint8
	SessionNum    uint32
	StartSeq      uint64
	RoutingInfo   RoutingInfo
}

// NewEndpointMetadata returns metadata with every field set to its invalid
// sentinel, to aid debugging of partially filled records.
func NewEndpointMetadata() EndpointMetadata {
	return EndpointMetadata{
		TransportType: TransportInvalid,
		AppTID:        InvalidAppTID,
		PhyPort:       InvalidPhyPort,
		SessionNum:    InvalidSessionNum,
		StartSeq:      InvalidStartSeq,
	}
}

// SetHostname stores h zero-terminated and zero-padded. The final byte stays
// zero so the buffer always terminates.
func (m *EndpointMetadata) SetHostname(h string) error {
	if len(h) > MaxHostnameLen-1 {
		return fmt.Errorf("%w: %q", ErrHostnameTooLong, h)
	}
	m.Hostname = [MaxHostnameLen]byte{}
	copy(m.Hostname[:], h)
	return nil
}

// HostnameString returns the hostname up to its zero terminator.
func (m *EndpointMetadata) HostnameString() string {
	if i := bytes.IndexByte(m.Hostname[:], 0); i >= 0 {
		return string(m.Hostname[:i])
	}
	return string(m.Hostname[:])
}

// SameLocation compares only the location triple (hostname, app TID,
// session number). Fabric port, routing info, and sequence fields are not
// part of an endpoint's identity.
func (m *EndpointMetadata) SameLocation(other *EndpointMetadata) bool {
	return m.Hostname == other.Hostname &&
		m.AppTID == other.AppTID &&
		m.SessionNum == other.SessionNum
}

// Name returns a debug identifier for this session endpoint.
func (m *EndpointMetadata) Name() string {
	sessionNum := "XX"
	if m.SessionNum != InvalidSessionNum {
		sessionNum = fmt.Sprintf("%d", m.SessionNum)
	}
	return fmt.Sprintf("[H: %s, R: %d, S: %s]", m.HostnameString(), m.AppTID, sessionNum)
}

// RpcName returns a debug identifier for the endpoint hosting this side,
// without the session number.
func (m *EndpointMetadata) RpcName() string {
	return fmt.Sprintf("[H: %s, R: %d]", m.HostnameString(), m.AppTID)
}

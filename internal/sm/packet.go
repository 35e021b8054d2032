package sm

import (
	"encoding/binary"
	"errors"
)

// Wire layout sizes. The packet is laid out field by field below; there is
// no implicit struct padding to worry about.
const (
	metadataWireSize = 1 + MaxHostnameLen + 1 + 1 + 4 + 8 + RoutingInfoSize

	// PacketWireSize is the exact size of a marshalled packet: type byte,
	// error byte, then the client and server metadata records back to back.
	PacketWireSize = 2 + 2*metadataWireSize

	// MaxPacketBytes is the UDP-datagram budget for one SM packet.
	MaxPacketBytes = 1400
)

// Compile-time check that the packet fits one datagram without
// fragmentation.
const _ = uint(MaxPacketBytes - PacketWireSize)

var (
	ErrShortPacket    = errors.New("sm: short packet")
	ErrBadPacketType  = errors.New("sm: bad packet type")
	ErrNotRequest     = errors.New("sm: packet is not a request")
	ErrReservedSeqSet = errors.New("sm: reserved start-seq bits set")
)

// The cluster is homogeneous (every supported fabric host is little-endian),
// so the wire order is pinned little-endian rather than negotiated.
var wire = binary.LittleEndian

// Packet is one session-management control packet. Both requests and
// responses carry full copies of the client and server endpoint metadata,
// so a response can be matched without a separate transaction id.
type Packet struct {
	Type   PktType
	Err    ErrType // meaningful on responses only
	Client EndpointMetadata
	Server EndpointMetadata
}

// NewPacket returns a packet of the given type with both metadata records
// initialized to invalid sentinels.
func NewPacket(t PktType) *Packet {
	return &Packet{
		Type:   t,
		Client: NewEndpointMetadata(),
		Server: NewEndpointMetadata(),
	}
}

// RespondInPlace mutates a request into its response: the type flips to the
// matching response type and the error kind is written. The caller sends
// the result to the client hostname.
func (p *Packet) RespondInPlace(errType ErrType) error {
	if !p.Type.IsReq() {
		return ErrNotRequest
	}
	p.Type = p.Type.RespFor()
	p.Err = errType
	return nil
}

// Marshal encodes the packet into its pinned wire layout.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, PacketWireSize)
	buf[0] = byte(p.Type)
	buf[1] = byte(p.Err)
	marshalMetadata(buf[2:2+metadataWireSize], &p.Client)
	marshalMetadata(buf[2+metadataWireSize:], &p.Server)
	return buf
}

// Unmarshal decodes one packet from b. Trailing bytes are rejected so a
// corrupt datagram cannot masquerade as a valid packet.
func Unmarshal(b []byte) (*Packet, error) {
	if len(b) != PacketWireSize {
		return nil, ErrShortPacket
	}
	p := &Packet{
		Type: PktType(b[0]),
		Err:  ErrType(b[1]),
	}
	if !p.Type.IsValid() {
		return nil, ErrBadPacketType
	}
	if err := unmarshalMetadata(b[2:2+metadataWireSize], &p.Client); err != nil {
		return nil, err
	}
	if err := unmarshalMetadata(b[2+metadataWireSize:], &p.Server); err != nil {
		return nil, err
	}
	return p, nil
}

func marshalMetadata(buf []byte, m *EndpointMetadata) {
	buf[0] = byte(m.TransportType)
	copy(buf[1:1+MaxHostnameLen], m.Hostname[:])
	off := 1 + MaxHostnameLen
	buf[off] = m.AppTID
	buf[off+1] = m.PhyPort
	wire.PutUint32(buf[off+2:off+6], m.SessionNum)
	wire.PutUint64(buf[off+6:off+14], m.StartSeq)
	copy(buf[off+14:off+14+RoutingInfoSize], m.RoutingInfo[:])
}

func unmarshalMetadata(buf []byte, m *EndpointMetadata) error {
	m.TransportType = TransportType(buf[0])
	copy(m.Hostname[:], buf[1:1+MaxHostnameLen])
	off := 1 + MaxHostnameLen
	m.AppTID = buf[off]
	m.PhyPort = buf[off+1]
	m.SessionNum = wire.Uint32(buf[off+2 : off+6])
	m.StartSeq = wire.Uint64(buf[off+6 : off+14])
	copy(m.RoutingInfo[:], buf[off+14:off+14+RoutingInfoSize])
	if m.StartSeq != InvalidStartSeq && m.StartSeq&^StartSeqMask != 0 {
		return ErrReservedSeqSet
	}
	return nil
}

// Sender delivers a marshalled packet to the management port of the named
// host. Implementations are fire-and-forget; reliability is the retry
// engine's job.
type Sender interface {
	Send(p *Packet, dstHostname string) error
}

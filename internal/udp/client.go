// Package udp carries SM packets over the well-known management UDP port.
// Sends are fire-and-forget: reliability belongs to the retry engine, not
// the socket.
package udp

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"

	"github.com/danmuck/fabrpc/internal/sm"
)

// Client sends marshalled SM packets to a destination host's management
// port. DropProb is a testing hook: each send is silently discarded before
// reaching the socket with that probability, drawn from the global
// math/rand source, so the pattern of drops differs from run to run.
// Safe for use from both the endpoint thread and the Nexus receive loop.
type Client struct {
	mgmtPort uint16
	dropProb float64
}

// NewClient returns a sender targeting mgmtPort on every destination host.
func NewClient(mgmtPort uint16, dropProb float64) *Client {
	return &Client{
		mgmtPort: mgmtPort,
		dropProb: dropProb,
	}
}

// Send marshals p and delivers it as one datagram.
func (c *Client) Send(p *sm.Packet, dstHostname string) error {
	return c.SendBytes(p.Marshal(), dstHostname)
}

// SendBytes delivers one datagram to dstHostname's management port. A send
// eaten by the drop hook still reports success; the caller cannot tell a
// dropped packet from one lost on the fabric.
func (c *Client) SendBytes(b []byte, dstHostname string) error {
	if c.dropProb > 0 && rand.Float64() < c.dropProb {
		return nil
	}
	addr := net.JoinHostPort(dstHostname, strconv.Itoa(int(c.mgmtPort)))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("udp: dial %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("udp: send to %s: %w", addr, err)
	}
	return nil
}

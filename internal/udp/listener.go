package udp

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
)

// Listener receives management-port datagrams and hands the raw payload to
// a delivery callback. One listener per process, owned by the Nexus.
type Listener struct {
	conn *net.UDPConn
}

// Listen binds the management UDP port on all interfaces.
func Listen(mgmtPort uint16) (*Listener, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(mgmtPort)})
	if err != nil {
		return nil, fmt.Errorf("udp: listen :%d: %w", mgmtPort, err)
	}
	return &Listener{conn: conn}, nil
}

// Serve reads datagrams until the listener is closed, invoking deliver for
// each payload. Runs on its own goroutine; deliver must be thread-safe.
func (l *Listener) Serve(deliver func(payload []byte)) {
	buf := make([]byte, 2048)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("mgmt udp read failed")
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		deliver(payload)
	}
}

// Port returns the bound management port, useful when the listener was
// opened on an ephemeral port.
func (l *Listener) Port() uint16 {
	return uint16(l.conn.LocalAddr().(*net.UDPAddr).Port)
}

func (l *Listener) Close() error {
	return l.conn.Close()
}

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/reactor"
)

// Dial connects to addr and wraps the socket for the given executor.
func Dial(ctx context.Context, proto endpoint.Protocol, addr string, exec *reactor.Context, bufSize int) (*Conn, error) {
	var d net.Dialer
	switch proto {
	case endpoint.ProtocolTCP:
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("transport: dial tcp %s: %w", addr, err)
		}
		return NewStream(c, exec, bufSize), nil
	case endpoint.ProtocolUDP:
		c, err := d.DialContext(ctx, "udp", addr)
		if err != nil {
			return nil, fmt.Errorf("transport: dial udp %s: %w", addr, err)
		}
		// a connected datagram socket reads and writes like a stream
		conn := NewStream(c, exec, bufSize)
		conn.proto = endpoint.ProtocolUDP
		conn.setRemote(c.RemoteAddr())
		return conn, nil
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %s", ErrInvalidConfig, proto)
	}
}

package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func listenConfig(reuse bool) net.ListenConfig {
	if !reuse {
		return net.ListenConfig{}
	}
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var err error
			cerr := c.Control(func(fd uintptr) {
				err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if err != nil {
					return
				}
				// several daemons may share one SOME/IP port
				err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if cerr != nil {
				return cerr
			}
			return err
		},
	}
}

// ListenTCP opens a stream listener, optionally with SO_REUSEADDR and SO_REUSEPORT.
func ListenTCP(ctx context.Context, addr string, reuse bool) (net.Listener, error) {
	cfg := listenConfig(reuse)
	ln, err := cfg.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp %s: %w", addr, err)
	}
	return ln, nil
}

// ListenUDP opens a datagram socket, optionally with SO_REUSEADDR and SO_REUSEPORT.
func ListenUDP(ctx context.Context, addr string, reuse bool) (net.PacketConn, error) {
	cfg := listenConfig(reuse)
	pc, err := cfg.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp %s: %w", addr, err)
	}
	return pc, nil
}

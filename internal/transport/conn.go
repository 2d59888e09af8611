package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/reactor"
	"github.com/google/uuid"
)

var (
	ErrStopped = errors.New("transport: executor stopped")
	ErrUnbound = errors.New("transport: no completion handler bound")
	ErrClosed  = errors.New("transport: connection closed")
)

// DefaultBufferSize is the receive buffer handed to each read.
const DefaultBufferSize = 64 * 1024

// Completion receives the outcome of one read. A non-nil return closes the
// connection.
type Completion func(err error, transferred int) error

type readFunc func(buf []byte) (int, net.Addr, error)

// Conn adapts a socket to the participant transport contract. Each read is
// completed on the executor, and the next read starts only after Restart.
type Conn struct {
	id    uuid.UUID
	proto endpoint.Protocol
	exec  *reactor.Context

	read  readFunc
	write func(b []byte, to net.Addr) error
	sock  io.Closer

	mu       sync.RWMutex
	remote   *endpoint.Endpoint
	lastAddr net.Addr
	handler  Completion

	buf   []byte
	rearm chan struct{}
	done  chan struct{}
	once  sync.Once

	writeMu sync.Mutex
}

func newConn(proto endpoint.Protocol, exec *reactor.Context, bufSize int) *Conn {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Conn{
		id:     uuid.New(),
		proto:  proto,
		exec:   exec,
		remote: &endpoint.Endpoint{Protocol: proto},
		buf:    make([]byte, bufSize),
		rearm:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// NewStream wraps a connected stream socket.
func NewStream(c net.Conn, exec *reactor.Context, bufSize int) *Conn {
	conn := newConn(endpoint.ProtocolTCP, exec, bufSize)
	conn.sock = c
	conn.read = func(buf []byte) (int, net.Addr, error) {
		n, err := c.Read(buf)
		return n, nil, err
	}
	conn.write = func(b []byte, _ net.Addr) error {
		_, err := c.Write(b)
		return err
	}
	conn.setRemote(c.RemoteAddr())
	return conn
}

// NewPacket wraps a datagram socket. The remote is the sender of the last
// datagram and replies go back to it.
func NewPacket(pc net.PacketConn, exec *reactor.Context, bufSize int) *Conn {
	conn := newConn(endpoint.ProtocolUDP, exec, bufSize)
	conn.sock = pc
	conn.read = pc.ReadFrom
	conn.write = func(b []byte, to net.Addr) error {
		if to == nil {
			return errors.New("transport: no datagram peer yet")
		}
		_, err := pc.WriteTo(b, to)
		return err
	}
	return conn
}

func (c *Conn) setRemote(addr net.Addr) {
	if addr == nil {
		return
	}
	ep := endpoint.FromAddr(addr)
	ep.Protocol = c.proto
	c.mu.Lock()
	c.remote = ep
	c.lastAddr = addr
	c.mu.Unlock()
}

func (c *Conn) ID() uuid.UUID {
	return c.id
}

// Bind sets the handler run on the executor for each completed read.
func (c *Conn) Bind(h Completion) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Conn) Remote() *endpoint.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote
}

func (c *Conn) RemoteAddress() string {
	return c.Remote().Address
}

func (c *Conn) RemotePort() uint16 {
	return c.Remote().Port
}

func (c *Conn) Protocol() endpoint.Protocol {
	return c.proto
}

func (c *Conn) Version() endpoint.IPVersion {
	return c.Remote().Version
}

// ReceiveBuffer is valid until Restart.
func (c *Conn) ReceiveBuffer() []byte {
	return c.buf
}

// Restart arms the next read.
func (c *Conn) Restart() {
	select {
	case c.rearm <- struct{}{}:
	default:
	}
}

// Send writes b to the peer.
func (c *Conn) Send(b []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.RLock()
	to := c.lastAddr
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(b, to)
}

// Close shuts the socket and stops the read loop.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.sock.Close()
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Serve runs the read loop until the peer goes away, ctx ends, or a completion
// fails. A clean end of stream returns nil.
func (c *Conn) Serve(ctx context.Context) error {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return ErrUnbound
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		n, addr, err := c.read(c.buf)
		if n > 0 {
			c.setRemote(addr)
			if !c.complete(h, nil, n) {
				return c.exitErr(ctx)
			}
			if !c.wait() {
				return c.exitErr(ctx)
			}
		}
		if err != nil {
			if c.closed() || errors.Is(err, net.ErrClosed) {
				return c.exitErr(ctx)
			}
			if errors.Is(err, io.EOF) {
				_ = c.Close()
				return nil
			}
			c.complete(h, err, 0)
			_ = c.Close()
			return err
		}
	}
}

func (c *Conn) complete(h Completion, err error, n int) bool {
	posted := c.exec.Post(func() {
		if herr := h(err, n); herr != nil {
			_ = c.Close()
		}
	})
	if !posted {
		_ = c.Close()
	}
	return posted
}

func (c *Conn) wait() bool {
	select {
	case <-c.rearm:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) exitErr(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	if c.exec.Stopped() {
		return ErrStopped
	}
	return nil
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/someipd/internal/dispatch"
	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/participant"
	"github.com/danmuck/someipd/internal/reactor"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrInvalidConfig = errors.New("transport: invalid config")

// Config describes one listening endpoint.
type Config struct {
	Protocol   endpoint.Protocol
	ListenAddr string
	ReusePort  bool
	// Workers bounds the number of connections served at once.
	Workers     int
	BufferSize  int
	Participant participant.Config
}

func DefaultConfig() Config {
	return Config{
		Protocol:    endpoint.ProtocolTCP,
		ListenAddr:  ":30490",
		ReusePort:   false,
		Workers:     64,
		BufferSize:  DefaultBufferSize,
		Participant: participant.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if c.Protocol != endpoint.ProtocolTCP && c.Protocol != endpoint.ProtocolUDP {
		return fmt.Errorf("%w: protocol must be tcp or udp", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be positive", ErrInvalidConfig)
	}
	return c.Participant.Validate()
}

// Session is one served connection and the participant decoding it.
type Session struct {
	Conn        *Conn
	Participant *participant.Participant
	Since       time.Time
	ctx         context.Context
}

// SessionInfo is the admin view of a session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Participant string    `json:"participant"`
	Remote      string    `json:"remote"`
	Since       time.Time `json:"since"`
	Pending     int       `json:"pending"`
}

// Server accepts connections and gives each one a participant. All
// participants share the server's registry and executor.
type Server struct {
	cfg      Config
	registry *dispatch.Registry
	exec     *reactor.Context
	observer participant.Observer
	logger   zerolog.Logger
	pool     *ants.PoolWithFunc

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	active   atomic.Int64
}

type Option func(*Server)

func WithRegistry(r *dispatch.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

func WithExecutor(e *reactor.Context) Option {
	return func(s *Server) {
		if e != nil {
			s.exec = e
		}
	}
}

func WithObserver(o participant.Observer) Option {
	return func(s *Server) {
		s.observer = participant.Observers(o)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		registry: dispatch.NewRegistry(),
		exec:     reactor.New(),
		observer: participant.Observers(),
		logger:   log.Logger,
		sessions: make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	pool, err := ants.NewPoolWithFunc(cfg.Workers, func(arg any) {
		sess, ok := arg.(*Session)
		if !ok {
			s.logger.Error().Msg("worker pool argument is not a session")
			return
		}
		s.serveSession(sess)
	},
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			s.logger.Error().Interface("panic", v).Msg("connection worker panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: worker pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

func (s *Server) Registry() *dispatch.Registry {
	return s.registry
}

func (s *Server) Executor() *reactor.Context {
	return s.exec
}

func (s *Server) Config() Config {
	return s.cfg
}

// Active is the number of sessions being served.
func (s *Server) Active() int64 {
	return s.active.Load()
}

// ListenAndServe opens the configured endpoint and serves it until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	switch s.cfg.Protocol {
	case endpoint.ProtocolUDP:
		pc, err := ListenUDP(ctx, s.cfg.ListenAddr, s.cfg.ReusePort)
		if err != nil {
			return err
		}
		s.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("listening udp")
		return s.ServePacket(ctx, pc)
	default:
		ln, err := ListenTCP(ctx, s.cfg.ListenAddr, s.cfg.ReusePort)
		if err != nil {
			return err
		}
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening tcp")
		return s.Serve(ctx, ln)
	}
}

// Serve accepts stream connections until ctx ends or the listener closes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() {
		s.closeAll()
		_ = ln.Close()
	})
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		sess, err := s.attach(ctx, NewStream(c, s.exec, s.cfg.BufferSize))
		if err != nil {
			s.logger.Error().Err(err).Msg("attach connection")
			_ = c.Close()
			continue
		}
		if err := s.pool.Invoke(sess); err != nil {
			s.logger.Warn().Err(err).Str("remote", sess.Conn.Remote().String()).Msg("connection rejected")
			s.detach(sess)
		}
	}
}

// ServePacket serves one datagram socket on the calling goroutine.
func (s *Server) ServePacket(ctx context.Context, pc net.PacketConn) error {
	sess, err := s.attach(ctx, NewPacket(pc, s.exec, s.cfg.BufferSize))
	if err != nil {
		_ = pc.Close()
		return err
	}
	return s.serveSession(sess)
}

// Session looks up a served connection by id.
func (s *Server) Session(id uuid.UUID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions lists served connections oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, SessionInfo{
			ID:          sess.Conn.ID().String(),
			Participant: sess.Participant.ID().String(),
			Remote:      sess.Conn.Remote().String(),
			Since:       sess.Since,
			Pending:     sess.Participant.Pending(),
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ID < out[j].ID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// Close stops every session and releases the worker pool.
func (s *Server) Close() {
	s.closeAll()
	s.pool.Release()
}

func (s *Server) attach(ctx context.Context, c *Conn) (*Session, error) {
	p, err := participant.New(s.cfg.Participant, c,
		participant.WithRegistry(s.registry),
		participant.WithExecutor(s.exec),
		participant.WithObserver(s.observer),
		participant.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	c.Bind(p.Received)
	sess := &Session{Conn: c, Participant: p, Since: time.Now(), ctx: ctx}
	s.mu.Lock()
	s.sessions[c.ID()] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Server) detach(sess *Session) {
	_ = sess.Conn.Close()
	_ = sess.Participant.Close()
	s.mu.Lock()
	delete(s.sessions, sess.Conn.ID())
	s.mu.Unlock()
}

func (s *Server) serveSession(sess *Session) error {
	active := s.active.Add(1)
	remote := sess.Conn.Remote().String()
	s.logger.Info().Str("conn", sess.Conn.ID().String()).Str("remote", remote).Int64("active", active).Msg("session opened")
	defer func() {
		s.detach(sess)
		remaining := s.active.Add(-1)
		s.logger.Info().Str("conn", sess.Conn.ID().String()).Str("remote", remote).Int64("active", remaining).Msg("session closed")
	}()
	err := sess.Conn.Serve(sess.ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", remote).Msg("session ended")
	}
	return err
}

func (s *Server) closeAll() {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.sessions))
	for _, sess := range s.sessions {
		conns = append(conns, sess.Conn)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

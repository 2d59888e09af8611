package participant

import (
	"sync"
	"sync/atomic"

	"github.com/danmuck/someipd/internal/dispatch"
	"github.com/danmuck/someipd/internal/factory"
	"github.com/danmuck/someipd/internal/protocol"
	"github.com/danmuck/someipd/internal/protocol/frame"
	"github.com/danmuck/someipd/internal/protocol/serial"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Participant decodes and dispatches the byte stream of one transport.
type Participant struct {
	id  uuid.UUID
	cfg Config

	sendingMagicCookies atomic.Bool

	// mu serializes the decode pipeline against Close.
	mu           sync.Mutex
	deserializer *serial.Deserializer

	sendMu     sync.Mutex
	serializer *serial.Serializer

	factory   Factory
	transport Transport
	executor  Executor
	registry  *dispatch.Registry
	observer  Observer
	logger    zerolog.Logger
}

type Option func(*Participant)

// WithRegistry shares a dispatch registry between participants.
func WithRegistry(r *dispatch.Registry) Option {
	return func(p *Participant) {
		if r != nil {
			p.registry = r
		}
	}
}

// WithFactory replaces the factory that builds sender endpoints.
func WithFactory(f Factory) Option {
	return func(p *Participant) {
		if f != nil {
			p.factory = f
		}
	}
}

// WithExecutor sets the executor driven by PollOne, Poll and Run.
func WithExecutor(e Executor) Option {
	return func(p *Participant) {
		p.executor = e
	}
}

// WithObserver reports pipeline events to o.
func WithObserver(o Observer) Option {
	return func(p *Participant) {
		p.observer = Observers(o)
	}
}

// WithLogger sets the participant logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Participant) {
		p.logger = l
	}
}

// New builds a participant reading from t.
func New(cfg Config, t Transport, opts ...Option) (*Participant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNoTransport
	}
	p := &Participant{
		id:        uuid.New(),
		cfg:       cfg,
		factory:   factory.Get(),
		transport: t,
		registry:  dispatch.NewRegistry(),
		observer:  nopObserver{},
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().
		Str("participant", p.id.String()).
		Str("remote", t.RemoteAddress()).
		Uint16("port", t.RemotePort()).
		Str("proto", t.Protocol().String()).
		Logger()

	p.serializer = p.factory.NewSerializer()
	p.deserializer = p.factory.NewDeserializer()
	if p.serializer != nil {
		// room for a leading cookie
		p.serializer.CreateData(int(cfg.MaxMessageSize) + frame.HeaderLen)
	}
	p.SetSendingMagicCookies(cfg.SendMagicCookies)
	return p, nil
}

// ID identifies the participant in logs and admin listings.
func (p *Participant) ID() uuid.UUID {
	return p.id
}

// Config returns the configuration the participant was built with.
func (p *Participant) Config() Config {
	return p.cfg
}

func (p *Participant) Registry() *dispatch.Registry {
	return p.registry
}

// PollOne runs at most one ready completion. It returns 0 without an executor.
func (p *Participant) PollOne() int {
	if p.executor == nil {
		return 0
	}
	return p.executor.PollOne()
}

// Poll runs every ready completion without blocking.
func (p *Participant) Poll() int {
	if p.executor == nil {
		return 0
	}
	return p.executor.Poll()
}

// Run blocks running completions until the executor is stopped.
func (p *Participant) Run() int {
	if p.executor == nil {
		return 0
	}
	return p.executor.Run()
}

// Register subscribes recv to messages for the exact (service, method) pair.
func (p *Participant) Register(recv dispatch.Receiver, service protocol.ServiceID, method protocol.MethodID) {
	p.registry.Register(recv, service, method)
}

// Unregister must be called for every registered pair before recv is discarded.
func (p *Participant) Unregister(recv dispatch.Receiver, service protocol.ServiceID, method protocol.MethodID) {
	p.registry.Unregister(recv, service, method)
}

func (p *Participant) IsSendingMagicCookies() bool {
	return p.sendingMagicCookies.Load()
}

// SetSendingMagicCookies enables outbound cookies only when resync is supported.
func (p *Participant) SetSendingMagicCookies(enabled bool) {
	p.sendingMagicCookies.Store(enabled && p.cfg.SupportsResync)
}

// Pending is the number of buffered bytes not yet consumed.
func (p *Participant) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deserializer == nil {
		return 0
	}
	return p.deserializer.Available()
}

// Frame renders msg for the wire, preceded by a magic cookie when cookies are
// being sent.
func (p *Participant) Frame(msg *protocol.Message) ([]byte, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.serializer == nil {
		return nil, ErrClosed
	}
	p.serializer.Reset()
	if p.IsSendingMagicCookies() {
		p.serializer.Bytes(frame.Cookie())
	}
	if err := p.serializer.SerializeMessage(msg); err != nil {
		return nil, err
	}
	return append([]byte(nil), p.serializer.Data()...), nil
}

// Close releases the owned buffers. Later receives fail with ErrClosed.
func (p *Participant) Close() error {
	p.mu.Lock()
	if p.deserializer != nil {
		p.deserializer.Release()
		p.deserializer = nil
	}
	p.mu.Unlock()

	p.sendMu.Lock()
	if p.serializer != nil {
		p.serializer.Release()
		p.serializer = nil
	}
	p.sendMu.Unlock()
	return nil
}

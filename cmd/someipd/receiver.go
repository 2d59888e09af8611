package main

import (
	"sync/atomic"

	"github.com/danmuck/someipd/internal/config"
	"github.com/danmuck/someipd/internal/dispatch"
	"github.com/danmuck/someipd/internal/protocol"
	"github.com/rs/zerolog"
)

// logReceiver logs every message dispatched to it.
type logReceiver struct {
	name   string
	logger zerolog.Logger
	seen   atomic.Uint64
}

func newLogReceiver(name string, logger zerolog.Logger) *logReceiver {
	return &logReceiver{
		name:   name,
		logger: logger.With().Str("receiver", name).Logger(),
	}
}

func (r *logReceiver) Receive(msg *protocol.Message) {
	n := r.seen.Add(1)
	r.logger.Info().
		Str("message", msg.Header.MessageID().String()).
		Str("type", msg.Header.Type.String()).
		Stringer("from", msg.Sender).
		Int("payload", len(msg.Payload)).
		Uint64("seen", n).
		Msg("message received")
}

type binding struct {
	recv    *logReceiver
	service protocol.ServiceID
	method  protocol.MethodID
}

// bindReceivers registers one logging receiver per configured pair and returns
// a func that unregisters them all.
func bindReceivers(reg *dispatch.Registry, receivers []config.ReceiverConfig, logger zerolog.Logger) func() {
	bound := make([]binding, 0, len(receivers))
	for _, rc := range receivers {
		b := binding{
			recv:    newLogReceiver(rc.Name, logger),
			service: protocol.ServiceID(rc.Service),
			method:  protocol.MethodID(rc.Method),
		}
		reg.Register(b.recv, b.service, b.method)
		bound = append(bound, b)
	}
	return func() {
		for _, b := range bound {
			reg.Unregister(b.recv, b.service, b.method)
		}
	}
}

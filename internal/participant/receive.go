package participant

import (
	"github.com/danmuck/someipd/internal/protocol"
	"github.com/danmuck/someipd/internal/protocol/frame"
)

// Received is the completion of one transport receive. On success the delivered
// bytes are buffered, every whole frame is extracted, and the transport is
// restarted. Extracted messages are dispatched after the decode lock is
// released, so receivers may call back into the participant. A delivery error
// stops processing for this event and is returned without restarting the
// transport.
func (p *Participant) Received(err error, transferred int) error {
	if err != nil {
		p.observer.DeliveryFailed(err)
		p.logger.Error().Err(err).Msg("receive failed")
		return err
	}

	p.mu.Lock()
	if p.deserializer == nil {
		p.mu.Unlock()
		return ErrClosed
	}
	buf := p.transport.ReceiveBuffer()
	if transferred > len(buf) {
		transferred = len(buf)
	}
	if transferred > 0 {
		p.observer.BytesReceived(transferred)
		p.deserializer.Append(buf[:transferred])
	}
	ready := p.deframe()
	p.mu.Unlock()

	for _, msg := range ready {
		n := p.registry.Dispatch(msg)
		p.observer.MessageReceived(msg, n)
	}
	if len(ready) > 0 {
		p.logger.Trace().Int("messages", len(ready)).Int("transferred", transferred).Msg("deframed")
	}
	p.transport.Restart()
	return nil
}

// deframe extracts frames until the buffer holds no further whole frame and
// returns the messages to dispatch, in stream order.
func (p *Participant) deframe() []*protocol.Message {
	d := p.deserializer
	var ready []*protocol.Message
	for {
		length, ok := d.LookAhead(protocol.LengthPosition)
		if !ok {
			return ready
		}
		total := uint64(length) + protocol.StaticHeaderLength

		progressed := false
		switch {
		case uint64(d.Available()) >= total:
			msg, ok := p.extract(int(total))
			if ok {
				if msg != nil {
					ready = append(ready, msg)
				}
				progressed = true
			} else {
				progressed = p.resync()
			}
		case p.cfg.SupportsResync:
			progressed = p.resync()
		}
		if !progressed {
			return ready
		}
	}
}

// extract decodes the frame of size total at the cursor. A magic cookie is
// consumed and yields a nil message. It returns false when the frame cannot be
// decoded, leaving the cursor in place.
func (p *Participant) extract(total int) (*protocol.Message, bool) {
	d := p.deserializer
	d.SetRemaining(total)
	msg, err := d.DeserializeMessage()
	if err != nil {
		d.Reset()
		p.logger.Warn().Err(err).Int("frame_size", total).Msg("malformed frame, framing lost")
		return nil, false
	}
	d.Reset()

	if frame.IsCookieMessage(msg) {
		p.observer.CookieDropped()
		return nil, true
	}
	msg.Sender = p.factory.NewEndpoint(
		p.transport.RemoteAddress(),
		p.transport.RemotePort(),
		p.transport.Protocol(),
		p.transport.Version(),
	)
	return msg, true
}

// Resync hunts for a magic cookie at the cursor. Without resync support it
// flushes the buffer and reports failure.
func (p *Participant) Resync() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deserializer == nil {
		return false
	}
	return p.resync()
}

func (p *Participant) resync() bool {
	d := p.deserializer
	if !p.cfg.SupportsResync {
		dropped := d.Available()
		d.Clear()
		p.logger.Warn().Int("dropped", dropped).Msg("resync unsupported, dropping buffered data")
		return false
	}

	p.observer.ResyncAttempted()
	start := d.Available()
	p.logger.Debug().Int("available", start).Msg("resyncing")

	found := false
	for {
		id, ok := d.Uint32()
		if !ok {
			break
		}
		if protocol.MessageID(id) == frame.CookieMessageID {
			found = true
			break
		}
	}

	if found && p.readCookie() {
		p.observer.Resynced()
		p.logger.Info().Int("skipped", start-d.Available()).Msg("resynced on magic cookie")
		return true
	}

	d.Clear()
	p.observer.ResyncFailed()
	p.logger.Warn().Int("dropped", start).Bool("sentinel_found", found).Msg("could not resync, dropping buffered data")
	return false
}

// readCookie consumes the six fields following the cookie message id and checks
// each against its fixed value.
func (p *Participant) readCookie() bool {
	d := p.deserializer
	length, ok := d.Uint32()
	if !ok {
		return false
	}
	request, ok := d.Uint32()
	if !ok {
		return false
	}
	protoVersion, ok := d.Uint8()
	if !ok {
		return false
	}
	ifaceVersion, ok := d.Uint8()
	if !ok {
		return false
	}
	msgType, ok := d.Uint8()
	if !ok {
		return false
	}
	rc, ok := d.Uint8()
	if !ok {
		return false
	}
	return length == frame.CookieLength &&
		protocol.RequestID(request) == frame.CookieRequestID &&
		protoVersion == frame.CookieProtocol &&
		ifaceVersion == frame.CookieInterface &&
		protocol.MessageType(msgType) == frame.CookieType &&
		protocol.ReturnCode(rc) == frame.CookieReturn
}

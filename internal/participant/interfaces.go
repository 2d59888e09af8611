package participant

import (
	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/protocol"
	"github.com/danmuck/someipd/internal/protocol/serial"
)

// Factory constructs the objects a participant owns.
type Factory interface {
	NewSerializer() *serial.Serializer
	NewDeserializer() *serial.Deserializer
	NewEndpoint(address string, port uint16, protocol endpoint.Protocol, version endpoint.IPVersion) *endpoint.Endpoint
}

// Transport is the connection a participant reads from.
type Transport interface {
	RemoteAddress() string
	RemotePort() uint16
	Protocol() endpoint.Protocol
	Version() endpoint.IPVersion
	// ReceiveBuffer holds the bytes of the last completed receive.
	ReceiveBuffer() []byte
	// Restart arms the next receive.
	Restart()
}

// Executor runs queued completion handlers.
type Executor interface {
	PollOne() int
	Poll() int
	Run() int
}

// Observer is notified of receive-path events.
type Observer interface {
	BytesReceived(n int)
	MessageReceived(msg *protocol.Message, receivers int)
	CookieDropped()
	ResyncAttempted()
	Resynced()
	ResyncFailed()
	DeliveryFailed(err error)
}

type nopObserver struct{}

func (nopObserver) BytesReceived(int)                      {}
func (nopObserver) MessageReceived(*protocol.Message, int) {}
func (nopObserver) CookieDropped()                         {}
func (nopObserver) ResyncAttempted()                       {}
func (nopObserver) Resynced()                              {}
func (nopObserver) ResyncFailed()                          {}
func (nopObserver) DeliveryFailed(error)                   {}

// Observers fans events out to every non-nil observer.
func Observers(list ...Observer) Observer {
	out := make(multiObserver, 0, len(list))
	for _, o := range list {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return nopObserver{}
	case 1:
		return out[0]
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) BytesReceived(n int) {
	for _, o := range m {
		o.BytesReceived(n)
	}
}

func (m multiObserver) MessageReceived(msg *protocol.Message, receivers int) {
	for _, o := range m {
		o.MessageReceived(msg, receivers)
	}
}

func (m multiObserver) CookieDropped() {
	for _, o := range m {
		o.CookieDropped()
	}
}

func (m multiObserver) ResyncAttempted() {
	for _, o := range m {
		o.ResyncAttempted()
	}
}

func (m multiObserver) Resynced() {
	for _, o := range m {
		o.Resynced()
	}
}

func (m multiObserver) ResyncFailed() {
	for _, o := range m {
		o.ResyncFailed()
	}
}

func (m multiObserver) DeliveryFailed(err error) {
	for _, o := range m {
		o.DeliveryFailed(err)
	}
}

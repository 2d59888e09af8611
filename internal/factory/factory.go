// Package factory constructs the buffers and endpoints a participant owns.
package factory

import (
	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/protocol/serial"
)

// Default is the stock factory.
type Default struct{}

var defaultFactory = &Default{}

// Get returns the process-wide default factory.
func Get() *Default {
	return defaultFactory
}

func (*Default) NewSerializer() *serial.Serializer {
	return serial.NewSerializer()
}

func (*Default) NewDeserializer() *serial.Deserializer {
	return serial.NewDeserializer()
}

func (*Default) NewEndpoint(address string, port uint16, protocol endpoint.Protocol, version endpoint.IPVersion) *endpoint.Endpoint {
	return endpoint.New(address, port, protocol, version)
}

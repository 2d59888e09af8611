package protocol

import (
	"fmt"

	"github.com/danmuck/someipd/internal/endpoint"
)

// ServiceID identifies a service offering methods and events.
type ServiceID uint16

// MethodID identifies a method or event within a service.
type MethodID uint16

// MessageID is the composite (service << 16 | method) identifier on the wire.
type MessageID uint32

// RequestID is the (client << 16 | session) correlation value.
type RequestID uint32

const (
	// ProtocolVersion is the only protocol version this engine speaks.
	ProtocolVersion uint8 = 0x01

	// LengthPosition is the byte offset of the length field within a frame.
	LengthPosition = 4
	// StaticHeaderLength is the prefix not covered by the length field:
	// service id, method id and the length field itself.
	StaticHeaderLength = 8
	// LengthCoveredHeader is the header portion the length field does cover:
	// request id, protocol version, interface version, message type, return code.
	LengthCoveredHeader = 8
	// HeaderLength is the full fixed header.
	HeaderLength = StaticHeaderLength + LengthCoveredHeader
)

// NewMessageID composes the wire message identifier.
func NewMessageID(service ServiceID, method MethodID) MessageID {
	return MessageID(uint32(service)<<16 | uint32(method))
}

// Service returns the service half of the identifier.
func (id MessageID) Service() ServiceID {
	return ServiceID(id >> 16)
}

// Method returns the method half of the identifier.
func (id MessageID) Method() MethodID {
	return MethodID(id & 0xFFFF)
}

func (id MessageID) String() string {
	return fmt.Sprintf("%04x.%04x", uint16(id.Service()), uint16(id.Method()))
}

// Header is the fixed 16-byte SOME/IP header.
type Header struct {
	Service          ServiceID
	Method           MethodID
	Length           uint32
	Request          RequestID
	ProtocolVersion  uint8
	InterfaceVersion uint8
	Type             MessageType
	ReturnCode       ReturnCode
}

// MessageID returns the composite identifier of the header.
func (h Header) MessageID() MessageID {
	return NewMessageID(h.Service, h.Method)
}

// FrameSize is the total on-wire size the header declares.
func (h Header) FrameSize() uint64 {
	return uint64(h.Length) + StaticHeaderLength
}

// Message is one decoded frame plus its origin.
type Message struct {
	Header  Header
	Payload []byte
	// Sender is set by the receive pipeline before dispatch.
	Sender *endpoint.Endpoint
}

// NewMessage builds a message whose length field accounts for payload.
func NewMessage(service ServiceID, method MethodID, payload []byte) *Message {
	return &Message{
		Header: Header{
			Service:         service,
			Method:          method,
			Length:          uint32(LengthCoveredHeader + len(payload)),
			ProtocolVersion: ProtocolVersion,
			Type:            MessageTypeRequest,
			ReturnCode:      ReturnOK,
		},
		Payload: payload,
	}
}

// Key is the dispatch key of the message.
func (m *Message) Key() (ServiceID, MethodID) {
	return m.Header.Service, m.Header.Method
}

func (m *Message) String() string {
	return fmt.Sprintf("%s req=%08x type=%s rc=%s len=%d",
		m.Header.MessageID(), uint32(m.Header.Request), m.Header.Type, m.Header.ReturnCode, m.Header.Length)
}

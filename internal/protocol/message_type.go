package protocol

import "fmt"

// MessageType is the SOME/IP message type octet.
type MessageType uint8

const (
	MessageTypeRequest         MessageType = 0x00
	MessageTypeRequestNoReturn MessageType = 0x01
	MessageTypeNotification    MessageType = 0x02
	MessageTypeRequestAck      MessageType = 0x40
	MessageTypeResponse        MessageType = 0x80
	MessageTypeError           MessageType = 0x81
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeRequestNoReturn:
		return "request_no_return"
	case MessageTypeNotification:
		return "notification"
	case MessageTypeRequestAck:
		return "request_ack"
	case MessageTypeResponse:
		return "response"
	case MessageTypeError:
		return "error"
	default:
		return fmt.Sprintf("type(0x%02x)", uint8(t))
	}
}

// ReturnCode is the SOME/IP return code octet.
type ReturnCode uint8

const (
	ReturnOK                    ReturnCode = 0x00
	ReturnNotOK                 ReturnCode = 0x01
	ReturnUnknownService        ReturnCode = 0x02
	ReturnUnknownMethod         ReturnCode = 0x03
	ReturnNotReady              ReturnCode = 0x04
	ReturnNotReachable          ReturnCode = 0x05
	ReturnTimeout               ReturnCode = 0x06
	ReturnWrongProtocolVersion  ReturnCode = 0x07
	ReturnWrongInterfaceVersion ReturnCode = 0x08
	ReturnMalformedMessage      ReturnCode = 0x09
)

var returnCodeNames = map[ReturnCode]string{
	ReturnOK:                    "E_OK",
	ReturnNotOK:                 "E_NOT_OK",
	ReturnUnknownService:        "E_UNKNOWN_SERVICE",
	ReturnUnknownMethod:         "E_UNKNOWN_METHOD",
	ReturnNotReady:              "E_NOT_READY",
	ReturnNotReachable:          "E_NOT_REACHABLE",
	ReturnTimeout:               "E_TIMEOUT",
	ReturnWrongProtocolVersion:  "E_WRONG_PROTOCOL_VERSION",
	ReturnWrongInterfaceVersion: "E_WRONG_INTERFACE_VERSION",
	ReturnMalformedMessage:      "E_MALFORMED_MESSAGE",
}

func (c ReturnCode) String() string {
	if name, ok := returnCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("rc(0x%02x)", uint8(c))
}

package frame

import "github.com/danmuck/someipd/internal/protocol"

// Magic cookie control frame. A sender may interleave it with regular traffic so
// that a receiver which lost framing can find the next frame boundary.
const (
	CookieService   protocol.ServiceID   = 0xFFFF
	CookieMethod    protocol.MethodID    = 0x0000
	CookieMessageID protocol.MessageID   = 0xFFFF0000
	CookieLength    uint32               = 0x00000008
	CookieRequestID protocol.RequestID   = 0xDEADBEEF
	CookieProtocol  uint8                = 0x01
	CookieInterface uint8                = 0x00
	CookieType      protocol.MessageType = protocol.MessageTypeRequestNoReturn
	CookieReturn    protocol.ReturnCode  = protocol.ReturnOK
)

// CookieHeader is the header of the client magic cookie.
func CookieHeader() protocol.Header {
	return protocol.Header{
		Service:          CookieService,
		Method:           CookieMethod,
		Length:           CookieLength,
		Request:          CookieRequestID,
		ProtocolVersion:  CookieProtocol,
		InterfaceVersion: CookieInterface,
		Type:             CookieType,
		ReturnCode:       CookieReturn,
	}
}

// Cookie returns the 16 wire bytes of the magic cookie.
func Cookie() []byte {
	return EncodeHeader(CookieHeader())
}

// IsCookie reports whether h matches the magic cookie in every field.
func IsCookie(h protocol.Header) bool {
	return h == CookieHeader()
}

// IsCookieMessage reports whether msg is a magic cookie carrying no payload.
func IsCookieMessage(msg *protocol.Message) bool {
	return msg != nil && len(msg.Payload) == 0 && IsCookie(msg.Header)
}

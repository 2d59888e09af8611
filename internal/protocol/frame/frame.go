package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/someipd/internal/protocol"
)

const (
	HeaderLen = protocol.HeaderLength
)

var (
	ErrShortHeader      = errors.New("frame: short fixed header")
	ErrLengthTooSmall   = errors.New("frame: length smaller than covered header")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
	ErrInvalidHeaderLen = errors.New("frame: invalid fixed header length")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024,
	}
}

// ReadFrame reads one whole frame from r.
func ReadFrame(r io.Reader, limits Limits) (*protocol.Message, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return nil, err
	}
	if h.Length < protocol.LengthCoveredHeader {
		return nil, ErrLengthTooSmall
	}
	payloadLen := h.Length - protocol.LengthCoveredHeader
	if payloadLen > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return &protocol.Message{Header: h, Payload: payload}, nil
}

// WriteFrame writes msg to w, recomputing the length field from the payload.
func WriteFrame(w io.Writer, msg *protocol.Message, limits Limits) error {
	if msg == nil {
		return protocol.ErrInvalidLength
	}
	if uint64(len(msg.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	_, err := w.Write(Encode(msg))
	return err
}

// Encode renders msg as one contiguous frame.
func Encode(msg *protocol.Message) []byte {
	h := msg.Header
	h.Length = uint32(protocol.LengthCoveredHeader + len(msg.Payload))
	buf := make([]byte, 0, HeaderLen+len(msg.Payload))
	buf = append(buf, EncodeHeader(h)...)
	return append(buf, msg.Payload...)
}

func EncodeHeader(h protocol.Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.Service))
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Method))
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Request))
	buf[12] = h.ProtocolVersion
	buf[13] = h.InterfaceVersion
	buf[14] = uint8(h.Type)
	buf[15] = uint8(h.ReturnCode)
	return buf
}

func DecodeHeader(b []byte) (protocol.Header, error) {
	if len(b) != HeaderLen {
		return protocol.Header{}, fmt.Errorf("%w: %d", ErrInvalidHeaderLen, len(b))
	}
	return protocol.Header{
		Service:          protocol.ServiceID(binary.BigEndian.Uint16(b[0:2])),
		Method:           protocol.MethodID(binary.BigEndian.Uint16(b[2:4])),
		Length:           binary.BigEndian.Uint32(b[4:8]),
		Request:          protocol.RequestID(binary.BigEndian.Uint32(b[8:12])),
		ProtocolVersion:  b[12],
		InterfaceVersion: b[13],
		Type:             protocol.MessageType(b[14]),
		ReturnCode:       protocol.ReturnCode(b[15]),
	}, nil
}

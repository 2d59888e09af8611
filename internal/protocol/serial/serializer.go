package serial

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/someipd/internal/protocol"
	"github.com/danmuck/someipd/internal/protocol/frame"
)

// Serializer builds outgoing frames in a reusable buffer.
type Serializer struct {
	data []byte
	max  int
}

func NewSerializer() *Serializer {
	return &Serializer{}
}

// CreateData sizes the buffer for messages up to maxSize bytes. A zero maxSize
// leaves encoding unbounded.
func (s *Serializer) CreateData(maxSize int) {
	s.data = make([]byte, 0, maxSize)
	s.max = maxSize
}

func (s *Serializer) Data() []byte {
	return s.data
}

func (s *Serializer) Size() int {
	return len(s.data)
}

func (s *Serializer) Capacity() int {
	return s.max
}

// Reset empties the buffer, keeping its storage.
func (s *Serializer) Reset() {
	s.data = s.data[:0]
}

// Release returns the backing storage.
func (s *Serializer) Release() {
	s.data = nil
	s.max = 0
}

func (s *Serializer) fits(n int) bool {
	return s.max == 0 || len(s.data)+n <= s.max
}

func (s *Serializer) Uint8(v uint8) bool {
	if !s.fits(1) {
		return false
	}
	s.data = append(s.data, v)
	return true
}

func (s *Serializer) Uint16(v uint16) bool {
	if !s.fits(2) {
		return false
	}
	s.data = binary.BigEndian.AppendUint16(s.data, v)
	return true
}

func (s *Serializer) Uint32(v uint32) bool {
	if !s.fits(4) {
		return false
	}
	s.data = binary.BigEndian.AppendUint32(s.data, v)
	return true
}

func (s *Serializer) Bytes(b []byte) bool {
	if !s.fits(len(b)) {
		return false
	}
	s.data = append(s.data, b...)
	return true
}

// SerializeMessage appends msg as one frame with its length recomputed from the
// payload.
func (s *Serializer) SerializeMessage(msg *protocol.Message) error {
	if msg == nil {
		return protocol.ErrInvalidLength
	}
	size := protocol.HeaderLength + len(msg.Payload)
	if !s.fits(size) {
		return fmt.Errorf("%w: frame %d exceeds %d", protocol.ErrPayloadTooLarge, size, s.max)
	}
	s.data = append(s.data, frame.Encode(msg)...)
	return nil
}

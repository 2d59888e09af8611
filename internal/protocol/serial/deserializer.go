package serial

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/someipd/internal/protocol"
	"github.com/danmuck/someipd/internal/protocol/frame"
)

// Deserializer accumulates received bytes and decodes from a read cursor.
type Deserializer struct {
	data []byte
	pos  int

	// remaining bounds reads while a frame is being extracted.
	remaining int
	framing   bool
}

func NewDeserializer() *Deserializer {
	return &Deserializer{}
}

// Append adds newly received bytes behind the buffered data.
func (d *Deserializer) Append(b []byte) {
	d.data = append(d.data, b...)
}

// SetData replaces the buffered data and rewinds the cursor. A nil slice empties
// the buffer.
func (d *Deserializer) SetData(b []byte) {
	if b == nil {
		d.data = d.data[:0]
	} else {
		d.data = append(d.data[:0], b...)
	}
	d.pos = 0
	d.remaining = 0
	d.framing = false
}

// Clear discards everything buffered.
func (d *Deserializer) Clear() {
	d.SetData(nil)
}

// Available is the number of bytes between the cursor and the end of data.
func (d *Deserializer) Available() int {
	return len(d.data) - d.pos
}

// Position is the read cursor relative to the start of buffered data.
func (d *Deserializer) Position() int {
	return d.pos
}

// Len is the number of buffered bytes, consumed or not.
func (d *Deserializer) Len() int {
	return len(d.data)
}

// Remaining is the readable window: the frame allotment while one is being
// extracted, otherwise everything available.
func (d *Deserializer) Remaining() int {
	if d.framing {
		return d.remaining
	}
	return d.Available()
}

// Framing reports whether SetRemaining narrowed the window.
func (d *Deserializer) Framing() bool {
	return d.framing
}

// SetRemaining narrows the readable window to n bytes from the cursor.
func (d *Deserializer) SetRemaining(n int) {
	if n > d.Available() {
		n = d.Available()
	}
	if n < 0 {
		n = 0
	}
	d.remaining = n
	d.framing = true
}

// Reset drops consumed bytes, moves the cursor to the start and clears the
// frame allotment.
func (d *Deserializer) Reset() {
	if d.pos > 0 {
		n := copy(d.data, d.data[d.pos:])
		d.data = d.data[:n]
	}
	d.pos = 0
	d.remaining = 0
	d.framing = false
}

// Release returns the backing storage.
func (d *Deserializer) Release() {
	d.data = nil
	d.pos = 0
	d.remaining = 0
	d.framing = false
}

// LookAhead reads a big-endian uint32 at offset bytes past the cursor without
// moving it. ok is false when not enough bytes are buffered.
func (d *Deserializer) LookAhead(offset int) (v uint32, ok bool) {
	if offset < 0 || d.Available() < offset+4 {
		return 0, false
	}
	start := d.pos + offset
	return binary.BigEndian.Uint32(d.data[start : start+4]), true
}

func (d *Deserializer) take(n int) ([]byte, bool) {
	if n < 0 || d.Remaining() < n {
		return nil, false
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	if d.framing {
		d.remaining -= n
	}
	return b, true
}

func (d *Deserializer) Uint8() (uint8, bool) {
	b, ok := d.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (d *Deserializer) Uint16() (uint16, bool) {
	b, ok := d.take(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (d *Deserializer) Uint32() (uint32, bool) {
	b, ok := d.take(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

// Bytes consumes n bytes and returns a copy of them.
func (d *Deserializer) Bytes(n int) ([]byte, bool) {
	b, ok := d.take(n)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// DeserializeMessage decodes one frame at the cursor. It either consumes the
// whole frame or nothing.
func (d *Deserializer) DeserializeMessage() (*protocol.Message, error) {
	window := d.Remaining()
	if window < protocol.HeaderLength {
		return nil, fmt.Errorf("%w: %d bytes for header", protocol.ErrTruncated, window)
	}
	h, err := frame.DecodeHeader(d.data[d.pos : d.pos+protocol.HeaderLength])
	if err != nil {
		return nil, err
	}
	if h.Length < protocol.LengthCoveredHeader {
		return nil, fmt.Errorf("%w: declared %d", protocol.ErrInvalidLength, h.Length)
	}
	size := h.FrameSize()
	if uint64(window) < size {
		return nil, fmt.Errorf("%w: need %d have %d", protocol.ErrTruncated, size, window)
	}
	d.take(protocol.HeaderLength)
	payload, _ := d.Bytes(int(size) - protocol.HeaderLength)
	return &protocol.Message{Header: h, Payload: payload}, nil
}

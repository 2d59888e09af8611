// Package serial holds the byte buffers the receive and send paths work on.
//
// Deserializer is the receive-side frame buffer: bytes are appended as the
// transport delivers them and consumed through a read cursor. While a frame is
// being extracted the readable window is narrowed with SetRemaining; Reset drops
// consumed bytes and widens the window back to everything buffered.
//
// Neither type is safe for concurrent use.
package serial

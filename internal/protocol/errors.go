package protocol

import "errors"

var (
	ErrTruncated          = errors.New("protocol: truncated data")
	ErrInvalidLength      = errors.New("protocol: invalid length")
	ErrPayloadTooLarge    = errors.New("protocol: payload too large")
	ErrUnsupportedVersion = errors.New("protocol: unsupported protocol version")
)

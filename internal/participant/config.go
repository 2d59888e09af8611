package participant

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("participant: invalid config")
	ErrNoTransport   = errors.New("participant: missing transport")
	ErrClosed        = errors.New("participant: closed")
)

// Config is the per-connection receive configuration.
type Config struct {
	// MaxMessageSize sizes the outbound buffer. Incoming frames are not capped.
	MaxMessageSize uint32
	SupportsResync bool
	// SendMagicCookies is applied through SetSendingMagicCookies at construction.
	SendMagicCookies bool
}

func DefaultConfig() Config {
	return Config{
		MaxMessageSize:   65535,
		SupportsResync:   false,
		SendMagicCookies: false,
	}
}

func (c Config) Validate() error {
	if c.MaxMessageSize == 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	return nil
}

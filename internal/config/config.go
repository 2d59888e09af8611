package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/participant"
	"github.com/danmuck/someipd/internal/protocol"
	"github.com/danmuck/someipd/internal/protocol/frame"
	"github.com/danmuck/someipd/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("config: invalid")

// DaemonConfig is the someipd config file.
type DaemonConfig struct {
	ID               string           `toml:"id"`
	Protocol         string           `toml:"protocol"`
	ListenAddr       string           `toml:"listen_addr"`
	ReusePort        bool             `toml:"reuse_port"`
	AdminAddr        string           `toml:"admin_addr"`
	CorsOrigins      []string         `toml:"cors_origins"`
	Workers          int              `toml:"workers"`
	MaxMessageSize   uint32           `toml:"max_message_size"`
	SupportsResync   bool             `toml:"supports_resync"`
	SendMagicCookies bool             `toml:"send_magic_cookies"`
	LogLevel         string           `toml:"log_level"`
	Receivers        []ReceiverConfig `toml:"receivers"`
}

// ReceiverConfig subscribes a logging receiver to one (service, method) pair.
type ReceiverConfig struct {
	Service uint16 `toml:"service"`
	Method  uint16 `toml:"method"`
	Name    string `toml:"name"`
}

func DefaultDaemonConfig() DaemonConfig {
	tc := transport.DefaultConfig()
	return DaemonConfig{
		ID:               "someipd",
		Protocol:         tc.Protocol.String(),
		ListenAddr:       tc.ListenAddr,
		AdminAddr:        "127.0.0.1:9460",
		Workers:          tc.Workers,
		MaxMessageSize:   tc.Participant.MaxMessageSize,
		SupportsResync:   tc.Participant.SupportsResync,
		SendMagicCookies: tc.Participant.SendMagicCookies,
		LogLevel:         "info",
	}
}

// LoadDaemonConfig reads path on top of the defaults and validates the result.
func LoadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := DefaultDaemonConfig()
	if err := loadToml(path, &cfg); err != nil {
		return DaemonConfig{}, err
	}
	if err := ValidateDaemonConfig(cfg); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDaemonConfig(cfg DaemonConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("%w: missing listen_addr", ErrInvalid)
	}
	if _, err := endpoint.ParseProtocol(cfg.Protocol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalid)
	}
	if cfg.MaxMessageSize == 0 {
		return fmt.Errorf("%w: max_message_size must be positive", ErrInvalid)
	}
	// the participant would silently keep cookies off
	if cfg.SendMagicCookies && !cfg.SupportsResync {
		return fmt.Errorf("%w: send_magic_cookies requires supports_resync", ErrInvalid)
	}
	for i, recv := range cfg.Receivers {
		if err := ValidateReceiver(recv); err != nil {
			return fmt.Errorf("receivers[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func ValidateReceiver(cfg ReceiverConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: receiver name is required", ErrInvalid)
	}
	if protocol.NewMessageID(protocol.ServiceID(cfg.Service), protocol.MethodID(cfg.Method)) == frame.CookieMessageID {
		return fmt.Errorf("%w: 0xffff.0000 is reserved for magic cookies", ErrInvalid)
	}
	return nil
}

// Transport maps the file config onto the listener and participant settings.
func (c DaemonConfig) Transport() (transport.Config, error) {
	proto, err := endpoint.ParseProtocol(c.Protocol)
	if err != nil {
		return transport.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	tc := transport.DefaultConfig()
	tc.Protocol = proto
	tc.ListenAddr = strings.TrimSpace(c.ListenAddr)
	tc.ReusePort = c.ReusePort
	tc.Workers = c.Workers
	tc.Participant = participant.Config{
		MaxMessageSize:   c.MaxMessageSize,
		SupportsResync:   c.SupportsResync,
		SendMagicCookies: c.SendMagicCookies,
	}
	return tc, tc.Validate()
}

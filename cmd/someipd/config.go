package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/someipd/internal/config"
)

// someipd config.toml key mapping onto the daemon defaults.
type fileConfig struct {
	ID               string                  `toml:"id"`
	Protocol         string                  `toml:"protocol"`
	ListenAddr       string                  `toml:"listen_addr"`
	ReusePort        bool                    `toml:"reuse_port"`
	AdminAddr        string                  `toml:"admin_addr"`
	CorsOrigins      []string                `toml:"cors_origins"`
	Workers          int                     `toml:"workers"`
	MaxMessageSize   uint32                  `toml:"max_message_size"`
	SupportsResync   bool                    `toml:"supports_resync"`
	SendMagicCookies bool                    `toml:"send_magic_cookies"`
	LogLevel         string                  `toml:"log_level"`
	Receivers        []config.ReceiverConfig `toml:"receivers"`
}

func loadDaemonConfig(path string) (config.DaemonConfig, error) {
	cfg := config.DefaultDaemonConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.DaemonConfig{}, fmt.Errorf("load someipd config: %w", err)
	}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("protocol") {
		cfg.Protocol = strings.ToLower(strings.TrimSpace(raw.Protocol))
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("reuse_port") {
		cfg.ReusePort = raw.ReusePort
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("supports_resync") {
		cfg.SupportsResync = raw.SupportsResync
	}
	if meta.IsDefined("send_magic_cookies") {
		cfg.SendMagicCookies = raw.SendMagicCookies
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("receivers") {
		cfg.Receivers = raw.Receivers
	}

	if err := config.ValidateDaemonConfig(cfg); err != nil {
		return config.DaemonConfig{}, fmt.Errorf("load someipd config: %w", err)
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns the starter config for kind: tcp or udp.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "tcp", "someipd":
		return tcpTemplate, nil
	case "udp":
		return udpTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tcpTemplate = `id = "someipd"
protocol = "tcp"
listen_addr = ":30490"
reuse_port = false
admin_addr = "127.0.0.1:9460"
cors_origins = ["http://localhost:3000"]
workers = 64
max_message_size = 65535
supports_resync = true
send_magic_cookies = false
log_level = "info"

[[receivers]]
service = 0x1234
method = 0x0001
name = "example-method"

[[receivers]]
service = 0x1234
method = 0x8001
name = "example-event"
`

const udpTemplate = `id = "someipd-udp"
protocol = "udp"
listen_addr = ":30490"
reuse_port = true
admin_addr = "127.0.0.1:9461"
cors_origins = ["http://localhost:3000"]
workers = 1
max_message_size = 1416
supports_resync = false
send_magic_cookies = false
log_level = "info"

[[receivers]]
service = 0x1234
method = 0x8001
name = "example-event"
`

package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
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

const clientTemplate = `address = "ws://127.0.0.1:5280/xmpp-websocket"
server = "localhost"
lang = "en"
window_size = 5
allow_resume = true
connect_timeout = "5s"
write_timeout = "15s"
max_connect_attempts = 0
stash_path = ""
admin_listen = "127.0.0.1:9280"
admin_token = ""
cors_origins = ["http://localhost:3000"]
log_level = "info"
security_mode = "development"

[tls]
enabled = false
mutual = false
insecure_skip_verify = false
ca_file = ""
cert_file = ""
key_file = ""
server_name = ""

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "30s"
jitter = true
`

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/xmppctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestClientTemplateValidates(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteTemplate(path, "client", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.WindowSize != 5 || cfg.AllowResume == nil || !*cfg.AllowResume {
		t.Fatalf("unexpected template values: %+v", cfg)
	}
	if cfg.Backoff.Jitter == nil || !*cfg.Backoff.Jitter || cfg.Backoff.Multiplier != 2.0 {
		t.Fatalf("unexpected backoff: %+v", cfg.Backoff)
	}
	if err := WriteTemplate(path, "client", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, "client", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestUnknownTemplateKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("relay"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadClientConfigRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `address = "ws://127.0.0.1:5280/ws"
server = "localhost"
windowsize = 3
`)
	_, err := LoadClientConfig(path)
	if err == nil || !strings.Contains(err.Error(), "windowsize") {
		t.Fatalf("expected unknown key error naming windowsize, got %v", err)
	}
}

func TestValidateClientConfig(t *testing.T) {
	testlog.Start(t)
	base := ClientConfig{Address: "wss://xmpp.example.com/ws", Server: "example.com"}
	if err := ValidateClientConfig(base); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ClientConfig)
	}{
		{"missing address", func(c *ClientConfig) { c.Address = "" }},
		{"bad scheme", func(c *ClientConfig) { c.Address = "tcp://xmpp.example.com:5222" }},
		{"missing server", func(c *ClientConfig) { c.Server = " " }},
		{"bad duration", func(c *ClientConfig) { c.ConnectTimeout = "soon" }},
		{"bad backoff", func(c *ClientConfig) { c.Backoff.MaxDelay = "10 parsecs" }},
		{"bad security mode", func(c *ClientConfig) { c.SecurityMode = "strict" }},
		{"mutual without files", func(c *ClientConfig) { c.TLS.Mutual = true }},
		{"negative attempts", func(c *ClientConfig) { c.MaxConnectAttempts = -1 }},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if err := ValidateClientConfig(cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

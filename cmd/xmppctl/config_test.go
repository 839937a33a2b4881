package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/xmppctl/internal/testutil/testlog"
)

func TestLoadRuntimeConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := "ex.config.toml"

	cfg, err := loadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	s := cfg.Client.Session
	if s.Address != "ws://127.0.0.1:5280/xmpp-websocket" {
		t.Fatalf("unexpected address: %q", s.Address)
	}
	if s.Server != "localhost" {
		t.Fatalf("unexpected server: %q", s.Server)
	}
	if s.WindowSize != 5 || !s.AllowResume {
		t.Fatalf("unexpected sm settings: window=%d resume=%v", s.WindowSize, s.AllowResume)
	}
	if s.ConnectTimeout != 3*time.Second {
		t.Fatalf("unexpected connect timeout: %v", s.ConnectTimeout)
	}
	if s.WriteTimeout != 15*time.Second {
		t.Fatalf("expected default write timeout, got %v", s.WriteTimeout)
	}
	if s.Lang != "en" || s.Version != "1.0" {
		t.Fatalf("expected default header values, got lang=%q version=%q", s.Lang, s.Version)
	}
	if s.Backoff.InitialDelay != 500*time.Millisecond || s.Backoff.MaxDelay != 10*time.Second {
		t.Fatalf("unexpected backoff: %+v", s.Backoff)
	}
	if s.Backoff.Jitter {
		t.Fatalf("expected jitter disabled")
	}
	if s.Backoff.Multiplier != 2.0 {
		t.Fatalf("expected default multiplier, got %v", s.Backoff.Multiplier)
	}
	if cfg.Client.StashPath != "resume.toml" {
		t.Fatalf("unexpected stash path: %q", cfg.Client.StashPath)
	}
	if cfg.AdminListen != "127.0.0.1:9280" {
		t.Fatalf("unexpected admin listen: %q", cfg.AdminListen)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if s.SecurityMode != "development" || s.TLS.Enabled {
		t.Fatalf("unexpected security settings: mode=%q tls=%v", s.SecurityMode, s.TLS.Enabled)
	}
}

func TestLoadRuntimeConfigResolvesRelativeFiles(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `address = "wss://xmpp.example.com/ws"
server = "example.com"
stash_path = "state/resume.toml"

[tls]
enabled = true
ca_file = "certs/ca.crt"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Client.StashPath != filepath.Join(dir, "state", "resume.toml") {
		t.Fatalf("unexpected stash path: %q", cfg.Client.StashPath)
	}
	if cfg.Client.Session.TLS.CAFile != filepath.Join(dir, "certs", "ca.crt") {
		t.Fatalf("unexpected ca file: %q", cfg.Client.Session.TLS.CAFile)
	}
}

func TestLoadRuntimeConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":  "address = \"ws://h/ws\"\nserver = \"h\"\nwindow = 3\n",
		"bad duration": "address = \"ws://h/ws\"\nserver = \"h\"\nconnect_timeout = \"later\"\n",
		"no server":    "address = \"ws://h/ws\"\n",
		"tls over ws":  "address = \"ws://h/ws\"\nserver = \"h\"\n[tls]\nenabled = true\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), strings.ReplaceAll(name, " ", "_")+".toml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := loadRuntimeConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

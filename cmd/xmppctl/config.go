package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/xmppctl/internal/client"
	"github.com/danmuck/xmppctl/internal/protocol/session"
)

// xmppctl config.toml key mapping to client runtime settings.
type fileConfig struct {
	Address            string   `toml:"address"`
	Server             string   `toml:"server"`
	Lang               string   `toml:"lang"`
	WindowSize         int      `toml:"window_size"`
	AllowResume        bool     `toml:"allow_resume"`
	ConnectTimeout     string   `toml:"connect_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	StashPath          string   `toml:"stash_path"`
	AdminListen        string   `toml:"admin_listen"`
	AdminToken         string   `toml:"admin_token"`
	CorsOrigins        []string `toml:"cors_origins"`
	LogLevel           string   `toml:"log_level"`
	SecurityMode       string   `toml:"security_mode"`
	TLS                struct {
		Enabled            bool   `toml:"enabled"`
		Mutual             bool   `toml:"mutual"`
		InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
		CAFile             string `toml:"ca_file"`
		CertFile           string `toml:"cert_file"`
		KeyFile            string `toml:"key_file"`
		ServerName         string `toml:"server_name"`
	} `toml:"tls"`
	Backoff struct {
		InitialDelay string  `toml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier"`
		MaxDelay     string  `toml:"max_delay"`
		Jitter       bool    `toml:"jitter"`
	} `toml:"backoff"`
}

type runtimeConfig struct {
	Client      client.Config
	AdminListen string
	AdminToken  string
	CorsOrigins []string
	LogLevel    string
}

// xmppctl loader for TOML config with default overlay.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := runtimeConfig{Client: client.DefaultConfig()}
	s := &cfg.Client.Session

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load xmppctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load xmppctl config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("address") {
		s.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("server") {
		s.Server = strings.TrimSpace(raw.Server)
	}
	if meta.IsDefined("lang") {
		s.Lang = strings.TrimSpace(raw.Lang)
	}
	if meta.IsDefined("window_size") {
		s.WindowSize = raw.WindowSize
	}
	if meta.IsDefined("allow_resume") {
		s.AllowResume = raw.AllowResume
	}
	if err := overlayDuration(meta, "connect_timeout", raw.ConnectTimeout, &s.ConnectTimeout); err != nil {
		return runtimeConfig{}, err
	}
	if err := overlayDuration(meta, "write_timeout", raw.WriteTimeout, &s.WriteTimeout); err != nil {
		return runtimeConfig{}, err
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Client.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("stash_path") {
		cfg.Client.StashPath = resolveRelative(path, raw.StashPath)
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("security_mode") {
		s.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}

	if meta.IsDefined("tls", "enabled") {
		s.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		s.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		s.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}
	if meta.IsDefined("tls", "ca_file") {
		s.TLS.CAFile = resolveRelative(path, raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "cert_file") {
		s.TLS.CertFile = resolveRelative(path, raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		s.TLS.KeyFile = resolveRelative(path, raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "server_name") {
		s.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}

	if err := overlayDuration(meta, "backoff.initial_delay", raw.Backoff.InitialDelay, &s.Backoff.InitialDelay); err != nil {
		return runtimeConfig{}, err
	}
	if err := overlayDuration(meta, "backoff.max_delay", raw.Backoff.MaxDelay, &s.Backoff.MaxDelay); err != nil {
		return runtimeConfig{}, err
	}
	if meta.IsDefined("backoff", "multiplier") {
		s.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		s.Backoff.Jitter = raw.Backoff.Jitter
	}

	cfg.Client.Session = cfg.Client.Session.WithDefaults()
	if err := cfg.Client.Session.Validate(); err != nil {
		return runtimeConfig{}, fmt.Errorf("load xmppctl config: %w", err)
	}
	return cfg, nil
}

// overlayDuration parses raw into dst when the dotted key is defined.
func overlayDuration(meta toml.MetaData, key, raw string, dst *time.Duration) error {
	if !meta.IsDefined(strings.Split(key, ".")...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

// resolveRelative anchors relative file paths at the config file's directory.
func resolveRelative(configPath, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

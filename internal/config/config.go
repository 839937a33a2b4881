package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ClientConfig is the on-disk schema of an xmppctl config file.
type ClientConfig struct {
	Address            string        `toml:"address"`
	Server             string        `toml:"server"`
	Lang               string        `toml:"lang"`
	WindowSize         int           `toml:"window_size"`
	AllowResume        *bool         `toml:"allow_resume"`
	ConnectTimeout     string        `toml:"connect_timeout"`
	WriteTimeout       string        `toml:"write_timeout"`
	MaxConnectAttempts int           `toml:"max_connect_attempts"`
	StashPath          string        `toml:"stash_path"`
	AdminListen        string        `toml:"admin_listen"`
	AdminToken         string        `toml:"admin_token"`
	CorsOrigins        []string      `toml:"cors_origins"`
	LogLevel           string        `toml:"log_level"`
	SecurityMode       string        `toml:"security_mode"`
	TLS                TLSConfig     `toml:"tls"`
	Backoff            BackoffConfig `toml:"backoff"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
}

type BackoffConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       *bool   `toml:"jitter"`
}

// LoadClientConfig strictly decodes path: unknown keys are rejected.
func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("address is required")
	}
	u, err := url.Parse(strings.TrimSpace(cfg.Address))
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("address scheme must be ws or wss, got %q", u.Scheme)
	}
	if strings.TrimSpace(cfg.Server) == "" {
		return fmt.Errorf("server is required")
	}
	if cfg.WindowSize < 0 {
		return fmt.Errorf("window_size must be >= 1")
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("max_connect_attempts must be >= 0")
	}
	for key, raw := range map[string]string{
		"connect_timeout":       cfg.ConnectTimeout,
		"write_timeout":         cfg.WriteTimeout,
		"backoff.initial_delay": cfg.Backoff.InitialDelay,
		"backoff.max_delay":     cfg.Backoff.MaxDelay,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := time.ParseDuration(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.SecurityMode)) {
	case "", "development", "production":
	default:
		return fmt.Errorf("security_mode must be development or production, got %q", cfg.SecurityMode)
	}
	if cfg.TLS.Mutual && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" || cfg.TLS.CAFile == "") {
		return fmt.Errorf("tls.mutual requires ca_file, cert_file and key_file")
	}
	return nil
}

package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultVersion = "1.0"
	DefaultLang    = "en"
)

var (
	ErrAddressRequired   = errors.New("session: address required")
	ErrServerRequired    = errors.New("session: server identity required")
	ErrInvalidAddress    = errors.New("session: invalid address")
	ErrInvalidWindowSize = errors.New("session: window size must be >= 1")
)

// SecurityMode selects how strict transport security validation is.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig configures wss:// dialing.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
}

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines one client connection: where to dial, what to put in the
// stream header and how stream management is negotiated.
type Config struct {
	Address          string
	Server           string
	Version          string
	Lang             string
	WindowSize       int
	AllowResume      bool
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxChunkBytes    int64
	SecurityMode     SecurityMode
	TLS              TLSConfig
	Backoff          BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Version:          DefaultVersion,
		Lang:             DefaultLang,
		WindowSize:       1,
		AllowResume:      true,
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     15 * time.Second,
		MaxChunkBytes:    1 << 20,
		SecurityMode:     SecurityModeDevelopment,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Address = strings.TrimSpace(c.Address)
	c.Server = strings.TrimSpace(c.Server)
	if strings.TrimSpace(c.Version) == "" {
		c.Version = def.Version
	}
	if strings.TrimSpace(c.Lang) == "" {
		c.Lang = def.Lang
	}
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = def.MaxChunkBytes
	}
	if strings.TrimSpace(string(c.SecurityMode)) == "" {
		c.SecurityMode = def.SecurityMode
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Validate checks the fields Connect needs before dialing.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	if strings.TrimSpace(c.Server) == "" {
		return ErrServerRequired
	}
	if c.WindowSize < 1 {
		return ErrInvalidWindowSize
	}
	u, err := url.Parse(c.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	switch u.Scheme {
	case "ws", "wss", "mem":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	return c.ValidateClientTransport()
}

// Secure reports whether dialing must negotiate TLS.
func (c Config) Secure() bool {
	if c.TLS.Enabled {
		return true
	}
	u, err := url.Parse(c.Address)
	return err == nil && u.Scheme == "wss"
}

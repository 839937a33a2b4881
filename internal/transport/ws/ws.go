// Package ws carries XMPP text over a WebSocket with the "xmpp" subprotocol.
// Each websocket text message is one inbound chunk.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/xmppctl/internal/protocol/session"
	"github.com/danmuck/xmppctl/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const Subprotocol = "xmpp"

var (
	ErrSubprotocol   = errors.New("ws: peer did not accept the xmpp subprotocol")
	ErrUnexpectedMsg = errors.New("ws: unexpected message type")
)

// Dialer implements transport.Dialer.
type Dialer struct{}

func NewDialer() *Dialer { return &Dialer{} }

func (Dialer) Dial(ctx context.Context, cfg session.Config) (transport.Channel, error) {
	tlsConf, err := cfg.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	nd := &net.Dialer{Timeout: cfg.ConnectTimeout}
	d := &websocket.Dialer{
		NetDialContext:   nd.DialContext,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
		TLSClientConfig:  tlsConf,
	}

	conn, resp, err := d.DialContext(ctx, cfg.Address, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: %w (status %d)", cfg.Address, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", cfg.Address, err)
	}
	if conn.Subprotocol() != Subprotocol {
		_ = conn.Close()
		return nil, ErrSubprotocol
	}
	log.Debug().Str("address", cfg.Address).Str("subprotocol", conn.Subprotocol()).Msg("ws.Dialer.Dial")
	return NewChannel(conn, cfg.WriteTimeout, cfg.MaxChunkBytes), nil
}

// Upgrader returns a server-side upgrader that negotiates the xmpp
// subprotocol.
func Upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin:  func(*http.Request) bool { return true },
	}
}

// Channel adapts a websocket connection to transport.Channel.
type Channel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func NewChannel(conn *websocket.Conn, writeTimeout time.Duration, readLimit int64) *Channel {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &Channel{conn: conn, writeTimeout: writeTimeout}
}

func (c *Channel) ReadText() (string, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", fmt.Errorf("%w: %v", transport.ErrChannelClosed, err)
			}
			return "", err
		}
		switch typ {
		case websocket.TextMessage:
			return string(data), nil
		case websocket.BinaryMessage:
			return "", ErrUnexpectedMsg
		}
	}
}

func (c *Channel) WriteText(text string) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close sends a close frame once and closes the socket.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

package client

import (
	"context"
	"time"

	"github.com/danmuck/xmppctl/internal/transport"
	"github.com/rs/zerolog/log"
)

// Run connects and keeps the client connected until ctx is done. After a
// channel loss it waits out the backoff delay and dials again; stream
// management state is kept, so the next features element triggers a resume.
func (c *Client) Run(ctx context.Context) error {
	lost := make(chan error, 4)
	// Both handlers run on the notification goroutine, so live needs no lock.
	// A dial failure fires disconnected without a preceding connected and is
	// not forwarded.
	live := false
	stopConnected := c.conn.On(transport.EventConnected, func(transport.Event) { live = true })
	stopLost := c.conn.On(transport.EventDisconnected, func(ev transport.Event) {
		if !live {
			return
		}
		live = false
		select {
		case lost <- ev.Err:
		default:
		}
	})
	defer stopConnected()
	defer stopLost()

	attempt := 0
	for {
		attempt++
		err := c.conn.Connect(ctx, c.cfg.Session)
		if err == nil {
			attempt = 0
			select {
			case <-ctx.Done():
				c.conn.Disconnect()
				return ctx.Err()
			case cause := <-lost:
				c.mu.Lock()
				c.reconnects++
				c.mu.Unlock()
				log.Warn().AnErr("cause", cause).Str("server", c.cfg.Session.Server).Msg("client.Client.Run connection lost")
			}
			attempt = 1
		} else {
			log.Warn().Int("attempt", attempt).Str("address", c.cfg.Session.Address).Err(err).Msg("client.Client.Run dial")
			if !c.shouldRetry(attempt) {
				return err
			}
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.cfg.Session.Backoff.ReconnectDelay(attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package client runs one XMPP client session: it routes stream management
// control elements to the engine, negotiates enable or resume when the peer
// advertises support, and reconnects after channel loss.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/xmppctl/internal/protocol/session"
	"github.com/danmuck/xmppctl/internal/protocol/sm"
	"github.com/danmuck/xmppctl/internal/protocol/stanza"
	"github.com/danmuck/xmppctl/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrDialerRequired = errors.New("client: dialer required")
	ErrNotIQ          = errors.New("client: not an iq")
	ErrIQError        = errors.New("client: iq error response")
	ErrClosed         = errors.New("client: closed")
)

type Config struct {
	Session session.Config
	// StashPath, when set, persists resume points across process restarts.
	StashPath string
	// MaxConnectAttempts bounds consecutive failed dials; 0 retries forever.
	MaxConnectAttempts int
}

func DefaultConfig() Config {
	return Config{Session: session.DefaultConfig()}
}

// Status is a point-in-time view for the admin API.
type Status struct {
	Server      string   `json:"server"`
	Address     string   `json:"address"`
	State       string   `json:"state"`
	StreamID    string   `json:"stream_id,omitempty"`
	StreamOpen  bool     `json:"stream_open"`
	Reconnects  int      `json:"reconnects"`
	SM          sm.State `json:"sm"`
	Negotiation string   `json:"negotiation,omitempty"`
}

type Client struct {
	cfg    Config
	engine *sm.Engine
	conn   *transport.Conn
	stash  *session.ResumeStash
	rng    *rand.Rand

	mu          sync.Mutex
	negotiation string
	reconnects  int
	cancels     []func()
}

func New(cfg Config, dialer transport.Dialer) (*Client, error) {
	if dialer == nil {
		return nil, ErrDialerRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}

	stash := session.NewResumeStash()
	if cfg.StashPath != "" {
		loaded, err := session.LoadResumeStash(cfg.StashPath)
		if err != nil {
			return nil, err
		}
		stash = loaded
	}

	engine := sm.New(cfg.Session.WindowSize, cfg.Session.AllowResume)
	if p, ok := stash.Get(cfg.Session.Server); ok && cfg.Session.AllowResume {
		engine.Restore(p.ResumptionID, p.Handled)
		log.Info().
			Str("server", p.Server).
			Str("id", p.ResumptionID).
			Uint32("handled", p.Handled).
			Msg("client.New restored resume point")
	}

	c := &Client{
		cfg:    cfg,
		engine: engine,
		conn:   transport.NewConn(dialer, engine),
		stash:  stash,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.route()
	return c, nil
}

func (c *Client) Conn() *transport.Conn { return c.conn }
func (c *Client) Engine() *sm.Engine    { return c.engine }

// route registers the control element handlers. Handlers run on the
// notification goroutine, in wire order.
func (c *Client) route() {
	c.cancels = append(c.cancels,
		c.conn.OnElement("stream:features", c.onFeatures),
		c.conn.OnElement("sm:enabled", c.onEnabled),
		c.conn.OnElement("sm:resumed", c.onResumed),
		c.conn.OnElement("sm:failed", c.onFailed),
		c.conn.OnElement("sm:a", c.onAck),
		c.conn.OnElement("sm:r", func(transport.Event) { c.engine.SendAck() }),
		c.conn.On(transport.EventDisconnected, c.onDisconnected),
	)
}

func (c *Client) onFeatures(ev transport.Event) {
	if !strings.Contains(ev.Unit.Inner, stanza.NSStreamManagement) {
		log.Debug().Msg("client.Client.onFeatures peer does not offer stream management")
		return
	}
	if c.cfg.Session.AllowResume && c.engine.ResumptionID() != "" {
		if err := c.engine.Resume(c.conn); err == nil {
			c.setNegotiation("resuming")
			return
		}
	}
	c.engine.Enable(c.conn)
	c.setNegotiation("enabling")
}

func (c *Client) onEnabled(ev transport.Event) {
	resp, err := stanza.ParseEnabled(ev.Unit)
	if err != nil {
		log.Warn().Err(err).Msg("client.Client.onEnabled")
		return
	}
	c.engine.OnEnabled(resp)
	c.setNegotiation("enabled")
	if resp.Resume && resp.ID != "" {
		c.stash.Put(session.ResumePoint{Server: c.cfg.Session.Server, ResumptionID: resp.ID})
		c.saveStash()
	}
}

func (c *Client) onResumed(ev transport.Event) {
	resp, err := stanza.ParseResumed(ev.Unit)
	if err != nil {
		log.Warn().Err(err).Msg("client.Client.onResumed")
		return
	}
	c.engine.OnResumed(resp)
	c.setNegotiation("resumed")
}

// onFailed resets the engine. A failed resume falls back to a fresh enable
// on the same stream.
func (c *Client) onFailed(ev transport.Event) {
	resp, err := stanza.ParseFailed(ev.Unit)
	if err != nil {
		log.Warn().Err(err).Msg("client.Client.onFailed")
	}
	wasResuming := c.getNegotiation() == "resuming"
	log.Warn().Str("condition", resp.Condition).Bool("resuming", wasResuming).Msg("client.Client.onFailed")

	c.engine.OnFailed()
	c.stash.Remove(c.cfg.Session.Server)
	c.saveStash()
	if wasResuming {
		c.engine.Enable(c.conn)
		c.setNegotiation("enabling")
		return
	}
	c.setNegotiation("failed")
}

func (c *Client) onAck(ev transport.Event) {
	a, err := stanza.ParseAck(ev.Unit)
	if err != nil {
		log.Warn().Err(err).Msg("client.Client.onAck")
		return
	}
	c.engine.Process(a.H, false)
}

// onDisconnected records the current handled count so a later process can
// resume where this one stopped.
func (c *Client) onDisconnected(transport.Event) {
	st := c.engine.State()
	c.setNegotiation("")
	if st.ResumptionID == "" {
		return
	}
	c.stash.Put(session.ResumePoint{
		Server:       c.cfg.Session.Server,
		ResumptionID: st.ResumptionID,
		Handled:      st.Handled,
	})
	c.saveStash()
}

func (c *Client) saveStash() {
	if c.cfg.StashPath == "" {
		return
	}
	if err := c.stash.Save(c.cfg.StashPath); err != nil {
		log.Warn().Err(err).Str("path", c.cfg.StashPath).Msg("client.Client.saveStash")
	}
}

func (c *Client) setNegotiation(v string) {
	c.mu.Lock()
	c.negotiation = v
	c.mu.Unlock()
}

func (c *Client) getNegotiation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiation
}

// Send queues u on the connection.
func (c *Client) Send(u stanza.Unit) { c.conn.Send(u) }

// SendIQ sends iq and waits for the reply carrying the same id. An id is
// generated when iq has none.
func (c *Client) SendIQ(ctx context.Context, iq stanza.Unit) (stanza.Unit, error) {
	if iq.Kind != stanza.KindIQ {
		return stanza.Unit{}, ErrNotIQ
	}
	if iq.ID == "" {
		iq.ID = uuid.NewString()
	}

	reply := make(chan stanza.Unit, 1)
	cancel := c.conn.OnID(iq.ID, func(ev transport.Event) {
		reply <- ev.Unit
	})
	defer cancel()
	c.conn.Send(iq)

	select {
	case <-ctx.Done():
		return stanza.Unit{}, ctx.Err()
	case u := <-reply:
		if typ, _ := u.Attr("type"); typ == "error" {
			return u, fmt.Errorf("%w: id=%s", ErrIQError, iq.ID)
		}
		return u, nil
	}
}

func (c *Client) Status() Status {
	st, open := c.conn.Stream()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Server:      c.cfg.Session.Server,
		Address:     c.cfg.Session.Address,
		State:       c.conn.State().String(),
		StreamID:    st.ID,
		StreamOpen:  open,
		Reconnects:  c.reconnects,
		SM:          c.engine.State(),
		Negotiation: c.negotiation,
	}
}

// Close ends the stream and stops the connection goroutines. The stored
// resume point for this server is dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	err := c.conn.Close()
	c.stash.Remove(c.cfg.Session.Server)
	c.saveStash()
	return err
}

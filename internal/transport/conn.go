package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/xmppctl/internal/observability"
	"github.com/danmuck/xmppctl/internal/protocol/framer"
	"github.com/danmuck/xmppctl/internal/protocol/session"
	"github.com/danmuck/xmppctl/internal/protocol/sm"
	"github.com/danmuck/xmppctl/internal/protocol/stanza"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyConnected = errors.New("transport: already connected")
	ErrNotConnected     = errors.New("transport: not connected")
	ErrDialFailed       = errors.New("transport: dial failed")
	ErrConnClosed       = errors.New("transport: connection closed")
	ErrPeerClosed       = errors.New("transport: peer closed stream")
	ErrFraming          = errors.New("transport: unframeable input")
)

// State is the transport lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreamNegotiating
	StateStreamOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreamNegotiating:
		return "stream_negotiating"
	case StateStreamOpen:
		return "stream_open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

type outItem struct {
	unit  stanza.Unit
	raw   string
	isRaw bool
}

// Conn is one client connection. A Conn can be connected, disconnected and
// connected again; the same sm.Engine is kept across channels.
type Conn struct {
	dialer   Dialer
	sm       *sm.Engine
	notifier *Notifier

	mu     sync.Mutex
	cfg    session.Config
	ch     Channel
	state  State
	framer *framer.Framer
	stream stanza.Stream
	closed bool

	out        *fifo[outItem]
	events     *fifo[Event]
	writerDone chan struct{}
	eventsDone chan struct{}
}

func NewConn(dialer Dialer, engine *sm.Engine) *Conn {
	c := &Conn{
		dialer:     dialer,
		sm:         engine,
		notifier:   NewNotifier(),
		framer:     framer.New(),
		out:        newFIFO[outItem](),
		events:     newFIFO[Event](),
		writerDone: make(chan struct{}),
		eventsDone: make(chan struct{}),
	}
	go c.writeLoop()
	go c.eventLoop()
	return c
}

func (c *Conn) SM() *sm.Engine { return c.sm }

func (c *Conn) On(kind EventKind, fn Handler) func() {
	return c.notifier.On(kind, fn)
}

func (c *Conn) OnElement(name string, fn Handler) func() {
	return c.notifier.OnElement(name, fn)
}

func (c *Conn) OnID(id string, fn Handler) func() {
	return c.notifier.OnID(id, fn)
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stream returns the attributes of the peer's current stream header.
func (c *Conn) Stream() (stanza.Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream, c.framer.Open()
}

// Connect dials cfg.Address and opens a stream. A dial failure fires
// EventDisconnected; no retry is attempted.
func (c *Conn) Connect(ctx context.Context, cfg session.Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.cfg = cfg
	c.framer.Reset()
	c.stream = stanza.Stream{}
	c.mu.Unlock()

	ch, err := c.dialer.Dial(ctx, cfg)

	c.mu.Lock()
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		err = fmt.Errorf("%w: %w", ErrDialFailed, err)
		observability.RecordDisconnect("dial")
		log.Warn().Str("address", cfg.Address).Err(err).Msg("transport.Conn.Connect")
		c.emit(Event{Kind: EventDisconnected, Err: err})
		return err
	}
	c.ch = ch
	c.state = StateStreamNegotiating
	c.sm.Deactivate()
	// The header is queued ahead of anything a connected handler sends.
	c.SendRaw(stanza.OpenStreamHeader(cfg.Server, cfg.Version, cfg.Lang))
	c.emit(Event{Kind: EventConnected})
	c.mu.Unlock()

	log.Info().Str("address", cfg.Address).Str("server", cfg.Server).Msg("transport.Conn.Connect connected")
	go c.readLoop(ch)
	return nil
}

// Send queues u for transmission. Units queued while no channel is live are
// dropped by the writer.
func (c *Conn) Send(u stanza.Unit) {
	c.out.push(outItem{unit: u})
}

// SendRaw queues pre-serialised text. Raw text is never tracked.
func (c *Conn) SendRaw(text string) {
	c.out.push(outItem{raw: text, isRaw: true})
}

// Acknowledged implements sm.Outbound.
func (c *Conn) Acknowledged(u stanza.Unit) {
	c.emit(Event{Kind: EventAcknowledged, Unit: u})
}

// Restart re-emits the stream header on the live channel and waits for a new
// opening tag from the peer. Stream management state is untouched.
func (c *Conn) Restart() error {
	c.mu.Lock()
	if c.ch == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.framer.Restart()
	c.state = StateStreamNegotiating
	c.SendRaw(stanza.OpenStreamHeader(c.cfg.Server, c.cfg.Version, c.cfg.Lang))
	c.mu.Unlock()
	return nil
}

// Disconnect closes our stream, tears down the channel and resets stream
// management. It is a no-op when already disconnected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnect("local", nil)
}

// Close disconnects and stops the writer and notification goroutines. Events
// already queued are still delivered.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.disconnect("local", nil)
	c.mu.Unlock()

	c.out.close()
	<-c.writerDone
	c.events.close()
	<-c.eventsDone
	return nil
}

func (c *Conn) disconnect(reason string, cause error) {
	if c.ch == nil {
		return
	}
	ch := c.ch
	c.state = StateClosing
	if c.framer.Open() {
		if err := ch.WriteText(stanza.CloseStreamTag); err != nil {
			log.Debug().Err(err).Msg("transport.Conn.disconnect close tag not written")
		}
		c.emit(Event{Kind: EventRawOutgoing, Raw: stanza.CloseStreamTag})
		c.emit(Event{Kind: EventStreamEnded})
	}
	c.framer.Reset()
	if err := ch.Close(); err != nil {
		log.Debug().Err(err).Msg("transport.Conn.disconnect channel close")
	}
	c.ch = nil
	c.stream = stanza.Stream{}
	c.state = StateDisconnected
	c.sm.OnFailed()

	observability.RecordDisconnect(reason)
	log.Info().Str("reason", reason).AnErr("cause", cause).Msg("transport.Conn.disconnect")
	c.emit(Event{Kind: EventDisconnected, Err: cause})
}

// lost handles a channel that failed underneath us. Stream management
// bookkeeping is kept so a later resume can replay.
func (c *Conn) lost(ch Channel, err error) {
	if c.ch != ch {
		return
	}
	_ = ch.Close()
	c.ch = nil
	c.framer.Reset()
	c.stream = stanza.Stream{}
	c.state = StateDisconnected

	observability.RecordDisconnect("channel")
	log.Warn().Err(err).Msg("transport.Conn.lost channel failed")
	c.emit(Event{Kind: EventDisconnected, Err: err})
}

func (c *Conn) emit(ev Event) {
	c.events.push(ev)
}

func (c *Conn) eventLoop() {
	defer close(c.eventsDone)
	for {
		ev, ok := c.events.pop()
		if !ok {
			return
		}
		c.notifier.dispatch(ev)
	}
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	for {
		item, ok := c.out.pop()
		if !ok {
			return
		}
		c.write(item)
	}
}

// write tracks, serialises and writes one item while holding the connection
// lock, so nothing can interleave between Track and the wire.
func (c *Conn) write(item outItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.ch
	if ch == nil {
		log.Debug().Bool("raw", item.isRaw).Msg("transport.Conn.write dropped without channel")
		return
	}

	text := item.raw
	if !item.isRaw {
		c.sm.Track(item.unit)
		text = item.unit.String()
		observability.RecordUnit("out", item.unit.Kind.String())
	}
	c.emit(Event{Kind: EventRawOutgoing, Raw: text})
	if err := ch.WriteText(text); err != nil {
		c.lost(ch, err)
	}
}

func (c *Conn) readLoop(ch Channel) {
	for {
		text, err := ch.ReadText()
		c.mu.Lock()
		if err != nil {
			c.lost(ch, err)
			c.mu.Unlock()
			return
		}
		if c.ch != ch {
			c.mu.Unlock()
			return
		}
		c.handleIncoming(text)
		c.mu.Unlock()
	}
}

// handleIncoming processes one inbound chunk. Caller holds c.mu.
func (c *Conn) handleIncoming(chunk string) {
	c.emit(Event{Kind: EventRawIncoming, Raw: chunk})

	fr, err := c.framer.Classify(chunk)
	if err != nil {
		c.fail("framing", err)
		return
	}

	switch fr.Kind {
	case framer.FrameEmpty:
		return
	case framer.FrameClose:
		c.disconnect("peer_close", ErrPeerClosed)
	case framer.FrameFragment:
		st, err := stanza.ParseStream(c.framer.Wrap(fr.Body))
		if err != nil {
			c.fail("parse", err)
			return
		}
		c.dispatch(st.Children)
		if fr.Closing {
			c.disconnect("peer_close", ErrPeerClosed)
		}
	case framer.FrameOpen:
		c.openStream(fr)
	}
}

func (c *Conn) openStream(fr framer.Frame) {
	ended := false
	st, err := stanza.ParseStream(fr.Body + fr.Tag.EndTag())
	if err != nil {
		// The opening chunk may already carry its own end tag.
		st, err = stanza.ParseStream(fr.Body)
		if err != nil {
			c.fail("parse", err)
			return
		}
		ended = true
	}

	c.framer.Accept(fr.Tag)
	c.stream = st
	c.stream.Children = nil
	c.state = StateStreamOpen
	log.Debug().
		Str("start", c.framer.StartTag()).
		Str("end", c.framer.EndTag()).
		Str("lang", st.Lang).
		Bool("ended", ended).
		Msg("transport.Conn.openStream")
	c.emit(Event{Kind: EventStreamStarted, Stream: c.stream})

	c.dispatch(st.Children)
	if ended {
		c.framer.Restart()
		c.state = StateStreamNegotiating
		c.emit(Event{Kind: EventStreamEnded})
	}
}

func (c *Conn) dispatch(units []stanza.Unit) {
	for _, u := range units {
		if u.Lang == "" {
			u.Lang = c.stream.Lang
		}
		if u.Tracked() {
			c.sm.Handle(u)
			c.emit(Event{Kind: EventStanza, Unit: u})
		}
		observability.RecordUnit("in", u.Kind.String())
		c.emit(Event{Kind: EventElement, Name: u.EventName(), Unit: u})
		c.emit(Event{Kind: EventStreamData, Unit: u})
		if u.ID != "" {
			c.emit(Event{Kind: EventID, ID: u.ID, Unit: u})
		}
	}
}

func (c *Conn) fail(stage string, err error) {
	err = fmt.Errorf("%w: %s: %w", ErrFraming, stage, err)
	log.Warn().Err(err).Msg("transport.Conn.fail")
	c.disconnect(stage, err)
}

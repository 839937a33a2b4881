// Package xmpptest runs a scripted XMPP peer behind a real websocket
// listener. Tests drive each accepted connection step by step.
package xmpptest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/xmppctl/internal/protocol/stanza"
	"github.com/danmuck/xmppctl/internal/transport/ws"
)

const (
	Timeout = 3 * time.Second

	FeaturesSM   = `<stream:features><sm xmlns="urn:xmpp:sm:3"/></stream:features>`
	FeaturesNone = `<stream:features/>`
)

// OpenTag renders the peer's stream header.
func OpenTag(streamID string) string {
	return fmt.Sprintf(`<stream:stream xmlns="%s" xmlns:stream="%s" id="%s" from="example.com" version="1.0" xml:lang="en">`,
		stanza.NSClient, stanza.NSStream, streamID)
}

type Server struct {
	t      testing.TB
	srv    *httptest.Server
	accept chan *Peer
}

// NewServer starts a plain ws listener. The server is closed on test cleanup.
func NewServer(t testing.TB) *Server {
	return start(t, nil)
}

// NewTLSServer starts a wss listener using cfg.
func NewTLSServer(t testing.TB, cfg *tls.Config) *Server {
	return start(t, cfg)
}

func start(t testing.TB, tlsCfg *tls.Config) *Server {
	t.Helper()
	s := &Server{t: t, accept: make(chan *Peer, 8)}
	up := ws.Upgrader()
	s.srv = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("xmpptest upgrade: %v", err)
			return
		}
		p := &Peer{t: t, ch: ws.NewChannel(conn, Timeout, 0), in: make(chan string, 64), done: make(chan struct{})}
		go p.readLoop()
		s.accept <- p
	}))
	if tlsCfg != nil {
		s.srv.TLS = tlsCfg
		s.srv.StartTLS()
	} else {
		s.srv.Start()
	}
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the ws:// or wss:// address of the listener.
func (s *Server) URL() string {
	if strings.HasPrefix(s.srv.URL, "https") {
		return "wss" + strings.TrimPrefix(s.srv.URL, "https") + "/xmpp"
	}
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/xmpp"
}

// Accept waits for the next client connection.
func (s *Server) Accept() *Peer {
	s.t.Helper()
	select {
	case p := <-s.accept:
		return p
	case <-time.After(Timeout):
		s.t.Fatalf("xmpptest: no client connected")
	}
	return nil
}

// Peer is the server side of one websocket connection.
type Peer struct {
	t    testing.TB
	ch   *ws.Channel
	in   chan string
	done chan struct{}
}

func (p *Peer) readLoop() {
	defer close(p.done)
	for {
		text, err := p.ch.ReadText()
		if err != nil {
			return
		}
		p.in <- text
	}
}

// Recv returns the next chunk the client sent.
func (p *Peer) Recv() string {
	p.t.Helper()
	select {
	case text := <-p.in:
		return text
	case <-p.done:
		select {
		case text := <-p.in:
			return text
		default:
		}
		p.t.Fatalf("xmpptest: client closed the connection")
	case <-time.After(Timeout):
		p.t.Fatalf("xmpptest: nothing received")
	}
	return ""
}

// Expect receives one chunk and fails unless it contains want.
func (p *Peer) Expect(want string) string {
	p.t.Helper()
	got := p.Recv()
	if !strings.Contains(got, want) {
		p.t.Fatalf("xmpptest: expected chunk containing %q, got %q", want, got)
	}
	return got
}

func (p *Peer) Send(text string) {
	p.t.Helper()
	if err := p.ch.WriteText(text); err != nil {
		p.t.Fatalf("xmpptest: write: %v", err)
	}
}

// Control writes a server-side stream management element.
func (p *Peer) Control(u stanza.Unit) {
	p.t.Helper()
	p.Send(u.String())
}

// Enable answers a pending enable with an enabled carrying id.
func (p *Peer) Enable(id string) {
	p.t.Helper()
	p.Expect("<enable")
	p.Control(stanza.Enabled{ID: id, Resume: true}.ToUnit())
}

// Open consumes the client header and answers with a stream header and the
// given features element.
func (p *Peer) Open(streamID, features string) {
	p.t.Helper()
	p.Expect("<stream:stream")
	p.Send(OpenTag(streamID) + features)
}

// Drop closes the socket without ending the stream.
func (p *Peer) Drop() {
	_ = p.ch.Close()
}

// Closed is done once the client side has gone away.
func (p *Peer) Closed() <-chan struct{} { return p.done }

// WaitClosed fails the test if the client does not close within Timeout.
func (p *Peer) WaitClosed(ctx context.Context) {
	p.t.Helper()
	select {
	case <-p.done:
	case <-ctx.Done():
		p.t.Fatalf("xmpptest: client still connected")
	case <-time.After(Timeout):
		p.t.Fatalf("xmpptest: client still connected")
	}
}

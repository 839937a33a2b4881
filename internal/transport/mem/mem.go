// Package mem is an in-process transport. Useful for tests and for wiring a
// client to an in-process peer without a socket.
package mem

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/danmuck/xmppctl/internal/protocol/session"
	"github.com/danmuck/xmppctl/internal/transport"
)

var (
	ErrListenerExists = errors.New("mem: listener already exists")
	ErrNoListener     = errors.New("mem: no such listener")
	ErrListenerClosed = errors.New("mem: listener closed")
)

// Network is a namespace of named listeners. Addresses take the form
// mem://name.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
}

func NewNetwork() *Network { return &Network{listeners: make(map[string]*Listener)} }

// Listen registers name until ctx is done or the listener is closed.
func (n *Network) Listen(ctx context.Context, name string) (*Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrListenerExists, name)
	}
	l := &Listener{name: name, newCh: make(chan *Pipe, 8), closeCh: make(chan struct{})}
	n.listeners[name] = l
	go func() {
		select {
		case <-ctx.Done():
		case <-l.closeCh:
		}
		_ = l.Close()
		n.mu.Lock()
		if n.listeners[name] == l {
			delete(n.listeners, name)
		}
		n.mu.Unlock()
	}()
	return l, nil
}

// Dial implements transport.Dialer.
func (n *Network) Dial(ctx context.Context, cfg session.Config) (transport.Channel, error) {
	u, err := url.Parse(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrInvalidAddress, err)
	}
	n.mu.Lock()
	l := n.listeners[u.Host]
	n.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoListener, u.Host)
	}

	cli, srv := NewPipe()
	select {
	case l.newCh <- srv:
	case <-l.closeCh:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return cli, nil
}

type Listener struct {
	name    string
	newCh   chan *Pipe
	closeCh chan struct{}
	once    sync.Once
}

func (l *Listener) Name() string { return l.name }

func (l *Listener) Accept(ctx context.Context) (*Pipe, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, ErrListenerClosed
	case p := <-l.newCh:
		return p, nil
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() { close(l.closeCh) })
	return nil
}

// Pipe is one end of an in-process text channel. Closing either end closes
// both.
type Pipe struct {
	in   <-chan string
	out  chan<- string
	done chan struct{}
	once *sync.Once
}

// NewPipe returns two connected ends.
func NewPipe() (*Pipe, *Pipe) {
	ab := make(chan string, 64)
	ba := make(chan string, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &Pipe{in: ba, out: ab, done: done, once: once}
	b := &Pipe{in: ab, out: ba, done: done, once: once}
	return a, b
}

// ReadText returns buffered text before reporting a closed pipe.
func (p *Pipe) ReadText() (string, error) {
	select {
	case s := <-p.in:
		return s, nil
	default:
	}
	select {
	case s := <-p.in:
		return s, nil
	case <-p.done:
		return "", transport.ErrChannelClosed
	}
}

func (p *Pipe) WriteText(text string) error {
	select {
	case <-p.done:
		return transport.ErrChannelClosed
	default:
	}
	select {
	case p.out <- text:
		return nil
	case <-p.done:
		return transport.ErrChannelClosed
	}
}

func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// Closed is done once either end has been closed.
func (p *Pipe) Closed() <-chan struct{} { return p.done }

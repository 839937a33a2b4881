package transport

import (
	"context"
	"errors"

	"github.com/danmuck/xmppctl/internal/protocol/session"
)

var ErrChannelClosed = errors.New("transport: channel closed")

// Channel is one live bidirectional text channel. ReadText is called from a
// single reader goroutine and WriteText from a single writer goroutine.
type Channel interface {
	ReadText() (string, error)
	WriteText(text string) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, cfg session.Config) (Channel, error)
}

type DialerFunc func(ctx context.Context, cfg session.Config) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, cfg session.Config) (Channel, error) {
	return f(ctx, cfg)
}

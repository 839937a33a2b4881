// Package framer recognises the top-level element boundaries of an XMPP
// stream carried as text chunks: the peer's opening stream tag, its matching
// end tag, and in-stream fragments between them. It never buffers the whole
// document; each chunk is classified on its own against the cached tags.
package framer

import (
	"errors"
	"strings"
)

const (
	DefaultStartTag = `<stream:stream xmlns:stream="http://etherx.jabber.org/streams">`
	DefaultEndTag   = `</stream:stream>`
)

var (
	ErrNoOpenTag       = errors.New("framer: chunk does not start with an opening tag")
	ErrUnterminatedTag = errors.New("framer: opening tag is not terminated")
)

// Tag is an opening tag recovered from the start of a chunk.
type Tag struct {
	Prefix      string
	Local       string
	Text        string
	SelfClosing bool
}

func (t Tag) QName() string {
	if t.Prefix == "" {
		return t.Local
	}
	return t.Prefix + ":" + t.Local
}

// EndTag synthesises the closing tag matching t.
func (t Tag) EndTag() string {
	return "</" + t.QName() + ">"
}

type FrameKind int

const (
	FrameEmpty FrameKind = iota
	FrameClose
	FrameFragment
	FrameOpen
)

func (k FrameKind) String() string {
	switch k {
	case FrameClose:
		return "close"
	case FrameFragment:
		return "fragment"
	case FrameOpen:
		return "open"
	default:
		return "empty"
	}
}

// Frame is the classification of one inbound chunk.
type Frame struct {
	Kind FrameKind
	Body string
	Tag  Tag
	// Closing is set on a fragment that ended with the stream end tag.
	Closing bool
}

// Framer holds the cached tags of the current stream.
type Framer struct {
	start string
	end   string
	open  bool
}

func New() *Framer {
	f := &Framer{}
	f.Reset()
	return f
}

// Reset forgets the current stream and restores the default tags.
func (f *Framer) Reset() {
	f.start = DefaultStartTag
	f.end = DefaultEndTag
	f.open = false
}

// Restart expects a fresh opening tag from the peer on the same channel.
func (f *Framer) Restart() {
	f.open = false
}

func (f *Framer) Open() bool       { return f.open }
func (f *Framer) StartTag() string { return f.start }
func (f *Framer) EndTag() string   { return f.end }

// Accept caches tag as the start of the current stream.
func (f *Framer) Accept(tag Tag) {
	f.start = tag.Text
	f.end = tag.EndTag()
	f.open = true
}

// Wrap completes an in-stream fragment into a parseable document.
func (f *Framer) Wrap(body string) string {
	return f.start + body + f.end
}

func (f *Framer) Classify(chunk string) (Frame, error) {
	body := Clean(chunk)
	if body == "" {
		return Frame{Kind: FrameEmpty}, nil
	}
	if body == f.end {
		return Frame{Kind: FrameClose}, nil
	}
	if f.open {
		if strings.HasSuffix(body, f.end) {
			return Frame{
				Kind:    FrameFragment,
				Body:    strings.TrimSpace(strings.TrimSuffix(body, f.end)),
				Closing: true,
			}, nil
		}
		return Frame{Kind: FrameFragment, Body: body}, nil
	}
	tag, err := ScanOpenTag(body)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: FrameOpen, Body: body, Tag: tag}, nil
}

// Clean trims whitespace and any leading <?...?> preamble.
func Clean(chunk string) string {
	s := strings.TrimSpace(chunk)
	for strings.HasPrefix(s, "<?") {
		end := strings.Index(s, "?>")
		if end < 0 {
			break
		}
		s = strings.TrimSpace(s[end+2:])
	}
	return s
}

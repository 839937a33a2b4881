package stanza

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrMalformed       = errors.New("stanza: malformed stream fragment")
	ErrNoRoot          = errors.New("stanza: stream fragment has no root element")
	ErrUnterminated    = errors.New("stanza: stream fragment is not terminated")
	ErrTrailingContent = errors.New("stanza: content after stream end")
)

// Stream is one parsed stream fragment: the root element and its children in
// document order.
type Stream struct {
	Name     xml.Name
	ID       string
	From     string
	Version  string
	Lang     string
	Attrs    []xml.Attr
	Children []Unit
}

type rawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

// ParseStream parses doc, which must be exactly one complete root element.
func ParseStream(doc string) (Stream, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))
	dec.Strict = true

	var (
		st     Stream
		root   bool
		closed bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Stream{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if closed {
				return Stream{}, ErrTrailingContent
			}
			if !root {
				root = true
				st.setRoot(t)
				continue
			}
			var raw rawElement
			if err := dec.DecodeElement(&raw, &t); err != nil {
				return Stream{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			st.Children = append(st.Children, raw.unit())
		case xml.EndElement:
			closed = true
		case xml.CharData:
			if (!root || closed) && len(bytes.TrimSpace(t)) > 0 {
				return Stream{}, ErrTrailingContent
			}
		}
	}
	if !root {
		return Stream{}, ErrNoRoot
	}
	if !closed {
		return Stream{}, ErrUnterminated
	}
	return st, nil
}

func (s *Stream) setRoot(t xml.StartElement) {
	s.Name = t.Name
	for _, a := range t.Attr {
		switch {
		case isLangAttr(a):
			s.Lang = a.Value
		case a.Name.Space == "" && a.Name.Local == "id":
			s.ID = a.Value
		case a.Name.Space == "" && a.Name.Local == "from":
			s.From = a.Value
		case a.Name.Space == "" && a.Name.Local == "version":
			s.Version = a.Value
		}
		s.Attrs = append(s.Attrs, a)
	}
}

func (r rawElement) unit() Unit {
	u := Unit{
		Kind:  KindOf(r.XMLName.Space, r.XMLName.Local),
		Space: r.XMLName.Space,
		Name:  r.XMLName.Local,
		Inner: r.Inner,
	}
	for _, a := range r.Attrs {
		switch {
		case isNamespaceDecl(a):
		case isLangAttr(a):
			u.Lang = a.Value
		case a.Name.Space == "" && a.Name.Local == "id":
			u.ID = a.Value
		default:
			u.Attrs = append(u.Attrs, a)
		}
	}
	return u
}

// OpenStreamHeader renders the client stream header.
func OpenStreamHeader(to, version, lang string) string {
	var b strings.Builder
	b.WriteString("<stream:stream")
	writeAttr(&b, "xmlns:stream", NSStream)
	writeAttr(&b, "xmlns", NSClient)
	writeAttr(&b, "version", version)
	writeAttr(&b, "xml:lang", lang)
	writeAttr(&b, "to", to)
	b.WriteByte('>')
	return b.String()
}

const CloseStreamTag = "</stream:stream>"

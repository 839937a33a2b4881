package stanza

import (
	"encoding/xml"
	"strings"

	"github.com/google/uuid"
)

const (
	NSClient           = "jabber:client"
	NSServer           = "jabber:server"
	NSStream           = "http://etherx.jabber.org/streams"
	NSStreamManagement = "urn:xmpp:sm:3"
	NSXML              = "http://www.w3.org/XML/1998/namespace"
)

// Kind discriminates the unit variants.
type Kind int

const (
	KindOther Kind = iota
	KindMessage
	KindPresence
	KindIQ
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindPresence:
		return "presence"
	case KindIQ:
		return "iq"
	case KindControl:
		return "control"
	default:
		return "other"
	}
}

// KindOf classifies an element by namespace and local name.
func KindOf(space, local string) Kind {
	switch space {
	case NSStreamManagement:
		return KindControl
	case "", NSClient, NSServer:
		switch local {
		case "message":
			return KindMessage
		case "presence":
			return KindPresence
		case "iq":
			return KindIQ
		}
	}
	return KindOther
}

// Unit is one top-level child of the stream.
type Unit struct {
	Kind  Kind
	Space string
	Name  string
	ID    string
	Lang  string
	Attrs []xml.Attr
	Inner string
}

// Tracked reports whether the unit is content-bearing and therefore counted
// by stream management.
func (u Unit) Tracked() bool {
	switch u.Kind {
	case KindMessage, KindPresence, KindIQ:
		return true
	default:
		return false
	}
}

// EventName is the element-specific notification key for u.
func (u Unit) EventName() string {
	switch u.Space {
	case NSStreamManagement:
		return "sm:" + u.Name
	case NSStream:
		return "stream:" + u.Name
	default:
		return u.Name
	}
}

func (u Unit) Attr(local string) (string, bool) {
	for _, a := range u.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// WithAttr returns a copy of u with local set to value.
func (u Unit) WithAttr(local, value string) Unit {
	attrs := make([]xml.Attr, 0, len(u.Attrs)+1)
	replaced := false
	for _, a := range u.Attrs {
		if a.Name.Local == local {
			a.Value = value
			replaced = true
		}
		attrs = append(attrs, a)
	}
	if !replaced {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: local}, Value: value})
	}
	u.Attrs = attrs
	return u
}

// String serialises u. The jabber:client namespace is inherited from the
// stream and is not repeated.
func (u Unit) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(u.Name)
	if u.Space != "" && u.Space != NSClient {
		writeAttr(&b, "xmlns", u.Space)
	}
	if u.ID != "" {
		writeAttr(&b, "id", u.ID)
	}
	for _, a := range u.Attrs {
		if isNamespaceDecl(a) || a.Name.Local == "id" {
			continue
		}
		writeAttr(&b, a.Name.Local, a.Value)
	}
	if u.Lang != "" {
		writeAttr(&b, "xml:lang", u.Lang)
	}
	if u.Inner == "" {
		b.WriteString("/>")
		return b.String()
	}
	b.WriteByte('>')
	b.WriteString(u.Inner)
	b.WriteString("</")
	b.WriteString(u.Name)
	b.WriteByte('>')
	return b.String()
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(`="`)
	_ = xml.EscapeText(b, []byte(value))
	b.WriteByte('"')
}

func isNamespaceDecl(a xml.Attr) bool {
	return a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns")
}

func isLangAttr(a xml.Attr) bool {
	return a.Name.Local == "lang" && (a.Name.Space == NSXML || a.Name.Space == "xml")
}

func newStanza(kind Kind, name, to, typ, inner string) Unit {
	u := Unit{
		Kind:  kind,
		Space: NSClient,
		Name:  name,
		ID:    uuid.NewString(),
		Inner: inner,
	}
	if to != "" {
		u = u.WithAttr("to", to)
	}
	if typ != "" {
		u = u.WithAttr("type", typ)
	}
	return u
}

// NewMessage builds a chat message with a generated id.
func NewMessage(to, body string) Unit {
	var b strings.Builder
	if body != "" {
		b.WriteString("<body>")
		_ = xml.EscapeText(&b, []byte(body))
		b.WriteString("</body>")
	}
	return newStanza(KindMessage, "message", to, "chat", b.String())
}

// NewPresence builds an available presence broadcast.
func NewPresence() Unit {
	return newStanza(KindPresence, "presence", "", "", "")
}

// NewIQ builds an iq with a generated id and raw payload XML.
func NewIQ(typ, to, payload string) Unit {
	return newStanza(KindIQ, "iq", to, typ, payload)
}

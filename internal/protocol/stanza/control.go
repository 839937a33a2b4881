package stanza

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotControl    = errors.New("stanza: not a stream management element")
	ErrInvalidHandle = errors.New("stanza: invalid h attribute")
)

// Stream management element names.
const (
	NameEnable  = "enable"
	NameEnabled = "enabled"
	NameResume  = "resume"
	NameResumed = "resumed"
	NameFailed  = "failed"
	NameAck     = "a"
	NameRequest = "r"
)

type Enable struct {
	Resume bool
}

func (e Enable) ToUnit() Unit {
	u := control(NameEnable)
	if e.Resume {
		u = u.WithAttr("resume", "true")
	}
	return u
}

type Resume struct {
	H      uint32
	PrevID string
}

func (r Resume) ToUnit() Unit {
	return control(NameResume).
		WithAttr("h", strconv.FormatUint(uint64(r.H), 10)).
		WithAttr("previd", r.PrevID)
}

type Ack struct {
	H uint32
}

func (a Ack) ToUnit() Unit {
	return control(NameAck).WithAttr("h", strconv.FormatUint(uint64(a.H), 10))
}

type Request struct{}

func (Request) ToUnit() Unit {
	return control(NameRequest)
}

type Enabled struct {
	ID       string
	Resume   bool
	Max      uint32
	Location string
}

func (e Enabled) ToUnit() Unit {
	u := control(NameEnabled)
	u.ID = e.ID
	if e.Resume {
		u = u.WithAttr("resume", "true")
	}
	if e.Max > 0 {
		u = u.WithAttr("max", strconv.FormatUint(uint64(e.Max), 10))
	}
	if e.Location != "" {
		u = u.WithAttr("location", e.Location)
	}
	return u
}

// Resumed confirms a resume. HasH is false when the peer omitted h.
type Resumed struct {
	ID   string
	H    uint32
	HasH bool
}

func (r Resumed) ToUnit() Unit {
	u := control(NameResumed).WithAttr("previd", r.ID)
	if r.HasH {
		u = u.WithAttr("h", strconv.FormatUint(uint64(r.H), 10))
	}
	return u
}

type Failed struct {
	Condition string
	H         uint32
	HasH      bool
}

func (f Failed) ToUnit() Unit {
	u := control(NameFailed)
	if f.HasH {
		u = u.WithAttr("h", strconv.FormatUint(uint64(f.H), 10))
	}
	if f.Condition != "" {
		u.Inner = "<" + f.Condition + ` xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/>`
	}
	return u
}

func control(name string) Unit {
	return Unit{Kind: KindControl, Space: NSStreamManagement, Name: name}
}

func ParseEnabled(u Unit) (Enabled, error) {
	if err := expectControl(u, NameEnabled); err != nil {
		return Enabled{}, err
	}
	out := Enabled{ID: u.ID, Location: attr(u, "location")}
	out.Resume = parseXMLBool(attr(u, "resume"))
	if raw := attr(u, "max"); raw != "" {
		v, err := parseHandle(raw)
		if err != nil {
			return Enabled{}, err
		}
		out.Max = v
	}
	return out, nil
}

func ParseResumed(u Unit) (Resumed, error) {
	if err := expectControl(u, NameResumed); err != nil {
		return Resumed{}, err
	}
	out := Resumed{ID: attr(u, "previd")}
	if out.ID == "" {
		out.ID = u.ID
	}
	if raw, ok := u.Attr("h"); ok {
		v, err := parseHandle(raw)
		if err != nil {
			return Resumed{}, err
		}
		out.H = v
		out.HasH = true
	}
	return out, nil
}

func ParseAck(u Unit) (Ack, error) {
	if err := expectControl(u, NameAck); err != nil {
		return Ack{}, err
	}
	raw, ok := u.Attr("h")
	if !ok {
		return Ack{}, fmt.Errorf("%w: missing", ErrInvalidHandle)
	}
	v, err := parseHandle(raw)
	if err != nil {
		return Ack{}, err
	}
	return Ack{H: v}, nil
}

func ParseFailed(u Unit) (Failed, error) {
	if err := expectControl(u, NameFailed); err != nil {
		return Failed{}, err
	}
	out := Failed{Condition: firstChildName(u.Inner)}
	if raw, ok := u.Attr("h"); ok {
		v, err := parseHandle(raw)
		if err != nil {
			return Failed{}, err
		}
		out.H = v
		out.HasH = true
	}
	return out, nil
}

func expectControl(u Unit, name string) error {
	if u.Space != NSStreamManagement || u.Name != name {
		return fmt.Errorf("%w: got %s", ErrNotControl, u.EventName())
	}
	return nil
}

func attr(u Unit, local string) string {
	v, _ := u.Attr(local)
	return v
}

func parseHandle(raw string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
	}
	return uint32(v), nil
}

func parseXMLBool(raw string) bool {
	switch strings.TrimSpace(raw) {
	case "true", "1":
		return true
	default:
		return false
	}
}

func firstChildName(inner string) string {
	if strings.TrimSpace(inner) == "" {
		return ""
	}
	dec := xml.NewDecoder(strings.NewReader(inner))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local
		}
	}
}

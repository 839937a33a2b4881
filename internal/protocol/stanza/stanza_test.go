package stanza

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/xmppctl/internal/testutil/testlog"
)

const testStreamOpen = `<stream:stream xmlns:stream="http://etherx.jabber.org/streams" xmlns="jabber:client" id="s1" from="example.com" version="1.0" xml:lang="de">`

func TestParseStreamChildrenInOrder(t *testing.T) {
	testlog.Start(t)
	doc := testStreamOpen +
		`<message id="1" to="a@example.com"><body>hi</body></message>` +
		`<presence/>` +
		`<iq id="q1" type="result" xml:lang="fr"/>` +
		`<a xmlns="urn:xmpp:sm:3" h="2"/>` +
		`<stream:features><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"/></stream:features>` +
		CloseStreamTag
	st, err := ParseStream(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if st.Lang != "de" || st.ID != "s1" || st.From != "example.com" || st.Version != "1.0" {
		t.Fatalf("unexpected stream attrs: %+v", st)
	}
	if st.Name.Local != "stream" || st.Name.Space != NSStream {
		t.Fatalf("unexpected root name: %+v", st.Name)
	}
	want := []struct {
		kind  Kind
		event string
		id    string
	}{
		{KindMessage, "message", "1"},
		{KindPresence, "presence", ""},
		{KindIQ, "iq", "q1"},
		{KindControl, "sm:a", ""},
		{KindOther, "stream:features", ""},
	}
	if len(st.Children) != len(want) {
		t.Fatalf("unexpected child count: %d", len(st.Children))
	}
	for i, w := range want {
		got := st.Children[i]
		if got.Kind != w.kind || got.EventName() != w.event || got.ID != w.id {
			t.Fatalf("child[%d] unexpected: kind=%s event=%q id=%q", i, got.Kind, got.EventName(), got.ID)
		}
	}
	if st.Children[0].Inner != "<body>hi</body>" {
		t.Fatalf("unexpected inner xml: %q", st.Children[0].Inner)
	}
	if st.Children[2].Lang != "fr" {
		t.Fatalf("expected explicit lang on iq, got %q", st.Children[2].Lang)
	}
	if to, _ := st.Children[0].Attr("to"); to != "a@example.com" {
		t.Fatalf("unexpected to attr: %q", to)
	}
}

func TestParseStreamRejectsBrokenFragments(t *testing.T) {
	testlog.Start(t)
	cases := map[string]struct {
		doc  string
		want error
	}{
		"unterminated": {doc: testStreamOpen + `<presence/>`, want: ErrMalformed},
		"double end":   {doc: testStreamOpen + CloseStreamTag + CloseStreamTag, want: ErrMalformed},
		"empty":        {doc: "   ", want: ErrNoRoot},
		"trailing":     {doc: `<x/><y/>`, want: ErrTrailingContent},
	}
	for name, tc := range cases {
		if _, err := ParseStream(tc.doc); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestUnitStringOmitsClientNamespace(t *testing.T) {
	testlog.Start(t)
	u := Unit{Kind: KindMessage, Space: NSClient, Name: "message", ID: "m1", Lang: "en", Inner: "<body>a&amp;b</body>"}
	u = u.WithAttr("to", `x"y@example.com`)
	got := u.String()
	want := `<message id="m1" to="x&#34;y@example.com" xml:lang="en"><body>a&amp;b</body></message>`
	if got != want {
		t.Fatalf("unexpected serialisation:\n got=%s\nwant=%s", got, want)
	}
}

func TestControlFramesSerialise(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		got  string
		want string
	}{
		{got: Enable{Resume: true}.ToUnit().String(), want: `<enable xmlns="urn:xmpp:sm:3" resume="true"/>`},
		{got: Enable{}.ToUnit().String(), want: `<enable xmlns="urn:xmpp:sm:3"/>`},
		{got: Resume{H: 4294967295, PrevID: "abc"}.ToUnit().String(), want: `<resume xmlns="urn:xmpp:sm:3" h="4294967295" previd="abc"/>`},
		{got: Ack{H: 3}.ToUnit().String(), want: `<a xmlns="urn:xmpp:sm:3" h="3"/>`},
		{got: Request{}.ToUnit().String(), want: `<r xmlns="urn:xmpp:sm:3"/>`},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("unexpected control frame:\n got=%s\nwant=%s", tc.got, tc.want)
		}
	}
}

func TestControlFramesParseFromStream(t *testing.T) {
	testlog.Start(t)
	doc := testStreamOpen +
		`<enabled xmlns="urn:xmpp:sm:3" id="sm-1" resume="true" max="300"/>` +
		`<resumed xmlns="urn:xmpp:sm:3" previd="sm-1" h="5"/>` +
		`<resumed xmlns="urn:xmpp:sm:3" previd="sm-2"/>` +
		`<failed xmlns="urn:xmpp:sm:3"><item-not-found xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></failed>` +
		`<a xmlns="urn:xmpp:sm:3" h="x"/>` +
		CloseStreamTag
	st, err := ParseStream(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	enabled, err := ParseEnabled(st.Children[0])
	if err != nil || enabled.ID != "sm-1" || !enabled.Resume || enabled.Max != 300 {
		t.Fatalf("unexpected enabled: %+v err=%v", enabled, err)
	}
	resumed, err := ParseResumed(st.Children[1])
	if err != nil || resumed.ID != "sm-1" || !resumed.HasH || resumed.H != 5 {
		t.Fatalf("unexpected resumed: %+v err=%v", resumed, err)
	}
	resumed, err = ParseResumed(st.Children[2])
	if err != nil || resumed.HasH {
		t.Fatalf("expected resumed without h: %+v err=%v", resumed, err)
	}
	failed, err := ParseFailed(st.Children[3])
	if err != nil || failed.Condition != "item-not-found" {
		t.Fatalf("unexpected failed: %+v err=%v", failed, err)
	}
	if _, err := ParseAck(st.Children[4]); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
	if _, err := ParseAck(st.Children[0]); !errors.Is(err, ErrNotControl) {
		t.Fatalf("expected ErrNotControl, got %v", err)
	}
}

func TestServerControlFramesRoundTrip(t *testing.T) {
	testlog.Start(t)
	doc := testStreamOpen +
		Enabled{ID: "sm-1", Resume: true, Max: 300}.ToUnit().String() +
		Resumed{ID: "sm-1", H: 4294967295, HasH: true}.ToUnit().String() +
		Resumed{ID: "sm-2"}.ToUnit().String() +
		Failed{Condition: "item-not-found", H: 7, HasH: true}.ToUnit().String() +
		CloseStreamTag
	st, err := ParseStream(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(st.Children) != 4 {
		t.Fatalf("expected 4 children, got %d", len(st.Children))
	}
	enabled, err := ParseEnabled(st.Children[0])
	if err != nil || enabled != (Enabled{ID: "sm-1", Resume: true, Max: 300}) {
		t.Fatalf("unexpected enabled: %+v err=%v", enabled, err)
	}
	resumed, err := ParseResumed(st.Children[1])
	if err != nil || resumed != (Resumed{ID: "sm-1", H: 4294967295, HasH: true}) {
		t.Fatalf("unexpected resumed: %+v err=%v", resumed, err)
	}
	resumed, err = ParseResumed(st.Children[2])
	if err != nil || resumed != (Resumed{ID: "sm-2"}) {
		t.Fatalf("unexpected resumed without h: %+v err=%v", resumed, err)
	}
	failed, err := ParseFailed(st.Children[3])
	if err != nil || failed != (Failed{Condition: "item-not-found", H: 7, HasH: true}) {
		t.Fatalf("unexpected failed: %+v err=%v", failed, err)
	}
}

func TestEnabledKeepsID(t *testing.T) {
	testlog.Start(t)
	got := Enabled{ID: "sm-1", Resume: true}.ToUnit().String()
	want := `<enabled xmlns="urn:xmpp:sm:3" id="sm-1" resume="true"/>`
	if got != want {
		t.Fatalf("unexpected enabled:\n got=%s\nwant=%s", got, want)
	}
}

func TestNewMessageGeneratesID(t *testing.T) {
	testlog.Start(t)
	a := NewMessage("b@example.com", "x<y")
	b := NewMessage("b@example.com", "")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique generated ids: %q %q", a.ID, b.ID)
	}
	if !a.Tracked() || a.Kind != KindMessage {
		t.Fatalf("message should be tracked")
	}
	if !strings.Contains(a.String(), "<body>x&lt;y</body>") {
		t.Fatalf("body not escaped: %s", a.String())
	}
	if (Request{}).ToUnit().Tracked() {
		t.Fatalf("control frames must not be tracked")
	}
}

func TestOpenStreamHeader(t *testing.T) {
	testlog.Start(t)
	got := OpenStreamHeader("example.com", "1.0", "en")
	want := `<stream:stream xmlns:stream="http://etherx.jabber.org/streams" xmlns="jabber:client" version="1.0" xml:lang="en" to="example.com">`
	if got != want {
		t.Fatalf("unexpected header:\n got=%s\nwant=%s", got, want)
	}
}

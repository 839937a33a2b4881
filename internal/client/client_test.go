package client

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/xmppctl/internal/protocol/session"
	"github.com/danmuck/xmppctl/internal/protocol/stanza"
	"github.com/danmuck/xmppctl/internal/testutil/testlog"
	"github.com/danmuck/xmppctl/internal/testutil/xmpptest"
	"github.com/danmuck/xmppctl/internal/transport/mem"
	"github.com/danmuck/xmppctl/internal/transport/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	eventually = 3 * time.Second
	tick       = 10 * time.Millisecond
)

func testConfig(address string) Config {
	cfg := DefaultConfig()
	cfg.Session.Address = address
	cfg.Session.Server = "example.com"
	cfg.Session.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1, MaxDelay: 50 * time.Millisecond}
	return cfg
}

// runClient starts Run in the background and stops it on cleanup.
func runClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, ws.NewDialer())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(eventually):
			t.Errorf("run did not stop")
		}
		_ = c.Close()
	})
	return c
}

func TestNewRequiresDialer(t *testing.T) {
	testlog.Start(t)
	_, err := New(testConfig("ws://127.0.0.1/xmpp"), nil)
	require.ErrorIs(t, err, ErrDialerRequired)

	_, err = New(Config{}, ws.NewDialer())
	require.ErrorIs(t, err, session.ErrAddressRequired)
}

func TestEnableAndAckRoundTrip(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.NewServer(t)
	c := runClient(t, testConfig(srv.URL()))

	peer := srv.Accept()
	peer.Open("s1", xmpptest.FeaturesSM)
	peer.Expect(`resume="true"`)
	peer.Control(stanza.Enabled{ID: "sess-1", Resume: true}.ToUnit())
	require.Eventually(t, func() bool { return c.Engine().ResumptionID() == "sess-1" }, eventually, tick)

	msg := stanza.NewMessage("peer@example.com", "hello")
	c.Send(msg)
	peer.Expect(`id="` + msg.ID + `"`)
	peer.Expect(`<r xmlns="urn:xmpp:sm:3"`)

	peer.Control(stanza.Ack{H: 1}.ToUnit())
	require.Eventually(t, func() bool {
		st := c.Engine().State()
		return st.Unacked == 0 && st.LastAck == 1 && !st.PendingAck
	}, eventually, tick)

	status := c.Status()
	assert.Equal(t, "stream_open", status.State)
	assert.Equal(t, "s1", status.StreamID)
	assert.Equal(t, "enabled", status.Negotiation)
}

func TestAnswersAckRequestWithHandledCount(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.NewServer(t)
	runClient(t, testConfig(srv.URL()))

	peer := srv.Accept()
	peer.Open("s1", xmpptest.FeaturesSM)
	peer.Enable("sess-1")
	peer.Send(`<message id="in-1" from="peer@example.com"><body>one</body></message>`)
	peer.Send(`<presence from="peer@example.com"/><r xmlns="urn:xmpp:sm:3"/>`)
	peer.Expect(`<a xmlns="urn:xmpp:sm:3" h="2"/>`)
}

func TestNoStreamManagementWithoutFeature(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.NewServer(t)
	c := runClient(t, testConfig(srv.URL()))

	peer := srv.Accept()
	peer.Open("s1", xmpptest.FeaturesNone)
	msg := stanza.NewMessage("peer@example.com", "plain")
	c.Send(msg)
	peer.Expect(`id="` + msg.ID + `"`)
	assert.False(t, c.Engine().Active())
	assert.Empty(t, c.Engine().Unacked())
}

func TestResumeReplaysAfterDrop(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.NewServer(t)
	c := runClient(t, testConfig(srv.URL()))

	peer := srv.Accept()
	peer.Open("s1", xmpptest.FeaturesSM)
	peer.Enable("sess-1")
	require.Eventually(t, func() bool { return c.Engine().ResumptionID() == "sess-1" }, eventually, tick)

	msg := stanza.NewMessage("peer@example.com", "lost in transit")
	c.Send(msg)
	peer.Expect(`id="` + msg.ID + `"`)
	peer.Expect("<r ")
	peer.Drop()

	next := srv.Accept()
	next.Open("s2", xmpptest.FeaturesSM)
	resume := next.Expect("<resume")
	assert.Contains(t, resume, `previd="sess-1"`)
	assert.Contains(t, resume, `h="0"`)

	next.Control(stanza.Resumed{ID: "sess-1", H: 0, HasH: true}.ToUnit())
	next.Expect(`id="` + msg.ID + `"`)
	require.Eventually(t, func() bool { return c.Status().Reconnects == 1 }, eventually, tick)
	assert.Equal(t, "resumed", c.Status().Negotiation)
}

func TestFailedResumeFallsBackToEnable(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.NewServer(t)
	stashPath := filepath.Join(t.TempDir(), "resume.toml")
	stash := session.NewResumeStash()
	stash.Put(session.ResumePoint{Server: "example.com", ResumptionID: "old", Handled: 4})
	require.NoError(t, stash.Save(stashPath))

	cfg := testConfig(srv.URL())
	cfg.StashPath = stashPath
	c := runClient(t, cfg)
	assert.Equal(t, "old", c.Engine().ResumptionID())

	peer := srv.Accept()
	peer.Open("s1", xmpptest.FeaturesSM)
	resume := peer.Expect("<resume")
	assert.Contains(t, resume, `previd="old"`)
	assert.Contains(t, resume, `h="4"`)

	peer.Control(stanza.Failed{Condition: "item-not-found"}.ToUnit())
	peer.Enable("sess-1")

	require.Eventually(t, func() bool {
		loaded, err := session.LoadResumeStash(stashPath)
		if err != nil {
			return false
		}
		p, ok := loaded.Get("example.com")
		return ok && p.ResumptionID == "sess-1"
	}, eventually, tick)
}

func TestSendIQCorrelatesReply(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.NewServer(t)
	c := runClient(t, testConfig(srv.URL()))

	peer := srv.Accept()
	peer.Open("s1", xmpptest.FeaturesNone)

	type result struct {
		u   stanza.Unit
		err error
	}
	results := make(chan result, 2)
	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()

	ping := stanza.NewIQ("get", "example.com", `<ping xmlns="urn:xmpp:ping"/>`)
	ping.ID = "ping-1"
	go func() {
		u, err := c.SendIQ(ctx, ping)
		results <- result{u, err}
	}()
	peer.Expect(`id="ping-1"`)
	peer.Send(`<iq type="result" id="ping-1" from="example.com"/>`)
	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, "ping-1", r.u.ID)

	bad := stanza.NewIQ("set", "example.com", `<query xmlns="jabber:iq:roster"/>`)
	bad.ID = "roster-1"
	go func() {
		u, err := c.SendIQ(ctx, bad)
		results <- result{u, err}
	}()
	peer.Expect(`id="roster-1"`)
	peer.Send(`<iq type="error" id="roster-1"><error type="cancel"/></iq>`)
	r = <-results
	require.ErrorIs(t, r.err, ErrIQError)

	_, err := c.SendIQ(ctx, stanza.NewPresence())
	require.ErrorIs(t, err, ErrNotIQ)
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig("mem://nobody")
	cfg.MaxConnectAttempts = 2
	c, err := New(cfg, mem.NewNetwork())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()
	err = c.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mem.ErrNoListener), "got %v", err)
}

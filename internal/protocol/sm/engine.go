package sm

import (
	"errors"
	"sync"

	"github.com/danmuck/xmppctl/internal/observability"
	"github.com/danmuck/xmppctl/internal/protocol/stanza"
	"github.com/rs/zerolog/log"
)

var ErrNoResumptionID = errors.New("sm: no resumption id to resume")

// Outbound is the transport side of the engine. Send enqueues a unit on the
// ordered output queue; Acknowledged reports a unit the peer confirmed.
// Neither may call back into the Engine synchronously.
type Outbound interface {
	Send(u stanza.Unit)
	Acknowledged(u stanza.Unit)
}

// State is a point-in-time copy of the session bookkeeping.
type State struct {
	ResumptionID string `json:"resumption_id,omitempty"`
	AllowResume  bool   `json:"allow_resume"`
	Active       bool   `json:"active"`
	LastAck      uint32 `json:"last_ack"`
	Handled      uint32 `json:"handled"`
	WindowSize   int    `json:"window_size"`
	Unacked      int    `json:"unacked"`
	PendingAck   bool   `json:"pending_ack"`
}

// Engine owns the stream management state of one logical session. It is
// reused across transport channels so resumption context survives a
// reconnect.
type Engine struct {
	mu          sync.Mutex
	out         Outbound
	id          string
	allowResume bool
	active      bool
	lastAck     uint32
	handled     uint32
	windowSize  int
	unacked     []stanza.Unit
	pendingAck  bool
}

func New(windowSize int, allowResume bool) *Engine {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Engine{
		windowSize:  windowSize,
		allowResume: allowResume,
	}
}

// Enable starts accounting on out and asks the peer to enable stream
// management. The handled count restarts at zero; unacked is left alone.
func (e *Engine) Enable(out Outbound) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = out
	out.Send(stanza.Enable{Resume: e.allowResume}.ToUnit())
	e.handled = 0
	e.active = true
	log.Debug().Bool("resume", e.allowResume).Msg("sm.Engine.Enable")
}

// Resume asks the peer to resume the session identified by the held
// resumption id.
func (e *Engine) Resume(out Outbound) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.id == "" {
		return ErrNoResumptionID
	}
	e.out = out
	out.Send(stanza.Resume{H: e.handled, PrevID: e.id}.ToUnit())
	e.active = true
	log.Debug().Str("previd", e.id).Uint32("h", e.handled).Msg("sm.Engine.Resume")
	return nil
}

// Restore seeds the engine with a resume point kept outside the process.
func (e *Engine) Restore(id string, handled uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.id = id
	e.handled = handled
}

func (e *Engine) OnEnabled(resp stanza.Enabled) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.id = resp.ID
	log.Debug().Str("id", resp.ID).Bool("resume", resp.Resume).Msg("sm.Engine.OnEnabled")
}

// OnResumed records the confirmed id and, when the peer reported h, runs one
// ack-and-replay cycle.
func (e *Engine) OnResumed(resp stanza.Resumed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.id = resp.ID
	log.Debug().Str("id", resp.ID).Bool("has_h", resp.HasH).Uint32("h", resp.H).Msg("sm.Engine.OnResumed")
	if resp.HasH {
		e.process(resp.H, true)
	}
}

// OnFailed resets the session. Unacknowledged units are dropped.
func (e *Engine) OnFailed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.unacked) > 0 {
		log.Warn().Int("dropped", len(e.unacked)).Msg("sm.Engine.OnFailed unacked units abandoned")
	}
	e.active = false
	e.id = ""
	e.lastAck = 0
	e.handled = 0
	e.unacked = nil
	e.pendingAck = false
	observability.SetUnacked(0)
}

// Deactivate suspends accounting until the next Enable or Resume without
// touching the counters.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
}

func (e *Engine) SendAck() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out == nil {
		return
	}
	e.out.Send(stanza.Ack{H: e.handled}.ToUnit())
}

// RequestAck always emits a request; callers that want at most one
// outstanding request check State().PendingAck first.
func (e *Engine) RequestAck() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestAck()
}

func (e *Engine) requestAck() {
	e.pendingAck = true
	if e.out == nil {
		return
	}
	e.out.Send(stanza.Request{}.ToUnit())
	observability.RecordAckRequest()
}

// Process applies a peer-confirmed count h. When resend is set the units
// still unacknowledged afterwards are handed back to the transport and
// re-enter Track as they are written.
func (e *Engine) Process(h uint32, resend bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.process(h, resend)
}

func (e *Engine) process(h uint32, resend bool) {
	numAcked := Delta(h, e.lastAck)
	e.pendingAck = false

	var acked uint32
	for acked < numAcked && len(e.unacked) > 0 {
		u := e.unacked[0]
		e.unacked[0] = stanza.Unit{}
		e.unacked = e.unacked[1:]
		acked++
		if e.out != nil {
			e.out.Acknowledged(u)
		}
	}
	if acked < numAcked {
		log.Warn().
			Uint32("h", h).
			Uint32("last_ack", e.lastAck).
			Uint32("acked", acked).
			Uint32("claimed", numAcked).
			Msg("sm.Engine.process peer acknowledged more than was sent")
	}
	e.lastAck = h
	observability.RecordAcked(int(acked))

	// An ack arriving while a replay batch is still queued is not guarded
	// against; replayed units are counted again when they are re-tracked.
	if resend && len(e.unacked) > 0 {
		replay := e.unacked
		e.unacked = nil
		for _, u := range replay {
			e.out.Send(u)
		}
		observability.RecordResent(len(replay))
		log.Info().Int("units", len(replay)).Uint32("h", h).Msg("sm.Engine.process replaying unacked units")
	}

	if len(e.unacked) >= e.windowSize {
		e.requestAck()
	}
	observability.SetUnacked(len(e.unacked))
}

// Track records an outbound unit. It must be called once per unit, in wire
// order, before the unit is written.
func (e *Engine) Track(u stanza.Unit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active || !u.Tracked() {
		return
	}
	e.unacked = append(e.unacked, u)
	if !e.pendingAck && len(e.unacked) >= e.windowSize {
		e.requestAck()
	}
	observability.SetUnacked(len(e.unacked))
}

// Handle counts one inbound content unit.
func (e *Engine) Handle(stanza.Unit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return
	}
	e.handled = Next(e.handled)
}

func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) ResumptionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Unacked returns a copy of the unacknowledged units, oldest first.
func (e *Engine) Unacked() []stanza.Unit {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]stanza.Unit, len(e.unacked))
	copy(out, e.unacked)
	return out
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		ResumptionID: e.id,
		AllowResume:  e.allowResume,
		Active:       e.active,
		LastAck:      e.lastAck,
		Handled:      e.handled,
		WindowSize:   e.windowSize,
		Unacked:      len(e.unacked),
		PendingAck:   e.pendingAck,
	}
}

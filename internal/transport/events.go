package transport

import (
	"sync"

	"github.com/danmuck/xmppctl/internal/protocol/stanza"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventStreamStarted
	EventStreamEnded
	EventStreamData
	EventStanza
	EventAcknowledged
	EventRawOutgoing
	EventRawIncoming
	// EventElement fires for every inbound unit, keyed by Unit.EventName.
	EventElement
	// EventID fires for every inbound unit carrying an id.
	EventID
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventStreamStarted:
		return "stream:start"
	case EventStreamEnded:
		return "stream:end"
	case EventStreamData:
		return "stream:data"
	case EventStanza:
		return "stanza"
	case EventAcknowledged:
		return "stanza:acked"
	case EventRawOutgoing:
		return "raw:outgoing"
	case EventRawIncoming:
		return "raw:incoming"
	case EventElement:
		return "element"
	case EventID:
		return "id"
	default:
		return "unknown"
	}
}

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind   EventKind
	Name   string
	ID     string
	Unit   stanza.Unit
	Stream stanza.Stream
	Raw    string
	Err    error
}

type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Notifier routes events to registered handlers. Each consumer registers only
// for the kinds, element names or ids it handles.
type Notifier struct {
	mu     sync.Mutex
	next   uint64
	byKind map[EventKind][]subscription
	byName map[string][]subscription
	byID   map[string][]subscription
}

func NewNotifier() *Notifier {
	return &Notifier{
		byKind: make(map[EventKind][]subscription),
		byName: make(map[string][]subscription),
		byID:   make(map[string][]subscription),
	}
}

// On registers fn for every event of kind. The returned func unregisters it.
func (n *Notifier) On(kind EventKind, fn Handler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	id := n.next
	n.byKind[kind] = append(n.byKind[kind], subscription{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.byKind[kind] = without(n.byKind[kind], id)
	}
}

// OnElement registers fn for inbound units whose EventName is name, e.g.
// "message", "sm:a" or "stream:features".
func (n *Notifier) OnElement(name string, fn Handler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	id := n.next
	n.byName[name] = append(n.byName[name], subscription{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.byName[name] = without(n.byName[name], id)
		if len(n.byName[name]) == 0 {
			delete(n.byName, name)
		}
	}
}

// OnID registers fn for the next inbound unit carrying stanzaID. It fires at
// most once.
func (n *Notifier) OnID(stanzaID string, fn Handler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	id := n.next
	n.byID[stanzaID] = append(n.byID[stanzaID], subscription{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.byID[stanzaID] = without(n.byID[stanzaID], id)
		if len(n.byID[stanzaID]) == 0 {
			delete(n.byID, stanzaID)
		}
	}
}

func (n *Notifier) dispatch(ev Event) {
	n.mu.Lock()
	targets := append([]subscription(nil), n.byKind[ev.Kind]...)
	switch ev.Kind {
	case EventElement:
		targets = append(targets, n.byName[ev.Name]...)
	case EventID:
		targets = append(targets, n.byID[ev.ID]...)
		delete(n.byID, ev.ID)
	}
	n.mu.Unlock()

	for _, sub := range targets {
		sub.fn(ev)
	}
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

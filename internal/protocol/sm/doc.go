// Package sm implements XMPP stream management (XEP-0198) accounting for one
// logical session: the unacknowledged outbound queue, the handled count of
// inbound stanzas, the acknowledgment window and resumption bookkeeping.
//
// The Engine performs no I/O. Control frames and acknowledgment notifications
// leave through the Outbound bound by Enable or Resume; the transport calls
// Track for every outbound unit in wire order and Handle for every inbound
// content unit.
//
// Sequence numbers are 32-bit and only ever combined with modular
// arithmetic (see Delta), so a counter wrapping past 2^32-1 needs no special
// handling and a stale or duplicate ack acknowledges nothing.
package sm

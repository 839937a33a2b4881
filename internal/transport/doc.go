// Package transport owns one XMPP client connection over a text channel.
//
// Conn is the ordering authority for stream management: every outbound item
// passes through a single FIFO consumed by one writer goroutine, which calls
// sm.Engine.Track immediately before the item is serialised and written, so
// the engine's unacknowledged queue always matches wire order. Inbound chunks
// are classified by the framer, parsed, and dispatched child by child.
//
// Notifications are delivered in order on a dedicated goroutine, so handlers
// may call back into Conn or the engine.
package transport

// Package stanza defines the units carried inside an XMPP stream: the
// content-bearing stanzas (message, presence, iq), the stream management
// control frames, and the parser that turns one framed stream fragment into
// ordered units.
//
// Units keep their payload as raw inner XML. This package never interprets
// stanza payloads beyond the envelope fields the transport needs (kind, id,
// language).
package stanza

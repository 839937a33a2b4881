// Package session owns client transport configuration and the small
// reliability primitives shared by the XMPP connection and its supervisor.
//
// Ownership boundary:
// - connection/stream header configuration and defaults
// - transport security validation and tls.Config construction
// - reconnect backoff
// - resumption stash (resumption id + handled count kept across channels)
package session

// Package network implements the peer-to-peer transport for the symbol
// game: one TCP connection per peer pair, framed JSON messages, and
// per-connection dispatch.
//
// # Core Components
//
// Connection: one TCP session to exactly one peer. Created by Dial or
// Accept, which both run the hello handshake exchanging identities. After
// Start, a receive goroutine reads frames and dispatches each message to
// the handler registered for its method, or to a pending request when the
// message is a reply carrying a known correlation id.
//
// Store: directory of live connections keyed by peer identity. Adding a
// connection for a peer that already has one replaces it, carrying the old
// handler table over, which is how reconnection works.
//
// Server: accept loop producing Connections from inbound sockets.
//
// # Request/Reply
//
// Requests carry a correlation id. Connection.Expect routes the matching
// reply to a channel, and Connection.Request wraps the common
// send-then-wait pattern with a timeout. Handlers therefore stay
// registered once; responses are routed by id, never by swapping handlers.
package network

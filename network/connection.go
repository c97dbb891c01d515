package network

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"symbolgame/messages"
)

// ErrClosed is returned by operations on a connection that has been
// stopped, locally or by the peer.
var ErrClosed = errors.New("connection closed")

// ErrTimeout is returned when a request/reply exchange expires before the
// peer answers.
var ErrTimeout = errors.New("request timed out")

// Handler processes one inbound message on a connection's receive
// goroutine. Handlers on the same connection never run concurrently with
// each other.
type Handler func(*Connection, messages.Message)

// Connection owns one TCP session to exactly one peer. It performs the
// hello handshake on creation, then Start launches a receive loop that
// decodes frames and dispatches them: replies carrying a known correlation
// id go to the waiting request, everything else to the handler registered
// for the message's method. Messages with no handler are dropped with a
// warning.
type Connection struct {
	conn net.Conn

	// Local is this node's identity, Peer the one the handshake resolved.
	Local messages.Identity
	Peer  messages.Identity

	handlersMu sync.Mutex
	handlers   map[string]Handler

	pendingMu sync.Mutex
	pending   map[string]chan messages.Message

	sendMu sync.Mutex

	closed atomic.Bool
	done   chan struct{}

	logger *slog.Logger
}

// Dial opens an outbound connection to peer and performs the handshake.
func Dial(peer, self messages.Identity) (*Connection, error) {
	conn, err := net.Dial("tcp", peer.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peer.Addr(), err)
	}
	c, err := handshake(conn, self)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", peer.Addr(), err)
	}
	return c, nil
}

// Accept wraps an inbound socket and performs the same handshake from the
// server side. The peer identity comes from its Hello, not from the remote
// socket address: the remote port of an inbound socket is ephemeral and
// says nothing about where the peer listens.
func Accept(conn net.Conn, self messages.Identity) (*Connection, error) {
	c, err := handshake(conn, self)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("inbound handshake: %w", err)
	}
	return c, nil
}

// handshakeTimeout bounds the hello exchange so a peer that connects and
// then goes silent cannot hold the handshake open forever.
const handshakeTimeout = 5 * time.Second

func handshake(conn net.Conn, self messages.Identity) (*Connection, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := messages.WriteFrame(conn, messages.NewHello(self)); err != nil {
		return nil, err
	}
	payload, err := messages.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	msg, err := messages.Decode(payload)
	if err != nil {
		return nil, err
	}
	hello, ok := msg.(*messages.Hello)
	if !ok {
		return nil, fmt.Errorf("expected hello, got %s", msg.Kind())
	}
	return &Connection{
		conn:     conn,
		Local:    self,
		Peer:     hello.Identity,
		handlers: make(map[string]Handler),
		pending:  make(map[string]chan messages.Message),
		done:     make(chan struct{}),
		logger:   slog.Default(),
	}, nil
}

// SetLogger replaces the connection's logger. Call before Start.
func (c *Connection) SetLogger(l *slog.Logger) {
	c.logger = l
}

// SetHandler registers or replaces the handler for a method.
func (c *Connection) SetHandler(method string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = h
}

// Handlers returns a snapshot of the handler table. The store uses it to
// carry protocol wiring over to a replacement connection on reconnect.
func (c *Connection) Handlers() map[string]Handler {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	snapshot := make(map[string]Handler, len(c.handlers))
	for method, h := range c.handlers {
		snapshot[method] = h
	}
	return snapshot
}

// AdoptHandlers installs every given handler that this connection does not
// already have one for.
func (c *Connection) AdoptHandlers(handlers map[string]Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	for method, h := range handlers {
		if _, ok := c.handlers[method]; !ok {
			c.handlers[method] = h
		}
	}
}

// Start launches the receive loop. Register handlers first: frames that
// arrive between Start and SetHandler are dropped.
func (c *Connection) Start() {
	go c.receiveLoop()
}

func (c *Connection) receiveLoop() {
	for {
		payload, err := messages.ReadFrame(c.conn)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Info("connection lost", "peer", c.Peer.String(), "err", err)
				c.Stop()
			}
			return
		}
		msg, err := messages.Decode(payload)
		if err != nil {
			// Protocol error: drop the one message, keep the session.
			c.logger.Warn("dropping undecodable message", "peer", c.Peer.String(), "err", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Connection) dispatch(msg messages.Message) {
	if reply, ok := msg.(messages.Reply); ok {
		if ch := c.takePending(reply.Correlation()); ch != nil {
			select {
			case ch <- msg:
			default:
				c.logger.Warn("reply channel full, dropping", "method", msg.Kind())
			}
			return
		}
	}
	c.handlersMu.Lock()
	h := c.handlers[msg.Kind()]
	c.handlersMu.Unlock()
	if h == nil {
		c.logger.Warn("no handler for message, dropping", "method", msg.Kind(), "peer", c.Peer.String())
		return
	}
	h(c, msg)
}

// Send serializes and writes one frame. Safe to call from any goroutine.
func (c *Connection) Send(msg messages.Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := messages.WriteFrame(c.conn, msg); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Expect routes the reply carrying the given correlation id to ch instead
// of the handler table. A single channel may be shared across several
// Expect calls to fan replies from many peers in; size it accordingly.
func (c *Connection) Expect(id string, ch chan messages.Message) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending[id] = ch
}

// Forget drops the pending entry for id. Late replies fall back to the
// handler table and are dropped there.
func (c *Connection) Forget(id string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, id)
}

func (c *Connection) takePending(id string) chan messages.Message {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ch, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return ch
}

// Request sends msg and blocks until the reply carrying requestID arrives,
// the timeout expires, or the connection stops.
func (c *Connection) Request(msg messages.Message, requestID string, timeout time.Duration) (messages.Message, error) {
	ch := make(chan messages.Message, 1)
	c.Expect(requestID, ch)
	defer c.Forget(requestID)

	if err := c.Send(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v waiting for %s", ErrTimeout, timeout, msg.Kind())
	case <-c.done:
		return nil, ErrClosed
	}
}

// Stop terminates the connection: it marks the connection closed, closes
// the socket to unblock any in-flight read, and releases request waiters
// with ErrClosed. Safe to call more than once.
func (c *Connection) Stop() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.conn.Close()
}

// Closed reports whether Stop has run.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

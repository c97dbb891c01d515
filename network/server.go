package network

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"symbolgame/messages"
)

// Server accepts inbound TCP connections, performs the handshake and hands
// each resulting Connection to the onConnect callback. Handshake and
// callback run on a per-connection goroutine so a silent dialer cannot
// stall further accepts. The callback must register handlers and store the
// connection before returning: the receive loop only starts afterwards, so
// no message can arrive with no handler installed.
type Server struct {
	self      messages.Identity
	onConnect func(*Connection)

	ln     net.Listener
	closed atomic.Bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewServer(self messages.Identity, onConnect func(*Connection)) *Server {
	return &Server{
		self:      self,
		onConnect: onConnect,
		logger:    slog.Default(),
	}
}

// SetLogger replaces the server's logger. Call before Start or Serve.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Start binds the identity's own address and begins accepting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.self.Addr())
	if err != nil {
		return err
	}
	s.Serve(ln)
	return nil
}

// Serve begins accepting on an already-bound listener. Useful when the
// caller listens on port 0 first to learn its own port.
func (s *Server) Serve(ln net.Listener) {
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c, err := Accept(conn, s.self)
			if err != nil {
				s.logger.Warn("rejecting inbound connection", "remote", conn.RemoteAddr().String(), "err", err)
				return
			}
			s.logger.Info("accepted connection", "peer", c.Peer.String())
			s.onConnect(c)
			c.Start()
		}()
	}
}

// Stop closes the listener, unblocking the accept loop, and waits for the
// loop to exit. Established connections are untouched.
func (s *Server) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
}

// Addr returns the listener's bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

package network

import (
	"log/slog"
	"sync"

	"symbolgame/messages"
)

// Store is the directory of live connections, keyed by peer identity.
// The accept loop and protocol goroutines mutate it concurrently, so every
// operation holds the one store lock.
type Store struct {
	mu     sync.Mutex
	conns  map[string]*Connection
	logger *slog.Logger
}

func NewStore() *Store {
	return &Store{
		conns:  make(map[string]*Connection),
		logger: slog.Default(),
	}
}

// Add registers a connection under its peer identity. If an entry already
// exists for that peer this is a reconnection: the old connection's
// handler table is transplanted onto the new one, then the old connection
// is torn down, so protocol wiring survives the replacement.
func (s *Store) Add(c *Connection) {
	key := c.Peer.Key()

	s.mu.Lock()
	old, existed := s.conns[key]
	s.conns[key] = c
	s.mu.Unlock()

	if existed {
		c.AdoptHandlers(old.Handlers())
		old.Stop()
		s.logger.Info("replaced connection on reconnect", "peer", c.Peer.String())
	}
}

// Remove drops the entry for id, if any. The connection is not stopped:
// removal and teardown are separate concerns.
func (s *Store) Remove(id messages.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id.Key())
}

// Get returns the live connection to id, if one exists.
func (s *Store) Get(id messages.Identity) (*Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id.Key()]
	return c, ok
}

// Has reports whether a connection to id is registered.
func (s *Store) Has(id messages.Identity) bool {
	_, ok := s.Get(id)
	return ok
}

// Len returns the number of registered connections.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ConnectTo dials peer, performs the handshake and registers the result.
// The connection is returned unstarted: the caller wires its handlers and
// then calls Start, so no message can arrive before a handler exists.
func (s *Store) ConnectTo(peer, self messages.Identity) (*Connection, error) {
	c, err := Dial(peer, self)
	if err != nil {
		return nil, err
	}
	s.Add(c)
	return c, nil
}

// StopAll tears down every registered connection. Used at shutdown.
func (s *Store) StopAll() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*Connection)
	s.mu.Unlock()

	for _, c := range conns {
		c.Stop()
	}
}

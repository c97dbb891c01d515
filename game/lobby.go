package game

import (
	"fmt"

	"symbolgame/messages"
	"symbolgame/network"
)

// CommandJoin connects to another player's lobby. The dialed peer becomes
// this node's host, which also forfeits this node's own right to host.
func (g *Game) CommandJoin(ip string, port int) error {
	g.mu.Lock()
	if g.phase != PhaseLobby {
		g.mu.Unlock()
		return fmt.Errorf("%w: cannot join in the %s phase", ErrWrongPhase, g.phase)
	}
	if g.isHostLocked() {
		g.mu.Unlock()
		return ErrAlreadyHost
	}
	g.mu.Unlock()

	peer := messages.Identity{IP: ip, Port: port}
	conn, err := g.store.ConnectTo(peer, g.me)
	if err != nil {
		return err
	}
	g.setupHandlers(conn)
	conn.Start()

	g.mu.Lock()
	host := conn.Peer
	g.host = &host
	g.mu.Unlock()

	g.printf("Connected to %s\n", conn.Peer)
	return nil
}

// CommandSymbol claims a marker. The host validates locally against its
// authoritative view; everyone else asks the host and only commits the
// pending symbol on a positive ValidateSymbol.
func (g *Game) CommandSymbol(symbol string) error {
	g.mu.Lock()
	if g.phase != PhaseLobby {
		g.mu.Unlock()
		return fmt.Errorf("%w: can only choose a symbol in the lobby", ErrWrongPhase)
	}
	if g.host == nil {
		g.mu.Unlock()
		return fmt.Errorf("%w: wait for players to join, or join a game first", ErrNoHost)
	}

	if g.isHostLocked() {
		defer g.mu.Unlock()
		if g.symbolTakenLocked(symbol) {
			return ErrSymbolTaken
		}
		g.symbols[g.me.Key()] = symbol
		g.logger.Info("host chose symbol", "symbol", symbol)
		g.printf("Successfully chose symbol: %s\n", symbol)
		return nil
	}

	g.pendingSymbol = symbol
	host := *g.host
	g.mu.Unlock()

	conn, ok := g.store.Get(host)
	if !ok {
		return fmt.Errorf("no connection to host %s", host)
	}

	requestID := messages.NewRequestID()
	g.logger.Info("sending symbol choice to host", "symbol", symbol)
	g.printf("Waiting for symbol validation from host...\n")
	reply, err := conn.Request(messages.NewChooseSymbol(requestID, symbol), requestID, g.requestTimeout)

	g.mu.Lock()
	defer g.mu.Unlock()
	pending := g.pendingSymbol
	g.pendingSymbol = ""
	if err != nil {
		return fmt.Errorf("symbol validation: %w", err)
	}
	verdict, ok := reply.(*messages.ValidateSymbol)
	if !ok {
		return fmt.Errorf("unexpected reply %s to symbol choice", reply.Kind())
	}
	if !verdict.IsValid {
		return ErrSymbolTaken
	}
	g.symbols[g.me.Key()] = pending
	g.printf("Successfully chose symbol: %s\n", pending)
	return nil
}

func (g *Game) symbolTakenLocked(symbol string) bool {
	for _, taken := range g.symbols {
		if taken == symbol {
			return true
		}
	}
	return false
}

// onChooseSymbol is the host-side validation gate: a symbol is recorded
// for the requester only if no player holds it yet.
func (g *Game) onChooseSymbol(c *network.Connection, msg messages.Message) {
	req := msg.(*messages.ChooseSymbol)

	g.mu.Lock()
	isValid := g.isHostLocked() && !g.symbolTakenLocked(req.Symbol)
	if isValid {
		g.symbols[c.Peer.Key()] = req.Symbol
	}
	g.mu.Unlock()

	g.logger.Info("symbol choice", "peer", c.Peer.String(), "symbol", req.Symbol, "valid", isValid)
	if err := c.Send(messages.NewValidateSymbol(req.RequestID, isValid)); err != nil {
		g.logger.Warn("failed to send symbol verdict", "peer", c.Peer.String(), "err", err)
	}
	if isValid {
		g.notify()
	}
}

package game

import (
	"fmt"

	"symbolgame/messages"
	"symbolgame/network"
)

// CommandResync fetches the host's authoritative game state wholesale and
// replaces the local state with it, then reconnects to every known peer.
// A timeout is a hard failure: local state is unknown at that point and
// the caller must know.
func (g *Game) CommandResync() error {
	g.mu.Lock()
	if g.phase == PhaseLobby {
		g.mu.Unlock()
		return fmt.Errorf("%w: there is no game state to resync before the game starts", ErrWrongPhase)
	}
	if g.host == nil || g.isHostLocked() {
		g.mu.Unlock()
		return fmt.Errorf("%w: connect to a host first", ErrNoHost)
	}
	host := *g.host
	g.mu.Unlock()

	conn, ok := g.store.Get(host)
	if !ok {
		// The host edge itself may be the lost one.
		var err error
		conn, err = g.store.ConnectTo(host, g.me)
		if err != nil {
			return fmt.Errorf("reconnecting to host: %w", err)
		}
		g.setupHandlers(conn)
		conn.Start()
	}

	g.printf("Resynchronizing game state with host...\n")
	requestID := messages.NewRequestID()
	reply, err := conn.Request(messages.NewRequestGameState(requestID), requestID, g.requestTimeout)
	if err != nil {
		return fmt.Errorf("resync with %s failed: %w", host, err)
	}
	state, ok := reply.(*messages.GameState)
	if !ok {
		return fmt.Errorf("unexpected reply %s to game state request", reply.Kind())
	}

	g.applyGameState(state)
	g.connectToPlayers(true)
	g.printf("Game state synchronized from host!\n")
	g.notify()
	return nil
}

// applyGameState replaces local state with the host's snapshot. The
// snapshot carries no phase: it is derived — a winner or a full board
// means the game ended, otherwise it is running.
func (g *Game) applyGameState(state *messages.GameState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.players = append([]messages.Identity(nil), state.Players...)
	g.symbols = make(map[string]string, len(state.Players))
	g.playerIDs = make(map[string]int, len(state.Players))
	for i, player := range state.Players {
		if i < len(state.Symbols) {
			g.symbols[player.Key()] = state.Symbols[i]
		}
		if i < len(state.PlayerIDs) {
			g.playerIDs[player.Key()] = state.PlayerIDs[i]
		}
	}
	g.boardSize = state.BoardSize
	g.board = copyBoard(state.Board)
	g.turnOrder = append([]int(nil), state.TurnOrder...)
	g.currentTurn = state.CurrentTurn
	g.winnerID = state.WinnerID
	g.winner = state.Winner

	switch {
	case state.WinnerID != 0 || state.Winner != nil:
		g.phase = PhaseEnd
	case state.BoardSize > 0 && isBoardFull(g.board):
		g.phase = PhaseEnd
	default:
		g.phase = PhaseGame
	}
}

// onRequestGameState serves a full snapshot to a rejoining peer.
func (g *Game) onRequestGameState(c *network.Connection, msg messages.Message) {
	req := msg.(*messages.RequestGameState)

	g.mu.Lock()
	state := &messages.GameState{
		Method:      messages.MethodGameState,
		RequestID:   req.RequestID,
		Players:     append([]messages.Identity(nil), g.players...),
		Symbols:     make([]string, len(g.players)),
		PlayerIDs:   make([]int, len(g.players)),
		BoardSize:   g.boardSize,
		Board:       copyBoard(g.board),
		TurnOrder:   append([]int(nil), g.turnOrder...),
		CurrentTurn: g.currentTurn,
		WinnerID:    g.winnerID,
		Winner:      g.winner,
	}
	for i, player := range g.players {
		state.Symbols[i] = g.symbols[player.Key()]
		state.PlayerIDs[i] = g.playerIDs[player.Key()]
	}
	g.mu.Unlock()

	g.logger.Info("sending game state", "peer", c.Peer.String())
	if err := c.Send(state); err != nil {
		g.logger.Warn("failed to send game state", "peer", c.Peer.String(), "err", err)
	}
}

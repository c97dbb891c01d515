package game

import (
	"fmt"
	"strings"
	"time"

	"symbolgame/messages"
	"symbolgame/network"
)

// CommandStart moves the lobby into the game phase (host only). The host
// assigns player ids 1..N in roster order, shuffles the turn order, and
// broadcasts the authoritative StartGame roster to every player before
// applying it locally.
func (g *Game) CommandStart() error {
	g.mu.Lock()
	if g.phase != PhaseLobby {
		g.mu.Unlock()
		return fmt.Errorf("%w: cannot start in the %s phase", ErrWrongPhase, g.phase)
	}
	if !g.isHostLocked() {
		g.mu.Unlock()
		return ErrNotHost
	}
	if len(g.players) < 2 {
		g.mu.Unlock()
		return ErrNotEnough
	}
	if len(g.symbols) != len(g.players) {
		g.mu.Unlock()
		return ErrSymbolsMissing
	}

	for i, player := range g.players {
		g.playerIDs[player.Key()] = i + 1
	}
	turnOrder := make([]int, len(g.players))
	for i := range turnOrder {
		turnOrder[i] = i + 1
	}
	g.rng.Shuffle(len(turnOrder), func(i, j int) {
		turnOrder[i], turnOrder[j] = turnOrder[j], turnOrder[i]
	})

	boardSize := len(g.players) + 1
	if g.boardSizeOverride > 0 {
		boardSize = g.boardSizeOverride
	}

	roster := make([]messages.PlayerInfo, 0, len(g.players))
	for _, player := range g.players {
		name := player.Name
		if name == "" {
			name = fmt.Sprintf("Player%d", g.playerIDs[player.Key()])
		}
		roster = append(roster, messages.PlayerInfo{
			ID:      g.playerIDs[player.Key()],
			Name:    name,
			Address: player.Addr(),
			Symbol:  g.symbols[player.Key()],
		})
	}
	others := make([]messages.Identity, 0, len(g.players)-1)
	for _, player := range g.players {
		if !player.Equal(g.me) {
			others = append(others, player)
		}
	}
	g.mu.Unlock()

	msg := messages.NewStartGame(roster, boardSize, turnOrder)
	for _, player := range others {
		conn, ok := g.store.Get(player)
		if !ok {
			return fmt.Errorf("no connection to %s", player)
		}
		if err := conn.Send(msg); err != nil {
			return fmt.Errorf("sending start to %s: %w", player, err)
		}
	}
	return g.applyStartGame(msg)
}

// onStartGame handles the host's StartGame broadcast on a non-host node.
func (g *Game) onStartGame(c *network.Connection, msg messages.Message) {
	start := msg.(*messages.StartGame)
	if err := g.applyStartGame(start); err != nil {
		g.logger.Error("start game failed", "err", err)
		g.printf("Failed to start game: %v\n", err)
		return
	}
	g.notify()
}

// applyStartGame adopts the authoritative roster and opens the game phase.
// The roster order replaces the local player list wholesale: the host's
// view wins. Afterwards the node dials every peer with a smaller id than
// its own (smaller dials nobody twice) and waits, bounded, for the rest of
// the topology to dial in.
func (g *Game) applyStartGame(msg *messages.StartGame) error {
	g.mu.Lock()
	g.phase = PhaseGame
	g.boardSize = msg.BoardSize
	g.board = newBoard(msg.BoardSize)

	players := make([]messages.Identity, 0, len(msg.Players))
	for _, info := range msg.Players {
		player, err := parseAddress(info.Address)
		if err != nil {
			g.mu.Unlock()
			return err
		}
		player.Name = info.Name
		players = append(players, player)
		g.playerIDs[player.Key()] = info.ID
		g.symbols[player.Key()] = info.Symbol
	}
	g.players = players
	g.turnOrder = append([]int(nil), msg.TurnOrder...)
	g.currentTurn = 0
	g.mu.Unlock()

	g.connectToPlayers(false)
	if err := g.waitForPeers(); err != nil {
		return err
	}

	g.printf("\nGame started!\n\nPlayers and their symbols:\n")
	for _, info := range msg.Players {
		g.printf("- Player %d: %s (%s)\n", info.ID, info.Name, info.Symbol)
	}
	order := make([]string, len(msg.TurnOrder))
	for i, id := range msg.TurnOrder {
		order[i] = fmt.Sprintf("%d", id)
	}
	g.printf("\nTurn order: %s\n", strings.Join(order, " -> "))
	g.printf("Board size: %dx%d\n", msg.BoardSize, msg.BoardSize)
	g.renderBoard()
	g.announceTurn()
	return nil
}

// connectToPlayers dials missing peers. During normal start only peers
// with a smaller id are dialed, so each pair connects exactly once. After
// a resync every missing peer is dialed: a reconnect may have lost edges
// in either direction.
func (g *Game) connectToPlayers(reconnect bool) {
	g.mu.Lock()
	myID := g.playerIDs[g.me.Key()]
	players := make([]messages.Identity, len(g.players))
	copy(players, g.players)
	ids := make(map[string]int, len(g.playerIDs))
	for k, v := range g.playerIDs {
		ids[k] = v
	}
	g.mu.Unlock()

	for _, player := range players {
		if player.Equal(g.me) {
			continue
		}
		if !reconnect && ids[player.Key()] >= myID {
			continue
		}
		if g.store.Has(player) {
			continue
		}
		conn, err := g.store.ConnectTo(player, g.me)
		if err != nil {
			g.logger.Warn("failed to connect to player", "peer", player.String(), "err", err)
			continue
		}
		g.setupHandlers(conn)
		conn.Start()
	}
}

// waitForPeers blocks until a connection to every other player exists, or
// the connect wait expires. Expiry is an error: an incomplete topology
// would wedge the move protocol later, fail loudly now instead.
func (g *Game) waitForPeers() error {
	deadline := time.Now().Add(g.connectWait)
	for {
		missing := g.missingPeers()
		if len(missing) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			names := make([]string, len(missing))
			for i, p := range missing {
				names[i] = p.String()
			}
			return fmt.Errorf("peers did not connect within %v: %s", g.connectWait, strings.Join(names, ", "))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (g *Game) missingPeers() []messages.Identity {
	g.mu.Lock()
	players := make([]messages.Identity, len(g.players))
	copy(players, g.players)
	g.mu.Unlock()

	var missing []messages.Identity
	for _, player := range players {
		if player.Equal(g.me) {
			continue
		}
		if !g.store.Has(player) {
			missing = append(missing, player)
		}
	}
	return missing
}

// announceTurn prints whose turn it is.
func (g *Game) announceTurn() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.phase != PhaseGame {
		return
	}
	if g.isMyTurnLocked() {
		g.printf("\nIt's your turn! Use 'move <row> <col>' to make a move.\n")
		return
	}
	if next, ok := g.playerByIDLocked(g.turnOrder[g.currentTurn]); ok {
		g.printf("\nIt's %s's turn!\n", next.Name)
	}
}

package game

import (
	"fmt"
	"time"

	"symbolgame/messages"
	"symbolgame/network"
)

// CommandMove runs the move-agreement protocol for a move at (row, col):
// local precondition checks, ProposeMove to every peer, wait for all
// ValidateMove replies with bounded retries, then apply locally and
// broadcast CommitMove. A single rejection aborts with no mutation
// anywhere; exhausted retries abandon the move with no partial commit.
func (g *Game) CommandMove(row, col int) error {
	if !g.moveBusy.CompareAndSwap(false, true) {
		return ErrMoveInFlight
	}
	defer g.moveBusy.Store(false)

	g.mu.Lock()
	if g.phase != PhaseGame {
		g.mu.Unlock()
		return fmt.Errorf("%w: cannot move in the %s phase", ErrWrongPhase, g.phase)
	}
	if !g.isMyTurnLocked() {
		g.mu.Unlock()
		return ErrNotYourTurn
	}
	if row < 0 || row >= g.boardSize || col < 0 || col >= g.boardSize {
		g.mu.Unlock()
		return fmt.Errorf("%w: must be between 0 and %d", ErrOutOfBounds, g.boardSize-1)
	}
	if g.board[row][col] != "" {
		g.mu.Unlock()
		return ErrCellOccupied
	}
	mySymbol := g.symbols[g.me.Key()]
	myID := g.playerIDs[g.me.Key()]
	peers := make([]messages.Identity, 0, len(g.players)-1)
	for _, p := range g.players {
		if !p.Equal(g.me) {
			peers = append(peers, p)
		}
	}
	g.mu.Unlock()

	validations, err := g.collectValidations(peers, row, col)
	if err != nil {
		return err
	}

	for peer, v := range validations {
		if !v.IsValid {
			g.logger.Info("move rejected", "peer", peer.String(), "location", [2]int{row, col})
			return fmt.Errorf("%w: %s", ErrMoveRejected, peer)
		}
	}

	var gameResult string
	var winningPlayer int
	for _, v := range validations {
		if v.GameResult != "" {
			gameResult = v.GameResult
			winningPlayer = v.WinningPlayer
			break
		}
	}

	g.mu.Lock()
	g.board[row][col] = mySymbol
	if gameResult != "" {
		g.phase = PhaseEnd
		if winningPlayer != 0 {
			g.winnerID = winningPlayer
			if winner, ok := g.playerByIDLocked(winningPlayer); ok {
				g.winner = &winner
			}
		}
	} else {
		g.currentTurn = (g.currentTurn + 1) % len(g.turnOrder)
	}
	g.mu.Unlock()

	commit := messages.NewCommitMove(row, col, mySymbol, myID)
	for _, peer := range peers {
		conn, ok := g.store.Get(peer)
		if !ok {
			g.logger.Warn("no connection for commit", "peer", peer.String())
			continue
		}
		if err := conn.Send(commit); err != nil {
			g.logger.Warn("commit send failed", "peer", peer.String(), "err", err)
		}
	}

	g.printf("Move successful! After your move, the board is:\n")
	g.renderBoard()
	switch {
	case gameResult == messages.ResultWin:
		if winner, ok := g.Winner(); ok {
			g.printf("\nGame Over! %s wins!\n", winner.Name)
		} else {
			g.printf("\nGame Over!\n")
		}
	case gameResult == messages.ResultTie:
		g.printf("\nGame Over! It's a tie!\n")
	default:
		g.announceTurn()
	}
	g.notify()
	return nil
}

// collectValidations broadcasts the proposal and gathers one ValidateMove
// per peer. Each peer gets its own correlation id; all replies fan into
// one channel. On a wait expiry the proposal is re-sent, same ids, to the
// peers that have not answered yet, up to the retry limit.
func (g *Game) collectValidations(peers []messages.Identity, row, col int) (map[messages.Identity]*messages.ValidateMove, error) {
	type outstanding struct {
		conn *network.Connection
		peer messages.Identity
	}

	replies := make(chan messages.Message, len(peers))
	waiting := make(map[string]outstanding, len(peers))
	defer func() {
		for id, o := range waiting {
			o.conn.Forget(id)
		}
	}()

	for _, peer := range peers {
		conn, ok := g.store.Get(peer)
		if !ok {
			return nil, fmt.Errorf("no connection to %s", peer)
		}
		requestID := messages.NewRequestID()
		conn.Expect(requestID, replies)
		waiting[requestID] = outstanding{conn: conn, peer: peer}
		if err := conn.Send(messages.NewProposeMove(requestID, row, col)); err != nil {
			return nil, fmt.Errorf("proposing to %s: %w", peer, err)
		}
		g.logger.Info("sent move proposal", "peer", peer.String(), "location", [2]int{row, col})
	}

	validations := make(map[messages.Identity]*messages.ValidateMove, len(peers))
	attempt := 0
	timer := time.NewTimer(g.validationWait)
	defer timer.Stop()

	for len(waiting) > 0 {
		select {
		case msg := <-replies:
			v, ok := msg.(*messages.ValidateMove)
			if !ok {
				continue
			}
			o, known := waiting[v.RequestID]
			if !known {
				continue
			}
			delete(waiting, v.RequestID)
			validations[o.peer] = v
			g.logger.Info("received validation", "peer", o.peer.String(), "valid", v.IsValid)
		case <-timer.C:
			attempt++
			if attempt > g.validationRetries {
				return nil, fmt.Errorf("%w: %d peers did not validate", network.ErrTimeout, len(waiting))
			}
			for id, o := range waiting {
				g.logger.Info("retrying move proposal", "peer", o.peer.String(), "attempt", attempt)
				if err := o.conn.Send(messages.NewProposeMove(id, row, col)); err != nil {
					g.logger.Warn("retry send failed", "peer", o.peer.String(), "err", err)
				}
			}
			timer.Reset(g.validationWait)
		}
	}
	return validations, nil
}

// onProposeMove re-derives the proposer's checks against this node's own
// board copy. A valid move is applied speculatively to evaluate win/tie,
// then reverted: the authoritative board only changes on CommitMove.
func (g *Game) onProposeMove(c *network.Connection, msg messages.Message) {
	proposal := msg.(*messages.ProposeMove)
	row, col := proposal.Location[0], proposal.Location[1]

	g.mu.Lock()
	valid := g.phase == PhaseGame &&
		row >= 0 && row < g.boardSize &&
		col >= 0 && col < g.boardSize &&
		g.board[row][col] == ""

	var gameResult string
	var winningPlayer int
	if valid {
		symbol := g.symbols[c.Peer.Key()]
		g.board[row][col] = symbol
		if checkWin(g.board, row, col, symbol) {
			gameResult = messages.ResultWin
			winningPlayer = g.playerIDs[c.Peer.Key()]
		} else if isBoardFull(g.board) {
			gameResult = messages.ResultTie
		}
		g.board[row][col] = ""
	}
	g.mu.Unlock()

	g.logger.Info("validated proposal", "peer", c.Peer.String(),
		"location", proposal.Location, "valid", valid, "result", gameResult)
	reply := messages.NewValidateMove(proposal.RequestID, valid, gameResult, winningPlayer)
	if err := c.Send(reply); err != nil {
		g.logger.Warn("failed to send validation", "peer", c.Peer.String(), "err", err)
	}
}

// onCommitMove applies an agreed move. This is the only path by which a
// non-proposing peer's board changes. The terminal evaluation is re-run
// here so every peer reaches the end phase on its own copy.
func (g *Game) onCommitMove(c *network.Connection, msg messages.Message) {
	commit := msg.(*messages.CommitMove)
	row, col := commit.Location[0], commit.Location[1]

	g.mu.Lock()
	if g.phase != PhaseGame {
		g.mu.Unlock()
		g.logger.Warn("dropping commit outside game phase", "peer", c.Peer.String())
		return
	}
	if row < 0 || row >= g.boardSize || col < 0 || col >= g.boardSize {
		g.mu.Unlock()
		g.logger.Warn("dropping commit with out-of-bounds location",
			"peer", c.Peer.String(), "location", commit.Location)
		return
	}
	g.board[row][col] = commit.Symbol
	ended := false
	if checkWin(g.board, row, col, commit.Symbol) {
		g.phase = PhaseEnd
		g.winnerID = commit.PlayerID
		if winner, ok := g.playerByIDLocked(commit.PlayerID); ok {
			g.winner = &winner
		}
		ended = true
	} else if isBoardFull(g.board) {
		g.phase = PhaseEnd
		ended = true
	}
	if !ended {
		g.currentTurn = (g.currentTurn + 1) % len(g.turnOrder)
	}
	winner := g.winner
	g.mu.Unlock()

	g.renderBoard()
	if ended {
		if winner != nil {
			g.printf("\nGame Over! %s wins!\n", winner.Name)
		} else {
			g.printf("\nGame Over! It's a tie!\n")
		}
	} else {
		g.announceTurn()
	}
	g.notify()
}

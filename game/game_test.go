package game

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"symbolgame/messages"
	"symbolgame/network"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNode(t *testing.T, name string, opts ...Option) *Game {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	me := messages.Identity{
		IP:   "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		Name: name,
	}
	opts = append([]Option{WithOutput(io.Discard), WithLogger(quietLogger())}, opts...)
	g := New(me, opts...)
	g.Serve(ln)
	t.Cleanup(g.Stop)
	return g
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func join(t *testing.T, g, host *Game) {
	t.Helper()
	if err := g.CommandJoin(host.Me().IP, host.Me().Port); err != nil {
		t.Fatalf("%s joining %s: %v", g.Me().Name, host.Me().Name, err)
	}
}

func chooseSymbol(t *testing.T, g *Game, symbol string) {
	t.Helper()
	if err := g.CommandSymbol(symbol); err != nil {
		t.Fatalf("%s choosing %q: %v", g.Me().Name, symbol, err)
	}
}

func TestFirstConnectorBecomesHost(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")

	join(t, b, a)

	waitFor(t, "a to become host", a.IsHost)
	waitFor(t, "a to register b", func() bool { return len(a.Players()) == 2 })
	if b.IsHost() {
		t.Fatalf("joining node must not host")
	}
	if host, ok := b.Host(); !ok || !host.Equal(a.Me()) {
		t.Fatalf("b did not adopt a as host")
	}
	if err := a.CommandJoin(b.Me().IP, b.Me().Port); !errors.Is(err, ErrAlreadyHost) {
		t.Fatalf("host joining elsewhere: expected ErrAlreadyHost, got %v", err)
	}
}

func TestSymbolNegotiationKeepsSymbolsUnique(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")
	c := newTestNode(t, "c")

	join(t, b, a)
	waitFor(t, "a to become host", a.IsHost)
	join(t, c, a)
	waitFor(t, "a to register c", func() bool { return len(a.Players()) == 3 })

	chooseSymbol(t, b, "X")
	if err := a.CommandSymbol("X"); !errors.Is(err, ErrSymbolTaken) {
		t.Fatalf("host taking a claimed symbol: expected ErrSymbolTaken, got %v", err)
	}
	chooseSymbol(t, a, "O")
	if err := c.CommandSymbol("X"); !errors.Is(err, ErrSymbolTaken) {
		t.Fatalf("peer taking a claimed symbol: expected ErrSymbolTaken, got %v", err)
	}
	if _, ok := c.Symbol(c.Me()); ok {
		t.Fatalf("rejected symbol must not be recorded on the requester")
	}
	chooseSymbol(t, c, "Z")

	seen := make(map[string]messages.Identity)
	for _, p := range a.Players() {
		symbol, ok := a.Symbol(p)
		if !ok {
			t.Fatalf("host has no symbol for %s", p)
		}
		if prev, dup := seen[symbol]; dup {
			t.Fatalf("symbol %q recorded for both %s and %s", symbol, prev, p)
		}
		seen[symbol] = p
	}
}

func TestStartPreconditions(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")

	// No host known yet.
	if err := a.CommandStart(); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	join(t, b, a)
	waitFor(t, "a to become host", a.IsHost)

	if err := b.CommandStart(); !errors.Is(err, ErrNotHost) {
		t.Fatalf("non-host start: expected ErrNotHost, got %v", err)
	}
	if err := a.CommandStart(); !errors.Is(err, ErrSymbolsMissing) {
		t.Fatalf("start without symbols: expected ErrSymbolsMissing, got %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if a.Phase() != PhaseLobby || b.Phase() != PhaseLobby {
		t.Fatalf("failed start must leave both nodes in the lobby")
	}

	// Fewer than two players is unreachable through the network path, the
	// host only exists once somebody connected. Checked directly.
	solo := newTestNode(t, "solo")
	solo.mu.Lock()
	me := solo.me
	solo.host = &me
	solo.mu.Unlock()
	if err := solo.CommandStart(); !errors.Is(err, ErrNotEnough) {
		t.Fatalf("solo start: expected ErrNotEnough, got %v", err)
	}
}

// startTwoPlayerGame wires a hosted 4x4 game with symbols X and Y and
// returns the nodes in turn order.
func startTwoPlayerGame(t *testing.T, extra ...Option) (first, second *Game) {
	t.Helper()
	opts := append([]Option{WithBoardSize(4)}, extra...)
	a := newTestNode(t, "a", opts...)
	b := newTestNode(t, "b", extra...)

	join(t, b, a)
	waitFor(t, "a to become host", a.IsHost)
	chooseSymbol(t, a, "X")
	chooseSymbol(t, b, "Y")

	if err := a.CommandStart(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "b to enter game phase", func() bool { return b.Phase() == PhaseGame })

	current, ok := a.CurrentPlayer()
	if !ok {
		t.Fatalf("no current player after start")
	}
	if current.Equal(a.Me()) {
		return a, b
	}
	return b, a
}

func TestFourInARowWinsAcrossBothNodes(t *testing.T) {
	p, q := startTwoPlayerGame(t)
	pSymbol, _ := p.Symbol(p.Me())
	pID, _ := p.PlayerID(p.Me())

	for i := 0; i < 4; i++ {
		waitFor(t, "proposer's turn", func() bool {
			current, ok := p.CurrentPlayer()
			return ok && current.Equal(p.Me())
		})
		if err := p.CommandMove(0, i); err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
		col := i
		waitFor(t, "commit to reach the other node", func() bool {
			return q.Board()[0][col] == pSymbol
		})
		if i < 3 {
			waitFor(t, "responder's turn", func() bool {
				current, ok := q.CurrentPlayer()
				return ok && current.Equal(q.Me())
			})
			if err := q.CommandMove(1, i); err != nil {
				t.Fatalf("counter move %d: %v", i, err)
			}
		}
	}

	if p.Phase() != PhaseEnd {
		t.Fatalf("proposer not in end phase after winning move")
	}
	waitFor(t, "responder to reach end phase", func() bool { return q.Phase() == PhaseEnd })
	for _, g := range []*Game{p, q} {
		winner, ok := g.Winner()
		if !ok || !winner.Equal(p.Me()) {
			t.Fatalf("%s: wrong winner %v (ok=%v)", g.Me().Name, winner, ok)
		}
		if id, _ := g.PlayerID(winner); id != pID {
			t.Fatalf("%s: winner id %d, expected %d", g.Me().Name, id, pID)
		}
	}
}

func TestTurnAdvancesExactlyOncePerCommit(t *testing.T) {
	p, q := startTwoPlayerGame(t)

	turnIndex := func(g *Game) int {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.currentTurn
	}
	if turnIndex(p) != 0 || turnIndex(q) != 0 {
		t.Fatalf("turn index must start at 0")
	}

	// A move out of turn is rejected locally and advances nothing.
	if err := q.CommandMove(0, 0); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if turnIndex(p) != 0 || turnIndex(q) != 0 {
		t.Fatalf("rejected proposal must not advance the turn")
	}

	if err := p.CommandMove(2, 2); err != nil {
		t.Fatalf("move: %v", err)
	}
	if turnIndex(p) != 1 {
		t.Fatalf("proposer turn index %d after one commit", turnIndex(p))
	}
	waitFor(t, "responder to apply the commit", func() bool { return turnIndex(q) == 1 })
}

func TestLocalPreconditionsRejectWithoutNetwork(t *testing.T) {
	p, _ := startTwoPlayerGame(t)

	if err := p.CommandMove(-1, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if err := p.CommandMove(0, 4); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if err := p.CommandMove(1, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, "proposer's next turn", func() bool {
		current, ok := p.CurrentPlayer()
		return ok && current.Equal(p.Me())
	})
}

func TestSingleRejectionAbortsWithoutMutation(t *testing.T) {
	a := newTestNode(t, "a", WithBoardSize(4))
	b := newTestNode(t, "b")
	c := newTestNode(t, "c")

	join(t, b, a)
	waitFor(t, "a to become host", a.IsHost)
	join(t, c, a)
	waitFor(t, "a to register c", func() bool { return len(a.Players()) == 3 })
	chooseSymbol(t, a, "A")
	chooseSymbol(t, b, "B")
	chooseSymbol(t, c, "C")

	if err := a.CommandStart(); err != nil {
		t.Fatalf("start: %v", err)
	}
	nodes := map[string]*Game{a.Me().Key(): a, b.Me().Key(): b, c.Me().Key(): c}
	for _, g := range nodes {
		node := g
		waitFor(t, "all nodes in game phase", func() bool { return node.Phase() == PhaseGame })
	}

	current, _ := a.CurrentPlayer()
	proposer := nodes[current.Key()]
	var victim *Game
	for key, g := range nodes {
		if key != current.Key() {
			victim = g
			break
		}
	}

	// Diverge the victim's board copy so it must reject the proposal.
	victim.mu.Lock()
	victim.board[0][0] = "Z"
	victim.mu.Unlock()

	if err := proposer.CommandMove(0, 0); !errors.Is(err, ErrMoveRejected) {
		t.Fatalf("expected ErrMoveRejected, got %v", err)
	}
	if proposer.Board()[0][0] != "" {
		t.Fatalf("rejected move mutated the proposer's board")
	}
	proposer.mu.Lock()
	turn := proposer.currentTurn
	proposer.mu.Unlock()
	if turn != 0 {
		t.Fatalf("rejected move advanced the turn")
	}
}

func TestValidationTimeoutAbandonsMove(t *testing.T) {
	fast := WithValidation(50*time.Millisecond, 1)
	p, q := startTwoPlayerGame(t, fast)

	// Silence the responder: proposals reach it but are never answered.
	conn, ok := q.store.Get(p.Me())
	if !ok {
		t.Fatalf("responder has no connection to proposer")
	}
	conn.SetHandler(messages.MethodProposeMove, func(*network.Connection, messages.Message) {})

	err := p.CommandMove(0, 0)
	if !errors.Is(err, network.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if p.Board()[0][0] != "" {
		t.Fatalf("timed out move mutated the board")
	}
	if q.Board()[0][0] != "" {
		t.Fatalf("timed out move leaked a commit")
	}
}

func TestMoveReentrancyGuard(t *testing.T) {
	p, _ := startTwoPlayerGame(t)
	p.moveBusy.Store(true)
	defer p.moveBusy.Store(false)
	if err := p.CommandMove(0, 0); !errors.Is(err, ErrMoveInFlight) {
		t.Fatalf("expected ErrMoveInFlight, got %v", err)
	}
}

func TestResyncRejectedInLobby(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")

	join(t, b, a)
	waitFor(t, "a to become host", a.IsHost)

	if err := b.CommandResync(); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("lobby resync: expected ErrWrongPhase, got %v", err)
	}
	if b.Phase() != PhaseLobby {
		t.Fatalf("lobby resync moved phase to %q", b.Phase())
	}
}

func TestCommitWithBadLocationDropped(t *testing.T) {
	p, q := startTwoPlayerGame(t)

	conn, ok := p.store.Get(q.Me())
	if !ok {
		t.Fatalf("no connection between the nodes")
	}
	for _, loc := range [][2]int{{4, 0}, {0, 4}, {-1, 0}, {0, -1}} {
		p.onCommitMove(conn, messages.NewCommitMove(loc[0], loc[1], "Y", 2))
	}

	if p.Phase() != PhaseGame {
		t.Fatalf("bad commits changed the phase to %q", p.Phase())
	}
	for _, row := range p.Board() {
		for _, cell := range row {
			if cell != "" {
				t.Fatalf("bad commit marked a cell")
			}
		}
	}
	p.mu.Lock()
	turn := p.currentTurn
	p.mu.Unlock()
	if turn != 0 {
		t.Fatalf("bad commit advanced the turn")
	}

	// The session still works afterwards.
	first, _ := p.CurrentPlayer()
	mover := p
	if first.Equal(q.Me()) {
		mover = q
	}
	if err := mover.CommandMove(0, 0); err != nil {
		t.Fatalf("move after dropped commits: %v", err)
	}
}

// Known gap, not covered here: a commit broadcast that lands between the
// snapshot reply and the reconnect is lost for the resyncing node. Running
// resync again recovers; closing the window would need commit sequencing.
func TestResyncReplacesStateWholesale(t *testing.T) {
	p, q := startTwoPlayerGame(t)
	if err := p.CommandMove(3, 3); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, "commit to reach the other node", func() bool {
		sym, _ := p.Symbol(p.Me())
		return q.Board()[3][3] == sym
	})

	// One node is the host; the other can resync from it.
	client := p
	if p.IsHost() {
		client = q
	}

	// Wreck the client's copy, then resync.
	client.mu.Lock()
	client.board = newBoard(client.boardSize)
	client.currentTurn = 0
	client.mu.Unlock()

	if err := client.CommandResync(); err != nil {
		t.Fatalf("resync: %v", err)
	}

	host := p
	if client == p {
		host = q
	}
	hostBoard := host.Board()
	clientBoard := client.Board()
	for r := range hostBoard {
		for c := range hostBoard[r] {
			if hostBoard[r][c] != clientBoard[r][c] {
				t.Fatalf("board mismatch at (%d,%d) after resync", r, c)
			}
		}
	}
	hostCurrent, _ := host.CurrentPlayer()
	clientCurrent, _ := client.CurrentPlayer()
	if !hostCurrent.Equal(clientCurrent) {
		t.Fatalf("current player mismatch after resync")
	}
}

func TestResyncTimeoutIsHardFailure(t *testing.T) {
	fast := WithRequestTimeout(50 * time.Millisecond)
	p, q := startTwoPlayerGame(t, fast)

	host, client := p, q
	if q.IsHost() {
		host, client = q, p
	}

	// The host goes silent on state requests.
	conn, ok := host.store.Get(client.Me())
	if !ok {
		t.Fatalf("host has no connection to client")
	}
	conn.SetHandler(messages.MethodRequestGameState, func(*network.Connection, messages.Message) {})

	err := client.CommandResync()
	if !errors.Is(err, network.ErrTimeout) {
		t.Fatalf("expected hard timeout failure, got %v", err)
	}
}

// Responder-side validation of proposals, driven directly: occupied and
// out-of-bounds cells must be rejected with no board mutation, and a
// winning speculative move must be reported and reverted.
func TestProposalValidationOnResponder(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	responderIdent := messages.Identity{IP: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, Name: "responder"}
	proposerIdent := messages.Identity{IP: "127.0.0.1", Port: 1, Name: "proposer"}

	accepted := make(chan *network.Connection, 1)
	go func() {
		sock, err := ln.Accept()
		if err != nil {
			return
		}
		if c, err := network.Accept(sock, responderIdent); err == nil {
			accepted <- c
		}
	}()
	proposerConn, err := network.Dial(responderIdent, proposerIdent)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer proposerConn.Stop()
	responderConn := <-accepted
	defer responderConn.Stop()
	proposerConn.Start()

	g := New(responderIdent, WithOutput(io.Discard), WithLogger(quietLogger()))
	g.mu.Lock()
	g.phase = PhaseGame
	g.boardSize = 3
	g.board = newBoard(3)
	g.board[1][1] = "O"
	g.board[0][0] = "X"
	g.board[0][1] = "X"
	g.players = append(g.players, proposerIdent)
	g.symbols[proposerIdent.Key()] = "X"
	g.playerIDs[proposerIdent.Key()] = 2
	g.mu.Unlock()

	propose := func(id string, row, col int) *messages.ValidateMove {
		t.Helper()
		ch := make(chan messages.Message, 1)
		proposerConn.Expect(id, ch)
		g.onProposeMove(responderConn, messages.NewProposeMove(id, row, col))
		select {
		case msg := <-ch:
			return msg.(*messages.ValidateMove)
		case <-time.After(5 * time.Second):
			t.Fatalf("no validation reply for %s", id)
			return nil
		}
	}

	if v := propose("oob", 5, 5); v.IsValid {
		t.Fatalf("out-of-bounds proposal validated")
	}
	if v := propose("occupied", 1, 1); v.IsValid {
		t.Fatalf("occupied-cell proposal validated")
	}
	if got := g.Board()[1][1]; got != "O" {
		t.Fatalf("responder board mutated by invalid proposal: %q", got)
	}

	v := propose("winning", 0, 2)
	if !v.IsValid {
		t.Fatalf("legal proposal rejected")
	}
	if v.GameResult != messages.ResultWin || v.WinningPlayer != 2 {
		t.Fatalf("expected win for player 2, got result=%q player=%d", v.GameResult, v.WinningPlayer)
	}
	if got := g.Board()[0][2]; got != "" {
		t.Fatalf("speculative move not reverted: %q", got)
	}
}

package game

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"symbolgame/messages"
	"symbolgame/network"
)

// Phase of the coordinator's state machine. Transitions only move forward:
// lobby to game on a validated start, game to end on a terminal move.
type Phase string

const (
	PhaseLobby Phase = "lobby"
	PhaseGame  Phase = "game"
	PhaseEnd   Phase = "end"
)

// Defaults for the protocol timeouts.
const (
	DefaultRequestTimeout    = 10 * time.Second
	DefaultValidationWait    = 3 * time.Second
	DefaultValidationRetries = 3
	DefaultConnectWait       = 10 * time.Second
)

var (
	ErrWrongPhase     = errors.New("not allowed in this phase")
	ErrNotHost        = errors.New("you are not hosting the game")
	ErrAlreadyHost    = errors.New("you are already hosting a game")
	ErrNoHost         = errors.New("no host known yet")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrOutOfBounds    = errors.New("coordinates out of bounds")
	ErrCellOccupied   = errors.New("cell is already marked")
	ErrMoveInFlight   = errors.New("a move proposal is already in flight")
	ErrMoveRejected   = errors.New("move was rejected by another player")
	ErrSymbolTaken    = errors.New("symbol is already taken")
	ErrNotEnough      = errors.New("need at least 2 players")
	ErrSymbolsMissing = errors.New("not all players have chosen symbols")
)

// Game is the coordinator: it owns all game state and orchestrates the
// lobby, start, move-agreement and resync protocols over the network
// layer. Connection handlers and front-end commands run on different
// goroutines but mutate the same state, so everything below mu is guarded
// by it and nothing else is.
type Game struct {
	me     messages.Identity
	store  *network.Store
	server *network.Server
	logger *slog.Logger
	out    io.Writer
	rng    *rand.Rand

	// Notify, when set, is called after every state change caused by the
	// network so a front end can refresh its display.
	Notify func()

	requestTimeout    time.Duration
	validationWait    time.Duration
	validationRetries int
	connectWait       time.Duration
	boardSizeOverride int

	// moveBusy rejects a second move command while one proposal is still
	// collecting validations.
	moveBusy atomic.Bool

	mu            sync.Mutex
	phase         Phase
	host          *messages.Identity
	players       []messages.Identity
	symbols       map[string]string
	playerIDs     map[string]int
	pendingSymbol string
	board         [][]string
	boardSize     int
	turnOrder     []int
	currentTurn   int
	winnerID      int
	winner        *messages.Identity
}

// Option configures a Game at construction.
type Option func(*Game)

// WithLogger sets the structured logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *Game) { g.logger = l }
}

// WithOutput redirects user-visible status text. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(g *Game) { g.out = w }
}

// WithRand sets the randomness source used for the turn-order shuffle.
func WithRand(r *rand.Rand) Option {
	return func(g *Game) { g.rng = r }
}

// WithBoardSize fixes the board size instead of the default, which is the
// number of players plus one.
func WithBoardSize(size int) Option {
	return func(g *Game) { g.boardSizeOverride = size }
}

// WithValidation tunes the move-agreement wait per attempt and the number
// of retries after the first attempt.
func WithValidation(wait time.Duration, retries int) Option {
	return func(g *Game) {
		g.validationWait = wait
		g.validationRetries = retries
	}
}

// WithRequestTimeout bounds symbol negotiation and resync requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Game) { g.requestTimeout = d }
}

// WithConnectWait bounds the post-start wait for the full peer topology.
func WithConnectWait(d time.Duration) Option {
	return func(g *Game) { g.connectWait = d }
}

// New creates a coordinator for the node identified by me. Call Serve (or
// Start) afterwards to begin accepting peers.
func New(me messages.Identity, opts ...Option) *Game {
	g := &Game{
		me:                me,
		store:             network.NewStore(),
		logger:            slog.Default(),
		out:               os.Stdout,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		requestTimeout:    DefaultRequestTimeout,
		validationWait:    DefaultValidationWait,
		validationRetries: DefaultValidationRetries,
		connectWait:       DefaultConnectWait,
		phase:             PhaseLobby,
		players:           []messages.Identity{me},
		symbols:           make(map[string]string),
		playerIDs:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.server = network.NewServer(me, g.onConnect)
	g.server.SetLogger(g.logger)
	return g
}

// Start binds the node's own address and begins accepting peers.
func (g *Game) Start() error {
	return g.server.Start()
}

// Serve begins accepting peers on an already-bound listener.
func (g *Game) Serve(ln net.Listener) {
	g.server.Serve(ln)
}

// Stop shuts down the listener and every live connection.
func (g *Game) Stop() {
	g.server.Stop()
	g.store.StopAll()
}

// onConnect runs on the accept goroutine for every handshaken inbound
// connection. The first accept while no host is known makes this node the
// host; that is the whole election.
func (g *Game) onConnect(c *network.Connection) {
	g.setupHandlers(c)

	g.mu.Lock()
	switch {
	case g.phase == PhaseLobby && g.host == nil:
		host := g.me
		g.host = &host
		g.addPlayerLocked(c.Peer)
		g.printf("%s has connected, start the game with 'start'\n", c.Peer)
	case g.phase == PhaseLobby && g.isHostLocked():
		g.addPlayerLocked(c.Peer)
		g.printf("%s has connected\n", c.Peer)
	default:
		// Game-phase topology dial-in or a reconnecting peer.
		g.logger.Info("peer connected", "peer", c.Peer.String(), "phase", string(g.phase))
	}
	g.mu.Unlock()

	g.store.Add(c)
	g.notify()
}

// setupHandlers wires the full protocol onto a connection. Handlers are
// registered once per connection and never swapped; replies are routed by
// correlation id inside the network layer.
func (g *Game) setupHandlers(c *network.Connection) {
	c.SetLogger(g.logger)
	c.SetHandler(messages.MethodChooseSymbol, g.onChooseSymbol)
	c.SetHandler(messages.MethodStartGame, g.onStartGame)
	c.SetHandler(messages.MethodProposeMove, g.onProposeMove)
	c.SetHandler(messages.MethodCommitMove, g.onCommitMove)
	c.SetHandler(messages.MethodRequestGameState, g.onRequestGameState)
}

func (g *Game) isHostLocked() bool {
	return g.host != nil && g.host.Equal(g.me)
}

func (g *Game) addPlayerLocked(p messages.Identity) {
	for _, existing := range g.players {
		if existing.Equal(p) {
			return
		}
	}
	g.players = append(g.players, p)
}

func (g *Game) playerByIDLocked(id int) (messages.Identity, bool) {
	for _, p := range g.players {
		if g.playerIDs[p.Key()] == id {
			return p, true
		}
	}
	return messages.Identity{}, false
}

func (g *Game) isMyTurnLocked() bool {
	if len(g.turnOrder) == 0 {
		return false
	}
	return g.turnOrder[g.currentTurn] == g.playerIDs[g.me.Key()]
}

func (g *Game) printf(format string, args ...any) {
	fmt.Fprintf(g.out, format, args...)
}

func (g *Game) notify() {
	if g.Notify != nil {
		g.Notify()
	}
}

// Me returns this node's identity.
func (g *Game) Me() messages.Identity {
	return g.me
}

// Phase returns the current phase.
func (g *Game) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// Host returns the host identity, if one is known.
func (g *Game) Host() (messages.Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.host == nil {
		return messages.Identity{}, false
	}
	return *g.host, true
}

// IsHost reports whether this node rules the lobby.
func (g *Game) IsHost() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isHostLocked()
}

// Players returns a copy of the player roster.
func (g *Game) Players() []messages.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]messages.Identity, len(g.players))
	copy(out, g.players)
	return out
}

// Symbol returns the marker recorded for p, if any.
func (g *Game) Symbol(p messages.Identity) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.symbols[p.Key()]
	return s, ok
}

// PlayerID returns the id the host assigned to p at game start.
func (g *Game) PlayerID(p messages.Identity) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.playerIDs[p.Key()]
	return id, ok
}

// Board returns a copy of the board. Empty string marks a free cell.
func (g *Game) Board() [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copyBoard(g.board)
}

// CurrentPlayer returns the player whose proposal is legitimate now.
func (g *Game) CurrentPlayer() (messages.Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.phase != PhaseGame || len(g.turnOrder) == 0 {
		return messages.Identity{}, false
	}
	return g.playerByIDLocked(g.turnOrder[g.currentTurn])
}

// Winner returns the winning player once the game ended with a win.
func (g *Game) Winner() (messages.Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.winner == nil {
		return messages.Identity{}, false
	}
	return *g.winner, true
}

func parseAddress(addr string) (messages.Identity, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return messages.Identity{}, fmt.Errorf("bad player address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return messages.Identity{}, fmt.Errorf("bad player port %q: %w", portStr, err)
	}
	return messages.Identity{IP: host, Port: port}, nil
}

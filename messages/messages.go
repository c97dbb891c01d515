package messages

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Method discriminators carried in the "method" field of every wire object.
const (
	MethodHello            = "hello"
	MethodStartGame        = "start_game"
	MethodChooseSymbol     = "choose_symbol"
	MethodValidateSymbol   = "validate_symbol"
	MethodProposeMove      = "propose_move"
	MethodValidateMove     = "validate_move"
	MethodCommitMove       = "commit_move"
	MethodRequestGameState = "request_game_state"
	MethodGameState        = "game_state"
)

// Message is one wire object. Kind returns the method discriminator.
type Message interface {
	Kind() string
}

// Reply is a message answering an earlier request. Correlation returns the
// request id of the request it answers, so receivers can route it to the
// waiting caller instead of the regular handler table.
type Reply interface {
	Message
	Correlation() string
}

// NewRequestID returns a fresh correlation id for a request/reply exchange.
func NewRequestID() string {
	return uuid.NewString()
}

// Hello opens every connection: each side announces its own identity and
// waits for the peer's before any other traffic.
type Hello struct {
	Method   string   `json:"method"`
	Identity Identity `json:"identity"`
}

func NewHello(id Identity) *Hello {
	return &Hello{Method: MethodHello, Identity: id}
}

func (*Hello) Kind() string { return MethodHello }

// PlayerInfo is one roster entry of a StartGame message.
type PlayerInfo struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

// StartGame carries the authoritative game setup from the host to every
// player: the full roster, board size and the fixed turn order.
type StartGame struct {
	Method          string            `json:"method"`
	Players         []PlayerInfo      `json:"players"`
	BoardSize       int               `json:"board_size"`
	TurnOrder       []int             `json:"turn_order"`
	SessionSettings map[string]string `json:"session_settings"`
}

func NewStartGame(players []PlayerInfo, boardSize int, turnOrder []int) *StartGame {
	return &StartGame{
		Method:          MethodStartGame,
		Players:         players,
		BoardSize:       boardSize,
		TurnOrder:       turnOrder,
		SessionSettings: map[string]string{},
	}
}

func (*StartGame) Kind() string { return MethodStartGame }

// ChooseSymbol asks the host to reserve a marker for the sender.
type ChooseSymbol struct {
	Method    string `json:"method"`
	RequestID string `json:"request_id"`
	Symbol    string `json:"symbol"`
}

func NewChooseSymbol(requestID, symbol string) *ChooseSymbol {
	return &ChooseSymbol{Method: MethodChooseSymbol, RequestID: requestID, Symbol: symbol}
}

func (*ChooseSymbol) Kind() string { return MethodChooseSymbol }

// ValidateSymbol is the host's verdict on a ChooseSymbol request.
type ValidateSymbol struct {
	Method    string `json:"method"`
	RequestID string `json:"request_id"`
	IsValid   bool   `json:"is_valid"`
}

func NewValidateSymbol(requestID string, isValid bool) *ValidateSymbol {
	return &ValidateSymbol{Method: MethodValidateSymbol, RequestID: requestID, IsValid: isValid}
}

func (*ValidateSymbol) Kind() string          { return MethodValidateSymbol }
func (m *ValidateSymbol) Correlation() string { return m.RequestID }

// ProposeMove asks every other player to validate a move at Location
// before the proposer commits it anywhere.
type ProposeMove struct {
	Method    string `json:"method"`
	RequestID string `json:"request_id"`
	Location  [2]int `json:"location"`
}

func NewProposeMove(requestID string, row, col int) *ProposeMove {
	return &ProposeMove{Method: MethodProposeMove, RequestID: requestID, Location: [2]int{row, col}}
}

func (*ProposeMove) Kind() string { return MethodProposeMove }

// GameResult values reported in ValidateMove.
const (
	ResultWin = "win"
	ResultTie = "tie"
)

// ValidateMove is one responder's independent judgment of a ProposeMove.
// GameResult and WinningPlayer are only set when the speculative move
// would end the game on the responder's copy of the board.
type ValidateMove struct {
	Method        string `json:"method"`
	RequestID     string `json:"request_id"`
	IsValid       bool   `json:"is_valid"`
	GameResult    string `json:"game_result,omitempty"`
	WinningPlayer int    `json:"winning_player,omitempty"`
}

func NewValidateMove(requestID string, isValid bool, gameResult string, winningPlayer int) *ValidateMove {
	return &ValidateMove{
		Method:        MethodValidateMove,
		RequestID:     requestID,
		IsValid:       isValid,
		GameResult:    gameResult,
		WinningPlayer: winningPlayer,
	}
}

func (*ValidateMove) Kind() string          { return MethodValidateMove }
func (m *ValidateMove) Correlation() string { return m.RequestID }

// CommitMove is the proposer's unilateral write of an already-agreed move.
// It is never rejected: receivers apply it and advance the turn.
type CommitMove struct {
	Method   string `json:"method"`
	Location [2]int `json:"location"`
	Symbol   string `json:"symbol"`
	PlayerID int    `json:"player_id"`
}

func NewCommitMove(row, col int, symbol string, playerID int) *CommitMove {
	return &CommitMove{Method: MethodCommitMove, Location: [2]int{row, col}, Symbol: symbol, PlayerID: playerID}
}

func (*CommitMove) Kind() string { return MethodCommitMove }

// RequestGameState asks the host for a full state snapshot after a
// reconnect or when a node suspects it has fallen behind.
type RequestGameState struct {
	Method    string `json:"method"`
	RequestID string `json:"request_id"`
}

func NewRequestGameState(requestID string) *RequestGameState {
	return &RequestGameState{Method: MethodRequestGameState, RequestID: requestID}
}

func (*RequestGameState) Kind() string { return MethodRequestGameState }

// GameState is the host's authoritative snapshot. Symbols and PlayerIDs
// are indexed in step with Players. A WinnerID of zero means no winner.
type GameState struct {
	Method      string     `json:"method"`
	RequestID   string     `json:"request_id"`
	Players     []Identity `json:"players"`
	Symbols     []string   `json:"symbols"`
	PlayerIDs   []int      `json:"player_ids"`
	BoardSize   int        `json:"board_size"`
	Board       [][]string `json:"board"`
	TurnOrder   []int      `json:"turn_order"`
	CurrentTurn int        `json:"current_turn"`
	WinnerID    int        `json:"winner_id"`
	Winner      *Identity  `json:"winner,omitempty"`
}

func (*GameState) Kind() string          { return MethodGameState }
func (m *GameState) Correlation() string { return m.RequestID }

// Decode parses one wire object into its typed message. Unknown or missing
// discriminators are protocol errors: the caller drops the message.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	var msg Message
	switch envelope.Method {
	case MethodHello:
		msg = &Hello{}
	case MethodStartGame:
		msg = &StartGame{}
	case MethodChooseSymbol:
		msg = &ChooseSymbol{}
	case MethodValidateSymbol:
		msg = &ValidateSymbol{}
	case MethodProposeMove:
		msg = &ProposeMove{}
	case MethodValidateMove:
		msg = &ValidateMove{}
	case MethodCommitMove:
		msg = &CommitMove{}
	case MethodRequestGameState:
		msg = &RequestGameState{}
	case MethodGameState:
		msg = &GameState{}
	default:
		return nil, fmt.Errorf("unknown method %q", envelope.Method)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("malformed %s message: %w", envelope.Method, err)
	}
	return msg, nil
}

// Encode serializes a message to its wire form.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

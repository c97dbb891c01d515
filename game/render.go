package game

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// renderBoard writes the current board as a table, row and column indices
// included so coordinates can be read straight off the display.
func (g *Game) renderBoard() {
	g.mu.Lock()
	board := copyBoard(g.board)
	g.mu.Unlock()

	if len(board) == 0 {
		g.printf("No board yet, the game has not started\n")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(g.out)

	header := table.Row{""}
	for c := range board {
		header = append(header, c)
	}
	t.AppendHeader(header)

	for r, row := range board {
		cells := table.Row{r}
		for _, cell := range row {
			if cell == "" {
				cell = "."
			}
			cells = append(cells, cell)
		}
		t.AppendRow(cells)
	}
	t.Render()
}

// renderPlayers writes the roster with symbols and, once assigned, ids.
func (g *Game) renderPlayers() {
	g.mu.Lock()
	type entry struct {
		id     int
		player string
		symbol string
	}
	entries := make([]entry, 0, len(g.players))
	for _, player := range g.players {
		symbol := g.symbols[player.Key()]
		if symbol == "" {
			symbol = "no symbol"
		}
		entries = append(entries, entry{
			id:     g.playerIDs[player.Key()],
			player: player.String(),
			symbol: symbol,
		})
	}
	g.mu.Unlock()

	t := table.NewWriter()
	t.SetOutputMirror(g.out)
	t.AppendHeader(table.Row{"id", "player", "symbol"})
	for _, e := range entries {
		id := ""
		if e.id != 0 {
			id = fmt.Sprintf("%d", e.id)
		}
		t.AppendRow(table.Row{id, e.player, e.symbol})
	}
	t.Render()
}

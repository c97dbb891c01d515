package game

import (
	"strconv"
	"strings"
)

// RunCommand parses and executes one whitespace-tokenized command line
// from a front end. It returns true when the user asked to exit. Errors
// are reported as textual status on the game's output, never as a panic
// or a raw stack trace.
func (g *Game) RunCommand(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "join":
		if len(fields) != 3 {
			g.printf("Usage: join <ip> <port>\n")
			return false
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			g.printf("Invalid port: %s\n", fields[2])
			return false
		}
		if err := g.CommandJoin(fields[1], port); err != nil {
			g.printf("%v\n", err)
		}
	case "start":
		if err := g.CommandStart(); err != nil {
			g.printf("%v\n", err)
		}
	case "players":
		g.CommandPlayers()
	case "symbol":
		if len(fields) != 2 {
			g.printf("Usage: symbol <symbol>\n")
			return false
		}
		if err := g.CommandSymbol(fields[1]); err != nil {
			g.printf("%v\n", err)
		}
	case "move":
		if len(fields) != 3 {
			g.printf("Usage: move <row> <col>\n")
			return false
		}
		row, err1 := strconv.Atoi(fields[1])
		col, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			g.printf("Coordinates must be numbers\n")
			return false
		}
		if err := g.CommandMove(row, col); err != nil {
			g.printf("%v\n", err)
		}
	case "board":
		g.renderBoard()
	case "resync":
		if err := g.CommandResync(); err != nil {
			g.printf("%v\n", err)
		}
	case "exit":
		return true
	case "help":
		g.printHelp()
	default:
		g.printf("Unknown command: %s\n", fields[0])
		g.printHelp()
	}
	return false
}

// CommandPlayers prints the roster with symbols. In the lobby only the
// host has an authoritative roster, everyone else sees it at game start.
func (g *Game) CommandPlayers() {
	g.mu.Lock()
	if g.phase == PhaseLobby && !g.isHostLocked() {
		g.mu.Unlock()
		g.printf("Only hosts can list players in the lobby\n")
		return
	}
	g.mu.Unlock()
	g.renderPlayers()
}

func (g *Game) printHelp() {
	g.printf("Commands:\n")
	g.printf("  join <ip> <port>  join a lobby\n")
	g.printf("  symbol <s>        claim a marker\n")
	g.printf("  start             start the game (host only)\n")
	g.printf("  players           list players\n")
	g.printf("  move <row> <col>  make a move\n")
	g.printf("  board             show the board\n")
	g.printf("  resync            fetch game state from the host\n")
	g.printf("  exit              quit\n")
}

package main

import (
	"github.com/pterm/pterm"

	"symbolgame/discovery"
	"symbolgame/game"
)

func lobbiesPanel(entries []discovery.Announcement) pterm.Panel {
	pbox := pterm.DefaultBox.WithLeftPadding(4).WithRightPadding(4).WithTopPadding(1).WithBottomPadding(1)
	listing := ""
	for _, a := range entries {
		listing += pterm.Sprintfln("%s, join with: join %s %d", pterm.LightCyan(a.Host.String()), a.Host.IP, a.Host.Port)
	}
	return pterm.Panel{Data: pbox.WithTitle(pterm.LightYellow("|LOBBIES|")).WithTitleTopCenter().Sprint(listing)}
}

func gameOverPanel(g *game.Game) pterm.Panel {
	pbox := pterm.DefaultBox.WithLeftPadding(4).WithRightPadding(4).WithTopPadding(1).WithBottomPadding(1)
	resultString := ""
	if winner, ok := g.Winner(); ok {
		symbol, _ := g.Symbol(winner)
		if winner.Equal(g.Me()) {
			resultString = pterm.Sprintfln("You won with %s!", pterm.LightGreen(symbol))
		} else {
			resultString = pterm.Sprintfln("%s won with %s", pterm.LightCyan(winner.Name), symbol)
		}
	} else {
		resultString = pterm.Sprintfln("The board is full, nobody wins")
	}
	return pterm.Panel{Data: pbox.WithTitle(pterm.LightGreen("|GAME OVER|")).WithTitleTopCenter().Sprint(resultString)}
}

func renderPanel(p pterm.Panel) {
	pterm.DefaultPanel.WithPanels([][]pterm.Panel{{p}}).Render()
}

package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"symbolgame/discovery"
	"symbolgame/game"
	"symbolgame/messages"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <ip>\n", os.Args[0])
		os.Exit(1)
	}
	ip := os.Args[1]

	handler := pterm.NewSlogHandler(&pterm.DefaultLogger)
	logger := slog.New(handler)

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("S", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("ymbol ", pterm.FgDarkGray.ToStyle()),
		putils.LettersFromStringWithStyle("G", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("ame", pterm.FgDarkGray.ToStyle()),
	).Render()

	name, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter your username").Show()
	pterm.Println()

	ln, err := net.Listen("tcp", ip+":0")
	if err != nil {
		logger.Error("failed to listen", "address", ip, "err", err.Error())
		os.Exit(1)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	me := messages.Identity{IP: ip, Port: port, Name: name}

	pterm.Info.Printfln("Hello, %s!", me)
	pterm.Info.Println("Wait for other players to join, or join a game with 'join <ip> <port>'")
	pterm.Print("\n")

	g := game.New(me, game.WithLogger(logger))
	var gameOverOnce sync.Once
	g.Notify = func() {
		if g.Phase() == game.PhaseEnd {
			gameOverOnce.Do(func() {
				renderPanel(gameOverPanel(g))
				pterm.Print(pterm.LightCyan("> "))
			})
		}
	}
	g.Serve(ln)
	defer g.Stop()

	lobbies := newLobbyList(me, logger)
	defer lobbies.close()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		pterm.Print(pterm.LightCyan("> "))
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "discover" {
			lobbies.render()
			continue
		}
		if g.RunCommand(line) {
			break
		}
	}
}

// lobbyList runs a discovery beacon and keeps the most recent announcement
// per lobby for the discover command.
type lobbyList struct {
	beacon *discovery.Beacon
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]discovery.Announcement
}

func newLobbyList(me messages.Identity, logger *slog.Logger) *lobbyList {
	l := &lobbyList{
		beacon: &discovery.Beacon{Host: me},
		logger: logger,
		seen:   make(map[string]discovery.Announcement),
	}
	l.beacon.SetLogger(logger)
	if err := l.beacon.Start(); err != nil {
		logger.Warn("lobby discovery unavailable", "err", err.Error())
		l.beacon = nil
		return l
	}
	go func() {
		for a := range l.beacon.Lobbies {
			l.mu.Lock()
			l.seen[a.Host.Key()] = a
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *lobbyList) render() {
	if l.beacon == nil {
		pterm.Warning.Println("Discovery is not running")
		return
	}
	l.mu.Lock()
	entries := make([]discovery.Announcement, 0, len(l.seen))
	for key, a := range l.seen {
		if time.Since(a.Seen) > 30*time.Second {
			delete(l.seen, key)
			continue
		}
		entries = append(entries, a)
	}
	l.mu.Unlock()

	if len(entries) == 0 {
		pterm.Info.Println("No lobbies heard on the local network yet")
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Host.Key() < entries[j].Host.Key()
	})
	renderPanel(lobbiesPanel(entries))
}

func (l *lobbyList) close() {
	if l.beacon != nil {
		if err := l.beacon.Close(); err != nil {
			l.logger.Warn("closing discovery", "err", err.Error())
		}
	}
}

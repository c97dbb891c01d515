// Package discovery announces open game lobbies over UDP multicast on the
// local network and collects announcements from other nodes, so players
// can find a lobby without typing addresses around.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"slices"
	"time"

	"symbolgame/messages"
)

const multicastAddress = "239.0.0.1"

// DefaultPort is the UDP port lobby announcements go out on.
const DefaultPort = 35611

// DefaultInterval is the pause between announcements.
const DefaultInterval = 2 * time.Second

// Announcement is one lobby heard on the network.
type Announcement struct {
	Host messages.Identity `json:"host"`
	Seen time.Time         `json:"-"`
}

// Beacon periodically announces this node's lobby and listens for other
// lobbies. Configure Host (the identity to announce), and optionally Port
// and Interval, before Start. Announcements from other nodes arrive on
// Lobbies; the beacon's own packets are filtered out by a random per-run
// key.
type Beacon struct {
	Host     messages.Identity
	Port     int
	Interval time.Duration
	Lobbies  chan Announcement

	logger   *slog.Logger
	key      []byte
	recvConn *net.UDPConn
	sendConn *net.UDPConn
}

// Start joins the multicast group and launches the announce and listen
// goroutines. After a successful Start the Lobbies channel is live.
func (b *Beacon) Start() error {
	if b.Port == 0 {
		b.Port = DefaultPort
	}
	if b.Interval == 0 {
		b.Interval = DefaultInterval
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.Lobbies = make(chan Announcement, 10)
	b.key = []byte(fmt.Sprintf("%08x", rand.Uint32()))

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", multicastAddress, b.Port))
	if err != nil {
		return err
	}
	b.recvConn, err = net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	b.sendConn, err = net.DialUDP("udp", nil, addr)
	if err != nil {
		b.recvConn.Close()
		return err
	}

	go b.listen()
	go b.announce()
	return nil
}

// SetLogger replaces the beacon's logger. Call before Start.
func (b *Beacon) SetLogger(l *slog.Logger) {
	b.logger = l
}

// Close stops announcing and listening.
func (b *Beacon) Close() error {
	return errors.Join(b.recvConn.Close(), b.sendConn.Close())
}

func (b *Beacon) listen() {
	buffer := make([]byte, 1024)
	for {
		n, _, err := b.recvConn.ReadFromUDP(buffer)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				b.logger.Warn("discovery read failed", "err", err)
			}
			return
		}
		packet := buffer[:n]
		if len(packet) <= 8 || slices.Equal(packet[:8], b.key) {
			continue
		}
		var host messages.Identity
		if err := json.Unmarshal(packet[8:], &host); err != nil {
			b.logger.Warn("dropping malformed announcement", "err", err)
			continue
		}
		select {
		case b.Lobbies <- Announcement{Host: host, Seen: time.Now()}:
		default:
			// Listener is behind, drop rather than block the socket.
		}
	}
}

func (b *Beacon) announce() {
	payload, err := json.Marshal(b.Host)
	if err != nil {
		b.logger.Error("cannot marshal own identity", "err", err)
		return
	}
	packet := append(append([]byte(nil), b.key...), payload...)
	for {
		if _, err := b.sendConn.Write(packet); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				b.logger.Warn("discovery announce failed", "err", err)
			}
			return
		}
		time.Sleep(b.Interval)
	}
}

package lobby

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"bomberdude/internal/wire"
)

// startingLoop watches for the Waiting→Starting transition and carries out
// the bounded Starting phase: for 2 s, unicast STATE to every member
// every 50 ms so a dropped bootstrap packet is self-healing, then advance
// to InGame.
func (l *Lobby) startingLoop(ctx context.Context) error {
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.terminate:
			return nil
		case <-poll.C:
			if l.Phase() == Starting {
				l.runStarting(ctx)
				return nil
			}
		}
	}
}

func (l *Lobby) runStarting(ctx context.Context) {
	deadline := time.Now().Add(startingWindow)
	ticker := time.NewTicker(startingBroadcast)
	defer ticker.Stop()

	for {
		l.broadcastBootstrap()

		select {
		case <-ctx.Done():
			return
		case <-l.terminate:
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				l.mu.Lock()
				l.phase = InGame
				l.mu.Unlock()
				slog.Info("lobby in game", "lobby", l.ID)
				return
			}
		}
	}
}

func (l *Lobby) broadcastBootstrap() {
	l.mu.Lock()
	type target struct {
		addr     net.Addr
		uuid     string
		playerID int
	}
	targets := make([]target, 0, len(l.members))
	for id, c := range l.members {
		targets = append(targets, target{addr: c.Addr, uuid: c.UUID, playerID: id})
	}
	startedAt := l.startedAt
	l.mu.Unlock()

	for _, t := range targets {
		boot := l.game.NewBootstrap(t.playerID, startedAt, t.uuid)
		data, err := json.Marshal(boot)
		if err != nil {
			slog.Error("lobby: marshalling bootstrap", "lobby", l.ID, "error", err)
			continue
		}
		p := &wire.Payload{
			Type:        wire.State,
			LobbyID:     l.ID,
			PlayerID:    t.uuid,
			TTL:         wire.InitialTTL,
			Destination: udpIP(t.addr),
			Port:        uint32(l.Port()),
			Data:        data,
		}
		if _, err := l.conn.WriteTo(wire.Encode(p), t.addr); err != nil {
			slog.Warn("lobby: bootstrap send failed", "lobby", l.ID, "player", t.playerID, "error", err)
		}
	}
}

package lobby

import (
	"context"
	"log/slog"
	"net"
	"time"

	"bomberdude/internal/wire"
)

const keepaliveInterval = time.Second / keepaliveRate

type outgoing struct {
	payload *wire.Payload
	addr    net.Addr
}

// keepaliveLoop runs at 1 Hz: unicasts KALIVE to every member, purges
// timed-out connections while Waiting or Ended, and schedules termination
// once membership reaches zero in either of those phases.
func (l *Lobby) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.terminate:
			return nil
		case now := <-ticker.C:
			l.keepaliveTick(now)
		}
	}
}

func (l *Lobby) keepaliveTick(now time.Time) {
	l.mu.Lock()
	phase := l.phase
	if phase == Waiting || phase == Ended {
		for id, c := range l.members {
			if c.TimedOut(now) {
				delete(l.members, id)
				slog.Info("idle connection purged", "lobby", l.ID, "player", id, "phase", phase)
			}
		}
	}

	pending := make([]outgoing, 0, len(l.members))
	for _, c := range l.members {
		pending = append(pending, outgoing{
			payload: &wire.Payload{
				Type:        wire.Kalive,
				LobbyID:     l.ID,
				PlayerID:    c.UUID,
				TTL:         wire.InitialTTL,
				Destination: udpIP(c.Addr),
				Port:        uint32(l.Port()),
			},
			addr: c.Addr,
		})
	}
	empty := len(l.members) == 0
	l.mu.Unlock()

	for _, o := range pending {
		if _, err := l.conn.WriteTo(wire.Encode(o.payload), o.addr); err != nil {
			slog.Warn("lobby: keep-alive send failed", "lobby", l.ID, "error", err)
		}
	}

	if empty && (phase == Waiting || phase == Ended) {
		l.Terminate()
	}
}

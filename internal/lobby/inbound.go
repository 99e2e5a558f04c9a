package lobby

import (
	"context"
	"log/slog"
	"net"
	"time"

	"bomberdude/internal/connection"
	"bomberdude/internal/gamestate"
	"bomberdude/internal/wire"
)

// inboundLoop runs at ≈100 Hz: decode packets, classify, enforce
// sequence ordering for ACTIONS, and enqueue intents for the tick loop.
func (l *Lobby) inboundLoop(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.terminate:
			return nil
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("lobby: read failed", "lobby", l.ID, "error", err)
			continue
		}

		p, err := wire.Decode(buf[:n])
		if err != nil {
			l.drops.Inc(addr.String())
			slog.Debug("lobby: dropping malformed/unknown packet", "lobby", l.ID, "from", addr, "error", err)
			continue
		}

		l.handleInbound(p, addr, time.Now())
	}
}

func (l *Lobby) handleInbound(p *wire.Payload, addr net.Addr, now time.Time) {
	switch p.Type {
	case wire.Kalive:
		l.handleKalive(p, now)
	case wire.Leave:
		l.handleLeave(p, now)
	case wire.Ack:
		l.cache.Ack(p.PlayerID, p.SeqNum)
	case wire.Actions:
		l.handleActions(p, addr, now)
	case wire.Redirect:
		// Deprecated: decoded so drop counters don't
		// fire, but neither routed nor acted upon.
	default:
		slog.Debug("lobby: unexpected packet type from member", "lobby", l.ID, "type", p.Type)
	}
}

func (l *Lobby) handleKalive(p *wire.Payload, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.memberByUUID(p.PlayerID); c != nil {
		c.Touch(now)
	}
}

func (l *Lobby) handleLeave(p *wire.Payload, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.memberByUUID(p.PlayerID); c != nil {
		l.reapLocked(c, now)
	}
}

func (l *Lobby) handleActions(p *wire.Payload, addr net.Addr, now time.Time) {
	l.mu.Lock()
	phase := l.phase
	c := l.memberByUUID(p.PlayerID)
	l.mu.Unlock()

	if c == nil {
		return
	}

	if phase != InGame {
		// Waiting: ACTIONS received here are discarded with an ack.
		l.ackTo(c, addr, p.SeqNum)
		return
	}

	if !c.Advance(p.SeqNum) {
		// Stale or duplicate: re-ack, never re-apply.
		l.ackTo(c, addr, p.SeqNum)
		return
	}

	changes := wire.DecodeChanges(p.Data)
	l.mu.Lock()
	for _, ch := range changes {
		l.inbound = append(l.inbound, gamestate.Intent{PlayerID: c.ID, Change: ch})
	}
	l.mu.Unlock()

	l.ackTo(c, addr, p.SeqNum)
}

// ackTo sends an ACK for seq directly from the input loop, synchronously
// with decoding, bypassing the retransmit cache — acks are never themselves
// retransmitted.
func (l *Lobby) ackTo(c *connection.Connection, addr net.Addr, seq uint32) {
	ack := &wire.Payload{
		Type:        wire.Ack,
		LobbyID:     l.ID,
		PlayerID:    c.UUID,
		SeqNum:      seq,
		TTL:         wire.InitialTTL,
		Destination: udpIP(c.Addr),
		Port:        uint32(l.Port()),
	}
	if _, err := l.conn.WriteTo(wire.Encode(ack), addr); err != nil {
		slog.Warn("lobby: ack send failed", "lobby", l.ID, "player", c.ID, "error", err)
	}
}

// reapLocked removes c from membership and, if the match is underway,
// appends a death delta for its grid slot. Caller must hold l.mu.
func (l *Lobby) reapLocked(c *connection.Connection, now time.Time) {
	delete(l.members, c.ID)
	slog.Info("connection reaped", "lobby", l.ID, "player", c.ID)

	if l.phase != InGame {
		return
	}
	p := l.game.Players[c.ID]
	if p == nil || !p.Alive {
		return
	}

	x, y := p.Pos.X, p.Pos.Y
	old := l.game.Grid[y][x]
	newTile := gamestate.TileDeadBase + byte(c.ID)
	l.game.Grid[y][x] = newTile
	p.Alive = false
	p.Pos = gamestate.IntPoint{X: -1, Y: -1}

	delta := wire.Change{
		CurX: byte(x), CurY: byte(y), CurTile: old,
		NextX: byte(x), NextY: byte(y), NextTile: newTile,
	}
	for id := range l.members {
		l.outNext[id] = append(l.outNext[id], delta)
	}
}

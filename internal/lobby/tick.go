package lobby

import (
	"context"
	"log/slog"
	"time"
)

const tickInterval = time.Second / tickRate

// tickLoop runs at ≈33 Hz while InGame: drains queued intents,
// applies them to the authoritative state, advances bombs/explosions,
// reaps unresponsive connections, and appends resulting deltas to the
// per-member outbound queue.
func (l *Lobby) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.terminate:
			return nil
		case now := <-ticker.C:
			l.tick(now)
		}
	}
}

func (l *Lobby) tick(now time.Time) {
	l.mu.Lock()

	if l.phase != InGame {
		l.mu.Unlock()
		return
	}

	intents := l.inbound
	l.inbound = nil

	result := l.game.ApplyIntents(intents, now)
	bombResult := l.game.AdvanceBombs(now)
	result.Broadcast = append(result.Broadcast, bombResult.Broadcast...)
	result.Deaths = append(result.Deaths, bombResult.Deaths...)

	for id := range l.members {
		l.outNext[id] = append(l.outNext[id], result.Broadcast...)
	}
	for playerID, deltas := range result.Corrective {
		l.outNext[playerID] = append(l.outNext[playerID], deltas...)
	}

	for _, c := range l.members {
		if c.TimedOut(now) {
			l.reapLocked(c, now)
		}
	}

	ended := l.checkEndLocked()
	l.mu.Unlock()

	if ended {
		l.finishMatch(now)
	}
}

// checkEndLocked moves InGame→Ended once at most one player remains alive,
// reporting whether the transition happened on this call. Caller must hold
// l.mu.
func (l *Lobby) checkEndLocked() bool {
	live := l.game.LivePlayers()
	if len(live) > 1 {
		return false
	}
	l.phase = Ended
	if len(live) == 1 {
		slog.Info("lobby match ended", "lobby", l.ID, "winner", live[0])
	} else {
		slog.Info("lobby match ended in a draw", "lobby", l.ID)
	}
	return true
}

// finishMatch runs once on the InGame→Ended transition: the final deltas
// still queued in outNext are coalesced and flushed best-effort, then the
// lobby shuts down. Without this a draw, or a winner that silently
// disappears, would leave the lobby's loops and socket alive forever.
func (l *Lobby) finishMatch(now time.Time) {
	l.coalesceLocked(now)
	l.Terminate()
}

package client

import (
	"context"
	"log/slog"
	"time"

	"bomberdude/internal/location"
	"bomberdude/internal/wire"
)

// kaliveLoop runs at 1 Hz: unicasts (wired) or multicasts (mobile)
// a KALIVE carrying this client's coordinates, and warns locally when the
// last inbound KALIVE has gone stale.
func (c *Client) kaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(kaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.terminate:
			return nil
		case now := <-ticker.C:
			c.kaliveTick(now)
		}
	}
}

func (c *Client) kaliveTick(now time.Time) {
	c.mu.Lock()
	pos := c.pos
	lobbyID, uuid, port := c.lobbyID, c.playerUUID, c.lobbyPort
	stale := !c.lastKalive.IsZero() && now.Sub(c.lastKalive) > kaliveStale
	c.mu.Unlock()

	if stale {
		slog.Warn("client: no keep-alive from authority in a while", "node", c.nodeID)
	}

	p := &wire.Payload{
		Type:     wire.Kalive,
		LobbyID:  lobbyID,
		PlayerID: uuid,
		TTL:      wire.InitialTTL,
		Port:     port,
		Data:     []byte(location.FormatCoordinates(pos)),
	}

	if c.mobile {
		if err := c.mcastConn.Send(wire.Encode(p)); err != nil {
			slog.Warn("client: multicast keep-alive send failed", "node", c.nodeID, "error", err)
		}
		return
	}

	c.mu.Lock()
	dest := c.lobbyAddr
	c.mu.Unlock()
	if dest == nil {
		return
	}
	if _, err := c.conn.WriteTo(wire.Encode(p), dest); err != nil {
		slog.Warn("client: keep-alive send failed", "node", c.nodeID, "error", err)
	}
}

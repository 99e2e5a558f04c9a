package gateway

import (
	"context"
	"log/slog"
	"time"

	"bomberdude/internal/location"
	"bomberdude/internal/wire"
)

// beaconLoop multicasts a GKALIVE at 1 Hz carrying this gateway's "x,y".
// An empty lobby/player ID marks it as a DTN-only beacon, never an
// in-game payload.
func (g *Gateway) beaconLoop(ctx context.Context) error {
	ticker := time.NewTicker(g.beaconEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.terminate:
			return nil
		case <-ticker.C:
			g.mu.Lock()
			pos := g.position
			g.mu.Unlock()

			p := &wire.Payload{
				Type: wire.GKalive,
				TTL:  wire.InitialTTL,
				Data: []byte(location.FormatCoordinates(pos)),
			}
			if err := g.mcastConn.Send(wire.Encode(p)); err != nil {
				slog.Warn("gateway: beacon send failed", "node", g.nodeID, "error", err)
			}
		}
	}
}

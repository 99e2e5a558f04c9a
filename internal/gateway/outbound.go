package gateway

import (
	"context"
	"time"
)

const outboundInterval = time.Second / 33

// outboundLoop runs at ≈33 Hz (mirroring the lobby/client output
// cadence): drains both caches and delivers outgoing_server traffic to the
// server and outgoing_mobile traffic to the single currently preferred
// mobile node.
func (g *Gateway) outboundLoop(ctx context.Context) error {
	ticker := time.NewTicker(outboundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.terminate:
			return nil
		case now := <-ticker.C:
			g.outboundTick(now)
		}
	}
}

func (g *Gateway) outboundTick(now time.Time) {
	for _, e := range g.outgoingServer.DrainUnsent(now) {
		g.sendWired(e.Payload, g.serverDest(e.Payload))
	}
	for _, e := range g.outgoingServer.RetryDue(now, g.retryInterval) {
		g.sendWired(e.Payload, g.serverDest(e.Payload))
	}

	g.mu.Lock()
	preferred := g.preferredMobileLocked()
	g.mu.Unlock()
	if preferred == nil {
		return
	}

	for _, e := range g.outgoingMobile.DrainUnsent(now) {
		g.sendWired(e.Payload, preferred)
	}
	for _, e := range g.outgoingMobile.RetryDue(now, g.retryInterval) {
		g.sendWired(e.Payload, preferred)
	}
}

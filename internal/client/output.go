package client

import (
	"context"
	"log/slog"
	"time"

	"bomberdude/internal/wire"
)

// outputLoop runs at ≈33 Hz: drains cache-unsent payloads and any
// entry due for retransmission, and sends each to the currently preferred
// next hop — the lobby directly in wired mode, the chosen mobile neighbor
// or gateway in mobile mode.
func (c *Client) outputLoop(ctx context.Context) error {
	ticker := time.NewTicker(outputInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.terminate:
			return nil
		case now := <-ticker.C:
			c.outputTick(now)
		}
	}
}

func (c *Client) outputTick(now time.Time) {
	for _, e := range c.cache.DrainUnsent(now) {
		c.transmit(e.Payload, now)
	}
	for _, e := range c.cache.RetryDue(now, c.retryInterval) {
		c.transmit(e.Payload, now)
	}
}

// transmit writes p to the current next hop and, on success, re-stamps it
// in the cache's sent bucket under its logical destination key —
// never the physical next-hop address, so a mid-flight preferred-hop switch
// doesn't orphan the entry.
func (c *Client) transmit(p *wire.Payload, now time.Time) {
	c.mu.Lock()
	dest := c.currentDestLocked()
	destKey := c.destKeyLocked()
	c.mu.Unlock()
	if dest == nil || destKey == "" {
		return
	}

	if _, err := c.conn.WriteTo(wire.Encode(p), dest); err != nil {
		slog.Warn("client: send failed, remains cached for retry", "node", c.nodeID, "error", err)
		return
	}
	c.cache.MarkSent(destKey, p, now)
}

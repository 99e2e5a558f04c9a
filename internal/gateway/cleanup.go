package gateway

import (
	"context"
	"log/slog"
	"time"
)

// cleanupLoop runs every cache_timeout seconds (default 20 s) purging
// stale entries from both caches, and evicts mobile-node map entries that
// have gone the same duration without a KALIVE.
func (g *Gateway) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(g.cacheTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.terminate:
			return nil
		case now := <-ticker.C:
			purged := len(g.outgoingMobile.PurgeExpired(now)) + len(g.outgoingServer.PurgeExpired(now))
			if purged > 0 {
				slog.Debug("gateway: purged expired cache entries", "node", g.nodeID, "count", purged)
			}

			g.mu.Lock()
			g.evictStaleLocked(now, g.cacheTimeout)
			g.mu.Unlock()
		}
	}
}

package client

import (
	"context"
	"log/slog"
	"net"
	"time"

	"bomberdude/internal/location"
	"bomberdude/internal/wire"
)

// dtnInputLoop listens on the DTN multicast group (mobile mode only) and
// ingests every KALIVE/GKALIVE to keep mobile_map/gateway_map current.
// The sending peer's physical source address is
// used as its map key, matching how the gateway keys its own mobile map
// — simpler and just as sound as trusting a self-reported header
// field over an unreliable multi-hop overlay.
func (c *Client) dtnInputLoop(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.terminate:
			return nil
		default:
		}

		c.mcastConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, src, hopLimit, err := c.mcastConn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("client: dtn read failed", "node", c.nodeID, "error", err)
			continue
		}

		p, err := wire.Decode(buf[:n])
		if err != nil {
			c.drops.Inc(src.String())
			slog.Debug("client: dropping malformed/unknown dtn packet", "node", c.nodeID, "from", src, "error", err)
			continue
		}

		c.handleDTN(p, src, hopLimit, time.Now())
	}
}

func (c *Client) handleDTN(p *wire.Payload, src net.Addr, hopLimit int, now time.Time) {
	switch p.Type {
	case wire.GKalive:
		c.updateNeighbor(c.gatewayMap, src, p.Data, hopLimit, now)
	case wire.Kalive:
		c.updateNeighbor(c.mobileMap, src, p.Data, hopLimit, now)
	default:
		slog.Debug("client: unexpected dtn packet type", "node", c.nodeID, "type", p.Type)
	}
}

func (c *Client) updateNeighbor(m map[string]neighbor, src net.Addr, data []byte, hopLimit int, now time.Time) {
	pos, err := location.ParseCoordinates(string(data))
	if err != nil {
		slog.Debug("client: malformed beacon coordinates", "node", c.nodeID, "error", err)
		return
	}

	c.mu.Lock()
	self := c.pos
	dist := location.Distance(self, pos)
	m[src.String()] = neighbor{
		addr:     src,
		pos:      pos,
		distance: dist,
		hops:     wire.InitialTTL - hopLimit,
		lastSeen: now,
	}
	c.mu.Unlock()
}

// metricsLoop re-evaluates the preferred next hop every ≈5 s, computing it
// once immediately so output/kalive don't sit
// idle waiting for the first tick.
func (c *Client) metricsLoop(ctx context.Context) error {
	c.mu.Lock()
	c.evictStaleLocked(time.Now())
	c.preferred = c.computePreferredLocked()
	c.mu.Unlock()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.terminate:
			return nil
		case now := <-ticker.C:
			c.mu.Lock()
			c.evictStaleLocked(now)
			c.preferred = c.computePreferredLocked()
			pref := c.preferred
			c.mu.Unlock()
			if pref != nil {
				slog.Info("client: preferred next hop", "node", c.nodeID, "addr", pref.String())
			}
		}
	}
}

// evictStaleLocked drops any neighbor or gateway not heard from in
// neighborStale, so a vanished candidate cannot stay preferred. Caller
// must hold c.mu.
func (c *Client) evictStaleLocked(now time.Time) {
	for k, n := range c.mobileMap {
		if now.Sub(n.lastSeen) > neighborStale {
			delete(c.mobileMap, k)
		}
	}
	for k, n := range c.gatewayMap {
		if now.Sub(n.lastSeen) > neighborStale {
			delete(c.gatewayMap, k)
		}
	}
}

// computePreferredLocked implements the preferred-next-hop rule: find
// the closest gateway; if we're directly adjacent to it (the beacon's TTL
// was never decremented, so its hop count is zero), use it outright. Otherwise
// compare the closest mobile candidate's distance, inflated by 10%, against
// the gateway's: the candidate wins when it's still closer even after the
// penalty, or on an exact tie when it has fewer hops; everything else
// defaults to the gateway. Caller must hold c.mu.
func (c *Client) computePreferredLocked() net.Addr {
	gw, hasGW := closestLocked(c.gatewayMap)
	mob, hasMob := closestLocked(c.mobileMap)

	if hasGW && gw.hops == 0 {
		return gw.addr
	}

	if hasMob {
		if !hasGW {
			return mob.addr
		}
		if mob.distance*1.1 < gw.distance {
			return mob.addr
		}
		if mob.distance*1.1 == gw.distance && mob.hops < gw.hops {
			return mob.addr
		}
	}

	if hasGW {
		return gw.addr
	}
	return nil
}

func closestLocked(m map[string]neighbor) (n neighbor, ok bool) {
	best := -1.0
	for _, v := range m {
		if !ok || v.distance < best {
			n, ok = v, true
			best = v.distance
		}
	}
	return n, ok
}

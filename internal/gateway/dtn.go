package gateway

import (
	"context"
	"log/slog"
	"net"
	"time"

	"bomberdude/internal/location"
	"bomberdude/internal/wire"
)

// dtnInLoop reads every KALIVE/GKALIVE/ACK/application packet arriving on
// the multicast DTN socket: KALIVE updates the mobile-node map and is relayed on, stripped of
// its coordinates; ACK purges the matching outgoing_mobile entry (keyed by
// the acking host) and is relayed on to the server; another gateway's
// GKALIVE is ignored; anything else is queued for the server.
func (g *Gateway) dtnInLoop(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.terminate:
			return nil
		default:
		}

		g.mcastConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, src, hopLimit, err := g.mcastConn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("gateway: dtn read failed", "node", g.nodeID, "error", err)
			continue
		}

		p, err := wire.Decode(buf[:n])
		if err != nil {
			g.drops.Inc(src.String())
			slog.Debug("gateway: dropping malformed dtn packet", "node", g.nodeID, "from", src, "error", err)
			continue
		}

		g.handleDTNPacket(p, src, hopLimit, time.Now())
	}
}

func (g *Gateway) handleDTNPacket(p *wire.Payload, src net.Addr, hopLimit int, now time.Time) {
	switch p.Type {
	case wire.Kalive:
		g.handleMobileKalive(p, src, hopLimit, now)
	case wire.Ack:
		g.outgoingMobile.Ack(hostKey(src), p.SeqNum)
		g.relayTowardsServer(p, now)
	case wire.GKalive:
		// another gateway's beacon: no mobile-node bookkeeping, nothing to relay.
	default:
		g.relayTowardsServer(p, now)
	}
}

// handleMobileKalive updates the mobile-node map and forwards a copy with
// its coordinate data region stripped to the server — the server has no use
// for DTN position data, only for knowing the node is alive.
func (g *Gateway) handleMobileKalive(p *wire.Payload, src net.Addr, hopLimit int, now time.Time) {
	pos, err := location.ParseCoordinates(string(p.Data))
	if err != nil {
		slog.Debug("gateway: malformed kalive coordinates", "node", g.nodeID, "error", err)
		return
	}

	g.mu.Lock()
	dist := location.Distance(g.position, pos)
	g.mobileNodes[src.String()] = neighbor{
		addr:     src,
		pos:      pos,
		distance: dist,
		hops:     wire.InitialTTL - hopLimit,
		lastSeen: now,
	}
	g.mu.Unlock()

	stripped, ok := spendHop(p)
	if !ok {
		return
	}
	stripped.Data = nil
	g.sendWired(stripped, g.serverDest(stripped))
}

// preferredMobileLocked returns the closest known mobile node, the relay
// target for all outgoing_mobile traffic regardless of its own keyed
// destination.
// Caller must hold g.mu.
func (g *Gateway) preferredMobileLocked() net.Addr {
	var best neighbor
	var bestAddr net.Addr
	found := false
	for _, n := range g.mobileNodes {
		if !found || n.distance < best.distance {
			best, bestAddr, found = n, n.addr, true
		}
	}
	if found {
		return bestAddr
	}
	return g.fallbackMobile
}

func (g *Gateway) evictStaleLocked(now time.Time, staleAfter time.Duration) {
	for k, n := range g.mobileNodes {
		if now.Sub(n.lastSeen) > staleAfter {
			delete(g.mobileNodes, k)
		}
	}
}

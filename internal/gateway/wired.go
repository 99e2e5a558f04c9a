package gateway

import (
	"context"
	"log/slog"
	"net"
	"time"

	"bomberdude/internal/location"
	"bomberdude/internal/wire"
)

// wiredInLoop reads every packet arriving on the wired socket: traffic
// from the configured server address is queued for the mobile side, keyed
// by its own destination field; anything else is treated as a mobile node
// addressing the gateway directly and queued for the server.
func (g *Gateway) wiredInLoop(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.terminate:
			return nil
		default:
		}

		g.wiredConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, src, err := g.wiredConn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("gateway: wired read failed", "node", g.nodeID, "error", err)
			continue
		}

		p, err := wire.Decode(buf[:n])
		if err != nil {
			g.drops.Inc(src.String())
			slog.Debug("gateway: dropping malformed wired packet", "node", g.nodeID, "from", src, "error", err)
			continue
		}

		g.handleWiredPacket(p, src, time.Now())
	}
}

func (g *Gateway) handleWiredPacket(p *wire.Payload, src net.Addr, now time.Time) {
	// The server's traffic arrives from its IP but per-lobby ephemeral
	// ports, so only the host side identifies it.
	fromServer := sameHost(src, g.serverAddr)

	if p.Type == wire.Ack {
		if fromServer {
			// Acknowledges a mobile payload this gateway relayed; release
			// it here, then carry the ack on so the mobile's own cache
			// releases too.
			g.outgoingServer.Ack(serverCacheKey, p.SeqNum)
			g.relayTowardsMobile(p, now)
		} else {
			// Acknowledges a server payload relayed to this mobile;
			// entries for it are keyed by the mobile's address.
			g.outgoingMobile.Ack(hostKey(src), p.SeqNum)
			g.relayTowardsServer(p, now)
		}
		return
	}

	if fromServer {
		g.relayTowardsMobile(p, now)
		return
	}

	g.mu.Lock()
	if g.fallbackMobile == nil {
		g.fallbackMobile = src
	}
	g.mu.Unlock()

	g.relayTowardsServer(p, now)
}

// relayTowardsMobile queues p for the mobile side, keyed by its wire
// destination, spending one TTL hop.
func (g *Gateway) relayTowardsMobile(p *wire.Payload, now time.Time) {
	fwd, ok := spendHop(p)
	if !ok {
		return
	}
	g.outgoingMobile.AddUnsent(location.ShortAddr(p.Destination), fwd, now)
}

// relayTowardsServer queues p for the wired side, spending one TTL hop.
func (g *Gateway) relayTowardsServer(p *wire.Payload, now time.Time) {
	fwd, ok := spendHop(p)
	if !ok {
		return
	}
	g.outgoingServer.AddUnsent(serverCacheKey, fwd, now)
}

// spendHop copies p with its TTL decremented, reporting false once the
// packet has no hops left.
func spendHop(p *wire.Payload) (*wire.Payload, bool) {
	if p.TTL == 0 {
		return nil, false
	}
	fwd := *p
	fwd.TTL--
	return &fwd, true
}

// sameHost reports whether two UDP addresses share an IP, ignoring ports.
func sameHost(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	return okA && okB && ua.IP.Equal(ub.IP)
}

// hostKey is the cache/map key form of an address's host side.
func hostKey(addr net.Addr) string {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.IP.String()
	}
	return addr.String()
}

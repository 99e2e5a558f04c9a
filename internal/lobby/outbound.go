package lobby

import (
	"context"
	"log/slog"
	"net"
	"time"

	"bomberdude/internal/wire"
)

const outboundInterval = time.Second / outboundRate

// outboundLoop runs at ≈33 Hz: coalesces pending deltas into one
// ACTIONS payload per connection, stamps a per-destination seq_num, pushes
// it into the cache as unsent, then drains and transmits everything due —
// fresh sends and due retransmits alike.
func (l *Lobby) outboundLoop(ctx context.Context) error {
	ticker := time.NewTicker(outboundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.terminate:
			return nil
		case now := <-ticker.C:
			l.outboundTick(now)
		}
	}
}

func (l *Lobby) outboundTick(now time.Time) {
	l.coalesceLocked(now)

	for _, e := range l.cache.DrainUnsent(now) {
		l.transmit(e.Payload, now)
	}
	for _, e := range l.cache.RetryDue(now, l.retryInterval) {
		l.transmit(e.Payload, now)
	}
}

func (l *Lobby) coalesceLocked(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, deltas := range l.outNext {
		if len(deltas) == 0 {
			continue
		}
		c, ok := l.members[id]
		if !ok {
			delete(l.outNext, id)
			continue
		}

		l.outSeq[id]++
		seq := l.outSeq[id]
		p := &wire.Payload{
			Type:        wire.Actions,
			LobbyID:     l.ID,
			PlayerID:    c.UUID,
			SeqNum:      seq,
			TTL:         wire.InitialTTL,
			Destination: udpIP(c.Addr),
			Port:        uint32(l.Port()),
			Data:        wire.EncodeChanges(deltas),
		}
		l.cache.AddUnsent(c.UUID, p, now)
		delete(l.outNext, id)
	}
}

// transmit sends p to the admitted address of the member it is keyed
// under. The cache keys by member UUID rather than address: several mobile
// members can share one gateway-relayed source address, and UUIDs keep
// their acks from releasing each other's entries.
func (l *Lobby) transmit(p *wire.Payload, now time.Time) {
	addr := l.resolveCacheDest(p)
	if addr == nil {
		return
	}
	if _, err := l.conn.WriteTo(wire.Encode(p), addr); err != nil {
		slog.Warn("lobby: transmit failed, remains cached for retry", "lobby", l.ID, "error", err)
		return
	}
	l.cache.MarkSent(p.PlayerID, p, now)
}

// resolveCacheDest maps an outbound payload back to the member's net.Addr
// by matching PlayerID against current membership.
func (l *Lobby) resolveCacheDest(p *wire.Payload) net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.memberByUUID(p.PlayerID); c != nil {
		return c.Addr
	}
	return nil
}

// udpIP extracts the 16-byte IP of a member's UDP address for the wire
// header's destination field.
func udpIP(addr net.Addr) net.IP {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.IP.To16()
	}
	return nil
}

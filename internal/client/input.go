package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"bomberdude/internal/gamestate"
	"bomberdude/internal/wire"
)

// inputLoop receives datagrams on the local socket and classifies them:
// STATE bootstraps the local mirror, ACTIONS applies deltas and immediately
// acks, KALIVE refreshes liveness, REDIRECT is decoded and dropped, ACK
// releases a cache entry.
func (c *Client) inputLoop(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.terminate:
			return nil
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("client: read failed", "node", c.nodeID, "error", err)
			continue
		}

		p, err := wire.Decode(buf[:n])
		if err != nil {
			c.drops.Inc(addr.String())
			slog.Debug("client: dropping malformed/unknown packet", "node", c.nodeID, "from", addr, "error", err)
			continue
		}

		c.handleInbound(p, addr, time.Now())
	}
}

func (c *Client) handleInbound(p *wire.Payload, addr net.Addr, now time.Time) {
	if c.mobile && c.forwardIfNotMine(p, now) {
		return
	}

	switch p.Type {
	case wire.State:
		c.handleState(p)
	case wire.Actions:
		c.handleActions(p, addr)
	case wire.Kalive:
		c.mu.Lock()
		c.lastKalive = now
		c.mu.Unlock()
	case wire.Ack:
		// Keyed by the lobby's own logical identity, not the address the ack
		// physically arrived from — in mobile mode an ack is relayed back
		// through whichever neighbor currently forwards for us, which need
		// not be the peer this client last sent through.
		c.mu.Lock()
		destKey := c.destKeyLocked()
		c.mu.Unlock()
		c.cache.Ack(destKey, p.SeqNum)
	case wire.Redirect:
		// Deprecated: decoded so drop counters don't fire, but neither
		// routed nor acted upon.
	default:
		slog.Debug("client: unexpected packet type", "node", c.nodeID, "type", p.Type)
	}
}

func (c *Client) handleState(p *wire.Payload) {
	var boot gamestate.Bootstrap
	if err := json.Unmarshal(p.Data, &boot); err != nil {
		slog.Warn("client: malformed STATE bootstrap", "node", c.nodeID, "error", err)
		return
	}

	boxes := make(map[int]gamestate.IntPoint, len(boot.Boxes))
	for idStr, xy := range boot.Boxes {
		id := atoiOrZero(idStr)
		boxes[id] = gamestate.IntPoint{X: xy[0], Y: xy[1]}
	}

	c.mu.Lock()
	c.started = true
	c.playerID = boot.ID
	c.game.ResetBare()
	c.game.SetBoxes(boxes)
	c.inGame.Store(true)
	c.mu.Unlock()

	slog.Info("client: match started", "node", c.nodeID, "player_id", boot.ID)
}

// handleActions decodes a server ACTIONS delta, queues its changes for the
// state loop to apply at its own rate, and acks synchronously with decoding.
// Acks are never themselves retransmitted, so this bypasses the cache.
// A retransmitted or stale seq_num is acked without re-queueing its changes:
// re-applying an old move delta after the player has moved on would re-stamp
// a cell the authority has since rewritten.
func (c *Client) handleActions(p *wire.Payload, addr net.Addr) {
	if c.advanceDelivered(p.SeqNum) {
		changes := wire.DecodeChanges(p.Data)
		c.mu.Lock()
		c.pendingDeltas = append(c.pendingDeltas, changes...)
		c.mu.Unlock()
	}

	c.mu.Lock()
	uuid, port := c.playerUUID, c.lobbyPort
	c.mu.Unlock()

	ack := &wire.Payload{
		Type:        wire.Ack,
		LobbyID:     p.LobbyID,
		PlayerID:    uuid,
		SeqNum:      p.SeqNum,
		TTL:         wire.InitialTTL,
		Destination: p.Source,
		Port:        port,
	}
	if _, err := c.conn.WriteTo(wire.Encode(ack), addr); err != nil {
		slog.Warn("client: ack send failed", "node", c.nodeID, "error", err)
	}
}

// advanceDelivered raises the last-delivered delta sequence to seq if it is
// strictly newer, reporting false for duplicates and stale retransmits.
func (c *Client) advanceDelivered(seq uint32) bool {
	for {
		cur := c.lastDelivered.Load()
		if seq <= cur {
			return false
		}
		if c.lastDelivered.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

// forwardIfNotMine relays a payload addressed to another player toward its
// destination: the carrying hop decrements the TTL, drops the packet once
// it hits zero, and otherwise queues the copy for the output loop under the
// destination's own cache key. Reports whether the payload was consumed.
func (c *Client) forwardIfNotMine(p *wire.Payload, now time.Time) bool {
	c.mu.Lock()
	mine := p.PlayerID == "" || p.PlayerID == c.playerUUID
	c.mu.Unlock()
	if mine {
		return false
	}

	if p.TTL == 0 {
		slog.Debug("client: dropping expired relay payload", "node", c.nodeID, "type", p.Type)
		return true
	}
	fwd := *p
	fwd.TTL--
	c.cache.AddUnsent(fwd.ShortDestination(), &fwd, now)
	return true
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

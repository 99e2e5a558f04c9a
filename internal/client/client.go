// Package client implements the player-side transport: the join
// handshake against the authority, the wired-mode steady-state loops, and
// the mobile-mode DTN additions (beacon ingestion, preferred-next-hop
// selection). A Client owns one local socket and, in mobile mode, one
// multicast socket; application traffic — JOIN/ACCEPT, ACTIONS, STATE, and
// KALIVE in wired mode — flows over the local socket, addressed to whichever
// destination the current mode and preferred-hop policy select. In mobile
// mode KALIVE is multicast on the DTN socket instead.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bomberdude/internal/cache"
	"bomberdude/internal/gamestate"
	"bomberdude/internal/location"
	"bomberdude/internal/mcast"
	"bomberdude/internal/wire"
)

// ErrJoinFailed is returned by Join once the reconnect budget is exhausted
// without an ACCEPT, or a REJECT is ever received.
var ErrJoinFailed = errors.New("client: join failed")

const (
	joinTimeout          = 2 * time.Second
	timeoutsBeforeRejoin = 8
	maxReconnectAttempts = 5

	kaliveInterval  = time.Second // 1 Hz
	stateInterval   = time.Second / 33
	outputInterval  = time.Second / 33
	metricsInterval = 5 * time.Second

	kaliveStale   = 5 * time.Second  // local warning threshold
	neighborStale = 10 * time.Second // mobile map eviction
)

// neighbor is one entry of a mobile or gateway map: a peer's last reported
// position, the distance this client computed to it, and how many hops its
// beacon travelled to reach this client (InitialTTL minus the received hop
// limit).
type neighbor struct {
	addr     net.Addr
	pos      location.Point
	distance float64
	hops     int
	lastSeen time.Time
}

// Stats is a snapshot of client-observable counters, useful for tests and
// operator-facing diagnostics.
type Stats struct {
	ReconnectAttempts int
	DroppedPackets    uint64
	Started           bool
	InGame            bool
	Preferred         string
}

// Client is one player's connection to the authority, directly (wired mode)
// or through the DTN overlay (mobile mode).
type Client struct {
	nodeID        string
	mobile        bool
	conn          net.PacketConn
	authorityAddr net.Addr
	retryInterval time.Duration
	cache         *cache.Cache
	drops         *wire.DropCounter

	mcastConn *mcast.Conn // mobile mode only

	mu            sync.Mutex
	lobbyID       string
	playerUUID    string
	playerID      int
	lobbyPort     uint32
	lobbyAddr     net.Addr
	pos           location.Point
	started       bool
	game          *gamestate.GameState
	pendingDeltas []wire.Change
	lastKalive    time.Time

	preferred  net.Addr
	gatewayMap map[string]neighbor
	mobileMap  map[string]neighbor

	outSeq            atomic.Uint32
	lastDelivered     atomic.Uint32
	reconnectAttempts atomic.Int32
	inGame            atomic.Bool

	terminate chan struct{}
	once      sync.Once
}

// New builds a client bound to an already-open local socket. In mobile
// mode, mcastConn must be a socket already joined to the DTN group
// (internal/mcast.Join); it is nil in wired mode.
func New(nodeID string, conn net.PacketConn, authorityAddr net.Addr, mcastConn *mcast.Conn, cacheTTL, retryInterval time.Duration) *Client {
	return &Client{
		nodeID:        nodeID,
		mobile:        mcastConn != nil,
		conn:          conn,
		authorityAddr: authorityAddr,
		retryInterval: retryInterval,
		cache:         cache.New(cacheTTL),
		drops:         wire.NewDropCounter(),
		mcastConn:     mcastConn,
		game:          &gamestate.GameState{},
		mobileMap:     make(map[string]neighbor),
		gatewayMap:    make(map[string]neighbor),
		terminate:     make(chan struct{}),
	}
}

// SetPosition records the client's current geographic position, used as the
// coordinate carried in outgoing KALIVE frames and as the reference
// point for preferred-hop distance comparisons.
func (c *Client) SetPosition(p location.Point) {
	c.mu.Lock()
	c.pos = p
	c.mu.Unlock()
}

// Stats returns a snapshot of client-observable counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	pref := ""
	if c.preferred != nil {
		pref = c.preferred.String()
	}
	return Stats{
		ReconnectAttempts: int(c.reconnectAttempts.Load()),
		DroppedPackets:    c.drops.Total(),
		Started:           c.started,
		InGame:            c.inGame.Load(),
		Preferred:         pref,
	}
}

// Join performs the handshake: send JOIN, wait up to 2 s for
// ACCEPT/REJECT; after 8 timeouts re-send as REJOIN; after 5 such reconnect
// attempts, give up with ErrJoinFailed.
func (c *Client) Join(ctx context.Context) error {
	buf := make([]byte, 2048)

	kind := wire.Join
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if err := c.sendHandshake(kind); err != nil {
			return fmt.Errorf("client: sending %s: %w", kind, err)
		}

		for timeouts := 0; timeouts < timeoutsBeforeRejoin; timeouts++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			c.conn.SetReadDeadline(time.Now().Add(joinTimeout))
			n, _, err := c.conn.ReadFrom(buf)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				return fmt.Errorf("client: join read: %w", err)
			}

			p, err := wire.Decode(buf[:n])
			if err != nil {
				continue
			}

			switch p.Type {
			case wire.Accept:
				return c.onAccept(p)
			case wire.Reject:
				return fmt.Errorf("%w: %s", ErrJoinFailed, string(p.Data))
			}
		}

		c.reconnectAttempts.Add(1)
		kind = wire.Rejoin
		slog.Warn("client: join timed out, reconnecting", "node", c.nodeID, "attempt", c.reconnectAttempts.Load())
	}

	return ErrJoinFailed
}

func (c *Client) sendHandshake(kind wire.Type) error {
	p := &wire.Payload{Type: kind, TTL: wire.InitialTTL}
	_, err := c.conn.WriteTo(wire.Encode(p), c.authorityAddr)
	return err
}

// onAccept records the admitted session (player uuid, lobby uuid, and the
// lobby's address) from an ACCEPT payload.
func (c *Client) onAccept(p *wire.Payload) error {
	if len(p.Data) < 2 {
		return fmt.Errorf("client: %w: ACCEPT missing lobby port", ErrJoinFailed)
	}
	port := int(binary.BigEndian.Uint16(p.Data))

	host, ok := c.authorityAddr.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("client: %w: authority address is not UDP", ErrJoinFailed)
	}
	lobbyAddr := &net.UDPAddr{IP: host.IP, Port: port, Zone: host.Zone}

	c.mu.Lock()
	c.lobbyID = p.LobbyID
	c.playerUUID = p.PlayerID
	c.lobbyPort = uint32(port)
	c.lobbyAddr = lobbyAddr
	if !c.mobile {
		c.preferred = lobbyAddr
	}
	c.mu.Unlock()

	slog.Info("client: joined lobby", "node", c.nodeID, "lobby", c.lobbyID, "player", c.playerUUID, "port", port)
	return nil
}

// Run starts the steady-state loops and blocks until ctx is
// cancelled or a loop reports an unrecoverable error. Join must have
// already succeeded.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.inputLoop(gctx) })
	g.Go(func() error { return c.kaliveLoop(gctx) })
	g.Go(func() error { return c.stateLoop(gctx) })
	g.Go(func() error { return c.outputLoop(gctx) })

	if c.mobile {
		g.Go(func() error { return c.dtnInputLoop(gctx) })
		g.Go(func() error { return c.metricsLoop(gctx) })
	}

	err := g.Wait()
	c.Terminate()
	return err
}

// Terminate signals every loop to exit. Safe to call multiple times and
// concurrently with Run.
func (c *Client) Terminate() {
	c.once.Do(func() {
		c.leave()
		close(c.terminate)
	})
}

func (c *Client) leave() {
	c.mu.Lock()
	uuid, lobbyID, port := c.playerUUID, c.lobbyID, c.lobbyPort
	dest := c.currentDestLocked()
	c.mu.Unlock()
	if dest == nil {
		return
	}
	p := &wire.Payload{Type: wire.Leave, LobbyID: lobbyID, PlayerID: uuid, TTL: wire.InitialTTL, Port: port}
	if _, err := c.conn.WriteTo(wire.Encode(p), dest); err != nil {
		slog.Warn("client: leave send failed", "node", c.nodeID, "error", err)
	}
}

// currentDestLocked returns the address outbound application traffic is
// currently addressed to: the preferred mobile next hop in mobile mode, the
// lobby directly otherwise. Caller must hold c.mu.
func (c *Client) currentDestLocked() net.Addr {
	if c.mobile {
		return c.preferred
	}
	return c.lobbyAddr
}

// destKeyLocked returns the cache key for this client's one logical
// destination: the lobby itself. Unlike currentDestLocked, this never
// changes as the preferred next hop is re-evaluated, so cache entries for
// in-flight intents survive a next-hop switch. Caller must hold c.mu.
func (c *Client) destKeyLocked() string {
	if c.lobbyAddr == nil {
		return ""
	}
	return c.lobbyAddr.String()
}

// SubmitIntent is the contract's production side: an external game
// loop calls this with one change record describing an attempted move,
// bomb plant, or crate-destroy intent. It is stamped with this client's
// next sequence number and queued for the output loop to send.
func (c *Client) SubmitIntent(ch wire.Change) {
	c.mu.Lock()
	uuid, lobbyID, port, destKey := c.playerUUID, c.lobbyID, c.lobbyPort, c.destKeyLocked()
	c.mu.Unlock()
	if destKey == "" {
		return
	}

	seq := c.outSeq.Add(1)
	p := &wire.Payload{
		Type:     wire.Actions,
		LobbyID:  lobbyID,
		PlayerID: uuid,
		SeqNum:   seq,
		TTL:      wire.InitialTTL,
		Port:     port,
		Data:     wire.EncodeChanges([]wire.Change{ch}),
	}
	c.cache.AddUnsent(destKey, p, time.Now())
}

// State returns the client's local mirror of the authoritative game state:
// an external renderer reads the grid and
// entity positions from here after each applied delta.
func (c *Client) State() *gamestate.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

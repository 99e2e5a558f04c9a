// Package gateway implements the DTN relay: a node that beacons
// its own position into the multicast DTN group, learns the mobile nodes
// reachable from it, and bridges application traffic between that overlay
// and the wired authoritative server.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bomberdude/internal/cache"
	"bomberdude/internal/location"
	"bomberdude/internal/mcast"
	"bomberdude/internal/wire"
)

// serverCacheKey is the single logical destination used for outgoing_server
// cache entries: there is exactly one server, so unlike the
// per-mobile outgoing_mobile keying there is nothing to disambiguate.
const serverCacheKey = "server"

// neighbor is one entry of the gateway's mobile-node map:
// the mobile's last reported position, this gateway's computed distance to
// it, its hop count, and when it was last heard from.
type neighbor struct {
	addr     net.Addr
	pos      location.Point
	distance float64
	hops     int
	lastSeen time.Time
}

// Gateway is one DTN relay node.
type Gateway struct {
	nodeID     string
	serverAddr net.Addr
	wiredConn  net.PacketConn
	mcastConn  *mcast.Conn

	beaconEvery   time.Duration
	cacheTimeout  time.Duration
	retryInterval time.Duration

	outgoingMobile *cache.Cache
	outgoingServer *cache.Cache
	drops          *wire.DropCounter

	mu              sync.Mutex
	position        location.Point
	mobileNodes     map[string]neighbor
	preferredMobile net.Addr

	// fallbackMobile is the address of the first non-server sender seen on
	// the wired socket: it gives the gateway somewhere to deliver a just-joined client's ACCEPT before
	// any DTN beacon has populated mobileNodes.
	fallbackMobile net.Addr

	terminate chan struct{}
	once      sync.Once
}

// New builds a gateway bound to an already-open wired socket (towards the
// server) and an already-joined multicast socket (towards the DTN group).
func New(nodeID string, wiredConn net.PacketConn, serverAddr net.Addr, mcastConn *mcast.Conn, beaconEvery, cacheTimeout, retryInterval time.Duration) *Gateway {
	return &Gateway{
		nodeID:         nodeID,
		serverAddr:     serverAddr,
		wiredConn:      wiredConn,
		mcastConn:      mcastConn,
		beaconEvery:    beaconEvery,
		cacheTimeout:   cacheTimeout,
		retryInterval:  retryInterval,
		outgoingMobile: cache.New(cacheTimeout),
		outgoingServer: cache.New(cacheTimeout),
		drops:          wire.NewDropCounter(),
		mobileNodes:    make(map[string]neighbor),
		terminate:      make(chan struct{}),
	}
}

// SetPosition records this gateway's fixed geographic position, carried in
// its own GKALIVE beacons and used as the reference point for preferred-node
// distance comparisons.
func (g *Gateway) SetPosition(p location.Point) {
	g.mu.Lock()
	g.position = p
	g.mu.Unlock()
}

// Run starts the five gateway loops (beacon, wired-in, dtn-in, outbound,
// cache-cleanup) and blocks until ctx is cancelled or one reports an
// unrecoverable error.
func (g *Gateway) Run(ctx context.Context) error {
	gr, gctx := errgroup.WithContext(ctx)

	gr.Go(func() error { return g.beaconLoop(gctx) })
	gr.Go(func() error { return g.wiredInLoop(gctx) })
	gr.Go(func() error { return g.dtnInLoop(gctx) })
	gr.Go(func() error { return g.outboundLoop(gctx) })
	gr.Go(func() error { return g.cleanupLoop(gctx) })

	err := gr.Wait()
	g.Terminate()
	return err
}

// Terminate signals every loop to exit, after a best-effort forced flush of
// both caches.
// Safe to call multiple times and concurrently with Run.
func (g *Gateway) Terminate() {
	g.once.Do(func() {
		g.forceFlush()
		close(g.terminate)
	})
}

// forceFlush sends every cached entry, sent or not, one last time: a
// best-effort attempt at delivery before the process exits, offering no
// delivery guarantee.
func (g *Gateway) forceFlush() {
	now := time.Now()

	g.mu.Lock()
	preferred := g.preferredMobileLocked()
	g.mu.Unlock()

	for _, e := range append(g.outgoingServer.DrainUnsent(now), g.outgoingServer.RetryDue(now, 0)...) {
		g.sendWired(e.Payload, g.serverDest(e.Payload))
	}
	if preferred != nil {
		for _, e := range append(g.outgoingMobile.DrainUnsent(now), g.outgoingMobile.RetryDue(now, 0)...) {
			g.sendWired(e.Payload, preferred)
		}
	}
}

// serverDest resolves where on the wired side p belongs: the front door by
// default, or the lobby's own port when the header carries one.
func (g *Gateway) serverDest(p *wire.Payload) net.Addr {
	ua, ok := g.serverAddr.(*net.UDPAddr)
	if !ok || p.Port == 0 {
		return g.serverAddr
	}
	return &net.UDPAddr{IP: ua.IP, Port: int(p.Port), Zone: ua.Zone}
}

func (g *Gateway) sendWired(p *wire.Payload, dest net.Addr) {
	if dest == nil {
		return
	}
	if _, err := g.wiredConn.WriteTo(wire.Encode(p), dest); err != nil {
		slog.Warn("gateway: wired send failed", "node", g.nodeID, "error", err)
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

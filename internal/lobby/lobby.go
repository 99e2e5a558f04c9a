// Package lobby implements the authoritative per-match runtime:
// membership, the four cooperating loops, and the Waiting→Starting→InGame→
// Ended state machine. A lobby owns its connections; connection I/O is
// always mediated by the lobby, so no connection ever holds a back-pointer.
package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bomberdude/internal/cache"
	"bomberdude/internal/connection"
	"bomberdude/internal/gamestate"
	"bomberdude/internal/wire"
)

// Phase is the lobby's lifecycle state.
type Phase int

const (
	Waiting Phase = iota
	Starting
	InGame
	Ended
)

func (p Phase) String() string {
	switch p {
	case Waiting:
		return "waiting"
	case Starting:
		return "starting"
	case InGame:
		return "in_game"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

const (
	inboundRate   = 100 // Hz
	tickRate      = 33
	outboundRate  = 33
	keepaliveRate = 1

	startingBroadcast = 50 * time.Millisecond
	startingWindow    = 2 * time.Second
)

// Lobby is one match's authoritative runtime.
type Lobby struct {
	ID       string
	Capacity int

	conn          net.PacketConn
	cache         *cache.Cache
	drops         *wire.DropCounter
	retryInterval time.Duration

	mu        sync.Mutex
	phase     Phase
	members   map[int]*connection.Connection
	game      *gamestate.GameState
	inbound   []gamestate.Intent
	outNext   map[int][]wire.Change
	outSeq    map[int]uint32
	startedAt time.Time

	terminate chan struct{}
	once      sync.Once
}

// New creates a lobby bound to bindAddr on an OS-chosen ephemeral port.
// The caller is responsible for registering the lobby's listening
// port with the front door so it can be relayed to admitted clients.
func New(id, bindAddr string, capacity int, cacheTTL, retryInterval time.Duration) (*Lobby, error) {
	addr, err := net.ResolveUDPAddr("udp6", net.JoinHostPort(bindAddr, "0"))
	if err != nil {
		return nil, fmt.Errorf("lobby: resolving bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp6", addr)
	if err != nil {
		return nil, fmt.Errorf("lobby: opening socket: %w", err)
	}
	return newLobby(id, conn, capacity, cacheTTL, retryInterval), nil
}

// NewWithConn builds a lobby over an already-open net.PacketConn, letting
// tests inject an in-memory fake instead of a real socket.
func NewWithConn(id string, conn net.PacketConn, capacity int, cacheTTL, retryInterval time.Duration) *Lobby {
	return newLobby(id, conn, capacity, cacheTTL, retryInterval)
}

func newLobby(id string, conn net.PacketConn, capacity int, cacheTTL, retryInterval time.Duration) *Lobby {
	return &Lobby{
		ID:            id,
		Capacity:      capacity,
		conn:          conn,
		cache:         cache.New(cacheTTL),
		drops:         wire.NewDropCounter(),
		retryInterval: retryInterval,
		phase:         Waiting,
		members:       make(map[int]*connection.Connection, capacity),
		game:          &gamestate.GameState{},
		outNext:       make(map[int][]wire.Change),
		outSeq:        make(map[int]uint32),
		terminate:     make(chan struct{}),
	}
}

// Port returns the lobby's bound UDP port, for ACCEPT replies.
func (l *Lobby) Port() int {
	if addr, ok := l.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Drops exposes the per-source counter of undecodable datagrams received
// on this lobby's socket.
func (l *Lobby) Drops() *wire.DropCounter {
	return l.drops
}

// Phase returns the current lifecycle state.
func (l *Lobby) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// HasMember reports whether a member with the given wire identifier is
// currently admitted.
func (l *Lobby) HasMember(uuid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memberByUUID(uuid) != nil
}

// MemberCount returns the number of currently admitted connections.
func (l *Lobby) MemberCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.members)
}

// AddPlayer admits conn as the next free player slot (1..Capacity) while
// Waiting. It returns the assigned slot id and false if the lobby is full or
// no longer accepting members.
func (l *Lobby) AddPlayer(uuid string, addr net.Addr) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.phase != Waiting || len(l.members) >= l.Capacity {
		return 0, false
	}

	for id := 1; id <= l.Capacity; id++ {
		if _, taken := l.members[id]; taken {
			continue
		}
		c := connection.New(id, uuid, addr)
		l.members[id] = c
		slog.Info("player admitted to lobby", "lobby", l.ID, "player", id, "uuid", uuid)
		if len(l.members) == l.Capacity {
			l.beginStarting()
		}
		return id, true
	}
	return 0, false
}

// beginStarting transitions Waiting→Starting once capacity is reached.
// Caller must hold l.mu.
func (l *Lobby) beginStarting() {
	l.phase = Starting
	l.game.Reset()
	l.startedAt = time.Now()
	slog.Info("lobby starting", "lobby", l.ID, "members", len(l.members))
}

// Run supervises the lobby's cooperating loops until ctx is cancelled or the
// lobby terminates on its own (empty-and-idle).
func (l *Lobby) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.inboundLoop(gctx) })
	g.Go(func() error { return l.startingLoop(gctx) })
	g.Go(func() error { return l.tickLoop(gctx) })
	g.Go(func() error { return l.outboundLoop(gctx) })
	g.Go(func() error { return l.keepaliveLoop(gctx) })

	err := g.Wait()
	l.conn.Close()
	return err
}

// Terminate best-effort flushes any cached unsent payloads and signals every
// loop to exit.
func (l *Lobby) Terminate() {
	l.once.Do(func() {
		l.flushFinal()
		close(l.terminate)
	})
}

// flushFinal best-effort delivers every still-unsent payload before the
// lobby's loops exit. Destinations are resolved the same way the outbound
// loop does: by matching the payload's PlayerID against current membership.
func (l *Lobby) flushFinal() {
	now := time.Now()
	for _, e := range l.cache.DrainUnsent(now) {
		l.transmit(e.Payload, now)
	}
}

// memberByUUID finds the connection whose wire identifier matches uuid.
// Caller must hold l.mu. O(capacity), fine at ≤4 members.
func (l *Lobby) memberByUUID(uuid string) *connection.Connection {
	for _, c := range l.members {
		if c.UUID == uuid {
			return c
		}
	}
	return nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

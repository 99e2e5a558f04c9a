// Package server implements the front door: the single
// well-known UDP socket that admits JOIN/REJOIN, places players into a
// lobby, and spawns new lobbies on demand.
package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bomberdude/internal/lobby"
	"bomberdude/internal/location"
	"bomberdude/internal/wire"
)

// Server is the front door: one socket, one set of live lobbies.
type Server struct {
	bindAddr      string
	port          int
	capacity      int
	lobbyCacheTTL time.Duration
	retryInterval time.Duration

	conn  net.PacketConn
	drops *wire.DropCounter

	mu      sync.Mutex
	lobbies map[string]*lobby.Lobby
}

// New opens the front door socket on bindAddr:port.
func New(bindAddr string, port, capacity int, lobbyCacheTTL, retryInterval time.Duration) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp6", net.JoinHostPort(bindAddr, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("server: resolving bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp6", addr)
	if err != nil {
		return nil, fmt.Errorf("server: opening socket: %w", err)
	}
	return &Server{
		bindAddr:      bindAddr,
		port:          port,
		capacity:      capacity,
		lobbyCacheTTL: lobbyCacheTTL,
		retryInterval: retryInterval,
		conn:          conn,
		drops:         wire.NewDropCounter(),
		lobbies:       make(map[string]*lobby.Lobby),
	}, nil
}

// Run accepts JOIN/REJOIN on the front door socket until ctx is cancelled.
// Spawned lobbies run under the same errgroup, so a lobby crash surfaces
// here rather than silently vanishing.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx, g) })
	err := g.Wait()
	s.conn.Close()
	return err
}

func (s *Server) acceptLoop(ctx context.Context, g *errgroup.Group) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("server: read failed", "error", err)
			continue
		}

		p, err := wire.Decode(buf[:n])
		if err != nil {
			s.drops.Inc(addr.String())
			slog.Debug("server: dropping malformed/unknown packet", "from", addr, "error", err)
			continue
		}

		switch p.Type {
		case wire.Join, wire.Rejoin:
			s.admit(ctx, g, p, addr)
		default:
			slog.Debug("server: unexpected packet at front door", "type", p.Type)
		}
	}
}

// admit places the joining client into a non-full lobby (matching LobbyID
// if supplied, else any non-full lobby, else a freshly spawned one), then
// replies ACCEPT with the lobby's port.
func (s *Server) admit(ctx context.Context, g *errgroup.Group, p *wire.Payload, addr net.Addr) {
	s.mu.Lock()
	lb := s.findJoinableLocked(p.LobbyID)
	if lb == nil {
		var err error
		lb, err = s.spawnLobbyLocked(ctx, g)
		if err != nil {
			s.mu.Unlock()
			slog.Error("server: spawning lobby failed", "error", err)
			s.reject(addr, "lobby unavailable")
			return
		}
	}
	s.mu.Unlock()

	uuid := location.ShortUUID()
	for lb.HasMember(uuid) {
		uuid = location.ShortUUID()
	}
	if _, ok := lb.AddPlayer(uuid, addr); !ok {
		s.reject(addr, "lobby full")
		return
	}

	s.accept(addr, lb.ID, uuid, lb.Port())
}

func (s *Server) findJoinableLocked(lobbyID string) *lobby.Lobby {
	if lobbyID != "" {
		if lb, ok := s.lobbies[lobbyID]; ok && lb.MemberCount() < s.capacity && lb.Phase() == lobby.Waiting {
			return lb
		}
		return nil
	}
	for _, lb := range s.lobbies {
		if lb.MemberCount() < s.capacity && lb.Phase() == lobby.Waiting {
			return lb
		}
	}
	return nil
}

func (s *Server) spawnLobbyLocked(ctx context.Context, g *errgroup.Group) (*lobby.Lobby, error) {
	id := location.ShortUUID()
	for _, exists := s.lobbies[id]; exists; _, exists = s.lobbies[id] {
		id = location.ShortUUID()
	}

	lb, err := lobby.New(id, s.bindAddr, s.capacity, s.lobbyCacheTTL, s.retryInterval)
	if err != nil {
		return nil, err
	}
	s.lobbies[id] = lb

	g.Go(func() error {
		slog.Info("lobby spawned", "lobby", id, "port", lb.Port())
		err := lb.Run(ctx)
		s.mu.Lock()
		delete(s.lobbies, id)
		s.mu.Unlock()
		return err
	})

	return lb, nil
}

// accept replies ACCEPT carrying the lobby's port (2 B BE) and, in the
// header, the lobby and player identifiers the client needs to address its
// subsequent traffic at the lobby directly.
func (s *Server) accept(addr net.Addr, lobbyID, playerUUID string, port int) {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(port))
	p := &wire.Payload{Type: wire.Accept, LobbyID: lobbyID, PlayerID: playerUUID, TTL: wire.InitialTTL, Data: data}
	if _, err := s.conn.WriteTo(wire.Encode(p), addr); err != nil {
		slog.Warn("server: ACCEPT send failed", "error", err)
	}
}

func (s *Server) reject(addr net.Addr, reason string) {
	p := &wire.Payload{Type: wire.Reject, TTL: wire.InitialTTL, Data: []byte(reason)}
	if _, err := s.conn.WriteTo(wire.Encode(p), addr); err != nil {
		slog.Warn("server: REJECT send failed", "error", err)
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

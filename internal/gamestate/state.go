package gamestate

import (
	"time"

	"bomberdude/internal/wire"
)

// Player is an authoritative player record.
type Player struct {
	ID    int
	Pos   IntPoint
	Alive bool
}

// Bomb is a planted, not-yet-exploded bomb.
type Bomb struct {
	ID        int
	OwnerID   int
	Pos       IntPoint
	PlantedAt time.Time
	Range     int
}

// Explosion is a still-visible blast sector.
type Explosion struct {
	Cells     []IntPoint
	ExpiresAt time.Time
}

// Gameplay defaults.
const (
	DefaultBombRange = 2
	DefaultBombLimit = 1
	BombFuse         = 3 * time.Second
	ExplosionLife    = time.Second
)

// GameState is the authoritative grid+entities model.
type GameState struct {
	Grid       [GridSize][GridSize]byte
	Players    map[int]*Player
	Bombs      map[int]*Bomb
	Explosions []*Explosion
	Boxes      map[int]IntPoint

	BombRange int
	BombLimit int

	nextBombID int
}

// Reset seeds a fresh board: walls, four spawned players, and scattered
// crates. Called once per lobby when it transitions to Starting.
func (s *GameState) Reset() {
	s.resetBoard()
	s.Boxes = seedCrates(&s.Grid)
}

// ResetBare seeds the fixed part of the board — walls and spawned players —
// without randomly scattering crates. Used by the client mirror when a
// STATE bootstrap arrives: the client's box layout comes verbatim from the
// server's bootstrap document, not from its own random draw, so the two
// grids never diverge.
func (s *GameState) ResetBare() {
	s.resetBoard()
	s.Boxes = make(map[int]IntPoint)
}

func (s *GameState) resetBoard() {
	s.Grid = NewGrid()
	s.Players = make(map[int]*Player, 4)
	s.Bombs = make(map[int]*Bomb)
	s.Explosions = nil
	s.nextBombID = 1

	if s.BombRange == 0 {
		s.BombRange = DefaultBombRange
	}
	if s.BombLimit == 0 {
		s.BombLimit = DefaultBombLimit
	}

	for id := 1; id <= 4; id++ {
		p := SpawnPoints[id-1]
		s.Players[id] = &Player{ID: id, Pos: p, Alive: true}
		s.Grid[p.Y][p.X] = TileLiveBase + byte(id)
	}
}

// SetBoxes installs the authoritative box layout (from a STATE bootstrap)
// onto the board, stamping each box cell as a crate.
func (s *GameState) SetBoxes(boxes map[int]IntPoint) {
	s.Boxes = boxes
	for _, p := range boxes {
		s.Grid[p.Y][p.X] = TileCrate
	}
}

// ApplyDelta applies one server-authored delta directly to the grid,
// without re-validating the precondition tile — the client trusts the
// authority and only mirrors its state (STATE/ACTIONS
// handling).
func (s *GameState) ApplyDelta(c wire.Change) {
	if int(c.NextX) >= GridSize || int(c.NextY) >= GridSize {
		return
	}
	s.Grid[c.NextY][c.NextX] = c.NextTile
}

// LivePlayers returns the ids of players still alive.
func (s *GameState) LivePlayers() []int {
	var ids []int
	for id, p := range s.Players {
		if p.Alive {
			ids = append(ids, id)
		}
	}
	return ids
}

// liveBombCount returns how many of ownerID's bombs have not yet exploded.
func (s *GameState) liveBombCount(ownerID int) int {
	n := 0
	for _, b := range s.Bombs {
		if b.OwnerID == ownerID {
			n++
		}
	}
	return n
}

func adjacent4(a, b IntPoint) bool {
	dx := a.X - b.X
	dy := a.Y - b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return (dx == 1 && dy == 0) || (dx == 0 && dy == 1)
}

func inBounds(p IntPoint) bool {
	return p.X >= 0 && p.X < GridSize && p.Y >= 0 && p.Y < GridSize
}

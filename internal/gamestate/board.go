// Package gamestate implements the authoritative grid-and-entities model
// : deterministic intent application, collision, bomb fuses,
// explosions, and deaths.
package gamestate

import "math/rand/v2"

// GridSize is the fixed board dimension (13×13).
const GridSize = 13

// Tile codes. Grid cells never hold any value outside this set; a dead
// player's tile is 109+id, so the dead range is 110..113.
const (
	TileFloor     byte = 0
	TileWall      byte = 1
	TileCrate     byte = 2
	TileExplosion byte = 3

	// TileLiveBase + playerID (1..4) is the live-player tile.
	TileLiveBase byte = 9
	// TileDeadBase + playerID (1..4) is the dead-player tile.
	TileDeadBase byte = 109
)

// SpawnPoints are the four interior corners, indexed by player id (1..4)
// via SpawnPoints[id-1].
var SpawnPoints = [4]IntPoint{
	{X: 1, Y: 1},
	{X: 11, Y: 1},
	{X: 1, Y: 11},
	{X: 11, Y: 11},
}

// IntPoint is a grid coordinate.
type IntPoint struct {
	X, Y int
}

// NewGrid returns the default board: walls line the border and every even
// (x,y) interior cell; everything else starts as floor.
func NewGrid() [GridSize][GridSize]byte {
	var g [GridSize][GridSize]byte
	for y := 0; y < GridSize; y++ {
		for x := 0; x < GridSize; x++ {
			if x == 0 || x == GridSize-1 || y == 0 || y == GridSize-1 {
				g[y][x] = TileWall
				continue
			}
			if x%2 == 0 && y%2 == 0 {
				g[y][x] = TileWall
				continue
			}
			g[y][x] = TileFloor
		}
	}
	return g
}

// crateDensity is the fraction of open (non-wall, non-spawn-safe) floor
// cells seeded with a crate when a lobby starts.
const crateDensity = 0.5

// seedCrates scatters crates across open floor tiles, skipping every
// spawn point and its immediate 4-neighbors so no player starts boxed in.
// Returns the seeded boxes keyed by a synthetic box id (1-based, insertion
// order), matching the STATE bootstrap's boxes map.
func seedCrates(g *[GridSize][GridSize]byte) map[int]IntPoint {
	safe := make(map[IntPoint]bool)
	for _, sp := range SpawnPoints {
		safe[sp] = true
		for _, d := range []IntPoint{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			safe[IntPoint{X: sp.X + d.X, Y: sp.Y + d.Y}] = true
		}
	}

	boxes := make(map[int]IntPoint)
	id := 1
	for y := 0; y < GridSize; y++ {
		for x := 0; x < GridSize; x++ {
			p := IntPoint{X: x, Y: y}
			if g[y][x] != TileFloor || safe[p] {
				continue
			}
			if rand.Float64() < crateDensity {
				g[y][x] = TileCrate
				boxes[id] = p
				id++
			}
		}
	}
	return boxes
}

package gamestate

import (
	"time"

	"bomberdude/internal/wire"
)

var crossDirections = [4]IntPoint{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}}

// AdvanceBombs ignites any bomb whose fuse has expired, propagates its
// blast, chains through any bomb caught in range, kills any player hit, and
// clears explosion sectors whose 1-second lifetime has elapsed.
// Bombs are removed from s.Bombs before recursing into chained bombs, so
// the chain always terminates in finite steps.
func (s *GameState) AdvanceBombs(now time.Time) TickResult {
	result := newTickResult()

	for _, b := range s.duePlain(now) {
		seen := make(map[int]bool)
		s.explode(b, now, seen, &result)
	}

	s.clearExpiredExplosions(now, &result)

	return result
}

// duePlain returns bombs whose fuse has elapsed, in a stable snapshot so the
// explosion loop can safely mutate s.Bombs while iterating.
func (s *GameState) duePlain(now time.Time) []*Bomb {
	var due []*Bomb
	for _, b := range s.Bombs {
		if now.Sub(b.PlantedAt) >= BombFuse {
			due = append(due, b)
		}
	}
	return due
}

func (s *GameState) bombAt(pos IntPoint) *Bomb {
	for _, b := range s.Bombs {
		if b.Pos == pos {
			return b
		}
	}
	return nil
}

func (s *GameState) livePlayerAt(pos IntPoint) int {
	for id, p := range s.Players {
		if p.Alive && p.Pos == pos {
			return id
		}
	}
	return 0
}

// explode ignites one bomb: its cross-shaped sector fills outward to
// b.Range, stopping at walls and at the first crate it reaches (the crate
// itself is included, but removal is still a separate client-driven
// intent). A bomb encountered in range chains immediately, using
// the same id-root — modeled here as an immediate recursive explode call
// that is merged into the same TickResult and Explosion sector.
func (s *GameState) explode(b *Bomb, now time.Time, seen map[int]bool, result *TickResult) {
	if seen[b.ID] {
		return
	}
	seen[b.ID] = true
	delete(s.Bombs, b.ID)

	cells := []IntPoint{b.Pos}
	s.blastCell(b.Pos, result)

	for _, dir := range crossDirections {
		for step := 1; step <= b.Range; step++ {
			p := IntPoint{X: b.Pos.X + dir.X*step, Y: b.Pos.Y + dir.Y*step}
			if !inBounds(p) {
				break
			}
			tile := s.Grid[p.Y][p.X]
			if tile == TileWall {
				break
			}

			cells = append(cells, p)
			s.blastCell(p, result)

			// A planted bomb sits on a crate tile, so the chain check
			// must come before the crate stop.
			if chained := s.bombAt(p); chained != nil {
				s.explode(chained, now, seen, result)
				break
			}
			if tile == TileCrate {
				break
			}
		}
	}

	s.Explosions = append(s.Explosions, &Explosion{Cells: cells, ExpiresAt: now.Add(ExplosionLife)})
}

// blastCell applies the immediate effect of a blast passing through pos:
// a live player there dies (tile becomes the dead-player code and the
// player's position is cleared to (-1,-1)); any other cell becomes the
// explosion tile. Bomb cells are handled by the caller before recursing.
func (s *GameState) blastCell(pos IntPoint, result *TickResult) {
	old := s.Grid[pos.Y][pos.X]

	if id := s.livePlayerAt(pos); id != 0 {
		player := s.Players[id]
		player.Alive = false
		player.Pos = IntPoint{X: -1, Y: -1}
		newTile := TileDeadBase + byte(id)
		s.Grid[pos.Y][pos.X] = newTile
		result.Deaths = append(result.Deaths, id)
		result.Broadcast = append(result.Broadcast, wire.Change{
			CurX: byte(pos.X), CurY: byte(pos.Y), CurTile: old,
			NextX: byte(pos.X), NextY: byte(pos.Y), NextTile: newTile,
		})
		return
	}

	if old == TileExplosion {
		return
	}
	s.Grid[pos.Y][pos.X] = TileExplosion
	result.Broadcast = append(result.Broadcast, wire.Change{
		CurX: byte(pos.X), CurY: byte(pos.Y), CurTile: old,
		NextX: byte(pos.X), NextY: byte(pos.Y), NextTile: TileExplosion,
	})
}

// clearExpiredExplosions reverts every tile in an expired explosion's
// sector to floor and drops the explosion from the visible list.
func (s *GameState) clearExpiredExplosions(now time.Time, result *TickResult) {
	var live []*Explosion
	for _, ex := range s.Explosions {
		if now.Before(ex.ExpiresAt) {
			live = append(live, ex)
			continue
		}
		for _, c := range ex.Cells {
			old := s.Grid[c.Y][c.X]
			if old == TileFloor {
				continue
			}
			s.Grid[c.Y][c.X] = TileFloor
			result.Broadcast = append(result.Broadcast, wire.Change{
				CurX: byte(c.X), CurY: byte(c.Y), CurTile: old,
				NextX: byte(c.X), NextY: byte(c.Y), NextTile: TileFloor,
			})
		}
	}
	s.Explosions = live
}

package gamestate

import (
	"time"

	"bomberdude/internal/wire"
)

// Intent is one queued client change, tagged with the player that sent it.
type Intent struct {
	PlayerID int
	Change   wire.Change
}

// TickResult is the output of one state-advance tick: the changes every
// member receives (Broadcast), the changes only the offending sender
// receives (Corrective, keyed by player id), and the ids of players who died this
// tick (used by the lobby to reap slots and detect a winner).
type TickResult struct {
	Broadcast  []wire.Change
	Corrective map[int][]wire.Change
	Deaths     []int
}

func newTickResult() TickResult {
	return TickResult{Corrective: make(map[int][]wire.Change)}
}

// ApplyIntents applies queued client intents in arrival order. The
// first compatible intent targeting a cell wins; later conflicting intents
// re-read the (now mutated) grid and are naturally rejected.
func (s *GameState) ApplyIntents(intents []Intent, now time.Time) TickResult {
	result := newTickResult()

	for _, intent := range intents {
		c := intent.Change
		cur := IntPoint{X: int(c.CurX), Y: int(c.CurY)}
		next := IntPoint{X: int(c.NextX), Y: int(c.NextY)}
		if !inBounds(cur) || !inBounds(next) {
			continue
		}

		actual := s.Grid[cur.Y][cur.X]
		if actual != c.CurTile {
			s.correct(&result, intent.PlayerID, cur, actual)
			continue
		}

		switch {
		case cur == next && c.CurTile == TileFloor && c.NextTile == TileCrate:
			s.applyPlantBomb(&result, intent.PlayerID, cur, now)

		case cur != next && c.NextTile == TileFloor:
			s.applyMove(&result, intent.PlayerID, cur, next, actual)

		case cur == next && c.CurTile == TileCrate && s.cellInActiveExplosion(cur):
			s.applyCrateDestroy(&result, cur)

		default:
			s.correct(&result, intent.PlayerID, cur, actual)
		}
	}

	return result
}

func (s *GameState) correct(result *TickResult, playerID int, pos IntPoint, tile byte) {
	change := wire.Change{
		CurX: byte(pos.X), CurY: byte(pos.Y), CurTile: tile,
		NextX: byte(pos.X), NextY: byte(pos.Y), NextTile: tile,
	}
	result.Corrective[playerID] = append(result.Corrective[playerID], change)
}

func (s *GameState) applyPlantBomb(result *TickResult, playerID int, pos IntPoint, now time.Time) {
	if s.liveBombCount(playerID) >= s.BombLimit {
		return
	}

	id := s.nextBombID
	s.nextBombID++
	s.Bombs[id] = &Bomb{ID: id, OwnerID: playerID, Pos: pos, PlantedAt: now, Range: s.BombRange}
	s.Grid[pos.Y][pos.X] = TileCrate

	result.Broadcast = append(result.Broadcast, wire.Change{
		CurX: byte(pos.X), CurY: byte(pos.Y), CurTile: TileFloor,
		NextX: byte(pos.X), NextY: byte(pos.Y), NextTile: TileCrate,
	})
}

func (s *GameState) applyMove(result *TickResult, playerID int, cur, next IntPoint, actual byte) {
	player := s.Players[playerID]
	if player == nil || !player.Alive {
		return
	}
	if actual != TileLiveBase+byte(playerID) || player.Pos != cur {
		s.correct(result, playerID, cur, actual)
		return
	}
	if !adjacent4(cur, next) || s.Grid[next.Y][next.X] != TileFloor {
		s.correct(result, playerID, cur, actual)
		return
	}

	s.Grid[cur.Y][cur.X] = TileFloor
	newTile := TileLiveBase + byte(playerID)
	s.Grid[next.Y][next.X] = newTile
	player.Pos = next

	result.Broadcast = append(result.Broadcast, wire.Change{
		CurX: byte(cur.X), CurY: byte(cur.Y), CurTile: actual,
		NextX: byte(next.X), NextY: byte(next.Y), NextTile: newTile,
	})
}

func (s *GameState) applyCrateDestroy(result *TickResult, pos IntPoint) {
	s.Grid[pos.Y][pos.X] = TileFloor
	for id, p := range s.Boxes {
		if p == pos {
			delete(s.Boxes, id)
			break
		}
	}

	result.Broadcast = append(result.Broadcast, wire.Change{
		CurX: byte(pos.X), CurY: byte(pos.Y), CurTile: TileCrate,
		NextX: byte(pos.X), NextY: byte(pos.Y), NextTile: TileCrate,
	})
}

func (s *GameState) cellInActiveExplosion(pos IntPoint) bool {
	for _, ex := range s.Explosions {
		for _, c := range ex.Cells {
			if c == pos {
				return true
			}
		}
	}
	return false
}

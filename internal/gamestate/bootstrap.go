package gamestate

import (
	"strconv"
	"time"
)

// Bootstrap is the STATE payload's UTF-8 JSON data region:
// {id, time, uuid, boxes}.
type Bootstrap struct {
	ID    int               `json:"id"`
	Time  int64             `json:"time"`
	UUID  string            `json:"uuid"`
	Boxes map[string][2]int `json:"boxes"`
}

// NewBootstrap builds the bootstrap document for one admitted player.
func (s *GameState) NewBootstrap(playerID int, startedAt time.Time, connUUID string) Bootstrap {
	boxes := make(map[string][2]int, len(s.Boxes))
	for id, p := range s.Boxes {
		boxes[strconv.Itoa(id)] = [2]int{p.X, p.Y}
	}
	return Bootstrap{
		ID:    playerID,
		Time:  startedAt.Unix(),
		UUID:  connUUID,
		Boxes: boxes,
	}
}

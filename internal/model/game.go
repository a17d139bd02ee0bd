package model

import (
	"encoding/json"
	"time"
)

type Game struct {
	ID          GameID
	GameType    string
	Rules       json.RawMessage
	Seed        int64
	NumPlayers  int
	Snapshot    json.RawMessage
	SnapshotPly int
	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
}

// Active reports whether the game still needs a worker.
func (g Game) Active() bool {
	return g.CompletedAt == nil && g.FailedAt == nil
}

type GamePlayer struct {
	GameID          GameID
	PlayerIndex     int
	InitialPlayerID UserID
	PlayerID        *UserID
	ResultPosition  *int
	ResultScore     *int64
}

type GameStep struct {
	GameID    GameID
	Ply       int
	Delta     json.RawMessage
	CreatedAt time.Time
}

type SeatResult struct {
	PlayerIndex int   `json:"seat"`
	Position    int   `json:"position"`
	Score       int64 `json:"score"`
}

// SeatedUsers returns the users currently occupying a seat.
func SeatedUsers(players []GamePlayer) []UserID {
	out := make([]UserID, 0, len(players))
	for _, p := range players {
		if p.PlayerID != nil {
			out = append(out, *p.PlayerID)
		}
	}
	return out
}

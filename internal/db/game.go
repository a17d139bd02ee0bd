package db

import (
	"time"

	"gorm.io/datatypes"
)

type Game struct {
	ID          int64          `gorm:"primaryKey"`
	GameType    string         `gorm:"size:64;not null"`
	Rules       datatypes.JSON `gorm:"type:jsonb;not null"`
	Seed        int64          `gorm:"not null"`
	NumPlayers  int            `gorm:"not null"`
	Snapshot    datatypes.JSON `gorm:"type:jsonb;not null"`
	SnapshotPly int            `gorm:"not null;default:0"`
	StartedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
	CompletedAt *time.Time
	FailedAt    *time.Time
	Players     []GamePlayer
	Steps       []GameStep
}

type GameStep struct {
	GameID    int64          `gorm:"primaryKey"`
	Ply       int            `gorm:"primaryKey"`
	Delta     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

package db

import (
	"time"

	"gorm.io/datatypes"
)

type GameProposal struct {
	ID         int64          `gorm:"primaryKey"`
	GameType   string         `gorm:"size:64;not null"`
	IsPublic   bool           `gorm:"not null;default:false"`
	MinPlayers int            `gorm:"not null"`
	MaxPlayers int            `gorm:"not null"`
	ModPlayers int            `gorm:"not null;default:1"`
	Rules      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
	Deadline   time.Time      `gorm:"index;not null"`
}

type GameProposalAcceptee struct {
	GameProposalID int64     `gorm:"primaryKey"`
	UserID         int64     `gorm:"primaryKey"`
	AcceptedAt     time.Time `gorm:"not null"`
	IsReady        bool      `gorm:"not null;default:false"`
}

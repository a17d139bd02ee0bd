package db

import "time"

// Session columns mirror the sessions_exclusive_payload check: either the
// proposal pair or the game pair is set.
type Session struct {
	ID             int64  `gorm:"primaryKey"`
	UserID         int64  `gorm:"uniqueIndex;not null"`
	GameProposalID *int64 `gorm:"index"`
	IsReady        *bool
	GameID         *int64 `gorm:"index"`
	PlayerIndex    *int
	CreatedAt      time.Time `gorm:"not null"`
}

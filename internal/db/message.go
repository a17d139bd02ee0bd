package db

import "time"

type Request struct {
	ID             int64  `gorm:"primaryKey"`
	Kind           string `gorm:"type:request_kind;not null"`
	FromUserID     *int64
	FromGroupID    *int64
	ToUserID       *int64
	ToGroupID      *int64
	GameProposalID *int64
	GameID         *int64
	PlayerIndex    *int
	SentAt         time.Time `gorm:"not null"`
}

type Message struct {
	ID        int64 `gorm:"primaryKey"`
	ToID      int64 `gorm:"index;not null"`
	FromID    *int64
	Subject   string `gorm:"size:200;not null"`
	Body      string `gorm:"not null"`
	WasRead   bool   `gorm:"not null;default:false"`
	RequestID *int64
	SentAt    time.Time `gorm:"not null"`
}

package db

type GamePlayer struct {
	GameID          int64  `gorm:"primaryKey"`
	PlayerIndex     int    `gorm:"primaryKey"`
	InitialPlayerID int64  `gorm:"not null"`
	PlayerID        *int64 `gorm:"index"`
	ResultPosition  *int
	ResultScore     *int64
}

package db

import "time"

type User struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"size:64;uniqueIndex;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	LastLoginAt *time.Time
}

type UserFingerprint struct {
	UserID      int64     `gorm:"primaryKey"`
	Fingerprint string    `gorm:"primaryKey;size:128"`
	CreatedAt   time.Time `gorm:"not null"`
}

type UserFriend struct {
	UserID    int64     `gorm:"primaryKey"`
	FriendID  int64     `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

type Group struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"size:64;uniqueIndex;not null"`
	Visibility  string    `gorm:"type:group_visibility;not null"`
	AllowJoin   bool      `gorm:"not null;default:false"`
	AllowInvite bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"not null"`
}

type GroupMember struct {
	GroupID int64  `gorm:"primaryKey"`
	UserID  int64  `gorm:"primaryKey;index"`
	Role    string `gorm:"type:group_role;not null"`
}

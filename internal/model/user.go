package model

import "time"

type User struct {
	ID          UserID
	Name        string
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityFriends Visibility = "friends"
	VisibilityPrivate Visibility = "private"
)

type Role string

const (
	RoleRegular Role = "regular"
	RoleAdmin   Role = "admin"
)

type Group struct {
	ID          GroupID
	Name        string
	Visibility  Visibility
	AllowJoin   bool
	AllowInvite bool
	CreatedAt   time.Time
}

type GroupMember struct {
	GroupID GroupID
	UserID  UserID
	Role    Role
}

type Message struct {
	ID        MessageID
	ToID      UserID
	FromID    *UserID
	Subject   string
	Body      string
	WasRead   bool
	RequestID *RequestID
	SentAt    time.Time
}

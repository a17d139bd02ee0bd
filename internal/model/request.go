package model

import (
	"fmt"
	"time"
)

type RequestKind string

const (
	RequestFriend       RequestKind = "friend"
	RequestJoinGroup    RequestKind = "join_group"
	RequestGroupInvite  RequestKind = "group_invite"
	RequestGameProposal RequestKind = "game_proposal"
	RequestGameInvite   RequestKind = "game_invite"
)

// RequestBody is one of the five request shapes. Each carries only the
// parties and references its kind needs.
type RequestBody interface {
	Kind() RequestKind
}

// FriendRequest asks To to become a friend of From.
type FriendRequest struct {
	From UserID
	To   UserID
}

// JoinGroupRequest asks group To to admit From.
type JoinGroupRequest struct {
	From UserID
	To   GroupID
}

// GroupInviteRequest invites To into group From.
type GroupInviteRequest struct {
	From GroupID
	To   UserID
}

// GameProposalRequest shares a proposal with a user or a whole group.
// Exactly one of ToUser and ToGroup is set.
type GameProposalRequest struct {
	From       UserID
	ToUser     *UserID
	ToGroup    *GroupID
	ProposalID GameProposalID
}

// GameInviteRequest offers To a specific seat of a running game.
type GameInviteRequest struct {
	From        UserID
	To          UserID
	GameID      GameID
	PlayerIndex int
}

func (FriendRequest) Kind() RequestKind       { return RequestFriend }
func (JoinGroupRequest) Kind() RequestKind    { return RequestJoinGroup }
func (GroupInviteRequest) Kind() RequestKind  { return RequestGroupInvite }
func (GameProposalRequest) Kind() RequestKind { return RequestGameProposal }
func (GameInviteRequest) Kind() RequestKind   { return RequestGameInvite }

type Request struct {
	ID     RequestID
	Body   RequestBody
	SentAt time.Time
}

// Parties is the flattened (from_user, from_group, to_user, to_group) tuple
// that scopes request uniqueness. Two game invites between the same users
// for different seats share a tuple and therefore collide.
type Parties struct {
	FromUser  *UserID
	FromGroup *GroupID
	ToUser    *UserID
	ToGroup   *GroupID
}

// Flatten returns the parties plus the optional proposal and seat references
// of a request body.
func Flatten(body RequestBody) (Parties, *GameProposalID, *GameSeat, error) {
	switch b := body.(type) {
	case FriendRequest:
		return Parties{FromUser: &b.From, ToUser: &b.To}, nil, nil, nil
	case JoinGroupRequest:
		return Parties{FromUser: &b.From, ToGroup: &b.To}, nil, nil, nil
	case GroupInviteRequest:
		return Parties{FromGroup: &b.From, ToUser: &b.To}, nil, nil, nil
	case GameProposalRequest:
		if (b.ToUser == nil) == (b.ToGroup == nil) {
			return Parties{}, nil, nil, fmt.Errorf("%w: proposal request needs exactly one target", ErrInvalidProposal)
		}
		return Parties{FromUser: &b.From, ToUser: b.ToUser, ToGroup: b.ToGroup}, &b.ProposalID, nil, nil
	case GameInviteRequest:
		seat := GameSeat{GameID: b.GameID, PlayerIndex: b.PlayerIndex}
		return Parties{FromUser: &b.From, ToUser: &b.To}, nil, &seat, nil
	default:
		return Parties{}, nil, nil, fmt.Errorf("unknown request body %T", body)
	}
}

// Unflatten rebuilds a typed body from its stored columns.
func Unflatten(kind RequestKind, p Parties, proposal *GameProposalID, seat *GameSeat) (RequestBody, error) {
	missing := func() (RequestBody, error) {
		return nil, fmt.Errorf("request of kind %s has missing columns", kind)
	}
	switch kind {
	case RequestFriend:
		if p.FromUser == nil || p.ToUser == nil {
			return missing()
		}
		return FriendRequest{From: *p.FromUser, To: *p.ToUser}, nil
	case RequestJoinGroup:
		if p.FromUser == nil || p.ToGroup == nil {
			return missing()
		}
		return JoinGroupRequest{From: *p.FromUser, To: *p.ToGroup}, nil
	case RequestGroupInvite:
		if p.FromGroup == nil || p.ToUser == nil {
			return missing()
		}
		return GroupInviteRequest{From: *p.FromGroup, To: *p.ToUser}, nil
	case RequestGameProposal:
		if p.FromUser == nil || proposal == nil || (p.ToUser == nil) == (p.ToGroup == nil) {
			return missing()
		}
		return GameProposalRequest{From: *p.FromUser, ToUser: p.ToUser, ToGroup: p.ToGroup, ProposalID: *proposal}, nil
	case RequestGameInvite:
		if p.FromUser == nil || p.ToUser == nil || seat == nil {
			return missing()
		}
		return GameInviteRequest{From: *p.FromUser, To: *p.ToUser, GameID: seat.GameID, PlayerIndex: seat.PlayerIndex}, nil
	default:
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}
}

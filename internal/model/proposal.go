package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrInvalidProposal = errors.New("invalid proposal")

type GameProposal struct {
	ID         GameProposalID
	GameType   string
	IsPublic   bool
	MinPlayers int
	MaxPlayers int
	ModPlayers int
	Rules      json.RawMessage
	CreatedAt  time.Time
	Deadline   time.Time
}

type Acceptee struct {
	ProposalID GameProposalID
	UserID     UserID
	AcceptedAt time.Time
	IsReady    bool
}

// Validate checks the player-count bounds can be met by at least one count.
func (p GameProposal) Validate() error {
	if p.GameType == "" {
		return fmt.Errorf("%w: game type is required", ErrInvalidProposal)
	}
	if p.MinPlayers < 1 || p.MaxPlayers < p.MinPlayers {
		return fmt.Errorf("%w: need 1 <= min (%d) <= max (%d)", ErrInvalidProposal, p.MinPlayers, p.MaxPlayers)
	}
	if p.ModPlayers < 1 {
		return fmt.Errorf("%w: modulus must be positive", ErrInvalidProposal)
	}
	for n := p.MinPlayers; n <= p.MaxPlayers; n++ {
		if n%p.ModPlayers == 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: no player count in [%d, %d] is a multiple of %d", ErrInvalidProposal, p.MinPlayers, p.MaxPlayers, p.ModPlayers)
}

// Expired reports whether the deadline has passed at now.
func (p GameProposal) Expired(now time.Time) bool {
	return !now.Before(p.Deadline)
}

// Quorum reports whether count players satisfies the numeric bounds.
func (p GameProposal) Quorum(count int) bool {
	return count >= p.MinPlayers && count <= p.MaxPlayers && count%p.ModPlayers == 0
}

// CanPromote reports whether the acceptees meet quorum and are all ready.
func (p GameProposal) CanPromote(acceptees []Acceptee) bool {
	if !p.Quorum(len(acceptees)) {
		return false
	}
	for _, a := range acceptees {
		if !a.IsReady {
			return false
		}
	}
	return true
}

// SeatOrder sorts acceptees into seat order: earliest acceptance first,
// ties broken by user id.
func SeatOrder(acceptees []Acceptee) []Acceptee {
	out := append([]Acceptee(nil), acceptees...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AcceptedAt.Equal(out[j].AcceptedAt) {
			return out[i].AcceptedAt.Before(out[j].AcceptedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

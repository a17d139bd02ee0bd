package orchestrator

import (
	"context"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/store"
)

type ProposalView struct {
	ID         string    `json:"id"`
	GameType   string    `json:"game_type"`
	IsPublic   bool      `json:"is_public"`
	MinPlayers int       `json:"min_players"`
	MaxPlayers int       `json:"max_players"`
	ModPlayers int       `json:"mod_players"`
	CreatedAt  time.Time `json:"created_at"`
	Deadline   time.Time `json:"deadline"`
}

type GroupView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
	AllowJoin  bool   `json:"allow_join"`
}

type SessionView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ProposalID  string `json:"proposal_id,omitempty"`
	IsReady     bool   `json:"is_ready,omitempty"`
	GameID      string `json:"game_id,omitempty"`
	PlayerIndex *int   `json:"player_index,omitempty"`
}

func ViewProposal(p model.GameProposal) ProposalView {
	return ProposalView{
		ID:         p.ID.String(),
		GameType:   p.GameType,
		IsPublic:   p.IsPublic,
		MinPlayers: p.MinPlayers,
		MaxPlayers: p.MaxPlayers,
		ModPlayers: p.ModPlayers,
		CreatedAt:  p.CreatedAt,
		Deadline:   p.Deadline,
	}
}

func ViewSession(s model.Session) SessionView {
	v := SessionView{ID: s.ID.String(), Kind: model.BindingName(s.Binding)}
	switch b := s.Binding.(type) {
	case model.ProposalSeat:
		v.ProposalID = b.ProposalID.String()
		v.IsReady = b.IsReady
	case model.GameSeat:
		v.GameID = b.GameID.String()
		seat := b.PlayerIndex
		v.PlayerIndex = &seat
	}
	return v
}

// VisibleProposals lists the proposals user may see, newest first.
func (o *Orchestrator) VisibleProposals(ctx context.Context, user model.UserID) ([]ProposalView, error) {
	var proposals []model.GameProposal
	err := o.store.Tx(ctx, func(tx store.Tx) error {
		var err error
		proposals, err = tx.VisibleProposals(user)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]ProposalView, len(proposals))
	for i, p := range proposals {
		out[i] = ViewProposal(p)
	}
	return out, nil
}

// VisibleGroups lists the groups user may see.
func (o *Orchestrator) VisibleGroups(ctx context.Context, user model.UserID) ([]GroupView, error) {
	var groups []model.Group
	err := o.store.Tx(ctx, func(tx store.Tx) error {
		var err error
		groups, err = tx.VisibleGroups(user)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]GroupView, len(groups))
	for i, g := range groups {
		out[i] = GroupView{ID: g.ID.String(), Name: g.Name, Visibility: string(g.Visibility), AllowJoin: g.AllowJoin}
	}
	return out, nil
}

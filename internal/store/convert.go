package store

import (
	"encoding/json"
	"fmt"

	"gamehub/internal/db"
	"gamehub/internal/model"

	"gorm.io/datatypes"
)

func jsonOrNull(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}

func toUser(u db.User) model.User {
	return model.User{ID: model.UserID(u.ID), Name: u.Name, CreatedAt: u.CreatedAt, LastLoginAt: u.LastLoginAt}
}

func toGroup(g db.Group) model.Group {
	return model.Group{
		ID:          model.GroupID(g.ID),
		Name:        g.Name,
		Visibility:  model.Visibility(g.Visibility),
		AllowJoin:   g.AllowJoin,
		AllowInvite: g.AllowInvite,
		CreatedAt:   g.CreatedAt,
	}
}

func toProposal(p db.GameProposal) model.GameProposal {
	return model.GameProposal{
		ID:         model.GameProposalID(p.ID),
		GameType:   p.GameType,
		IsPublic:   p.IsPublic,
		MinPlayers: p.MinPlayers,
		MaxPlayers: p.MaxPlayers,
		ModPlayers: p.ModPlayers,
		Rules:      json.RawMessage(p.Rules),
		CreatedAt:  p.CreatedAt,
		Deadline:   p.Deadline,
	}
}

func toAcceptee(a db.GameProposalAcceptee) model.Acceptee {
	return model.Acceptee{
		ProposalID: model.GameProposalID(a.GameProposalID),
		UserID:     model.UserID(a.UserID),
		AcceptedAt: a.AcceptedAt,
		IsReady:    a.IsReady,
	}
}

func fromSession(s model.Session) (db.Session, error) {
	row := db.Session{ID: int64(s.ID), UserID: int64(s.UserID), CreatedAt: s.CreatedAt}
	switch b := s.Binding.(type) {
	case model.ProposalSeat:
		id := int64(b.ProposalID)
		ready := b.IsReady
		row.GameProposalID = &id
		row.IsReady = &ready
	case model.GameSeat:
		id := int64(b.GameID)
		seat := b.PlayerIndex
		row.GameID = &id
		row.PlayerIndex = &seat
	default:
		return db.Session{}, fmt.Errorf("session binding %T: %w", s.Binding, ErrConstraint)
	}
	return row, nil
}

func toSession(row db.Session) (model.Session, error) {
	s := model.Session{ID: model.SessionID(row.ID), UserID: model.UserID(row.UserID), CreatedAt: row.CreatedAt}
	switch {
	case row.GameProposalID != nil && row.IsReady != nil && row.GameID == nil && row.PlayerIndex == nil:
		s.Binding = model.ProposalSeat{ProposalID: model.GameProposalID(*row.GameProposalID), IsReady: *row.IsReady}
	case row.GameID != nil && row.PlayerIndex != nil && row.GameProposalID == nil && row.IsReady == nil:
		s.Binding = model.GameSeat{GameID: model.GameID(*row.GameID), PlayerIndex: *row.PlayerIndex}
	default:
		return model.Session{}, fmt.Errorf("session %d has a mixed payload: %w", row.ID, ErrConstraint)
	}
	return s, nil
}

func toGame(g db.Game) model.Game {
	return model.Game{
		ID:          model.GameID(g.ID),
		GameType:    g.GameType,
		Rules:       json.RawMessage(g.Rules),
		Seed:        g.Seed,
		NumPlayers:  g.NumPlayers,
		Snapshot:    json.RawMessage(g.Snapshot),
		SnapshotPly: g.SnapshotPly,
		StartedAt:   g.StartedAt,
		UpdatedAt:   g.UpdatedAt,
		CompletedAt: g.CompletedAt,
		FailedAt:    g.FailedAt,
	}
}

func toGamePlayer(p db.GamePlayer) model.GamePlayer {
	out := model.GamePlayer{
		GameID:          model.GameID(p.GameID),
		PlayerIndex:     p.PlayerIndex,
		InitialPlayerID: model.UserID(p.InitialPlayerID),
		ResultPosition:  p.ResultPosition,
		ResultScore:     p.ResultScore,
	}
	if p.PlayerID != nil {
		id := model.UserID(*p.PlayerID)
		out.PlayerID = &id
	}
	return out
}

func fromRequest(r model.Request) (db.Request, error) {
	parties, proposal, seat, err := model.Flatten(r.Body)
	if err != nil {
		return db.Request{}, fmt.Errorf("%v: %w", err, ErrConstraint)
	}
	row := db.Request{Kind: string(r.Body.Kind()), SentAt: r.SentAt}
	if parties.FromUser != nil {
		v := int64(*parties.FromUser)
		row.FromUserID = &v
	}
	if parties.FromGroup != nil {
		v := int64(*parties.FromGroup)
		row.FromGroupID = &v
	}
	if parties.ToUser != nil {
		v := int64(*parties.ToUser)
		row.ToUserID = &v
	}
	if parties.ToGroup != nil {
		v := int64(*parties.ToGroup)
		row.ToGroupID = &v
	}
	if proposal != nil {
		v := int64(*proposal)
		row.GameProposalID = &v
	}
	if seat != nil {
		game := int64(seat.GameID)
		index := seat.PlayerIndex
		row.GameID = &game
		row.PlayerIndex = &index
	}
	return row, nil
}

func fromMessage(m model.Message) db.Message {
	row := db.Message{
		ToID:    int64(m.ToID),
		Subject: m.Subject,
		Body:    m.Body,
		WasRead: m.WasRead,
		SentAt:  m.SentAt,
	}
	if m.FromID != nil {
		v := int64(*m.FromID)
		row.FromID = &v
	}
	if m.RequestID != nil {
		v := int64(*m.RequestID)
		row.RequestID = &v
	}
	return row
}

func toMessage(row db.Message) model.Message {
	m := model.Message{
		ID:      model.MessageID(row.ID),
		ToID:    model.UserID(row.ToID),
		Subject: row.Subject,
		Body:    row.Body,
		WasRead: row.WasRead,
		SentAt:  row.SentAt,
	}
	if row.FromID != nil {
		v := model.UserID(*row.FromID)
		m.FromID = &v
	}
	if row.RequestID != nil {
		v := model.RequestID(*row.RequestID)
		m.RequestID = &v
	}
	return m
}

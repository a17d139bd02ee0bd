package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gamehub/internal/db"
	"gamehub/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Postgres is the gorm backed Store.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(conn *gorm.DB) *Postgres {
	return &Postgres{db: conn}
}

func (s *Postgres) Tx(ctx context.Context, fn func(tx Tx) error) error {
	return retryConflicts(ctx, func() error {
		tx := &pgTx{ctx: ctx}
		err := s.db.WithContext(ctx).Transaction(func(conn *gorm.DB) error {
			tx.db = conn
			return fn(tx)
		})
		if err != nil {
			tx.rolledBack()
			return mapError(err)
		}
		tx.committed()
		return nil
	})
}

type pgTx struct {
	hooks
	ctx context.Context
	db  *gorm.DB
}

func (t *pgTx) Context() context.Context { return t.ctx }

func (t *pgTx) locked(forUpdate bool) *gorm.DB {
	if forUpdate {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

func affected(res *gorm.DB, what string, id fmt.Stringer) error {
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(what, id)
	}
	return nil
}

func (t *pgTx) CreateUser(name string) (model.User, error) {
	row := db.User{Name: name}
	if err := t.db.Create(&row).Error; err != nil {
		return model.User{}, mapError(err)
	}
	return toUser(row), nil
}

func (t *pgTx) GetUser(id model.UserID) (model.User, error) {
	var row db.User
	if err := t.db.First(&row, int64(id)).Error; err != nil {
		return model.User{}, mapError(err)
	}
	return toUser(row), nil
}

func (t *pgTx) TouchLastLogin(id model.UserID, at time.Time) error {
	res := t.db.Model(&db.User{}).Where("id = ?", int64(id)).Update("last_login_at", at)
	return affected(res, "user", id)
}

func (t *pgTx) AddFriend(a, b model.UserID) error {
	pairs := []db.UserFriend{
		{UserID: int64(a), FriendID: int64(b)},
		{UserID: int64(b), FriendID: int64(a)},
	}
	return mapError(t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&pairs).Error)
}

func (t *pgTx) CreateGroup(g model.Group) (model.Group, error) {
	row := db.Group{
		Name:        g.Name,
		Visibility:  string(g.Visibility),
		AllowJoin:   g.AllowJoin,
		AllowInvite: g.AllowInvite,
	}
	if err := t.db.Create(&row).Error; err != nil {
		return model.Group{}, mapError(err)
	}
	return toGroup(row), nil
}

func (t *pgTx) GetGroup(id model.GroupID) (model.Group, error) {
	var row db.Group
	if err := t.db.First(&row, int64(id)).Error; err != nil {
		return model.Group{}, mapError(err)
	}
	return toGroup(row), nil
}

func (t *pgTx) AddGroupMember(m model.GroupMember) error {
	role := m.Role
	if role == "" {
		role = model.RoleRegular
	}
	row := db.GroupMember{GroupID: int64(m.GroupID), UserID: int64(m.UserID), Role: string(role)}
	return mapError(t.db.Create(&row).Error)
}

func (t *pgTx) ListGroupMembers(id model.GroupID) ([]model.GroupMember, error) {
	var rows []db.GroupMember
	if err := t.db.Where("group_id = ?", int64(id)).Order("user_id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]model.GroupMember, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.GroupMember{GroupID: model.GroupID(row.GroupID), UserID: model.UserID(row.UserID), Role: model.Role(row.Role)})
	}
	return out, nil
}

func (t *pgTx) CreateProposal(p model.GameProposal) (model.GameProposal, error) {
	row := db.GameProposal{
		GameType:   p.GameType,
		IsPublic:   p.IsPublic,
		MinPlayers: p.MinPlayers,
		MaxPlayers: p.MaxPlayers,
		ModPlayers: p.ModPlayers,
		Rules:      jsonOrNull(p.Rules),
		CreatedAt:  p.CreatedAt,
		Deadline:   p.Deadline,
	}
	if err := t.db.Create(&row).Error; err != nil {
		return model.GameProposal{}, mapError(err)
	}
	return toProposal(row), nil
}

func (t *pgTx) GetProposal(id model.GameProposalID, forUpdate bool) (model.GameProposal, error) {
	var row db.GameProposal
	if err := t.locked(forUpdate).First(&row, int64(id)).Error; err != nil {
		return model.GameProposal{}, mapError(err)
	}
	return toProposal(row), nil
}

func (t *pgTx) DeleteProposal(id model.GameProposalID) error {
	return mapError(t.db.Delete(&db.GameProposal{}, int64(id)).Error)
}

func (t *pgTx) ListExpiredProposals(now time.Time) ([]model.GameProposalID, error) {
	var ids []int64
	if err := t.db.Model(&db.GameProposal{}).Where("deadline <= ?", now).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]model.GameProposalID, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.GameProposalID(id))
	}
	return out, nil
}

func (t *pgTx) CreateAcceptee(a model.Acceptee) error {
	row := db.GameProposalAcceptee{
		GameProposalID: int64(a.ProposalID),
		UserID:         int64(a.UserID),
		AcceptedAt:     a.AcceptedAt,
		IsReady:        a.IsReady,
	}
	if row.AcceptedAt.IsZero() {
		row.AcceptedAt = time.Now().UTC()
	}
	return mapError(t.db.Create(&row).Error)
}

func (t *pgTx) ListAcceptees(id model.GameProposalID) ([]model.Acceptee, error) {
	var rows []db.GameProposalAcceptee
	if err := t.db.Where("game_proposal_id = ?", int64(id)).Order("accepted_at, user_id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]model.Acceptee, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAcceptee(row))
	}
	return out, nil
}

func (t *pgTx) SetAccepteeReady(id model.GameProposalID, user model.UserID, ready bool) (bool, error) {
	res := t.db.Model(&db.GameProposalAcceptee{}).
		Where("game_proposal_id = ? AND user_id = ?", int64(id), int64(user)).
		Update("is_ready", ready)
	if res.Error != nil {
		return false, mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	err := t.db.Model(&db.Session{}).
		Where("user_id = ? AND game_proposal_id = ?", int64(user), int64(id)).
		Update("is_ready", ready).Error
	return true, mapError(err)
}

func (t *pgTx) DeleteAcceptee(id model.GameProposalID, user model.UserID) (bool, error) {
	res := t.db.Where("game_proposal_id = ? AND user_id = ?", int64(id), int64(user)).Delete(&db.GameProposalAcceptee{})
	if res.Error != nil {
		return false, mapError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (t *pgTx) DeleteAcceptees(id model.GameProposalID) error {
	return mapError(t.db.Where("game_proposal_id = ?", int64(id)).Delete(&db.GameProposalAcceptee{}).Error)
}

func (t *pgTx) CreateSession(s model.Session) (model.Session, error) {
	row, err := fromSession(s)
	if err != nil {
		return model.Session{}, err
	}
	row.ID = 0
	if err := t.db.Create(&row).Error; err != nil {
		return model.Session{}, mapError(err)
	}
	return toSession(row)
}

func (t *pgTx) GetSession(user model.UserID) (model.Session, error) {
	var row db.Session
	if err := t.db.Where("user_id = ?", int64(user)).First(&row).Error; err != nil {
		return model.Session{}, mapError(err)
	}
	return toSession(row)
}

func (t *pgTx) UpdateSession(s model.Session) error {
	row, err := fromSession(s)
	if err != nil {
		return err
	}
	res := t.db.Model(&db.Session{}).Where("user_id = ?", row.UserID).Updates(map[string]any{
		"game_proposal_id": row.GameProposalID,
		"is_ready":         row.IsReady,
		"game_id":          row.GameID,
		"player_index":     row.PlayerIndex,
	})
	return affected(res, "session for", s.UserID)
}

func (t *pgTx) DeleteSession(user model.UserID) error {
	return mapError(t.db.Where("user_id = ?", int64(user)).Delete(&db.Session{}).Error)
}

func (t *pgTx) deleteSessionsWhere(query string, arg int64) ([]model.UserID, error) {
	var ids []int64
	if err := t.db.Model(&db.Session{}).Where(query, arg).Order("user_id").Pluck("user_id", &ids).Error; err != nil {
		return nil, mapError(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := t.db.Where(query, arg).Delete(&db.Session{}).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]model.UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.UserID(id))
	}
	return out, nil
}

func (t *pgTx) DeleteSessionsForGame(id model.GameID) ([]model.UserID, error) {
	return t.deleteSessionsWhere("game_id = ?", int64(id))
}

func (t *pgTx) DeleteSessionsForProposal(id model.GameProposalID) ([]model.UserID, error) {
	return t.deleteSessionsWhere("game_proposal_id = ?", int64(id))
}

func (t *pgTx) CreateGame(g model.Game) (model.Game, error) {
	now := time.Now().UTC()
	row := db.Game{
		GameType:    g.GameType,
		Rules:       jsonOrNull(g.Rules),
		Seed:        g.Seed,
		NumPlayers:  g.NumPlayers,
		Snapshot:    jsonOrNull(g.Snapshot),
		SnapshotPly: g.SnapshotPly,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.db.Create(&row).Error; err != nil {
		return model.Game{}, mapError(err)
	}
	return toGame(row), nil
}

func (t *pgTx) GetGame(id model.GameID, forUpdate bool) (model.Game, error) {
	var row db.Game
	if err := t.locked(forUpdate).First(&row, int64(id)).Error; err != nil {
		return model.Game{}, mapError(err)
	}
	return toGame(row), nil
}

func (t *pgTx) UpdateGameSnapshot(id model.GameID, snapshot json.RawMessage, ply int, at time.Time) error {
	res := t.db.Model(&db.Game{}).Where("id = ?", int64(id)).Updates(map[string]any{
		"snapshot":     datatypes.JSON(snapshot),
		"snapshot_ply": ply,
		"updated_at":   at,
	})
	return affected(res, "game", id)
}

func (t *pgTx) CompleteGame(id model.GameID, at time.Time) error {
	res := t.db.Model(&db.Game{}).Where("id = ?", int64(id)).Updates(map[string]any{
		"completed_at": at,
		"updated_at":   at,
	})
	return affected(res, "game", id)
}

func (t *pgTx) FailGame(id model.GameID, at time.Time) error {
	res := t.db.Model(&db.Game{}).Where("id = ?", int64(id)).Updates(map[string]any{
		"failed_at":  at,
		"updated_at": at,
	})
	return affected(res, "game", id)
}

func (t *pgTx) ListActiveGames() ([]model.Game, error) {
	var rows []db.Game
	if err := t.db.Where("completed_at IS NULL AND failed_at IS NULL").Order("id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]model.Game, 0, len(rows))
	for _, row := range rows {
		out = append(out, toGame(row))
	}
	return out, nil
}

func (t *pgTx) CreateGamePlayers(players []model.GamePlayer) error {
	if len(players) == 0 {
		return nil
	}
	rows := make([]db.GamePlayer, 0, len(players))
	for _, p := range players {
		row := db.GamePlayer{
			GameID:          int64(p.GameID),
			PlayerIndex:     p.PlayerIndex,
			InitialPlayerID: int64(p.InitialPlayerID),
		}
		if p.PlayerID != nil {
			id := int64(*p.PlayerID)
			row.PlayerID = &id
		}
		rows = append(rows, row)
	}
	return mapError(t.db.Create(&rows).Error)
}

func (t *pgTx) ListGamePlayers(id model.GameID) ([]model.GamePlayer, error) {
	var rows []db.GamePlayer
	if err := t.db.Where("game_id = ?", int64(id)).Order("player_index").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]model.GamePlayer, 0, len(rows))
	for _, row := range rows {
		out = append(out, toGamePlayer(row))
	}
	return out, nil
}

func (t *pgTx) SetGamePlayerResult(id model.GameID, seat, position int, score int64) error {
	res := t.db.Model(&db.GamePlayer{}).
		Where("game_id = ? AND player_index = ?", int64(id), seat).
		Updates(map[string]any{"result_position": position, "result_score": score})
	return affected(res, "seat of", id)
}

func (t *pgTx) InsertStep(step model.GameStep) error {
	row := db.GameStep{
		GameID:    int64(step.GameID),
		Ply:       step.Ply,
		Delta:     jsonOrNull(step.Delta),
		CreatedAt: step.CreatedAt,
	}
	return mapError(t.db.Create(&row).Error)
}

func (t *pgTx) ListSteps(id model.GameID) ([]model.GameStep, error) {
	var rows []db.GameStep
	if err := t.db.Where("game_id = ?", int64(id)).Order("ply").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]model.GameStep, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.GameStep{
			GameID:    model.GameID(row.GameID),
			Ply:       row.Ply,
			Delta:     json.RawMessage(row.Delta),
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

func (t *pgTx) CreateRequest(r model.Request) (model.Request, error) {
	row, err := fromRequest(r)
	if err != nil {
		return model.Request{}, err
	}
	if row.SentAt.IsZero() {
		row.SentAt = time.Now().UTC()
	}
	if err := t.db.Create(&row).Error; err != nil {
		return model.Request{}, mapError(err)
	}
	r.ID = model.RequestID(row.ID)
	r.SentAt = row.SentAt
	return r, nil
}

func (t *pgTx) CreateMessage(m model.Message) (model.Message, error) {
	row := fromMessage(m)
	if row.SentAt.IsZero() {
		row.SentAt = time.Now().UTC()
	}
	if err := t.db.Create(&row).Error; err != nil {
		return model.Message{}, mapError(err)
	}
	return toMessage(row), nil
}

func (t *pgTx) ListUnreadMessages(user model.UserID) ([]model.Message, error) {
	var rows []db.Message
	err := t.db.Where("to_id = ? AND NOT was_read", int64(user)).Order("sent_at DESC, id DESC").Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, toMessage(row))
	}
	return out, nil
}

func (t *pgTx) MarkMessageRead(user model.UserID, id model.MessageID) error {
	res := t.db.Model(&db.Message{}).Where("id = ? AND to_id = ?", int64(id), int64(user)).Update("was_read", true)
	return affected(res, "message", id)
}

func (t *pgTx) VisibleProposals(user model.UserID) ([]model.GameProposal, error) {
	var rows []db.GameProposal
	err := t.db.Raw("SELECT * FROM visible_game_proposals(?) ORDER BY created_at DESC, id DESC", int64(user)).Scan(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]model.GameProposal, 0, len(rows))
	for _, row := range rows {
		out = append(out, toProposal(row))
	}
	return out, nil
}

func (t *pgTx) VisibleGroups(user model.UserID) ([]model.Group, error) {
	var rows []db.Group
	err := t.db.Raw("SELECT * FROM visible_groups(?) ORDER BY id", int64(user)).Scan(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]model.Group, 0, len(rows))
	for _, row := range rows {
		out = append(out, toGroup(row))
	}
	return out, nil
}

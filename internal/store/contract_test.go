package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gamehub/internal/model"

	"github.com/stretchr/testify/require"
)

type fixtures struct {
	users []model.User
}

func seedUsers(t *testing.T, s Store, names ...string) fixtures {
	t.Helper()
	var f fixtures
	err := s.Tx(context.Background(), func(tx Tx) error {
		f.users = nil
		for _, name := range names {
			u, err := tx.CreateUser(name)
			if err != nil {
				return err
			}
			f.users = append(f.users, u)
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func createProposal(t *testing.T, s Store, public bool) model.GameProposal {
	t.Helper()
	var p model.GameProposal
	err := s.Tx(context.Background(), func(tx Tx) error {
		var err error
		p, err = tx.CreateProposal(model.GameProposal{
			GameType:   "rock-paper-scissors",
			IsPublic:   public,
			MinPlayers: 2,
			MaxPlayers: 2,
			ModPlayers: 1,
			Rules:      json.RawMessage(`{"num_rounds":1}`),
			Deadline:   time.Now().Add(time.Hour),
		})
		return err
	})
	require.NoError(t, err)
	return p
}

func createGame(t *testing.T, s Store) model.Game {
	t.Helper()
	var g model.Game
	err := s.Tx(context.Background(), func(tx Tx) error {
		var err error
		g, err = tx.CreateGame(model.Game{GameType: "rock-paper-scissors", Rules: json.RawMessage(`{}`), Seed: 7, NumPlayers: 2})
		return err
	})
	require.NoError(t, err)
	return g
}

func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("one session per user", func(t *testing.T) {
		s := newStore(t)
		f := seedUsers(t, s, "ada")
		p := createProposal(t, s, false)
		ctx := context.Background()

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			_, err := tx.CreateSession(model.Session{UserID: f.users[0].ID, Binding: model.ProposalSeat{ProposalID: p.ID}})
			return err
		}))
		err := s.Tx(ctx, func(tx Tx) error {
			_, err := tx.CreateSession(model.Session{UserID: f.users[0].ID, Binding: model.ProposalSeat{ProposalID: p.ID}})
			return err
		})
		require.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("session binding rewritten in place", func(t *testing.T) {
		s := newStore(t)
		f := seedUsers(t, s, "ada", "grace")
		p := createProposal(t, s, false)
		g := createGame(t, s)
		ctx := context.Background()

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			for _, u := range f.users {
				if _, err := tx.CreateSession(model.Session{UserID: u.ID, Binding: model.ProposalSeat{ProposalID: p.ID}}); err != nil {
					return err
				}
			}
			return tx.UpdateSession(model.Session{UserID: f.users[0].ID, Binding: model.GameSeat{GameID: g.ID, PlayerIndex: 0}})
		}))
		err := s.Tx(ctx, func(tx Tx) error {
			return tx.UpdateSession(model.Session{UserID: f.users[1].ID, Binding: model.GameSeat{GameID: g.ID, PlayerIndex: 0}})
		})
		require.ErrorIs(t, err, ErrDuplicate)

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			session, err := tx.GetSession(f.users[0].ID)
			require.NoError(t, err)
			require.Equal(t, model.GameSeat{GameID: g.ID, PlayerIndex: 0}, session.Binding)
			session, err = tx.GetSession(f.users[1].ID)
			require.NoError(t, err)
			require.Equal(t, model.ProposalSeat{ProposalID: p.ID}, session.Binding)
			return nil
		}))
	})

	t.Run("rollback discards writes and runs hooks", func(t *testing.T) {
		s := newStore(t)
		f := seedUsers(t, s, "ada")
		ctx := context.Background()
		boom := errors.New("boom")
		var committed, rolledBack bool

		err := s.Tx(ctx, func(tx Tx) error {
			tx.OnCommit(func() { committed = true })
			tx.OnRollback(func() { rolledBack = true })
			if _, err := tx.CreateUser("grace"); err != nil {
				return err
			}
			return tx.TouchLastLogin(f.users[0].ID, time.Now())
		})
		require.NoError(t, err)
		require.True(t, committed)
		require.False(t, rolledBack)

		committed, rolledBack = false, false
		err = s.Tx(ctx, func(tx Tx) error {
			tx.OnCommit(func() { committed = true })
			tx.OnRollback(func() { rolledBack = true })
			if _, err := tx.CreateUser("linus"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.False(t, committed)
		require.True(t, rolledBack)

		err = s.Tx(ctx, func(tx Tx) error {
			_, err := tx.CreateUser("linus")
			return err
		})
		require.NoError(t, err)
	})

	t.Run("deleting a proposal clears its sessions and acceptees", func(t *testing.T) {
		s := newStore(t)
		f := seedUsers(t, s, "ada")
		p := createProposal(t, s, false)
		ctx := context.Background()

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			if err := tx.CreateAcceptee(model.Acceptee{ProposalID: p.ID, UserID: f.users[0].ID}); err != nil {
				return err
			}
			_, err := tx.CreateSession(model.Session{UserID: f.users[0].ID, Binding: model.ProposalSeat{ProposalID: p.ID}})
			return err
		}))
		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			ok, err := tx.SetAccepteeReady(p.ID, f.users[0].ID, true)
			require.True(t, ok)
			return err
		}))
		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			session, err := tx.GetSession(f.users[0].ID)
			require.NoError(t, err)
			require.Equal(t, model.ProposalSeat{ProposalID: p.ID, IsReady: true}, session.Binding)
			return tx.DeleteProposal(p.ID)
		}))
		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			_, err := tx.GetSession(f.users[0].ID)
			require.ErrorIs(t, err, model.ErrNotFound)
			acceptees, err := tx.ListAcceptees(p.ID)
			require.NoError(t, err)
			require.Empty(t, acceptees)
			return nil
		}))
	})

	t.Run("steps are unique per ply", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s)
		ctx := context.Background()

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			for ply := 0; ply < 3; ply++ {
				if err := tx.InsertStep(model.GameStep{GameID: g.ID, Ply: ply, Delta: json.RawMessage(`{}`)}); err != nil {
					return err
				}
			}
			return nil
		}))
		err := s.Tx(ctx, func(tx Tx) error {
			return tx.InsertStep(model.GameStep{GameID: g.ID, Ply: 1, Delta: json.RawMessage(`{}`)})
		})
		require.ErrorIs(t, err, ErrDuplicate)

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			steps, err := tx.ListSteps(g.ID)
			require.NoError(t, err)
			require.Len(t, steps, 3)
			for i, step := range steps {
				require.Equal(t, i, step.Ply)
			}
			return nil
		}))
	})

	t.Run("game invites collide regardless of seat", func(t *testing.T) {
		s := newStore(t)
		f := seedUsers(t, s, "ada", "grace")
		g := createGame(t, s)
		ctx := context.Background()
		invite := func(seat int) error {
			return s.Tx(ctx, func(tx Tx) error {
				_, err := tx.CreateRequest(model.Request{Body: model.GameInviteRequest{
					From: f.users[0].ID, To: f.users[1].ID, GameID: g.ID, PlayerIndex: seat,
				}})
				return err
			})
		}
		require.NoError(t, invite(0))
		require.ErrorIs(t, invite(1), ErrDuplicate)
	})

	t.Run("visible proposals", func(t *testing.T) {
		s := newStore(t)
		f := seedUsers(t, s, "ada", "grace", "linus")
		ada, grace, linus := f.users[0].ID, f.users[1].ID, f.users[2].ID
		public := createProposal(t, s, true)
		direct := createProposal(t, s, false)
		viaGroup := createProposal(t, s, false)
		joined := createProposal(t, s, false)
		hidden := createProposal(t, s, false)
		ctx := context.Background()

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			group, err := tx.CreateGroup(model.Group{Name: "crew", Visibility: model.VisibilityPrivate})
			if err != nil {
				return err
			}
			if err := tx.AddGroupMember(model.GroupMember{GroupID: group.ID, UserID: ada}); err != nil {
				return err
			}
			if _, err := tx.CreateRequest(model.Request{Body: model.GameProposalRequest{From: grace, ToUser: &ada, ProposalID: direct.ID}}); err != nil {
				return err
			}
			if _, err := tx.CreateRequest(model.Request{Body: model.GameProposalRequest{From: linus, ToGroup: &group.ID, ProposalID: viaGroup.ID}}); err != nil {
				return err
			}
			_, err = tx.CreateSession(model.Session{UserID: ada, Binding: model.ProposalSeat{ProposalID: joined.ID}})
			return err
		}))

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			visible, err := tx.VisibleProposals(ada)
			require.NoError(t, err)
			ids := map[model.GameProposalID]bool{}
			for _, p := range visible {
				ids[p.ID] = true
			}
			require.True(t, ids[public.ID])
			require.True(t, ids[direct.ID])
			require.True(t, ids[viaGroup.ID])
			require.True(t, ids[joined.ID])
			require.False(t, ids[hidden.ID])

			visible, err = tx.VisibleProposals(linus)
			require.NoError(t, err)
			require.Len(t, visible, 1)
			require.Equal(t, public.ID, visible[0].ID)
			return nil
		}))
	})

	t.Run("visible groups", func(t *testing.T) {
		s := newStore(t)
		f := seedUsers(t, s, "ada", "grace", "linus")
		ada, grace, linus := f.users[0].ID, f.users[1].ID, f.users[2].ID
		ctx := context.Background()
		var public, friends, private model.Group

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			var err error
			if public, err = tx.CreateGroup(model.Group{Name: "open", Visibility: model.VisibilityPublic}); err != nil {
				return err
			}
			if friends, err = tx.CreateGroup(model.Group{Name: "pals", Visibility: model.VisibilityFriends}); err != nil {
				return err
			}
			if private, err = tx.CreateGroup(model.Group{Name: "secret", Visibility: model.VisibilityPrivate}); err != nil {
				return err
			}
			if err := tx.AddGroupMember(model.GroupMember{GroupID: friends.ID, UserID: grace, Role: model.RoleAdmin}); err != nil {
				return err
			}
			if err := tx.AddGroupMember(model.GroupMember{GroupID: private.ID, UserID: grace}); err != nil {
				return err
			}
			return tx.AddFriend(ada, grace)
		}))

		groupIDs := func(user model.UserID) []model.GroupID {
			var ids []model.GroupID
			require.NoError(t, s.Tx(ctx, func(tx Tx) error {
				groups, err := tx.VisibleGroups(user)
				for _, g := range groups {
					ids = append(ids, g.ID)
				}
				return err
			}))
			return ids
		}
		require.Equal(t, []model.GroupID{public.ID, friends.ID}, groupIDs(ada))
		require.Equal(t, []model.GroupID{public.ID, friends.ID, private.ID}, groupIDs(grace))
		require.Equal(t, []model.GroupID{public.ID}, groupIDs(linus))
	})

	t.Run("unread messages newest first", func(t *testing.T) {
		s := newStore(t)
		f := seedUsers(t, s, "ada")
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Second)
		var first, second model.Message

		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			var err error
			if first, err = tx.CreateMessage(model.Message{ToID: f.users[0].ID, Subject: "one", Body: "1", SentAt: base}); err != nil {
				return err
			}
			second, err = tx.CreateMessage(model.Message{ToID: f.users[0].ID, Subject: "two", Body: "2", SentAt: base.Add(time.Second)})
			return err
		}))
		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			unread, err := tx.ListUnreadMessages(f.users[0].ID)
			require.NoError(t, err)
			require.Len(t, unread, 2)
			require.Equal(t, second.ID, unread[0].ID)
			return tx.MarkMessageRead(f.users[0].ID, second.ID)
		}))
		require.NoError(t, s.Tx(ctx, func(tx Tx) error {
			unread, err := tx.ListUnreadMessages(f.users[0].ID)
			require.NoError(t, err)
			require.Len(t, unread, 1)
			require.Equal(t, first.ID, unread[0].ID)
			return nil
		}))
	})
}

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/store"

	"go.uber.org/zap"
)

type MessageView struct {
	ID      string  `json:"id"`
	From    *string `json:"from,omitempty"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	SentAt  string  `json:"sent_at"`
}

func viewMessage(m model.Message) MessageView {
	v := MessageView{ID: m.ID.String(), Subject: m.Subject, Body: m.Body, SentAt: m.SentAt.Format(time.RFC3339)}
	if m.FromID != nil {
		from := m.FromID.String()
		v.From = &from
	}
	return v
}

func newMessageEvent(m model.Message) model.Event {
	return model.Event{Type: model.EventNewMessage, Data: viewMessage(m)}
}

// SendToUser leaves a message in one user's inbox.
func (o *Orchestrator) SendToUser(ctx context.Context, from *model.UserID, to model.UserID, subject, body string) (model.Message, error) {
	var sent model.Message
	err := o.store.Tx(ctx, func(tx store.Tx) error {
		msg, err := tx.CreateMessage(model.Message{ToID: to, FromID: from, Subject: subject, Body: body, SentAt: o.now()})
		if err != nil {
			return err
		}
		sent = msg
		tx.OnCommit(func() { o.registry.Push([]model.UserID{to}, newMessageEvent(msg)) })
		return nil
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("send message to %s: %w", to, err)
	}
	return sent, nil
}

// SendToGroup leaves one message per member of group.
func (o *Orchestrator) SendToGroup(ctx context.Context, from *model.UserID, group model.GroupID, subject, body string) ([]model.Message, error) {
	var sent []model.Message
	err := o.store.Tx(ctx, func(tx store.Tx) error {
		sent = nil
		if _, err := tx.GetGroup(group); err != nil {
			return err
		}
		members, err := tx.ListGroupMembers(group)
		if err != nil {
			return err
		}
		now := o.now()
		for _, member := range members {
			msg, err := tx.CreateMessage(model.Message{ToID: member.UserID, FromID: from, Subject: subject, Body: body, SentAt: now})
			if err != nil {
				return err
			}
			sent = append(sent, msg)
		}
		delivered := append([]model.Message(nil), sent...)
		tx.OnCommit(func() {
			for _, msg := range delivered {
				o.registry.Push([]model.UserID{msg.ToID}, newMessageEvent(msg))
			}
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", group, err)
	}
	o.logger.Debug("group message sent", zap.Stringer("group_id", group), zap.Int("recipients", len(sent)))
	return sent, nil
}

// Unread lists the user's unread messages, newest first.
func (o *Orchestrator) Unread(ctx context.Context, user model.UserID) ([]MessageView, error) {
	var msgs []model.Message
	err := o.store.Tx(ctx, func(tx store.Tx) error {
		var err error
		msgs, err = tx.ListUnreadMessages(user)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = viewMessage(m)
	}
	return out, nil
}

// MarkRead marks one of the user's messages read.
func (o *Orchestrator) MarkRead(ctx context.Context, user model.UserID, id model.MessageID) error {
	return o.store.Tx(ctx, func(tx store.Tx) error {
		return tx.MarkMessageRead(user, id)
	})
}

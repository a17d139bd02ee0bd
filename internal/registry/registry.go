// Package registry maps each user to their live connection and to what
// they are bound to. Users are sharded so work on one user never waits
// for another.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/store"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

// Conn is a live client connection.
type Conn interface {
	ID() string
	Send(event model.Event) error
	Close() error
}

// GameRouter takes turns for users seated in a game.
type GameRouter interface {
	Apply(ctx context.Context, user model.UserID, id model.GameID, seat int, action json.RawMessage) error
}

// ProposalRouter takes commands from users waiting in a proposal.
type ProposalRouter interface {
	SetReady(ctx context.Context, user model.UserID, id model.GameProposalID, ready bool) error
	Leave(ctx context.Context, user model.UserID, id model.GameProposalID) error
}

type entry struct {
	mu      sync.Mutex
	conn    Conn
	binding model.Binding
	// version counts Rebind calls.
	version uint64
}

type Registry struct {
	store   store.Store
	logger  *zap.Logger
	now     func() time.Time
	entries cmap.ConcurrentMap[model.UserID, *entry]

	routeMu   sync.RWMutex
	games     GameRouter
	proposals ProposalRouter
}

func New(st store.Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:   st,
		logger:  logger.Named("registry"),
		now:     func() time.Time { return time.Now().UTC() },
		entries: cmap.NewStringer[model.UserID, *entry](),
	}
}

// SetRoutes wires the services actions are forwarded to.
func (r *Registry) SetRoutes(games GameRouter, proposals ProposalRouter) {
	r.routeMu.Lock()
	defer r.routeMu.Unlock()
	r.games = games
	r.proposals = proposals
}

func (r *Registry) routes() (GameRouter, ProposalRouter) {
	r.routeMu.RLock()
	defer r.routeMu.RUnlock()
	return r.games, r.proposals
}

// Bind makes conn the user's live connection, closing any previous one,
// and loads the user's session binding from the store. It returns that
// binding, nil when the user is idle.
//
// The entry is installed before the session is read, so a commit that
// lands while Bind runs either is seen by the read or reaches the entry
// through Rebind. A Rebind during the read wins over what was read.
func (r *Registry) Bind(ctx context.Context, user model.UserID, conn Conn) (model.Binding, error) {
	err := r.store.Tx(ctx, func(tx store.Tx) error {
		return tx.TouchLastLogin(user, r.now())
	})
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", user, err)
	}

	var previous Conn
	var version uint64
	r.entries.Upsert(user, &entry{conn: conn}, func(exist bool, current, fresh *entry) *entry {
		if !exist {
			return fresh
		}
		current.mu.Lock()
		previous = current.conn
		current.conn = conn
		version = current.version
		current.mu.Unlock()
		return current
	})
	if previous != nil && previous != conn {
		_ = previous.Close()
		r.logger.Info("replaced connection", zap.Stringer("user_id", user), zap.String("old_conn", previous.ID()))
	}

	var loaded model.Binding
	err = r.store.Tx(ctx, func(tx store.Tx) error {
		loaded = nil
		s, err := tx.GetSession(user)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		loaded = s.Binding
		return nil
	})
	if err != nil {
		r.Unbind(user, conn)
		return nil, fmt.Errorf("bind %s: %w", user, err)
	}

	binding := loaded
	if e, ok := r.entries.Get(user); ok {
		e.mu.Lock()
		if e.conn == conn {
			if e.version == version {
				e.binding = loaded
			} else {
				binding = e.binding
			}
		}
		e.mu.Unlock()
	}
	r.logger.Info("connection bound",
		zap.Stringer("user_id", user),
		zap.String("conn_id", conn.ID()),
		zap.String("binding", model.BindingName(binding)),
	)
	return binding, nil
}

// Unbind drops conn as the user's live connection. The user's session is
// untouched. A conn that has already been replaced is ignored.
func (r *Registry) Unbind(user model.UserID, conn Conn) {
	removed := r.entries.RemoveCb(user, func(_ model.UserID, e *entry, exists bool) bool {
		if !exists {
			return false
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.conn == conn
	})
	if removed {
		r.logger.Info("connection unbound", zap.Stringer("user_id", user), zap.String("conn_id", conn.ID()))
	}
}

// Rebind records a binding change for a connected user.
func (r *Registry) Rebind(user model.UserID, binding model.Binding) {
	e, ok := r.entries.Get(user)
	if !ok {
		return
	}
	e.mu.Lock()
	e.binding = binding
	e.version++
	e.mu.Unlock()
}

// Binding returns the in-memory binding of a connected user.
func (r *Registry) Binding(user model.UserID) (model.Binding, bool) {
	e, ok := r.entries.Get(user)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.binding, true
}

// Connected reports whether the user has a live connection.
func (r *Registry) Connected(user model.UserID) bool {
	return r.entries.Has(user)
}

// Push sends event to every listed user that is connected. Delivery is
// best effort; state can always be reloaded on reconnect.
func (r *Registry) Push(users []model.UserID, event model.Event) {
	for _, user := range users {
		e, ok := r.entries.Get(user)
		if !ok {
			continue
		}
		e.mu.Lock()
		conn := e.conn
		e.mu.Unlock()
		if conn == nil {
			continue
		}
		if err := conn.Send(event); err != nil {
			r.logger.Debug("push dropped",
				zap.Stringer("user_id", user),
				zap.String("conn_id", conn.ID()),
				zap.String("event", event.Type),
				zap.Error(err),
			)
		}
	}
}

type proposalCommand struct {
	Ready *bool `json:"ready"`
	Leave bool  `json:"leave"`
}

// Route forwards payload according to the user's binding: a game seat
// turns it into a turn, a proposal seat reads it as a ready toggle or a
// leave.
func (r *Registry) Route(ctx context.Context, user model.UserID, payload json.RawMessage) error {
	binding, ok := r.Binding(user)
	if !ok || binding == nil {
		return model.ErrNotBound
	}
	games, proposals := r.routes()

	switch b := binding.(type) {
	case model.GameSeat:
		if games == nil {
			return model.ErrNotBound
		}
		return games.Apply(ctx, user, b.GameID, b.PlayerIndex, payload)
	case model.ProposalSeat:
		if proposals == nil {
			return model.ErrNotBound
		}
		var cmd proposalCommand
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &cmd); err != nil {
				return fmt.Errorf("%w: %v", model.ErrInvalidCommand, err)
			}
		}
		if cmd.Leave {
			return proposals.Leave(ctx, user, b.ProposalID)
		}
		ready := !b.IsReady
		if cmd.Ready != nil {
			ready = *cmd.Ready
		}
		return proposals.SetReady(ctx, user, b.ProposalID, ready)
	default:
		return model.ErrNotBound
	}
}

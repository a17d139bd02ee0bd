package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"gamehub/internal/model"
)

type accepteeKey struct {
	proposal model.GameProposalID
	user     model.UserID
}

type seatKey struct {
	game model.GameID
	seat int
}

type memberKey struct {
	group model.GroupID
	user  model.UserID
}

type friendKey struct {
	user   model.UserID
	friend model.UserID
}

type requestKey struct {
	kind  model.RequestKind
	users [2]model.UserID
	group [2]model.GroupID
}

type memState struct {
	users     map[model.UserID]model.User
	friends   map[friendKey]struct{}
	groups    map[model.GroupID]model.Group
	members   map[memberKey]model.GroupMember
	proposals map[model.GameProposalID]model.GameProposal
	acceptees map[accepteeKey]model.Acceptee
	sessions  map[model.UserID]model.Session
	games     map[model.GameID]model.Game
	players   map[seatKey]model.GamePlayer
	steps     map[seatKey]model.GameStep
	requests  map[model.RequestID]model.Request
	messages  map[model.MessageID]model.Message
}

func newMemState() *memState {
	return &memState{
		users:     make(map[model.UserID]model.User),
		friends:   make(map[friendKey]struct{}),
		groups:    make(map[model.GroupID]model.Group),
		members:   make(map[memberKey]model.GroupMember),
		proposals: make(map[model.GameProposalID]model.GameProposal),
		acceptees: make(map[accepteeKey]model.Acceptee),
		sessions:  make(map[model.UserID]model.Session),
		games:     make(map[model.GameID]model.Game),
		players:   make(map[seatKey]model.GamePlayer),
		steps:     make(map[seatKey]model.GameStep),
		requests:  make(map[model.RequestID]model.Request),
		messages:  make(map[model.MessageID]model.Message),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		users:     maps.Clone(s.users),
		friends:   maps.Clone(s.friends),
		groups:    maps.Clone(s.groups),
		members:   maps.Clone(s.members),
		proposals: maps.Clone(s.proposals),
		acceptees: maps.Clone(s.acceptees),
		sessions:  maps.Clone(s.sessions),
		games:     maps.Clone(s.games),
		players:   maps.Clone(s.players),
		steps:     maps.Clone(s.steps),
		requests:  maps.Clone(s.requests),
		messages:  maps.Clone(s.messages),
	}
}

// Memory is an in-process Store. Transactions are serialized and run
// against a copy of the state that replaces the original on commit, so a
// failed transaction leaves no trace.
type Memory struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time

	seqMu     sync.Mutex
	seq       int64
	conflicts int
}

func NewMemory() *Memory {
	return &Memory{
		state: newMemState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// InjectConflicts makes the next n transaction attempts fail with
// ErrConflict after running fn.
func (m *Memory) InjectConflicts(n int) {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	m.conflicts = n
}

func (m *Memory) nextID() int64 {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	m.seq++
	return m.seq
}

func (m *Memory) takeConflict() bool {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return true
	}
	return false
}

func (m *Memory) Tx(ctx context.Context, fn func(tx Tx) error) error {
	return retryConflicts(ctx, func() error {
		tx := &memTx{ctx: ctx, mem: m}
		m.mu.Lock()
		tx.state = m.state.clone()
		err := fn(tx)
		if err == nil && m.takeConflict() {
			err = fmt.Errorf("%w: injected", ErrConflict)
		}
		if err == nil {
			m.state = tx.state
		}
		m.mu.Unlock()
		if err != nil {
			tx.rolledBack()
			return err
		}
		tx.committed()
		return nil
	})
}

type memTx struct {
	hooks
	ctx   context.Context
	mem   *Memory
	state *memState
}

func (t *memTx) Context() context.Context { return t.ctx }

func notFound(what string, id fmt.Stringer) error {
	return fmt.Errorf("%s %s: %w", what, id, model.ErrNotFound)
}

func (t *memTx) CreateUser(name string) (model.User, error) {
	for _, u := range t.state.users {
		if u.Name == name {
			return model.User{}, fmt.Errorf("user %q: %w", name, ErrDuplicate)
		}
	}
	u := model.User{ID: model.UserID(t.mem.nextID()), Name: name, CreatedAt: t.mem.now()}
	t.state.users[u.ID] = u
	return u, nil
}

func (t *memTx) GetUser(id model.UserID) (model.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return model.User{}, notFound("user", id)
	}
	return u, nil
}

func (t *memTx) TouchLastLogin(id model.UserID, at time.Time) error {
	u, ok := t.state.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.LastLoginAt = &at
	t.state.users[id] = u
	return nil
}

func (t *memTx) AddFriend(a, b model.UserID) error {
	if a == b {
		return fmt.Errorf("self friendship: %w", ErrConstraint)
	}
	for _, id := range []model.UserID{a, b} {
		if _, ok := t.state.users[id]; !ok {
			return fmt.Errorf("user %s: %w", id, ErrConstraint)
		}
	}
	t.state.friends[friendKey{a, b}] = struct{}{}
	t.state.friends[friendKey{b, a}] = struct{}{}
	return nil
}

func (t *memTx) CreateGroup(g model.Group) (model.Group, error) {
	for _, existing := range t.state.groups {
		if existing.Name == g.Name {
			return model.Group{}, fmt.Errorf("group %q: %w", g.Name, ErrDuplicate)
		}
	}
	g.ID = model.GroupID(t.mem.nextID())
	g.CreatedAt = t.mem.now()
	t.state.groups[g.ID] = g
	return g, nil
}

func (t *memTx) GetGroup(id model.GroupID) (model.Group, error) {
	g, ok := t.state.groups[id]
	if !ok {
		return model.Group{}, notFound("group", id)
	}
	return g, nil
}

func (t *memTx) AddGroupMember(m model.GroupMember) error {
	if _, ok := t.state.groups[m.GroupID]; !ok {
		return fmt.Errorf("group %s: %w", m.GroupID, ErrConstraint)
	}
	if _, ok := t.state.users[m.UserID]; !ok {
		return fmt.Errorf("user %s: %w", m.UserID, ErrConstraint)
	}
	key := memberKey{m.GroupID, m.UserID}
	if _, ok := t.state.members[key]; ok {
		return fmt.Errorf("member %s of %s: %w", m.UserID, m.GroupID, ErrDuplicate)
	}
	if m.Role == "" {
		m.Role = model.RoleRegular
	}
	t.state.members[key] = m
	return nil
}

func (t *memTx) ListGroupMembers(id model.GroupID) ([]model.GroupMember, error) {
	var out []model.GroupMember
	for key, m := range t.state.members {
		if key.group == id {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *memTx) CreateProposal(p model.GameProposal) (model.GameProposal, error) {
	if p.MinPlayers < 1 || p.MaxPlayers < p.MinPlayers || p.ModPlayers < 1 {
		return model.GameProposal{}, fmt.Errorf("proposal bounds: %w", ErrConstraint)
	}
	p.ID = model.GameProposalID(t.mem.nextID())
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.mem.now()
	}
	if p.Rules == nil {
		p.Rules = json.RawMessage("null")
	}
	t.state.proposals[p.ID] = p
	return p, nil
}

func (t *memTx) GetProposal(id model.GameProposalID, _ bool) (model.GameProposal, error) {
	p, ok := t.state.proposals[id]
	if !ok {
		return model.GameProposal{}, notFound("proposal", id)
	}
	return p, nil
}

func (t *memTx) DeleteProposal(id model.GameProposalID) error {
	delete(t.state.proposals, id)
	for key := range t.state.acceptees {
		if key.proposal == id {
			delete(t.state.acceptees, key)
		}
	}
	for user, s := range t.state.sessions {
		if b, ok := s.Binding.(model.ProposalSeat); ok && b.ProposalID == id {
			delete(t.state.sessions, user)
		}
	}
	for rid, r := range t.state.requests {
		if b, ok := r.Body.(model.GameProposalRequest); ok && b.ProposalID == id {
			delete(t.state.requests, rid)
		}
	}
	return nil
}

func (t *memTx) ListExpiredProposals(now time.Time) ([]model.GameProposalID, error) {
	var out []model.GameProposalID
	for id, p := range t.state.proposals {
		if p.Expired(now) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memTx) CreateAcceptee(a model.Acceptee) error {
	if _, ok := t.state.proposals[a.ProposalID]; !ok {
		return fmt.Errorf("proposal %s: %w", a.ProposalID, ErrConstraint)
	}
	key := accepteeKey{a.ProposalID, a.UserID}
	if _, ok := t.state.acceptees[key]; ok {
		return fmt.Errorf("acceptee %s of %s: %w", a.UserID, a.ProposalID, ErrDuplicate)
	}
	if a.AcceptedAt.IsZero() {
		a.AcceptedAt = t.mem.now()
	}
	t.state.acceptees[key] = a
	return nil
}

func (t *memTx) ListAcceptees(id model.GameProposalID) ([]model.Acceptee, error) {
	var out []model.Acceptee
	for key, a := range t.state.acceptees {
		if key.proposal == id {
			out = append(out, a)
		}
	}
	return model.SeatOrder(out), nil
}

func (t *memTx) SetAccepteeReady(id model.GameProposalID, user model.UserID, ready bool) (bool, error) {
	key := accepteeKey{id, user}
	a, ok := t.state.acceptees[key]
	if !ok {
		return false, nil
	}
	a.IsReady = ready
	t.state.acceptees[key] = a
	if s, ok := t.state.sessions[user]; ok {
		if b, ok := s.Binding.(model.ProposalSeat); ok && b.ProposalID == id {
			b.IsReady = ready
			s.Binding = b
			t.state.sessions[user] = s
		}
	}
	return true, nil
}

func (t *memTx) DeleteAcceptee(id model.GameProposalID, user model.UserID) (bool, error) {
	key := accepteeKey{id, user}
	if _, ok := t.state.acceptees[key]; !ok {
		return false, nil
	}
	delete(t.state.acceptees, key)
	return true, nil
}

func (t *memTx) DeleteAcceptees(id model.GameProposalID) error {
	for key := range t.state.acceptees {
		if key.proposal == id {
			delete(t.state.acceptees, key)
		}
	}
	return nil
}

func (t *memTx) checkBinding(user model.UserID, b model.Binding) error {
	switch b := b.(type) {
	case model.ProposalSeat:
		if _, ok := t.state.proposals[b.ProposalID]; !ok {
			return fmt.Errorf("proposal %s: %w", b.ProposalID, ErrConstraint)
		}
	case model.GameSeat:
		if _, ok := t.state.games[b.GameID]; !ok {
			return fmt.Errorf("game %s: %w", b.GameID, ErrConstraint)
		}
		for other, s := range t.state.sessions {
			if seat, ok := s.Binding.(model.GameSeat); ok && seat == b && other != user {
				return fmt.Errorf("seat %d of %s: %w", b.PlayerIndex, b.GameID, ErrDuplicate)
			}
		}
	default:
		return fmt.Errorf("session binding %T: %w", b, ErrConstraint)
	}
	return nil
}

func (t *memTx) CreateSession(s model.Session) (model.Session, error) {
	if _, ok := t.state.users[s.UserID]; !ok {
		return model.Session{}, fmt.Errorf("user %s: %w", s.UserID, ErrConstraint)
	}
	if _, ok := t.state.sessions[s.UserID]; ok {
		return model.Session{}, fmt.Errorf("session for %s: %w", s.UserID, ErrDuplicate)
	}
	if err := t.checkBinding(s.UserID, s.Binding); err != nil {
		return model.Session{}, err
	}
	s.ID = model.SessionID(t.mem.nextID())
	s.CreatedAt = t.mem.now()
	t.state.sessions[s.UserID] = s
	return s, nil
}

func (t *memTx) GetSession(user model.UserID) (model.Session, error) {
	s, ok := t.state.sessions[user]
	if !ok {
		return model.Session{}, notFound("session for", user)
	}
	return s, nil
}

func (t *memTx) UpdateSession(s model.Session) error {
	existing, ok := t.state.sessions[s.UserID]
	if !ok {
		return notFound("session for", s.UserID)
	}
	if err := t.checkBinding(s.UserID, s.Binding); err != nil {
		return err
	}
	existing.Binding = s.Binding
	t.state.sessions[s.UserID] = existing
	return nil
}

func (t *memTx) DeleteSession(user model.UserID) error {
	delete(t.state.sessions, user)
	return nil
}

func (t *memTx) DeleteSessionsForGame(id model.GameID) ([]model.UserID, error) {
	var out []model.UserID
	for user, s := range t.state.sessions {
		if b, ok := s.Binding.(model.GameSeat); ok && b.GameID == id {
			out = append(out, user)
			delete(t.state.sessions, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memTx) DeleteSessionsForProposal(id model.GameProposalID) ([]model.UserID, error) {
	var out []model.UserID
	for user, s := range t.state.sessions {
		if b, ok := s.Binding.(model.ProposalSeat); ok && b.ProposalID == id {
			out = append(out, user)
			delete(t.state.sessions, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memTx) CreateGame(g model.Game) (model.Game, error) {
	if g.NumPlayers < 1 {
		return model.Game{}, fmt.Errorf("num players: %w", ErrConstraint)
	}
	g.ID = model.GameID(t.mem.nextID())
	now := t.mem.now()
	g.StartedAt = now
	g.UpdatedAt = now
	if g.Snapshot == nil {
		g.Snapshot = json.RawMessage("null")
	}
	t.state.games[g.ID] = g
	return g, nil
}

func (t *memTx) GetGame(id model.GameID, _ bool) (model.Game, error) {
	g, ok := t.state.games[id]
	if !ok {
		return model.Game{}, notFound("game", id)
	}
	return g, nil
}

func (t *memTx) UpdateGameSnapshot(id model.GameID, snapshot json.RawMessage, ply int, at time.Time) error {
	g, ok := t.state.games[id]
	if !ok {
		return notFound("game", id)
	}
	g.Snapshot = snapshot
	g.SnapshotPly = ply
	g.UpdatedAt = at
	t.state.games[id] = g
	return nil
}

func (t *memTx) CompleteGame(id model.GameID, at time.Time) error {
	g, ok := t.state.games[id]
	if !ok {
		return notFound("game", id)
	}
	g.CompletedAt = &at
	g.UpdatedAt = at
	t.state.games[id] = g
	return nil
}

func (t *memTx) FailGame(id model.GameID, at time.Time) error {
	g, ok := t.state.games[id]
	if !ok {
		return notFound("game", id)
	}
	g.FailedAt = &at
	g.UpdatedAt = at
	t.state.games[id] = g
	return nil
}

func (t *memTx) ListActiveGames() ([]model.Game, error) {
	var out []model.Game
	for _, g := range t.state.games {
		if g.Active() {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) CreateGamePlayers(players []model.GamePlayer) error {
	for _, p := range players {
		if _, ok := t.state.games[p.GameID]; !ok {
			return fmt.Errorf("game %s: %w", p.GameID, ErrConstraint)
		}
		key := seatKey{p.GameID, p.PlayerIndex}
		if _, ok := t.state.players[key]; ok {
			return fmt.Errorf("seat %d of %s: %w", p.PlayerIndex, p.GameID, ErrDuplicate)
		}
		t.state.players[key] = p
	}
	return nil
}

func (t *memTx) ListGamePlayers(id model.GameID) ([]model.GamePlayer, error) {
	var out []model.GamePlayer
	for key, p := range t.state.players {
		if key.game == id {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerIndex < out[j].PlayerIndex })
	return out, nil
}

func (t *memTx) SetGamePlayerResult(id model.GameID, seat, position int, score int64) error {
	key := seatKey{id, seat}
	p, ok := t.state.players[key]
	if !ok {
		return fmt.Errorf("seat %d of %s: %w", seat, id, model.ErrNotFound)
	}
	p.ResultPosition = &position
	p.ResultScore = &score
	t.state.players[key] = p
	return nil
}

func (t *memTx) InsertStep(step model.GameStep) error {
	if _, ok := t.state.games[step.GameID]; !ok {
		return fmt.Errorf("game %s: %w", step.GameID, ErrConstraint)
	}
	if step.Ply < 0 {
		return fmt.Errorf("ply %d: %w", step.Ply, ErrConstraint)
	}
	key := seatKey{step.GameID, step.Ply}
	if _, ok := t.state.steps[key]; ok {
		return fmt.Errorf("step %d of %s: %w", step.Ply, step.GameID, ErrDuplicate)
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = t.mem.now()
	}
	t.state.steps[key] = step
	return nil
}

func (t *memTx) ListSteps(id model.GameID) ([]model.GameStep, error) {
	var out []model.GameStep
	for key, s := range t.state.steps {
		if key.game == id {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ply < out[j].Ply })
	return out, nil
}

func keyOf(kind model.RequestKind, p model.Parties) requestKey {
	key := requestKey{kind: kind}
	if p.FromUser != nil {
		key.users[0] = *p.FromUser
	}
	if p.ToUser != nil {
		key.users[1] = *p.ToUser
	}
	if p.FromGroup != nil {
		key.group[0] = *p.FromGroup
	}
	if p.ToGroup != nil {
		key.group[1] = *p.ToGroup
	}
	return key
}

func (t *memTx) CreateRequest(r model.Request) (model.Request, error) {
	parties, proposal, seat, err := model.Flatten(r.Body)
	if err != nil {
		return model.Request{}, fmt.Errorf("%v: %w", err, ErrConstraint)
	}
	if proposal != nil {
		if _, ok := t.state.proposals[*proposal]; !ok {
			return model.Request{}, fmt.Errorf("proposal %s: %w", *proposal, ErrConstraint)
		}
	}
	if seat != nil {
		if _, ok := t.state.games[seat.GameID]; !ok {
			return model.Request{}, fmt.Errorf("game %s: %w", seat.GameID, ErrConstraint)
		}
	}
	key := keyOf(r.Body.Kind(), parties)
	for _, existing := range t.state.requests {
		p, _, _, _ := model.Flatten(existing.Body)
		if keyOf(existing.Body.Kind(), p) == key {
			return model.Request{}, fmt.Errorf("%s request: %w", r.Body.Kind(), ErrDuplicate)
		}
	}
	r.ID = model.RequestID(t.mem.nextID())
	r.SentAt = t.mem.now()
	t.state.requests[r.ID] = r
	return r, nil
}

func (t *memTx) CreateMessage(m model.Message) (model.Message, error) {
	if _, ok := t.state.users[m.ToID]; !ok {
		return model.Message{}, fmt.Errorf("user %s: %w", m.ToID, ErrConstraint)
	}
	m.ID = model.MessageID(t.mem.nextID())
	if m.SentAt.IsZero() {
		m.SentAt = t.mem.now()
	}
	t.state.messages[m.ID] = m
	return m, nil
}

func (t *memTx) ListUnreadMessages(user model.UserID) ([]model.Message, error) {
	var out []model.Message
	for _, m := range t.state.messages {
		if m.ToID == user && !m.WasRead {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memTx) MarkMessageRead(user model.UserID, id model.MessageID) error {
	m, ok := t.state.messages[id]
	if !ok || m.ToID != user {
		return notFound("message", id)
	}
	m.WasRead = true
	t.state.messages[id] = m
	return nil
}

func (t *memTx) isMember(group model.GroupID, user model.UserID) bool {
	_, ok := t.state.members[memberKey{group, user}]
	return ok
}

func (t *memTx) VisibleProposals(user model.UserID) ([]model.GameProposal, error) {
	var out []model.GameProposal
	for id, p := range t.state.proposals {
		if p.IsPublic || t.proposalReachable(id, user) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memTx) proposalReachable(id model.GameProposalID, user model.UserID) bool {
	if s, ok := t.state.sessions[user]; ok {
		if b, ok := s.Binding.(model.ProposalSeat); ok && b.ProposalID == id {
			return true
		}
	}
	for _, r := range t.state.requests {
		b, ok := r.Body.(model.GameProposalRequest)
		if !ok || b.ProposalID != id {
			continue
		}
		if b.ToUser != nil && *b.ToUser == user {
			return true
		}
		if b.ToGroup != nil && t.isMember(*b.ToGroup, user) {
			return true
		}
	}
	return false
}

func (t *memTx) VisibleGroups(user model.UserID) ([]model.Group, error) {
	var out []model.Group
	for id, g := range t.state.groups {
		if g.Visibility == model.VisibilityPublic || t.isMember(id, user) || (g.Visibility == model.VisibilityFriends && t.friendIsMember(id, user)) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) friendIsMember(group model.GroupID, user model.UserID) bool {
	for key := range t.state.members {
		if key.group != group {
			continue
		}
		if _, ok := t.state.friends[friendKey{user, key.user}]; ok {
			return true
		}
	}
	return false
}

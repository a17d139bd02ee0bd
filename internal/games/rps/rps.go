// Package rps implements two player rock-paper-scissors. Seat 0 moves
// first each round, then seat 1; a null move forfeits the round.
package rps

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gamehub/internal/model"
	"gamehub/internal/worker"
)

const GameType = "rock-paper-scissors"

type Rules struct {
	NumRounds   int   `json:"num_rounds"`
	TurnTimeout int64 `json:"turn_timeout"`
}

var DefaultRules = Rules{NumRounds: 3, TurnTimeout: 60}

type Move string

const (
	Rock     Move = "rock"
	Paper    Move = "paper"
	Scissors Move = "scissors"
)

type outcome int

const (
	drew outcome = iota
	won
	lost
)

func (o outcome) score() int64 {
	switch o {
	case won:
		return 3
	case drew:
		return 1
	default:
		return 0
	}
}

func (o outcome) invert() outcome {
	switch o {
	case won:
		return lost
	case lost:
		return won
	default:
		return drew
	}
}

func (o outcome) String() string {
	return [...]string{"drew", "won", "lost"}[o]
}

func play(a, b Move) outcome {
	if a == b {
		return drew
	}
	beats := map[Move]Move{Rock: Scissors, Paper: Rock, Scissors: Paper}
	if beats[a] == b {
		return won
	}
	return lost
}

type Snapshot struct {
	Scores        [2]int64  `json:"scores"`
	RoundsPlayed  int       `json:"rounds_played"`
	Player0Action *Move     `json:"player0_action"`
	Prompts       [2]string `json:"prompts"`
}

// Delta records one move; replaying deltas in ply order through Apply
// rebuilds the snapshot.
type Delta struct {
	Seat   int      `json:"seat"`
	Action *Move    `json:"action"`
	Round  int      `json:"round"`
	Scores [2]int64 `json:"scores"`
}

type Engine struct{}

func ParseRules(raw json.RawMessage) (Rules, error) {
	rules := DefaultRules
	if len(raw) == 0 || string(raw) == "null" {
		return rules, nil
	}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("rules: %w", err)
	}
	if rules.NumRounds < 1 {
		return Rules{}, fmt.Errorf("rules: num_rounds must be positive")
	}
	return rules, nil
}

func (Engine) Initial(setup worker.Init) (json.RawMessage, error) {
	if setup.NumPlayers != 2 {
		return nil, fmt.Errorf("rock-paper-scissors needs 2 players, got %d", setup.NumPlayers)
	}
	rules, err := ParseRules(setup.Rules)
	if err != nil {
		return nil, err
	}
	s := Snapshot{}
	s.Prompts[0] = fmt.Sprintf("Round 1 of %d - It's your go! Enter [r]ock, [p]aper or [s]cissors:", rules.NumRounds)
	s.Prompts[1] = fmt.Sprintf("Round 1 of %d - Waiting for the other player...", rules.NumRounds)
	return json.Marshal(s)
}

func parseMove(raw json.RawMessage) (*Move, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, worker.Reject("invalid command: %s", raw)
	}
	var m Move
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "r", "rock":
		m = Rock
	case "p", "paper":
		m = Paper
	case "s", "scissors":
		m = Scissors
	default:
		return nil, worker.Reject("invalid command: %s", text)
	}
	return &m, nil
}

func (s *Snapshot) turn() int {
	if s.Player0Action != nil {
		return 1
	}
	return 0
}

func (Engine) Apply(setup worker.Init, raw json.RawMessage, seat int, action json.RawMessage) (worker.Step, error) {
	rules, err := ParseRules(setup.Rules)
	if err != nil {
		return worker.Step{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return worker.Step{}, fmt.Errorf("snapshot: %w", err)
	}
	if s.RoundsPlayed >= rules.NumRounds {
		return worker.Step{}, worker.Reject("the game is over")
	}
	if seat != s.turn() {
		return worker.Step{}, worker.Reject("it's not your turn yet")
	}
	move, err := parseMove(action)
	if err != nil {
		return worker.Step{}, err
	}

	advance(&s, rules, seat, move)

	delta, err := json.Marshal(Delta{Seat: seat, Action: move, Round: s.RoundsPlayed, Scores: s.Scores})
	if err != nil {
		return worker.Step{}, err
	}
	snapshot, err := json.Marshal(s)
	if err != nil {
		return worker.Step{}, err
	}
	step := worker.Step{Delta: delta, Snapshot: snapshot}
	if s.RoundsPlayed >= rules.NumRounds {
		step.Completed = true
		step.Results = results(s.Scores[:])
	}
	return step, nil
}

func advance(s *Snapshot, rules Rules, seat int, move *Move) {
	if seat == 1 {
		first := *s.Player0Action
		s.Player0Action = nil
		var o outcome
		if move != nil {
			o = play(first, *move)
			s.Prompts[0] = fmt.Sprintf("You played %s and %s against %s.", first, o, *move)
			s.Prompts[1] = fmt.Sprintf("You played %s and %s against %s.", *move, o.invert(), first)
		} else {
			o = won
			s.Prompts[0] = "You won this round because the other player took too long to go."
			s.Prompts[1] = "You lost this round because you took too long to go."
		}
		s.Scores[0] += o.score()
		s.Scores[1] += o.invert().score()
		s.RoundsPlayed++
	} else if move == nil {
		s.Prompts[0] = "You lost this round because you took too long to go."
		s.Prompts[1] = "You won this round because the other player took too long to go."
		s.Scores[1] += won.score()
		s.RoundsPlayed++
	} else {
		s.Player0Action = move
		s.Prompts[0] = "Waiting for the other player..."
		s.Prompts[1] = "It's your go! Enter [r]ock, [p]aper or [s]cissors:"
		return
	}
	if s.RoundsPlayed < rules.NumRounds {
		next := fmt.Sprintf(" Round %d of %d - ", s.RoundsPlayed+1, rules.NumRounds)
		s.Prompts[0] += next + "It's your go! Enter [r]ock, [p]aper or [s]cissors:"
		s.Prompts[1] += next + "Waiting for the other player..."
	}
}

// results ranks seats by descending score. Equal scores share a position.
func results(scores []int64) []model.SeatResult {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	out := make([]model.SeatResult, len(scores))
	position := 0
	for rank, seat := range order {
		if rank == 0 || scores[seat] != scores[order[rank-1]] {
			position = rank
		}
		out[seat] = model.SeatResult{PlayerIndex: seat, Position: position, Score: scores[seat]}
	}
	return out
}

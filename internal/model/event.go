package model

// Event types pushed to connections.
const (
	EventIdle       = "idle"
	EventProposal   = "proposal"
	EventSnapshot   = "snapshot"
	EventState      = "state"
	EventPromoted   = "promoted"
	EventExpired    = "expired"
	EventCompleted  = "completed"
	EventFailed     = "failed"
	EventNewMessage = "new_message"
	EventError      = "error"
	EventList       = "list"
)

// Event is a server to connection push. Data is marshalled as JSON.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type GameState struct {
	GameID   string       `json:"game_id"`
	Seat     *int         `json:"seat,omitempty"`
	Ply      int          `json:"ply"`
	Snapshot any          `json:"snapshot"`
	Delta    any          `json:"delta,omitempty"`
	Results  []SeatResult `json:"results,omitempty"`
}

type ProposalState struct {
	ProposalID string `json:"proposal_id"`
	GameType   string `json:"game_type"`
	Acceptees  int    `json:"acceptees"`
	Ready      bool   `json:"ready"`
}

// ErrorInfo is the payload of an error event.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

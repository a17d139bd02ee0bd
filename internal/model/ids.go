package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidID = errors.New("invalid id")

// Ids are rendered with a one letter prefix so that a user can tell a
// proposal from a game when typing them into a terminal.
const (
	userPrefix     = "u"
	groupPrefix    = "o"
	proposalPrefix = "p"
	gamePrefix     = "g"
	sessionPrefix  = "s"
	requestPrefix  = "r"
	messagePrefix  = "m"
)

type (
	UserID         int64
	GroupID        int64
	GameProposalID int64
	GameID         int64
	SessionID      int64
	RequestID      int64
	MessageID      int64
)

func (id UserID) String() string         { return formatID(userPrefix, int64(id)) }
func (id GroupID) String() string        { return formatID(groupPrefix, int64(id)) }
func (id GameProposalID) String() string { return formatID(proposalPrefix, int64(id)) }
func (id GameID) String() string         { return formatID(gamePrefix, int64(id)) }
func (id SessionID) String() string      { return formatID(sessionPrefix, int64(id)) }
func (id RequestID) String() string      { return formatID(requestPrefix, int64(id)) }
func (id MessageID) String() string      { return formatID(messagePrefix, int64(id)) }

func ParseUserID(raw string) (UserID, error) {
	v, err := parseID(userPrefix, raw)
	return UserID(v), err
}

func ParseGroupID(raw string) (GroupID, error) {
	v, err := parseID(groupPrefix, raw)
	return GroupID(v), err
}

func ParseGameProposalID(raw string) (GameProposalID, error) {
	v, err := parseID(proposalPrefix, raw)
	return GameProposalID(v), err
}

func ParseGameID(raw string) (GameID, error) {
	v, err := parseID(gamePrefix, raw)
	return GameID(v), err
}

func ParseMessageID(raw string) (MessageID, error) {
	v, err := parseID(messagePrefix, raw)
	return MessageID(v), err
}

func formatID(prefix string, v int64) string {
	return prefix + strconv.FormatInt(v, 10)
}

func parseID(prefix, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, prefix) {
		return 0, fmt.Errorf("%w: %q must start with %q", ErrInvalidID, raw, prefix)
	}
	v, err := strconv.ParseInt(raw[len(prefix):], 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return v, nil
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gamehub/internal/matcher"
	"gamehub/internal/model"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	maxGameTypeLength = 64
	maxSubjectLength  = 80
	maxBodyLength     = 2000
	maxPlayersPerGame = 64
)

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		binding.EnableDecoderDisallowUnknownFields = true
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("gametype", func(fl validator.FieldLevel) bool {
			_, err := validateGameType(fl.Field().String())
			return err == nil
		})
		_ = engine.RegisterValidation("subject", func(fl validator.FieldLevel) bool {
			_, err := validateText("subject", fl.Field().String(), maxSubjectLength)
			return err == nil
		})
	})
}

type proposeRequest struct {
	GameType    string          `json:"game_type" binding:"required,gametype"`
	IsPublic    bool            `json:"is_public"`
	MinPlayers  int             `json:"min_players" binding:"omitempty,min=1,max=64"`
	MaxPlayers  int             `json:"max_players" binding:"omitempty,min=1,max=64"`
	ModPlayers  int             `json:"mod_players" binding:"omitempty,min=1,max=64"`
	Rules       json.RawMessage `json:"rules"`
	InviteUser  string          `json:"invite_user" binding:"excluded_with=InviteGroup"`
	InviteGroup string          `json:"invite_group"`
}

var proposeMessages = bindMessages{
	"GameType": {
		"required": "game_type is required",
		"gametype": "game_type may only hold lower-case letters, digits, - and _",
	},
	"MinPlayers": {"max": fmt.Sprintf("at most %d players", maxPlayersPerGame)},
	"MaxPlayers": {"max": fmt.Sprintf("at most %d players", maxPlayersPerGame)},
	"InviteUser": {"excluded_with": "invite a user or a group, not both"},
}

func (p proposeRequest) params() (matcher.CreateParams, error) {
	params := matcher.CreateParams{
		GameType:   p.GameType,
		IsPublic:   p.IsPublic,
		MinPlayers: p.MinPlayers,
		MaxPlayers: p.MaxPlayers,
		ModPlayers: p.ModPlayers,
		Rules:      p.Rules,
	}
	if p.InviteUser != "" {
		id, err := model.ParseUserID(p.InviteUser)
		if err != nil {
			return matcher.CreateParams{}, err
		}
		params.InviteUser = &id
	}
	if p.InviteGroup != "" {
		id, err := model.ParseGroupID(p.InviteGroup)
		if err != nil {
			return matcher.CreateParams{}, err
		}
		params.InviteGroup = &id
	}
	return params, nil
}

type sendMessageRequest struct {
	To      string `json:"to" binding:"required_without=Group,excluded_with=Group"`
	Group   string `json:"group"`
	Subject string `json:"subject" binding:"required,subject"`
	Body    string `json:"body" binding:"max=2000"`
}

var sendMessageMessages = bindMessages{
	"To": {
		"required_without": "to or group is required",
		"excluded_with":    "send to a user or a group, not both",
	},
	"Subject": {
		"required": "subject is required",
		"subject":  fmt.Sprintf("subject must be %d plain characters or fewer", maxSubjectLength),
	},
	"Body": {"max": fmt.Sprintf("body must be %d characters or fewer", maxBodyLength)},
}

func validateGameType(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", errors.New("game type is required")
	}
	if len(trimmed) > maxGameTypeLength {
		return "", fmt.Errorf("game type must be %d characters or fewer", maxGameTypeLength)
	}
	for _, r := range trimmed {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '-' || r == '_' {
			continue
		}
		return "", errors.New("game type contains unsupported characters")
	}
	return trimmed, nil
}

func validateText(label, text string, maxLen int) (string, error) {
	trimmed := normalizeText(text)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	if len(trimmed) > maxLen {
		return "", fmt.Errorf("%s must be %d characters or fewer", label, maxLen)
	}
	if !isSafeText(trimmed) {
		return "", fmt.Errorf("%s contains unsupported characters", label)
	}
	return trimmed, nil
}

func normalizeText(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	return strings.Join(fields, " ")
}

func isSafeText(text string) bool {
	for _, r := range text {
		if r > 127 {
			return false
		}
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		switch r {
		case ' ', '-', '_', '\'', '"', '.', ',', '!', '?', ':', ';', '&', '(', ')', '/':
			continue
		default:
			return false
		}
	}
	return true
}

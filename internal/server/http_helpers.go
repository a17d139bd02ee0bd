package server

import (
	"errors"
	"net/http"

	"gamehub/internal/model"
	"gamehub/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorClass struct {
	err    error
	code   string
	status int
}

var errorClasses = []errorClass{
	{model.ErrNotBound, "not_bound", http.StatusConflict},
	{model.ErrAlreadyAccepted, "already_accepted", http.StatusConflict},
	{model.ErrAlreadyBound, "already_bound", http.StatusConflict},
	{model.ErrFull, "full", http.StatusConflict},
	{model.ErrExpired, "expired", http.StatusGone},
	{model.ErrSeatVacant, "seat_vacant", http.StatusConflict},
	{model.ErrWrongSeat, "wrong_seat", http.StatusForbidden},
	{model.ErrInvalidTurn, "invalid_turn", http.StatusUnprocessableEntity},
	{model.ErrNotFound, "not_found", http.StatusNotFound},
	{model.ErrInvalidCommand, "invalid_command", http.StatusBadRequest},
	{model.ErrInvalidID, "invalid_id", http.StatusBadRequest},
	{model.ErrInvalidProposal, "invalid_proposal", http.StatusBadRequest},
	{model.ErrNoSuchWorker, "no_such_worker", http.StatusServiceUnavailable},
	{model.ErrLaunchFailed, "launch_failed", http.StatusServiceUnavailable},
	{model.ErrGameFailed, "game_failed", http.StatusServiceUnavailable},
	{store.ErrConstraint, "constraint", http.StatusUnprocessableEntity},
}

// classify maps err onto a wire code, an HTTP status and the message the
// caller is allowed to see.
func classify(err error) (model.ErrorInfo, int) {
	for _, class := range errorClasses {
		if !errors.Is(err, class.err) {
			continue
		}
		msg := class.err.Error()
		if model.IsUserError(err) {
			msg = err.Error()
		}
		return model.ErrorInfo{Code: class.code, Message: msg}, class.status
	}
	return model.ErrorInfo{Code: "internal", Message: "internal error"}, http.StatusInternalServerError
}

func requestFields(c *gin.Context, err error) []zap.Field {
	return []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err),
	}
}

func (s *Server) writeFailure(c *gin.Context, err error) {
	info, status := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", requestFields(c, err)...)
	}
	c.JSON(status, gin.H{
		"error": info.Message,
		"code":  info.Code,
	})
}

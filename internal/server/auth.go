package server

import (
	"errors"
	"net/http"
	"strings"

	"gamehub/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserHeader carries the caller's user id. Authentication happens in front
// of this service; the header is trusted as given.
const UserHeader = "X-User"

// RequestIDHeader is echoed back, or filled in when the caller sent none.
const RequestIDHeader = "X-Request-ID"

const (
	userKey      = "user"
	requestIDKey = "request_id"
)

var errUserRequired = errors.New("user is required")

func userFromRequest(c *gin.Context) (model.UserID, error) {
	raw := strings.TrimSpace(c.GetHeader(UserHeader))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("user"))
	}
	if raw == "" {
		return 0, errUserRequired
	}
	return model.ParseUserID(raw)
}

func (s *Server) requireUser(c *gin.Context) {
	user, err := userFromRequest(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Set(userKey, user)
	c.Next()
}

func currentUser(c *gin.Context) model.UserID {
	user, _ := c.Get(userKey)
	id, _ := user.(model.UserID)
	return id
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

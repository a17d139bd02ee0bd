package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// bindMessages maps struct field, then validation tag, to the message the
// client sees.
type bindMessages map[string]map[string]string

func bindJSON(c *gin.Context, req any, messages bindMessages, fallback string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": resolveBindError(err, messages, fallback)})
		return false
	}
	return true
}

// bindPathID parses the path parameter name with parse, answering 400 for
// a malformed id.
func bindPathID[T any](s *Server, c *gin.Context, name string, parse func(string) (T, error)) (T, bool) {
	id, err := parse(c.Param(name))
	if err != nil {
		s.writeFailure(c, err)
		return id, false
	}
	return id, true
}

func resolveBindError(err error, messages bindMessages, fallback string) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, verr := range verrs {
			if fieldMsgs, ok := messages[verr.Field()]; ok {
				if msg, ok := fieldMsgs[verr.Tag()]; ok {
					return msg
				}
			}
		}
		if fallback == "" && len(verrs) > 0 {
			return fmt.Sprintf("%s failed %s", verrs[0].Field(), verrs[0].Tag())
		}
	}
	if fallback != "" {
		return fallback
	}
	return "invalid request"
}

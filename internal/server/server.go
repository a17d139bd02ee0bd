// Package server is the network edge: a websocket terminal transport bound
// to the session registry and a small JSON API for listings.
package server

import (
	"net/http"
	"time"

	"gamehub/internal/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

const (
	writeTimeout = 5 * time.Second
	maxFrameSize = 64 * 1024
)

type Server struct {
	orch     *orchestrator.Orchestrator
	logger   *zap.Logger
	upgrader websocket.Upgrader
	conns    cmap.ConcurrentMap[string, *wsConn]
}

func New(orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	registerValidators()
	return &Server{
		orch:   orch,
		logger: logger.Named("server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: cmap.New[*wsConn](),
	}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(requestID(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", s.handleWebsocket)

	api := r.Group("/api", s.requireUser)
	api.GET("/session", s.handleSession)
	api.GET("/proposals", s.handleProposals)
	api.POST("/proposals", s.handlePropose)
	api.POST("/proposals/:id/accept", s.handleAccept)
	api.GET("/groups", s.handleGroups)
	api.GET("/messages", s.handleMessages)
	api.POST("/messages", s.handleSendMessage)
	api.POST("/messages/:id/read", s.handleMarkRead)
	return r
}

// Close drops every open websocket connection. Sessions survive.
func (s *Server) Close() {
	for _, c := range s.conns.Items() {
		_ = c.Close()
	}
}

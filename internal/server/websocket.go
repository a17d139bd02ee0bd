package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn adapts a websocket to registry.Conn. Writes are serialized; the
// read side belongs to readWS alone.
type wsConn struct {
	id   string
	user model.UserID
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(e model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// frame is a client to server message. Which fields matter depends on Type.
type frame struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Ready      *bool           `json:"ready"`
	ProposalID string          `json:"proposal_id"`
	What       string          `json:"what"`
}

type listing struct {
	What  string `json:"what"`
	Items any    `json:"items"`
}

func (s *Server) handleWebsocket(c *gin.Context) {
	user, err := userFromRequest(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxFrameSize)
	conn := &wsConn{id: uuid.NewString(), user: user, conn: ws}
	s.conns.Set(conn.id, conn)
	defer s.conns.Remove(conn.id)

	logger := s.logger.With(zap.Stringer("user_id", user), zap.String("conn_id", conn.id))
	ctx := c.Request.Context()
	if err := s.orch.Connect(ctx, user, conn); err != nil {
		logger.Info("ws connect rejected", zap.Error(err))
		s.sendError(conn, err, logger)
		_ = conn.Close()
		return
	}
	logger.Info("ws connected", zap.String("remote", c.ClientIP()))
	s.readWS(ctx, conn, logger)
}

func (s *Server) readWS(ctx context.Context, c *wsConn, logger *zap.Logger) {
	defer func() {
		s.orch.Disconnect(c.user, c)
		_ = c.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			logger.Info("ws disconnected", zap.Error(err))
			return
		}
		if err := s.dispatch(ctx, c, data); err != nil {
			s.sendError(c, err, logger)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: frame is not a JSON object", model.ErrInvalidCommand)
	}
	switch f.Type {
	case "action":
		return s.orch.Action(ctx, c.user, f.Payload)
	case "ready":
		if f.Ready == nil {
			return fmt.Errorf("%w: ready needs a boolean", model.ErrInvalidCommand)
		}
		return s.orch.SetReady(ctx, c.user, *f.Ready)
	case "accept":
		id, err := model.ParseGameProposalID(f.ProposalID)
		if err != nil {
			return err
		}
		return s.orch.Accept(ctx, c.user, id)
	case "leave":
		return s.orch.Leave(ctx, c.user)
	case "propose":
		var req proposeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("%w: %v", model.ErrInvalidCommand, err)
		}
		if err := binding.Validator.ValidateStruct(&req); err != nil {
			return fmt.Errorf("%w: %s", model.ErrInvalidCommand, resolveBindError(err, proposeMessages, "invalid proposal"))
		}
		params, err := req.params()
		if err != nil {
			return err
		}
		_, err = s.orch.Propose(ctx, c.user, params)
		return err
	case "list":
		items, err := s.list(ctx, c.user, f.What)
		if err != nil {
			return err
		}
		return c.Send(model.Event{Type: model.EventList, Data: listing{What: f.What, Items: items}})
	default:
		return fmt.Errorf("%w: unknown frame type %q", model.ErrInvalidCommand, f.Type)
	}
}

func (s *Server) list(ctx context.Context, user model.UserID, what string) (any, error) {
	switch what {
	case "session":
		session, ok, err := s.orch.CurrentSession(ctx, user)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []any{}, nil
		}
		return []any{orchestrator.ViewSession(session)}, nil
	case "proposals":
		return s.orch.VisibleProposals(ctx, user)
	case "messages":
		return s.orch.Unread(ctx, user)
	case "groups":
		return s.orch.VisibleGroups(ctx, user)
	default:
		return nil, fmt.Errorf("%w: cannot list %q", model.ErrInvalidCommand, what)
	}
}

func (s *Server) sendError(c *wsConn, err error, logger *zap.Logger) {
	info, status := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("ws command failed", zap.Error(err))
	}
	_ = c.Send(model.Event{Type: model.EventError, Data: info})
}

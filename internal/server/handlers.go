package server

import (
	"net/http"

	"gamehub/internal/model"
	"gamehub/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleSession(c *gin.Context) {
	session, ok, err := s.orch.CurrentSession(c.Request.Context(), currentUser(c))
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, orchestrator.SessionView{Kind: model.BindingName(nil)})
		return
	}
	c.JSON(http.StatusOK, orchestrator.ViewSession(session))
}

func (s *Server) handleProposals(c *gin.Context) {
	proposals, err := s.orch.VisibleProposals(c.Request.Context(), currentUser(c))
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	pageNum, perPage := parsePagination(c, defaultPerPage, maxPerPage)
	c.JSON(http.StatusOK, paginate(proposals, pageNum, perPage))
}

func (s *Server) handlePropose(c *gin.Context) {
	var req proposeRequest
	if !bindJSON(c, &req, proposeMessages, "invalid proposal") {
		return
	}
	params, err := req.params()
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	proposal, err := s.orch.Propose(c.Request.Context(), currentUser(c), params)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, orchestrator.ViewProposal(proposal))
}

func (s *Server) handleAccept(c *gin.Context) {
	id, ok := bindPathID(s, c, "id", model.ParseGameProposalID)
	if !ok {
		return
	}
	if err := s.orch.Accept(c.Request.Context(), currentUser(c), id); err != nil {
		s.writeFailure(c, err)
		return
	}
	s.handleSession(c)
}

func (s *Server) handleGroups(c *gin.Context) {
	groups, err := s.orch.VisibleGroups(c.Request.Context(), currentUser(c))
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	pageNum, perPage := parsePagination(c, defaultPerPage, maxPerPage)
	c.JSON(http.StatusOK, paginate(groups, pageNum, perPage))
}

func (s *Server) handleMessages(c *gin.Context) {
	msgs, err := s.orch.Unread(c.Request.Context(), currentUser(c))
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	pageNum, perPage := parsePagination(c, defaultPerPage, maxPerPage)
	c.JSON(http.StatusOK, paginate(msgs, pageNum, perPage))
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if !bindJSON(c, &req, sendMessageMessages, "invalid message") {
		return
	}
	ctx := c.Request.Context()
	from := currentUser(c)
	subject := normalizeText(req.Subject)
	if req.Group != "" {
		group, err := model.ParseGroupID(req.Group)
		if err != nil {
			s.writeFailure(c, err)
			return
		}
		sent, err := s.orch.SendToGroup(ctx, &from, group, subject, req.Body)
		if err != nil {
			s.writeFailure(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"sent": len(sent)})
		return
	}
	to, err := model.ParseUserID(req.To)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	if _, err := s.orch.SendToUser(ctx, &from, to, subject, req.Body); err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sent": 1})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	id, ok := bindPathID(s, c, "id", model.ParseMessageID)
	if !ok {
		return
	}
	if err := s.orch.MarkRead(c.Request.Context(), currentUser(c), id); err != nil {
		s.writeFailure(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

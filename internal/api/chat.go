package api

import (
	"net/http"

	"crm-backend/internal/models"

	"github.com/gin-gonic/gin"
)

// GetConversations returns the workspace inbox.
func (s *Server) GetConversations(c *gin.Context) {
	res := s.svc.ListConversations(c.Request.Context(), workspaceID(c))
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

func (s *Server) GetConversation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res := s.svc.Conversation(c.Request.Context(), workspaceID(c), id)
	if res.Err != nil {
		s.respondError(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, res.Data)
}

// EnsureConversation opens the conversation for a phone number, creating it
// when needed.
func (s *Server) EnsureConversation(c *gin.Context) {
	var req models.EnsureConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.svc.EnsureConversation(c.Request.Context(), workspaceID(c), req.Phone, req.Name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) LinkConversationLead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.LinkLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.svc.LinkLead(c.Request.Context(), workspaceID(c), id, req.LeadID.String())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) MarkConversationRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.svc.MarkRead(c.Request.Context(), workspaceID(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) DeleteConversation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.svc.DeleteConversation(c.Request.Context(), workspaceID(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}

// GetMessages returns a conversation thread, oldest first.
func (s *Server) GetMessages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res := s.svc.Messages(c.Request.Context(), workspaceID(c), id)
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

// SendMessage stores an outbound message and hands it to WhatsApp. A message
// the provider rejected is still stored, in status failed.
func (s *Server) SendMessage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.svc.SendMessage(c.Request.Context(), workspaceID(c), id, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// UpdateMessageStatus applies a delivery receipt.
func (s *Server) UpdateMessageStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status models.MessageStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.svc.ApplyStatus(c.Request.Context(), workspaceID(c), id, req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

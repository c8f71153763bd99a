package api

import (
	"net/http"

	"crm-backend/internal/models"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetLeads(c *gin.Context) {
	res := s.svc.ListLeads(c.Request.Context(), workspaceID(c))
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

func (s *Server) GetLead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res := s.svc.Lead(c.Request.Context(), workspaceID(c), id)
	if res.Err != nil {
		s.respondError(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, res.Data)
}

func (s *Server) CreateLead(c *gin.Context) {
	var req models.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lead, err := s.svc.CreateLead(c.Request.Context(), workspaceID(c), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lead)
}

func (s *Server) UpdateLead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.UpdateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lead, err := s.svc.UpdateLead(c.Request.Context(), workspaceID(c), id, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

// MoveLead changes the pipeline stage.
func (s *Server) MoveLead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.MoveLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lead, err := s.svc.MoveLead(c.Request.Context(), workspaceID(c), id, req.StageID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (s *Server) DeleteLead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.svc.DeleteLead(c.Request.Context(), workspaceID(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lead deleted"})
}

func (s *Server) GetTags(c *gin.Context) {
	res := s.svc.ListTags(c.Request.Context(), workspaceID(c))
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

func (s *Server) GetLeadTags(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ids, err := s.svc.TagsOf(c.Request.Context(), workspaceID(c), id)
	respondList(s, c, ids, err, false)
}

func (s *Server) AddLeadTag(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	tag, ok := pathID(c, "tag")
	if !ok {
		return
	}
	if err := s.svc.AddTag(c.Request.Context(), workspaceID(c), id, tag); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RemoveLeadTag(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	tag, ok := pathID(c, "tag")
	if !ok {
		return
	}
	if err := s.svc.RemoveTag(c.Request.Context(), workspaceID(c), id, tag); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

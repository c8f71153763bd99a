package api

import (
	"net/http"
	"strings"

	"crm-backend/internal/models"

	"github.com/gin-gonic/gin"
)

// maskSecret keeps the last four characters of a credential.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func (s *Server) settingsConfigured(c *gin.Context) bool {
	if s.settings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Workspace settings are not configured"})
		return false
	}
	return true
}

func (s *Server) GetSettings(c *gin.Context) {
	if !s.settingsConfigured(c) {
		return
	}
	st, err := s.settings.Get(c.Request.Context(), workspaceID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	st.WhatsAppAPIKey = maskSecret(st.WhatsAppAPIKey)
	st.WebhookSecret = maskSecret(st.WebhookSecret)
	c.JSON(http.StatusOK, st)
}

func (s *Server) UpdateSettings(c *gin.Context) {
	if !s.settingsConfigured(c) {
		return
	}
	var req models.TenantSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ws := workspaceID(c)
	// Omitted secrets keep their stored value.
	if req.WhatsAppAPIKey == "" || req.WebhookSecret == "" {
		cur, err := s.settings.Get(ctx, ws)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if req.WhatsAppAPIKey == "" {
			req.WhatsAppAPIKey = cur.WhatsAppAPIKey
		}
		if req.WebhookSecret == "" {
			req.WebhookSecret = cur.WebhookSecret
		}
	}
	if err := s.settings.Put(ctx, ws, req); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Settings saved"})
}

func (s *Server) DeleteSettings(c *gin.Context) {
	if !s.settingsConfigured(c) {
		return
	}
	if err := s.settings.Delete(c.Request.Context(), workspaceID(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

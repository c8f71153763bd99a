package middleware

import (
	"context"
	"net/http"
	"strings"

	"crm-backend/internal/auth"
	"crm-backend/internal/remote"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	KeyUserID      = "user_id"
	KeyEmail       = "email"
	KeyRole        = "role"
	KeyWorkspaceID = "workspace_id"
)

// CORSSpecific allows the listed origins; "*" allows any.
func CORSSpecific(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSpace(o)] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, apikey")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AuthMiddleware verifies the bearer token and forwards it to the remote
// backend through the request context. Websocket upgrades may pass the token
// as the access_token query parameter.
func AuthMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := jwtManager.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(KeyUserID, claims.UserID())
		c.Set(KeyEmail, claims.Email)
		c.Set(KeyRole, claims.Role)
		c.Request = c.Request.WithContext(remote.WithAccessToken(c.Request.Context(), token))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("access_token")
}

// MembershipChecker answers whether a user belongs to a workspace.
type MembershipChecker interface {
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

// WorkspaceScope rejects requests for workspaces the caller is not a member
// of. The workspace id is read from the :ws path parameter.
func WorkspaceScope(members MembershipChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := c.Param("ws")
		if _, err := uuid.Parse(ws); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace ID"})
			return
		}

		ok, err := members.IsMember(c.Request.Context(), ws, c.GetString(KeyUserID))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check workspace membership"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not a member of this workspace"})
			return
		}

		c.Set(KeyWorkspaceID, ws)
		c.Next()
	}
}

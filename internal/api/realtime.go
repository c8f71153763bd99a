package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := make(map[string]bool)
	for _, o := range s.config.GetCORSOrigins() {
		allowed[strings.TrimSpace(o)] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// Realtime upgrades to a websocket that receives cache invalidations and
// toasts for the workspace. The workspace queries stay mounted while the
// socket is open.
func (s *Server) Realtime(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Realtime is not configured"})
		return
	}
	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	ws := workspaceID(c)
	defer s.svc.Mount(ws)()
	if err := s.hub.Serve(c.Request.Context(), userID(c), ws, conn); err != nil {
		s.log.WithError(err).WithField("workspace_id", ws).Warn("realtime session ended")
	}
}

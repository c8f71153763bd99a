package api

import (
	"context"
	"errors"
	"net/http"

	"crm-backend/internal/auth"
	"crm-backend/internal/config"
	"crm-backend/internal/crm"
	"crm-backend/internal/middleware"
	"crm-backend/internal/models"
	"crm-backend/internal/notify"
	"crm-backend/internal/realtime"
	"crm-backend/internal/remote"
	"crm-backend/internal/storage"
	"crm-backend/internal/supabase"
	"crm-backend/internal/tenantcfg"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Enqueuer schedules an automation run for a workspace.
type Enqueuer interface {
	Enqueue(ctx context.Context, ws string) (bool, error)
}

// Mailer delivers workspace invitations.
type Mailer interface {
	SendInvitation(toEmail, workspace, code string) error
}

// Deps are the collaborators of the HTTP surface. Storage, Settings, Hub,
// Automation and Mailer are optional; their routes answer 503 when unset.
type Deps struct {
	Service    *crm.Service
	JWT        *auth.JWTManager
	Storage    *storage.SupabaseStorage
	Settings   *tenantcfg.Store
	Notifier   *notify.Notifier
	Hub        *realtime.Hub
	Automation Enqueuer
	Mailer     Mailer
	Config     *config.Config
	Log        logrus.FieldLogger
}

type Server struct {
	svc        *crm.Service
	jwtManager *auth.JWTManager
	storage    *storage.SupabaseStorage
	settings   *tenantcfg.Store
	notifier   *notify.Notifier
	hub        *realtime.Hub
	automation Enqueuer
	mailer     Mailer
	config     *config.Config
	log        logrus.FieldLogger
}

func NewServer(d Deps) *Server {
	log := d.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Server{
		svc:        d.Service,
		jwtManager: d.JWT,
		storage:    d.Storage,
		settings:   d.Settings,
		notifier:   d.Notifier,
		hub:        d.Hub,
		automation: d.Automation,
		mailer:     d.Mailer,
		config:     d.Config,
		log:        log.WithField("component", "api"),
	}
}

func workspaceID(c *gin.Context) string { return c.GetString(middleware.KeyWorkspaceID) }

func userID(c *gin.Context) string { return c.GetString(middleware.KeyUserID) }

// statusFor maps a service error to the HTTP status it is answered with.
func statusFor(err error) int {
	var ve *models.ValidationError
	var re *remote.Error
	var se *supabase.SupabaseError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case remote.IsNotFound(err):
		return http.StatusNotFound
	case remote.IsConflict(err),
		errors.Is(err, models.ErrTimerRunning),
		errors.Is(err, models.ErrNoActiveTimer),
		errors.Is(err, models.ErrColumnNotEmpty),
		errors.Is(err, models.ErrStatusRegression):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotMember):
		return http.StatusForbidden
	case errors.As(err, &re) && re.Status >= 400 && re.Status < 500:
		return re.Status
	case errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500:
		return se.StatusCode
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": message}. Validation errors also carry
// the failing fields.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		c.JSON(status, gin.H{"error": "validation failed", "fields": ve.FieldMap()})
		return
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"path":         c.FullPath(),
			"workspace_id": workspaceID(c),
		}).Error("request failed")
	}
	c.JSON(status, gin.H{"error": notify.Translate(err)})
}

// respondList writes a list read. A list that fell back to empty is marked
// with the degraded flag.
func respondList[T any](s *Server, c *gin.Context, data []T, err error, degraded bool) {
	if err != nil {
		s.respondError(c, err)
		return
	}
	if data == nil {
		data = []T{}
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "degraded": degraded})
}

// Auth Handlers
func (s *Server) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.svc.SignUp(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.svc.SignIn(c.Request.Context(), req)
	if err != nil {
		var se *supabase.SupabaseError
		if errors.As(err, &se) && se.StatusCode < 500 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetWorkspaces(c *gin.Context) {
	res := s.svc.WorkspacesForUser(c.Request.Context(), userID(c))
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

func (s *Server) GetMembers(c *gin.Context) {
	res := s.svc.Members(c.Request.Context(), workspaceID(c))
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

func (s *Server) GetNotifications(c *gin.Context) {
	if s.notifier == nil {
		c.JSON(http.StatusOK, gin.H{"data": []models.Toast{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.notifier.Recent(workspaceID(c))})
}

func (s *Server) RunAutomation(c *gin.Context) {
	if s.automation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Automation worker is not configured"})
		return
	}
	queued, err := s.automation.Enqueue(c.Request.Context(), workspaceID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

// InviteMember emails the sign-up invitation code to a prospective member.
func (s *Server) InviteMember(c *gin.Context) {
	if s.mailer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Email is not configured"})
		return
	}
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := "the workspace"
	res := s.svc.WorkspacesForUser(c.Request.Context(), userID(c))
	for _, w := range res.Data {
		if w.ID.String() == workspaceID(c) {
			name = w.Name
		}
	}
	if err := s.mailer.SendInvitation(req.Email, name, s.config.Signup.InvitationCode); err != nil {
		s.log.WithError(err).WithField("workspace_id", workspaceID(c)).Warn("invitation not sent")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send invitation"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Invitation sent"})
}

// pathID reads a uuid path parameter, answering 400 when it is malformed.
func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return "", false
	}
	return id, true
}

package api

import (
	"net/http"
	"strings"

	"crm-backend/internal/crm"
	"crm-backend/internal/models"

	"github.com/gin-gonic/gin"
)

// jobFilter reads ?tags=a,b&status=todo&assigned_to=<uuid>.
func jobFilter(c *gin.Context) crm.JobFilter {
	var f crm.JobFilter
	for _, t := range strings.Split(c.Query("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.TagIDs = append(f.TagIDs, t)
		}
	}
	f.Status = models.ParseJobStatus(c.Query("status"))
	f.AssignedTo = c.Query("assigned_to")
	return f
}

func (s *Server) GetJobs(c *gin.Context) {
	res := s.svc.ListJobs(c.Request.Context(), workspaceID(c), jobFilter(c))
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

// GetBoard returns the kanban columns with the filtered jobs.
func (s *Server) GetBoard(c *gin.Context) {
	board, err := s.svc.Board(c.Request.Context(), workspaceID(c), jobFilter(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (s *Server) GetJob(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	job, err := s.svc.Job(c.Request.Context(), workspaceID(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) CreateJob(c *gin.Context) {
	var req models.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.svc.CreateJob(c.Request.Context(), workspaceID(c), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *Server) UpdateJob(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.svc.UpdateJob(c.Request.Context(), workspaceID(c), id, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// MoveJob puts the job in another kanban column.
func (s *Server) MoveJob(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.MoveJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.svc.MoveJob(c.Request.Context(), workspaceID(c), id, req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) DeleteJob(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.svc.DeleteJob(c.Request.Context(), workspaceID(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job deleted"})
}

// Status (column) handlers

func (s *Server) GetStatuses(c *gin.Context) {
	res := s.svc.ListStatuses(c.Request.Context(), workspaceID(c))
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

func (s *Server) CreateStatus(c *gin.Context) {
	var req models.CreateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cs, err := s.svc.CreateStatus(c.Request.Context(), workspaceID(c), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cs)
}

func (s *Server) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cs, err := s.svc.UpdateStatus(c.Request.Context(), workspaceID(c), id, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// DeleteStatus refuses with 409 while the column still holds jobs.
func (s *Server) DeleteStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.svc.DeleteStatus(c.Request.Context(), workspaceID(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Column deleted"})
}

// Time tracking handlers

func (s *Server) GetTimeLogs(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res := s.svc.TimeLogs(c.Request.Context(), workspaceID(c), id)
	if res.Err != nil {
		s.respondError(c, res.Err)
		return
	}
	active, err := s.svc.ActiveLog(c.Request.Context(), workspaceID(c), id, userID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	logs := res.Data
	if logs == nil {
		logs = []models.JobTimeLog{}
	}
	total, err := s.svc.TotalHours(c.Request.Context(), workspaceID(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs, "active": active, "total_hours": total})
}

func (s *Server) StartTimer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	log, err := s.svc.StartTimer(c.Request.Context(), workspaceID(c), id, userID(c), req.Note)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, log)
}

func (s *Server) StopTimer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		LogID string `json:"log_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log, err := s.svc.StopTimer(c.Request.Context(), workspaceID(c), id, userID(c), req.LogID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, log)
}

// Subtask and comment handlers

func (s *Server) GetSubtasks(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res := s.svc.Subtasks(c.Request.Context(), workspaceID(c), id)
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

func (s *Server) CreateSubtask(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.SubtaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := s.svc.CreateSubtask(c.Request.Context(), workspaceID(c), id, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (s *Server) UpdateSubtask(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sub, ok := pathID(c, "subtask")
	if !ok {
		return
	}
	var req models.SubtaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := s.svc.UpdateSubtask(c.Request.Context(), workspaceID(c), id, sub, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) DeleteSubtask(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sub, ok := pathID(c, "subtask")
	if !ok {
		return
	}
	if err := s.svc.DeleteSubtask(c.Request.Context(), workspaceID(c), id, sub); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetComments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res := s.svc.Comments(c.Request.Context(), workspaceID(c), id)
	respondList(s, c, res.Data, res.Err, res.Degraded)
}

func (s *Server) AddComment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cm, err := s.svc.AddComment(c.Request.Context(), workspaceID(c), id, userID(c), req.Body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

func (s *Server) UpdateComment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cid, ok := pathID(c, "comment")
	if !ok {
		return
	}
	var req models.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cm, err := s.svc.UpdateComment(c.Request.Context(), workspaceID(c), id, cid, userID(c), req.Body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cm)
}

func (s *Server) DeleteComment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cid, ok := pathID(c, "comment")
	if !ok {
		return
	}
	if err := s.svc.DeleteComment(c.Request.Context(), workspaceID(c), id, cid, userID(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

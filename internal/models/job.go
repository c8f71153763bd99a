package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityMedium JobPriority = "medium"
	PriorityHigh   JobPriority = "high"
	PriorityUrgent JobPriority = "urgent"
)

func (p JobPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Job struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	WorkspaceID uuid.UUID   `json:"workspace_id" db:"workspace_id"`
	Title       string      `json:"title" db:"title"`
	Description string      `json:"description" db:"description"`
	Status      JobStatus   `json:"status" db:"status"`
	Priority    JobPriority `json:"priority" db:"priority"`
	AssignedTo  *uuid.UUID  `json:"assigned_to,omitempty" db:"assigned_to"`
	DueDate     *time.Time  `json:"due_date,omitempty" db:"due_date"`
	Tags        []string    `json:"tags" db:"tags"`
	TotalHours  float64     `json:"total_hours" db:"total_hours"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// CustomStatus is a workspace-defined kanban column.
type CustomStatus struct {
	ID          uuid.UUID `json:"id" db:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	Label       string    `json:"label" db:"label"`
	Color       string    `json:"color" db:"color"`
	Position    int       `json:"position" db:"position"`
}

func (c CustomStatus) Status() JobStatus { return Custom(c.ID.String()) }

type JobSubtask struct {
	ID        uuid.UUID `json:"id" db:"id"`
	JobID     uuid.UUID `json:"job_id" db:"job_id"`
	Title     string    `json:"title" db:"title"`
	Done      bool      `json:"done" db:"done"`
	Position  int       `json:"position" db:"position"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type JobTimeLog struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	JobID     uuid.UUID  `json:"job_id" db:"job_id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`
	Hours     *float64   `json:"hours,omitempty" db:"hours"`
	Note      string     `json:"note" db:"note"`
}

// Running reports whether the log is still open.
func (l JobTimeLog) Running() bool { return l.EndTime == nil }

// Elapsed is the time accumulated so far, measured against now for an open log.
func (l JobTimeLog) Elapsed(now time.Time) time.Duration {
	end := now
	if l.EndTime != nil {
		end = *l.EndTime
	}
	if end.Before(l.StartTime) {
		return 0
	}
	return end.Sub(l.StartTime)
}

type JobComment struct {
	ID        uuid.UUID `json:"id" db:"id"`
	JobID     uuid.UUID `json:"job_id" db:"job_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DurationHours converts a duration to hours rounded to 6 decimal places.
func DurationHours(d time.Duration) float64 {
	return math.Round(d.Hours()*1e6) / 1e6
}

type CreateJobRequest struct {
	Title       string      `json:"title" binding:"required"`
	Description string      `json:"description"`
	Status      JobStatus   `json:"status"`
	Priority    JobPriority `json:"priority"`
	AssignedTo  *uuid.UUID  `json:"assigned_to"`
	DueDate     *time.Time  `json:"due_date"`
	Tags        []string    `json:"tags"`
}

type UpdateJobRequest struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Priority    *JobPriority `json:"priority,omitempty"`
	AssignedTo  *uuid.UUID   `json:"assigned_to,omitempty"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
}

type MoveJobRequest struct {
	Status JobStatus `json:"status"`
}

type CreateStatusRequest struct {
	Label string `json:"label" binding:"required"`
	Color string `json:"color"`
}

type UpdateStatusRequest struct {
	Label    *string `json:"label,omitempty"`
	Color    *string `json:"color,omitempty"`
	Position *int    `json:"position,omitempty"`
}

type SubtaskRequest struct {
	Title string `json:"title"`
	Done  *bool  `json:"done"`
}

type CommentRequest struct {
	Body string `json:"body" binding:"required"`
}

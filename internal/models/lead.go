package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Lead struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id" db:"workspace_id"`
	PipelineID  *uuid.UUID `json:"pipeline_id,omitempty" db:"pipeline_id"`
	StageID     string     `json:"stage_id" db:"stage_id"`
	AssignedTo  *uuid.UUID `json:"assigned_to,omitempty" db:"assigned_to"`
	Name        string     `json:"name" db:"name"`
	Phone       string     `json:"phone" db:"phone"`
	Email       string     `json:"email" db:"email"`
	Value       float64    `json:"value" db:"value"`
	Source      string     `json:"source" db:"source"`
	Notes       string     `json:"notes" db:"notes"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

type Tag struct {
	ID          uuid.UUID `json:"id" db:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	Name        string    `json:"name" db:"name"`
	Color       string    `json:"color" db:"color"`
}

// LeadTag is the many-to-many relation between leads and tags.
type LeadTag struct {
	LeadID      uuid.UUID `json:"lead_id" db:"lead_id"`
	TagID       uuid.UUID `json:"tag_id" db:"tag_id"`
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
}

type CreateLeadRequest struct {
	Name       string     `json:"name" binding:"required"`
	Phone      string     `json:"phone"`
	Email      string     `json:"email"`
	StageID    string     `json:"stage_id"`
	PipelineID *uuid.UUID `json:"pipeline_id"`
	AssignedTo *uuid.UUID `json:"assigned_to"`
	Value      float64    `json:"value"`
	Source     string     `json:"source"`
	Notes      string     `json:"notes"`
}

type UpdateLeadRequest struct {
	Name       *string    `json:"name,omitempty"`
	Phone      *string    `json:"phone,omitempty"`
	Email      *string    `json:"email,omitempty"`
	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`
	Value      *float64   `json:"value,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

type MoveLeadRequest struct {
	StageID string `json:"stage_id" binding:"required"`
}

// NormalizePhone reduces a phone number to the digits used for matching
// conversations against leads. Formatting, a leading trunk zero and the
// Brazilian country code are dropped, so "+55 (11) 99999-9999",
// "011999999999" and "11999999999" are all equal.
func NormalizePhone(phone string) string {
	var sb strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(sb.String(), "0")
	if len(digits) > 11 && strings.HasPrefix(digits, "55") {
		digits = digits[2:]
	}
	return digits
}

// SamePhone reports whether two phone numbers normalize to the same non-empty value.
func SamePhone(a, b string) bool {
	na := NormalizePhone(a)
	return na != "" && na == NormalizePhone(b)
}

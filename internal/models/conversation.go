package models

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	WorkspaceID   uuid.UUID  `json:"workspace_id" db:"workspace_id"`
	Phone         string     `json:"phone" db:"phone"`
	Name          string     `json:"name" db:"name"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	Unread        bool       `json:"unread" db:"unread"`
	MessageCount  int        `json:"message_count" db:"message_count"`
	LeadID        *uuid.UUID `json:"lead_id,omitempty" db:"lead_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

type EnsureConversationRequest struct {
	Phone string `json:"phone" binding:"required"`
	Name  string `json:"name"`
}

type LinkLeadRequest struct {
	LeadID uuid.UUID `json:"lead_id" binding:"required"`
}

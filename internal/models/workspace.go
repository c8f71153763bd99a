package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace is the tenant boundary; every other record carries its ID.
type Workspace struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type WorkspaceMember struct {
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Role        string    `json:"role" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TenantSettings is the per-workspace integration configuration.
type TenantSettings struct {
	WhatsAppAPIKey   string `json:"whatsapp_api_key"`
	WhatsAppBaseURL  string `json:"whatsapp_base_url"`
	WhatsAppInstance string `json:"whatsapp_instance"`
	WebhookSecret    string `json:"webhook_secret,omitempty"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
	ToastInfo    ToastLevel = "info"
)

// Toast is an ephemeral notification shown to the users of a workspace.
type Toast struct {
	ID          uuid.UUID  `json:"id"`
	Level       ToastLevel `json:"level"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	WorkspaceID string     `json:"workspace_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

package notify

import (
	"context"
	"errors"
	"strings"

	"crm-backend/internal/models"
	"crm-backend/internal/remote"
)

type codeRule struct {
	target error
	msg    string
}

type textRule struct {
	contains string
	msg      string
}

// Structured errors are matched first, in order.
var codeRules = []codeRule{
	{models.ErrTimerRunning, "A timer is already running for this job. Stop it before starting another."},
	{models.ErrNoActiveTimer, "There is no running timer to stop."},
	{models.ErrColumnNotEmpty, "Move the jobs out of this column before deleting it."},
	{models.ErrStatusRegression, "Message status cannot go backwards."},
	{models.ErrNotMember, "You do not have access to this workspace."},
	{remote.ErrConflict, "This record already exists."},
	{remote.ErrNotFound, "The record was not found. It may have been deleted."},
	{context.DeadlineExceeded, "The server took too long to respond. Try again."},
}

// Then the backend's message text, case-insensitively.
var textRules = []textRule{
	{"duplicate key", "This record already exists."},
	{"violates foreign key", "This record is still referenced by other records."},
	{"violates not-null", "A required field is missing."},
	{"jwt expired", "Your session has expired. Sign in again."},
	{"invalid login credentials", "Invalid email or password."},
	{"user already registered", "An account with this email already exists."},
	{"failed to fetch", "Could not reach the server. Check your connection."},
	{"connection refused", "Could not reach the server. Check your connection."},
	{"permission denied", "You do not have permission to do this."},
}

// Translate turns an error into the message shown to the user. Unknown
// errors fall through to the backend's own message.
func Translate(err error) string {
	if err == nil {
		return ""
	}
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	for _, r := range codeRules {
		if errors.Is(err, r.target) {
			return r.msg
		}
	}
	msg := remote.Message(err)
	lower := strings.ToLower(msg)
	for _, r := range textRules {
		if strings.Contains(lower, r.contains) {
			return r.msg
		}
	}
	return msg
}

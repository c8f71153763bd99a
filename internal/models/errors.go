package models

import "errors"

// Domain errors handled by callers and translated into user messages.
var (
	ErrTimerRunning     = errors.New("a timer is already running for this job")
	ErrNoActiveTimer    = errors.New("no timer is running for this job")
	ErrColumnNotEmpty   = errors.New("column still has jobs")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrStatusRegression = errors.New("message status cannot move backwards")
	ErrNotMember        = errors.New("user is not a member of this workspace")
)

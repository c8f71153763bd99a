package remote

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("remote: not found")
	ErrConflict = errors.New("remote: conflict")
)

// Error is a failure reported by the backend.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error (status %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error (status %d): %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrConflict) and errors.Is(err, ErrNotFound) match
// backend errors by status or Postgres error code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Status == 409 || e.Code == "23505"
	case ErrNotFound:
		return e.Status == 404 || e.Code == "PGRST116"
	}
	return false
}

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Message returns the backend's literal message for err, or err.Error().
func Message(err error) string {
	var re *Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return err.Error()
}

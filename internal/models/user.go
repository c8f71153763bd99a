package models

import (
	"net/mail"
	"sort"
	"strings"
)

type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Name         string                 `json:"name"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
}

type SignUpRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Name           string `json:"name"`
	InvitationCode string `json:"invitation_code"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	User         User   `json:"user"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// FieldError is a validation failure attached to a single input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError collects field errors found before any request is issued.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// Field returns the reason recorded for field, if any.
func (e *ValidationError) Field(field string) (string, bool) {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Reason, true
		}
	}
	return "", false
}

// FieldMap groups the reasons by field for JSON responses.
func (e *ValidationError) FieldMap() map[string]string {
	m := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := m[f.Field]; !ok {
			m[f.Field] = f.Reason
		}
	}
	return m
}

func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	sort.SliceStable(e.Fields, func(i, j int) bool { return e.Fields[i].Field < e.Fields[j].Field })
	return e
}

// Validate checks the sign-up form. acceptedCode is the only invitation code
// that lets an account be created.
func (r *SignUpRequest) Validate(acceptedCode string) error {
	ve := &ValidationError{}

	if strings.TrimSpace(r.Name) == "" {
		ve.Add("name", "required")
	}
	if r.Email == "" {
		ve.Add("email", "required")
	} else if _, err := mail.ParseAddress(r.Email); err != nil {
		ve.Add("email", "invalid email address")
	}
	if len(r.Password) < 6 {
		ve.Add("password", "must be at least 6 characters")
	}
	if r.InvitationCode == "" {
		ve.Add("invitation_code", "required")
	} else if acceptedCode == "" || r.InvitationCode != acceptedCode {
		ve.Add("invitation_code", "invalid invitation code")
	}

	return ve.OrNil()
}

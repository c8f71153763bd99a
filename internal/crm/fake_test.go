package crm

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"crm-backend/internal/models"
	"crm-backend/internal/supabase"
)

type fakeAuth struct {
	signUps int
}

func (a *fakeAuth) SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*supabase.SignUpResponse, error) {
	a.signUps++
	return &supabase.SignUpResponse{ID: uuid.NewString(), Email: email}, nil
}

func (a *fakeAuth) SignIn(ctx context.Context, email, password string) (*supabase.SignInResponse, error) {
	return nil, &supabase.SupabaseError{StatusCode: 400, Message: "Invalid login credentials"}
}

type recordingSink struct {
	mu     sync.Mutex
	toasts []models.Toast
}

func (s *recordingSink) Push(_ context.Context, t models.Toast) {
	s.mu.Lock()
	s.toasts = append(s.toasts, t)
	s.mu.Unlock()
}

func (s *recordingSink) last() models.Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.toasts) == 0 {
		return models.Toast{}
	}
	return s.toasts[len(s.toasts)-1]
}

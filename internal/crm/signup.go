package crm

import (
	"context"
	"strings"

	"crm-backend/internal/models"
	"crm-backend/internal/supabase"
)

// ValidateSignUp checks the form, including the invitation code, without any
// network call.
func (s *Service) ValidateSignUp(req *models.SignUpRequest) error {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.InvitationCode = strings.TrimSpace(req.InvitationCode)
	return req.Validate(s.invite)
}

func (s *Service) SignUp(ctx context.Context, req models.SignUpRequest) (*supabase.SignUpResponse, error) {
	if err := s.ValidateSignUp(&req); err != nil {
		return nil, err
	}
	resp, err := s.auth.SignUp(ctx, req.Email, req.Password, map[string]interface{}{"name": req.Name})
	if err != nil {
		s.log.WithError(err).WithField("email", req.Email).Warn("sign-up rejected")
		return nil, err
	}
	s.log.WithField("user_id", resp.ID).Info("account created")
	return resp, nil
}

func (s *Service) SignIn(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	resp, err := s.auth.SignIn(ctx, strings.TrimSpace(strings.ToLower(req.Email)), req.Password)
	if err != nil {
		return nil, err
	}
	name, _ := resp.User.UserMetadata["name"].(string)
	return &models.LoginResponse{
		User: models.User{
			ID:           resp.User.ID,
			Email:        resp.User.Email,
			Name:         name,
			UserMetadata: resp.User.UserMetadata,
		},
		Token:        resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

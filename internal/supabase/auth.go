package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"crm-backend/internal/remote"
)

type SignUpRequest struct {
	Email    string                 `json:"email"`
	Password string                 `json:"password"`
	Data     map[string]interface{} `json:"data"`
}

type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
}

type SignUpResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Client) SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*SignUpResponse, error) {
	url := fmt.Sprintf("%s/auth/v1/signup", s.config.URL)
	req, err := s.authRequest(ctx, url, SignUpRequest{
		Email:    email,
		Password: password,
		Data:     data,
	}, s.config.AnonKey)
	if err != nil {
		return nil, err
	}

	var result SignUpResponse
	if err := s.doAuth(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Client) SignIn(ctx context.Context, email, password string) (*SignInResponse, error) {
	url := fmt.Sprintf("%s/auth/v1/token?grant_type=password", s.config.URL)
	req, err := s.authRequest(ctx, url, SignInRequest{
		Email:    email,
		Password: password,
	}, s.config.AnonKey)
	if err != nil {
		return nil, err
	}

	var result SignInResponse
	if err := s.doAuth(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type ResendRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
}

func (s *Client) Resend(ctx context.Context, email string) error {
	url := fmt.Sprintf("%s/auth/v1/resend", s.config.URL)
	req, err := s.authRequest(ctx, url, ResendRequest{Type: "signup", Email: email}, s.config.AnonKey)
	if err != nil {
		return err
	}
	return s.doAuth(req, nil)
}

type AdminCreateUserRequest struct {
	Email        string                 `json:"email"`
	Password     string                 `json:"password"`
	EmailConfirm bool                   `json:"email_confirm"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
}

func (s *Client) AdminCreateUser(ctx context.Context, email, password string, userMetadata map[string]interface{}) (*User, error) {
	url := fmt.Sprintf("%s/auth/v1/admin/users", s.config.URL)
	// Use Service Role Key for Admin operations
	req, err := s.authRequest(ctx, url, AdminCreateUserRequest{
		Email:        email,
		Password:     password,
		EmailConfirm: true,
		UserMetadata: userMetadata,
	}, s.config.ServiceRoleKey)
	if err != nil {
		return nil, err
	}

	var result User
	if err := s.doAuth(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Client) authRequest(ctx context.Context, url string, body interface{}, key string) (*http.Request, error) {
	req, err := s.newRequest(remote.WithAccessToken(ctx, key), http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", key)
	return req, nil
}

// doAuth maps auth failures onto *SupabaseError.
func (s *Client) doAuth(req *http.Request, dest interface{}) error {
	data, err := s.do(req)
	if err != nil {
		var rerr *remote.Error
		if errors.As(err, &rerr) {
			return &SupabaseError{StatusCode: rerr.Status, Message: rerr.Message}
		}
		return err
	}
	if dest == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

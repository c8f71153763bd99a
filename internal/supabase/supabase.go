package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crm-backend/internal/config"
	"crm-backend/internal/remote"
)

type Client struct {
	config     config.SupabaseConfig
	httpClient *http.Client
	// fallbackKey authorizes requests whose context carries no session token.
	fallbackKey string
}

type SupabaseError struct {
	StatusCode int
	Message    string
}

func (e *SupabaseError) Error() string {
	return fmt.Sprintf("supabase error (status %d): %s", e.StatusCode, e.Message)
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		config:      cfg.Supabase,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		fallbackKey: cfg.Supabase.AnonKey,
	}
}

// AsService returns a copy that authorizes token-less requests with the
// service role key. Background workers use it.
func (s *Client) AsService() *Client {
	cp := *s
	cp.fallbackKey = s.config.ServiceRoleKey
	return &cp
}

// WithHTTPClient replaces the HTTP client.
func (s *Client) WithHTTPClient(hc *http.Client) *Client {
	s.httpClient = hc
	return s
}

var (
	_ remote.Client    = (*Client)(nil)
	_ remote.Functions = (*Client)(nil)
)

func (s *Client) newRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", s.config.AnonKey)
	if token, ok := remote.AccessToken(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if s.fallbackKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.fallbackKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and returns the body of a 2xx response. Other statuses are
// decoded into a *remote.Error.
func (s *Client) do(req *http.Request) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	rerr := &remote.Error{Status: resp.StatusCode}
	if len(data) > 0 {
		_ = json.Unmarshal(data, rerr)
	}
	if rerr.Message == "" {
		var alt struct {
			Msg              string `json:"msg"`
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.Unmarshal(data, &alt)
		switch {
		case alt.ErrorDescription != "":
			rerr.Message = alt.ErrorDescription
		case alt.Msg != "":
			rerr.Message = alt.Msg
		case alt.Error != "":
			rerr.Message = alt.Error
		default:
			rerr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return nil, rerr
}

package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"crm-backend/internal/remote"
)

// Invoke calls an edge function. Every function answers with
// {"success": bool, ...} or {"error": "..."}; both failure shapes become a
// *remote.Error.
func (s *Client) Invoke(ctx context.Context, name string, body interface{}, dest interface{}) error {
	if name == "" {
		return fmt.Errorf("remote: function name is required")
	}
	req, err := s.newRequest(ctx, http.MethodPost, fmt.Sprintf("%s/functions/v1/%s", s.config.URL, name), body)
	if err != nil {
		return err
	}
	data, err := s.do(req)
	if err != nil {
		return err
	}

	var result remote.FunctionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("decode %s response: %w", name, err)
	}
	if err := result.Err(name); err != nil {
		return err
	}
	if dest != nil {
		return json.Unmarshal(data, dest)
	}
	return nil
}

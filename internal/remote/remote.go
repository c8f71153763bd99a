// Package remote defines the request/response interface to the managed backend.
// Both the Supabase PostgREST adapter and the direct Postgres store implement it.
package remote

import (
	"context"
	"fmt"
	"regexp"
)

// Client issues table-style CRUD and named procedure calls against the backend.
// dest arguments are pointers decoded from the JSON representation of rows.
type Client interface {
	Select(ctx context.Context, table string, q Query, dest interface{}) error
	Insert(ctx context.Context, table string, row interface{}, dest interface{}) error
	Update(ctx context.Context, table string, filters []Filter, patch interface{}, dest interface{}) error
	Delete(ctx context.Context, table string, filters []Filter) error
	RPC(ctx context.Context, fn string, args interface{}, dest interface{}) error
}

// Functions invokes serverless functions by name with a JSON body.
type Functions interface {
	Invoke(ctx context.Context, name string, body interface{}, dest interface{}) error
}

// FunctionResult is the envelope every remote function answers with.
type FunctionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Err converts a failed envelope into an error.
func (r FunctionResult) Err(name string) error {
	if r.Error != "" {
		return &Error{Status: 400, Code: "function_error", Message: r.Error, Details: name}
	}
	if !r.Success {
		return &Error{Status: 400, Code: "function_error", Message: fmt.Sprintf("function %s did not succeed", name), Details: name}
	}
	return nil
}

type accessTokenKey struct{}

// WithAccessToken attaches the caller's bearer session token to ctx.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessToken returns the bearer session token carried by ctx.
func AccessToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey{}).(string)
	return token, ok && token != ""
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdent reports whether name is safe to use as a table, column or function name.
func ValidIdent(name string) bool {
	return identRe.MatchString(name)
}

// CheckIdent returns an error for names that are not plain lower-case identifiers.
func CheckIdent(kind, name string) error {
	if !ValidIdent(name) {
		return fmt.Errorf("remote: invalid %s name %q", kind, name)
	}
	return nil
}

package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backend/internal/config"
	"crm-backend/internal/remote"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := &config.Config{Supabase: config.SupabaseConfig{
		URL:            srv.URL,
		AnonKey:        "anon",
		ServiceRoleKey: "service",
	}}
	return NewClient(cfg).WithHTTPClient(srv.Client())
}

func TestSelectEncodesFiltersAndOrder(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`[{"id":"j1","title":"Fix sink"}]`))
	})

	var rows []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	q := remote.Where(
		remote.Eq("workspace_id", "ws1"),
		remote.In("status", "todo", "done"),
		remote.IsNull("deleted_at"),
	).OrderBy("created_at", true).WithLimit(20)

	ctx := remote.WithAccessToken(context.Background(), "user-token")
	require.NoError(t, c.Select(ctx, "jobs", q, &rows))

	require.Len(t, rows, 1)
	assert.Equal(t, "Fix sink", rows[0].Title)
	assert.Equal(t, "/rest/v1/jobs", got.URL.Path)
	assert.Equal(t, "eq.ws1", got.URL.Query().Get("workspace_id"))
	assert.Equal(t, "in.(todo,done)", got.URL.Query().Get("status"))
	assert.Equal(t, "is.null", got.URL.Query().Get("deleted_at"))
	assert.Equal(t, "created_at.desc", got.URL.Query().Get("order"))
	assert.Equal(t, "*", got.URL.Query().Get("select"))
	assert.Equal(t, "0-19", got.Header.Get("Range"))
	assert.Equal(t, "Bearer user-token", got.Header.Get("Authorization"))
	assert.Equal(t, "anon", got.Header.Get("apikey"))
}

func TestSelectRejectsBadIdentifiers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent")
	})
	var rows []map[string]interface{}
	assert.Error(t, c.Select(context.Background(), "jobs; drop", remote.Query{}, &rows))
	assert.Error(t, c.Select(context.Background(), "jobs", remote.Where(remote.Eq("a=b", 1)), &rows))
}

func TestInsertAsksForRepresentation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var in map[string]string
		assert.NoError(t, json.Unmarshal(body, &in))
		assert.Equal(t, "Ana", in["name"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"l1","name":"Ana"}]`))
	})

	var lead struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, c.Insert(context.Background(), "leads", map[string]string{"name": "Ana"}, &lead))
	assert.Equal(t, "l1", lead.ID)
}

func TestConflictIsRecognized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint \"one_open_log\""}`))
	})

	err := c.Insert(context.Background(), "job_time_logs", map[string]string{}, nil)
	require.Error(t, err)
	assert.True(t, remote.IsConflict(err))

	var rerr *remote.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "23505", rerr.Code)
}

func TestDeleteRequiresFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent")
	})
	assert.Error(t, c.Delete(context.Background(), "messages", nil))
}

func TestInvokeFunctionFailureShapes(t *testing.T) {
	responses := map[string]string{
		"ok":      `{"success":true,"message_id":"wamid.1"}`,
		"refused": `{"success":false}`,
		"errored": `{"error":"instance disconnected"}`,
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/functions/v1/"):]
		_, _ = w.Write([]byte(responses[name]))
	})
	ctx := context.Background()

	var out struct {
		MessageID string `json:"message_id"`
	}
	require.NoError(t, c.Invoke(ctx, "ok", map[string]string{}, &out))
	assert.Equal(t, "wamid.1", out.MessageID)

	assert.Error(t, c.Invoke(ctx, "refused", nil, nil))
	err := c.Invoke(ctx, "errored", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "instance disconnected", remote.Message(err))
}

func TestServiceClientUsesServiceKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer service", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	require.NoError(t, c.AsService().Invoke(context.Background(), "process-automation-queue", nil, nil))
}

func TestSignInErrorBecomesSupabaseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})

	_, err := c.SignIn(context.Background(), "a@b.co", "wrong")
	var serr *SupabaseError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
	assert.Equal(t, "Invalid login credentials", serr.Message)
}

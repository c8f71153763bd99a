package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"crm-backend/internal/api"
	"crm-backend/internal/auth"
	"crm-backend/internal/cache"
	"crm-backend/internal/config"
	"crm-backend/internal/crm"
	"crm-backend/internal/notify"
	"crm-backend/internal/remote/remotetest"
	"crm-backend/internal/storage"
	"crm-backend/internal/supabase"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct{}

func (stubAuth) SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*supabase.SignUpResponse, error) {
	return &supabase.SignUpResponse{ID: uuid.NewString(), Email: email}, nil
}

func (stubAuth) SignIn(ctx context.Context, email, password string) (*supabase.SignInResponse, error) {
	return nil, &supabase.SupabaseError{StatusCode: 400, Message: "Invalid login credentials"}
}

type recordingMailer struct {
	to, workspace, code string
}

func (m *recordingMailer) SendInvitation(to, workspace, code string) error {
	m.to, m.workspace, m.code = to, workspace, code
	return nil
}

type testServer struct {
	router *gin.Engine
	db     *remotetest.DB
	jwt    *auth.JWTManager
	mailer *recordingMailer
	ws     string
	user   string
	token  string
}

func setupTestServer(t *testing.T, store *storage.SupabaseStorage) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.New()
	cfg.JWT.Secret = "test-secret"
	cfg.CORSOrigin = "http://localhost:3000"
	cfg.Signup.InvitationCode = "CRM-2024"
	log, _ := test.NewNullLogger()

	ts := &testServer{
		db:     remotetest.NewDB(),
		jwt:    auth.NewJWTManager(cfg),
		mailer: &recordingMailer{},
		ws:     uuid.NewString(),
		user:   uuid.NewString(),
	}
	ts.db.Put("workspaces", remotetest.Row{"id": ts.ws, "name": "Acme Solar", "slug": "acme"})
	ts.db.Put("workspace_members", remotetest.Row{"workspace_id": ts.ws, "user_id": ts.user, "role": "owner"})

	notifier := notify.NewNotifier(log, 0)
	qc := cache.NewQueryClient(cache.NewStore(), cache.Options{RetryDelay: time.Millisecond}, log)
	svc := crm.NewService(crm.Deps{
		Cache:          qc,
		Remote:         ts.db,
		Functions:      &remotetest.Functions{},
		Auth:           stubAuth{},
		Sink:           notifier,
		Log:            log,
		InvitationCode: "CRM-2024",
	})

	ts.router = gin.New()
	api.SetupRoutes(ts.router, api.Deps{
		Service:  svc,
		JWT:      ts.jwt,
		Storage:  store,
		Notifier: notifier,
		Mailer:   ts.mailer,
		Config:   cfg,
		Log:      log,
	})

	token, err := ts.jwt.GenerateToken(ts.user, "owner@test.com", "authenticated")
	require.NoError(t, err)
	ts.token = token
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) path(p string) string {
	return "/api/v1/workspaces/" + ts.ws + p
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "crm-backend", decode(t, w)["service"])
}

func TestSignUpWithWrongInvitationCode(t *testing.T) {
	ts := setupTestServer(t, nil)
	w := ts.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"name":            "Ana",
		"email":           "ana@test.com",
		"password":        "secret123",
		"invitation_code": "WRONG",
	})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fields, ok := decode(t, w)["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "invalid invitation code", fields["invitation_code"])
}

func TestSignUpAndLogin(t *testing.T) {
	ts := setupTestServer(t, nil)
	w := ts.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"name":            "Ana",
		"email":           "Ana@Test.com",
		"password":        "secret123",
		"invitation_code": "CRM-2024",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "ana@test.com", decode(t, w)["email"])

	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "ana@test.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWorkspaceRoutesRequireAuthAndMembership(t *testing.T) {
	ts := setupTestServer(t, nil)

	token := ts.token
	ts.token = ""
	w := ts.do(t, http.MethodGet, ts.path("/jobs"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := ts.jwt.GenerateToken(uuid.NewString(), "x@test.com", "authenticated")
	require.NoError(t, err)
	ts.token = other
	w = ts.do(t, http.MethodGet, ts.path("/jobs"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	ts.token = token
	w = ts.do(t, http.MethodGet, ts.path("/jobs"), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/workspaces/not-a-uuid/jobs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobWorkflow(t *testing.T) {
	ts := setupTestServer(t, nil)

	// 1. Create job
	w := ts.do(t, http.MethodPost, ts.path("/jobs"), map[string]interface{}{
		"title":    "Install panels",
		"priority": "high",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	job := decode(t, w)
	jobID, _ := job["id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "todo", job["status"])

	// 2. It shows up in the todo column
	w = ts.do(t, http.MethodGet, ts.path("/jobs/board"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var board struct {
		Columns []struct {
			Status string `json:"status"`
			Jobs   []struct {
				ID string `json:"id"`
			} `json:"jobs"`
		} `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &board))
	require.NotEmpty(t, board.Columns)
	assert.Equal(t, "todo", board.Columns[0].Status)
	require.Len(t, board.Columns[0].Jobs, 1)
	assert.Equal(t, jobID, board.Columns[0].Jobs[0].ID)

	// 3. Timer can only run once
	w = ts.do(t, http.MethodPost, ts.path("/jobs/"+jobID+"/time-logs/start"), map[string]string{"note": "on site"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	logID, _ := decode(t, w)["id"].(string)

	w = ts.do(t, http.MethodPost, ts.path("/jobs/"+jobID+"/time-logs/start"), nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode(t, w)["error"], "already running")

	// 4. Stop it
	w = ts.do(t, http.MethodPost, ts.path("/jobs/"+jobID+"/time-logs/stop"), map[string]string{"log_id": logID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decode(t, w)["end_time"])

	// 5. Mutations left toasts behind
	w = ts.do(t, http.MethodGet, ts.path("/notifications"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data, _ := decode(t, w)["data"].([]interface{})
	assert.GreaterOrEqual(t, len(data), 3)
}

func TestSubtasksAndComments(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do(t, http.MethodPost, ts.path("/jobs"), map[string]interface{}{"title": "Inspect inverter"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	jobID, _ := decode(t, w)["id"].(string)
	jobs := ts.path("/jobs/" + jobID)

	w = ts.do(t, http.MethodPost, jobs+"/subtasks", map[string]string{"title": "Check wiring"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first, _ := decode(t, w)["id"].(string)
	w = ts.do(t, http.MethodPost, jobs+"/subtasks", map[string]string{"title": "Replace fuse"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, jobs+"/subtasks", map[string]string{"title": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(t, http.MethodPut, jobs+"/subtasks/"+first, map[string]bool{"done": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["done"])

	w = ts.do(t, http.MethodGet, jobs+"/subtasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var subtasks struct {
		Data []struct {
			Title    string `json:"title"`
			Done     bool   `json:"done"`
			Position int    `json:"position"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subtasks))
	require.Len(t, subtasks.Data, 2)
	assert.Equal(t, "Check wiring", subtasks.Data[0].Title)
	assert.True(t, subtasks.Data[0].Done)
	assert.Equal(t, 1, subtasks.Data[1].Position)

	w = ts.do(t, http.MethodDelete, jobs+"/subtasks/"+first, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodPost, jobs+"/comments", map[string]string{"body": "Customer asked for a morning visit"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	comment := decode(t, w)
	commentID, _ := comment["id"].(string)
	assert.Equal(t, ts.user, comment["user_id"])

	w = ts.do(t, http.MethodPut, jobs+"/comments/"+commentID, map[string]string{"body": "Visit moved to Friday"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Visit moved to Friday", decode(t, w)["body"])

	w = ts.do(t, http.MethodGet, jobs+"/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data, _ := decode(t, w)["data"].([]interface{})
	assert.Len(t, data, 1)

	w = ts.do(t, http.MethodDelete, jobs+"/comments/"+commentID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, jobs+"/subtasks", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subtasks))
	assert.Len(t, subtasks.Data, 1)
}

func TestCreateJobValidation(t *testing.T) {
	ts := setupTestServer(t, nil)
	w := ts.do(t, http.MethodPost, ts.path("/jobs"), map[string]interface{}{
		"title":    "x",
		"priority": "whenever",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fields, _ := decode(t, w)["fields"].(map[string]interface{})
	assert.Contains(t, fields, "priority")
	assert.Empty(t, ts.db.Rows("jobs"))
}

func TestMalformedPathIDIsRejected(t *testing.T) {
	ts := setupTestServer(t, nil)
	w := ts.do(t, http.MethodGet, ts.path("/jobs/123"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid id", decode(t, w)["error"])
}

func TestUnconfiguredOptionalRoutes(t *testing.T) {
	ts := setupTestServer(t, nil)
	for _, p := range []string{"/settings", "/ws"} {
		w := ts.do(t, http.MethodGet, ts.path(p), nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, p)
	}
	w := ts.do(t, http.MethodPost, ts.path("/automation/run"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInviteMember(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do(t, http.MethodPost, ts.path("/invitations"), map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, ts.path("/invitations"), map[string]string{"email": "bia@test.com"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, recordingMailer{to: "bia@test.com", workspace: "Acme Solar", code: "CRM-2024"}, *ts.mailer)
}

func TestListWorkspaces(t *testing.T) {
	ts := setupTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/api/v1/workspaces", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data, _ := decode(t, w)["data"].([]interface{})
	require.Len(t, data, 1)
	assert.Equal(t, "Acme Solar", data[0].(map[string]interface{})["name"])
}

func TestUploadFile(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Key":"x"}`))
	}))
	defer srv.Close()

	ts := setupTestServer(t, storage.NewSupabaseStorage(srv.URL, "service", "whatsapp-media"))

	upload := func(contentType string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="quote.pdf"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, _ = part.Write([]byte("%PDF-1.4"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, ts.path("/chat/upload"), &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+ts.token)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		return w
	}

	w := upload("application/x-msdownload")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, gotPath)

	w = upload("application/pdf")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	media := decode(t, w)
	assert.Equal(t, "quote.pdf", media["name"])
	assert.Contains(t, gotPath, "/storage/v1/object/whatsapp-media/"+ts.ws+"/")
}

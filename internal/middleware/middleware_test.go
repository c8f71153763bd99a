package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-backend/internal/auth"
	"crm-backend/internal/config"
	"crm-backend/internal/remote"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkspace = "3f1c2a9e-5d7b-4c1e-8a2f-6b9d0e4c7a11"

type members map[string]bool

func (m members) IsMember(_ context.Context, ws, user string) (bool, error) {
	if user == "broken" {
		return false, errors.New("boom")
	}
	return m[ws+"/"+user], nil
}

func setup(t *testing.T) (*gin.Engine, *auth.JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jm := auth.NewJWTManager(&config.Config{JWT: config.JWTConfig{Secret: "s", Expiry: "1h"}})

	r := gin.New()
	r.Use(CORSSpecific([]string{"http://localhost:3000"}))
	g := r.Group("/", AuthMiddleware(jm))
	g.GET("/me", func(c *gin.Context) {
		token, _ := remote.AccessToken(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(KeyUserID), "token": token})
	})
	g.GET("/workspaces/:ws", WorkspaceScope(members{testWorkspace + "/u1": true}), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(KeyWorkspaceID))
	})
	return r, jm
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r, jm := setup(t)

	w := do(r, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := jm.GenerateToken("u1", "", "")
	require.NoError(t, err)
	w = do(r, http.MethodGet, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u1","token":"`+token+`"}`, w.Body.String())
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	r, jm := setup(t)
	token, err := jm.GenerateToken("u1", "", "")
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/me?access_token="+token, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWorkspaceScope(t *testing.T) {
	r, jm := setup(t)
	member, _ := jm.GenerateToken("u1", "", "")
	stranger, _ := jm.GenerateToken("u2", "", "")
	broken, _ := jm.GenerateToken("broken", "", "")

	w := do(r, http.MethodGet, "/workspaces/"+testWorkspace, member)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testWorkspace, w.Body.String())

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/workspaces/"+testWorkspace, stranger).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/workspaces/not-a-uuid", member).Code)
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/workspaces/"+testWorkspace, broken).Code)
}

func TestCORSPreflight(t *testing.T) {
	r, _ := setup(t)
	w := do(r, http.MethodOptions, "/me", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

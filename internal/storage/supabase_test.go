package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crm-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadReturnsPublicURL(t *testing.T) {
	var gotPath, gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Key":"whatsapp-media/x"}`))
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL+"/", "service", "whatsapp-media")
	media, err := s.Upload(context.Background(), "ws1", "Photo.JPG", "image/jpeg", 5, strings.NewReader("hello"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotPath, "/storage/v1/object/whatsapp-media/ws1/"))
	assert.True(t, strings.HasSuffix(gotPath, ".jpg"))
	assert.Equal(t, "Bearer service", gotAuth)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, "hello", gotBody)

	assert.Equal(t, models.KindImage, media.Kind)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/whatsapp-media/"+media.Path, media.URL)
	assert.Equal(t, "Photo.JPG", media.Name)
}

func TestUploadFailureCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The object exceeded the maximum allowed size"}`))
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "service", "whatsapp-media")
	_, err := s.Upload(context.Background(), "ws1", "a.pdf", "application/pdf", 1, strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum allowed size")
}

func TestDelete(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "service", "whatsapp-media")
	require.NoError(t, s.Delete(context.Background(), "ws1/a.png"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/storage/v1/object/whatsapp-media/ws1/a.png", path)
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"crm-backend/internal/models"

	"github.com/google/uuid"
)

type SupabaseStorage struct {
	URL            string
	ServiceRoleKey string
	BucketName     string

	httpClient *http.Client
}

// Media describes an uploaded WhatsApp attachment.
type Media struct {
	Path string             `json:"path"`
	URL  string             `json:"url"`
	Name string             `json:"name"`
	Mime string             `json:"mime"`
	Size int64              `json:"size"`
	Kind models.MessageKind `json:"kind"`
}

func NewSupabaseStorage(url, serviceRoleKey, bucketName string) *SupabaseStorage {
	return &SupabaseStorage{
		URL:            strings.TrimRight(url, "/"),
		ServiceRoleKey: serviceRoleKey,
		BucketName:     bucketName,
		httpClient:     &http.Client{},
	}
}

func (s *SupabaseStorage) WithHTTPClient(c *http.Client) *SupabaseStorage {
	s.httpClient = c
	return s
}

// ObjectPath places an upload under its workspace with a unique file name.
func ObjectPath(workspaceID, filename string) string {
	return fmt.Sprintf("%s/%s%s", workspaceID, uuid.New().String(), strings.ToLower(filepath.Ext(filename)))
}

func (s *SupabaseStorage) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.URL, s.BucketName, path)
}

// Upload stores body in the bucket under the workspace and returns its public URL.
func (s *SupabaseStorage) Upload(ctx context.Context, workspaceID, filename, contentType string, size int64, body io.Reader) (*Media, error) {
	path := ObjectPath(workspaceID, filename)

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.URL, s.BucketName, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.ServiceRoleKey)
	req.Header.Set("apikey", s.ServiceRoleKey)
	req.Header.Set("Content-Type", contentType)
	if size > 0 {
		req.ContentLength = size
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, readError(resp.Body))
	}

	return &Media{
		Path: path,
		URL:  s.PublicURL(path),
		Name: filename,
		Mime: contentType,
		Size: size,
		Kind: models.KindForMime(contentType),
	}, nil
}

// Delete removes an object previously returned by Upload.
func (s *SupabaseStorage) Delete(ctx context.Context, path string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.URL, s.BucketName, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.ServiceRoleKey)
	req.Header.Set("apikey", s.ServiceRoleKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete failed with status %d: %s", resp.StatusCode, readError(resp.Body))
	}
	return nil
}

func readError(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(body)
}

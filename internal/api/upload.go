package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxFileSize = 16 * 1024 * 1024 // WhatsApp media limit

var allowedTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"audio/ogg":          true,
	"audio/mpeg":         true,
	"audio/mp4":          true,
	"video/mp4":          true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
}

// UploadFile stores a chat attachment and returns its public URL together
// with the message kind it should be sent as.
func (s *Server) UploadFile(c *gin.Context) {
	if s.storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "File storage is not configured"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	if header.Size > maxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File size exceeds 16MB limit"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if !allowedTypes[contentType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("File type not allowed: %s", contentType)})
		return
	}

	media, err := s.storage.Upload(c.Request.Context(), workspaceID(c), header.Filename, contentType, header.Size, file)
	if err != nil {
		s.log.WithError(err).WithField("workspace_id", workspaceID(c)).Warn("upload failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Failed to upload file: %v", err)})
		return
	}
	c.JSON(http.StatusOK, media)
}

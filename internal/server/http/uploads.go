package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"runthru/internal/id"
)

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// handleUpload stores an avatar image and returns the server-side path to
// reference from composition.avatar.image_path.
func (s *Server) handleUpload(c *gin.Context) {
	if s.layout == nil {
		c.JSON(http.StatusServiceUnavailable, apiError{Error: "uploads are not configured"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes+(64<<10))
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, apiError{Error: "upload too large"})
			return
		}
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	if header.Size > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, apiError{Error: "upload too large"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		badRequest(c, "could not read upload")
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, apiError{Error: "upload too large"})
		return
	}
	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		c.JSON(http.StatusUnsupportedMediaType, apiError{Error: "unsupported image type", Details: contentType})
		return
	}

	dir := s.layout.UploadsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.writeError(c, fmt.Errorf("create uploads dir: %w", err))
		return
	}
	path := filepath.Join(dir, id.NewUploadID()+ext)
	if err := writeFileAtomic(path, data); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"path":         path,
		"content_type": contentType,
		"size":         len(data),
	})
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("stage upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	return nil
}

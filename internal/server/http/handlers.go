package http

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"runthru/internal/artifacts"
	"runthru/internal/domain"
	"runthru/internal/interpreter"
	"runthru/internal/store"
)

type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeError maps service errors onto status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, apiError{Error: "invalid request", Details: verr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, apiError{Error: "recording not found"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, apiError{Error: "conflict", Details: err.Error()})
	default:
		s.logger.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, apiError{Error: "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, apiError{Error: msg})
}

type createRequest struct {
	domain.CreateRequest
	AutoStart bool `json:"auto_start"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed JSON body")
		return
	}
	if avatar := req.Composition.Avatar; avatar.Enabled && !s.isUpload(avatar.ImagePath) {
		badRequest(c, "composition.avatar.image_path must reference an uploaded image")
		return
	}
	rec, err := s.recs.Create(c.Request.Context(), req.CreateRequest)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if req.AutoStart {
		if rec, err = s.recs.Start(c.Request.Context(), rec.ID); err != nil {
			s.writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) isUpload(path string) bool {
	if s.layout == nil || path == "" {
		return false
	}
	rel, err := filepath.Rel(s.layout.UploadsDir(), filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && artifacts.Exists(path)
}

func (s *Server) handleList(c *gin.Context) {
	opts := store.ListOptions{Limit: 50}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			badRequest(c, "limit must be between 1 and 500")
			return
		}
		opts.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return
		}
		opts.Offset = n
	}
	if v := c.Query("status"); v != "" {
		status := domain.Status(v)
		switch status {
		case domain.StatusPending, domain.StatusRecording, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed:
		default:
			badRequest(c, "unknown status "+strconv.Quote(v))
			return
		}
		opts.Status = status
	}
	recs, err := s.recs.List(c.Request.Context(), opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": recs, "limit": opts.Limit, "offset": opts.Offset})
}

func (s *Server) handleGet(c *gin.Context) {
	rec, err := s.recs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleStart(c *gin.Context) {
	rec, err := s.recs.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

func (s *Server) handleStop(c *gin.Context) {
	rec, err := s.recs.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.recs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleVideo(c *gin.Context) {
	rec, err := s.recs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	path := rec.AuthoritativeVideo()
	if !artifacts.Exists(path) {
		c.JSON(http.StatusNotFound, apiError{Error: "no video available"})
		return
	}
	c.FileAttachment(path, artifacts.SanitizeID(rec.ID)+filepath.Ext(path))
}

func (s *Server) handleScreenshot(c *gin.Context) {
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 1 {
		badRequest(c, "seq must be a positive integer")
		return
	}
	rec, err := s.recs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	for _, step := range rec.Steps {
		if step.Sequence != seq {
			continue
		}
		path := step.ScreenshotPath
		if path == "" || (s.layout != nil && !s.layout.Contains(rec.ID, path)) || !artifacts.Exists(path) {
			break
		}
		c.File(path)
		return
	}
	c.JSON(http.StatusNotFound, apiError{Error: "screenshot not found"})
}

func (s *Server) handleBlob(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := s.blobs.Verify(key, c.Query("expires"), c.Query("sig")); err != nil {
		c.JSON(http.StatusForbidden, apiError{Error: "invalid or expired link"})
		return
	}
	path, err := s.blobs.Path(key)
	if err != nil || !artifacts.Exists(path) {
		c.JSON(http.StatusNotFound, apiError{Error: "not found"})
		return
	}
	c.File(path)
}

type interpretRequest struct {
	Instruction string `json:"instruction"`
}

func (s *Server) handleInterpret(c *gin.Context) {
	var req interpretRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Instruction) == "" {
		badRequest(c, "instruction is required")
		return
	}
	res := s.strategy.Resolve(c.Request.Context(), req.Instruction)
	c.JSON(http.StatusOK, gin.H{
		"instruction": req.Instruction,
		"rule":        interpreter.RuleName(req.Instruction),
		"action":      describeAction(res.Action),
		"rationale":   res.Rationale,
	})
}

func describeAction(a interpreter.Action) gin.H {
	out := gin.H{"kind": a.Kind()}
	switch v := a.(type) {
	case interpreter.Navigate:
		out["url"] = v.URL
	case interpreter.Click:
		out["target"] = v.Target
	case interpreter.Fill:
		out["target"] = v.Target
		out["value"] = v.Value
	case interpreter.Scroll:
		out["pixels"] = v.Pixels
	case interpreter.Wait:
		out["duration_ms"] = v.Duration.Milliseconds()
	case interpreter.Unknown:
		out["reason"] = v.Reason
	}
	return out
}

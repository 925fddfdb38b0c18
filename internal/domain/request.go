package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Limits bounds what a create request may ask for.
type Limits struct {
	MaxInstructions int
}

// DefaultLimits returns the bounded defaults used when config omits them.
func DefaultLimits() Limits {
	return Limits{MaxInstructions: 50}
}

// CreateRequest is the caller-supplied part of a Recording.
type CreateRequest struct {
	Description  string            `json:"description"`
	TargetURL    string            `json:"target_url"`
	Instructions []string          `json:"instructions"`
	Browser      BrowserConfig     `json:"browser"`
	Narration    NarrationConfig   `json:"narration"`
	Composition  CompositionConfig `json:"composition"`
}

// ValidationError reports a malformed create request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Normalize trims instruction text and drops blank entries.
func (r *CreateRequest) Normalize() {
	r.TargetURL = strings.TrimSpace(r.TargetURL)
	cleaned := r.Instructions[:0]
	for _, ins := range r.Instructions {
		if ins = strings.TrimSpace(ins); ins != "" {
			cleaned = append(cleaned, ins)
		}
	}
	r.Instructions = cleaned
}

// Validate rejects configurations that must never reach the executor.
// Zero-valued optional fields are accepted; ApplyDefaults fills them.
func (r *CreateRequest) Validate(limits Limits) error {
	if r.TargetURL == "" {
		return invalid("target_url", "is required")
	}
	u, err := url.Parse(r.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("target_url", "must be an absolute http(s) URL")
	}
	if len(r.Instructions) == 0 {
		return invalid("instructions", "must contain at least one instruction")
	}
	if limits.MaxInstructions > 0 && len(r.Instructions) > limits.MaxInstructions {
		return invalid("instructions", "at most %d instructions are allowed, got %d", limits.MaxInstructions, len(r.Instructions))
	}

	switch r.Browser.Engine {
	case "", EngineChromium, EngineChrome, EngineEdge, EngineRemote:
	default:
		return invalid("browser.engine", "unsupported engine %q", r.Browser.Engine)
	}
	if w := r.Browser.ViewportWidth; w != 0 && (w < 320 || w > 3840) {
		return invalid("browser.viewport_width", "must be between 320 and 3840")
	}
	if h := r.Browser.ViewportHeight; h != 0 && (h < 240 || h > 2160) {
		return invalid("browser.viewport_height", "must be between 240 and 2160")
	}
	switch r.Browser.Quality {
	case "", QualityLow, QualityMedium, QualityHigh:
	default:
		return invalid("browser.quality", "unsupported quality %q", r.Browser.Quality)
	}

	if s := r.Narration.Speed; s != 0 && (s < 0.25 || s > 4.0) {
		return invalid("narration.speed", "must be between 0.25 and 4.0")
	}

	switch r.Composition.Format {
	case "", "mp4", "webm":
	default:
		return invalid("composition.format", "unsupported format %q", r.Composition.Format)
	}
	avatar := r.Composition.Avatar
	if avatar.Enabled {
		if avatar.ImagePath == "" {
			return invalid("composition.avatar.image_path", "is required when the avatar is enabled")
		}
		switch avatar.Position {
		case "", AvatarTopLeft, AvatarTopRight, AvatarBottomLeft, AvatarBottomRight:
		default:
			return invalid("composition.avatar.position", "unsupported position %q", avatar.Position)
		}
		if avatar.Size < 0 || avatar.Size > 1080 {
			return invalid("composition.avatar.size", "must be between 0 and 1080")
		}
	}
	return nil
}

// ApplyDefaults fills zero-valued optional fields.
func (r *CreateRequest) ApplyDefaults() {
	if r.Browser.Engine == "" {
		r.Browser.Engine = EngineChromium
	}
	if r.Browser.ViewportWidth == 0 {
		r.Browser.ViewportWidth = 1280
	}
	if r.Browser.ViewportHeight == 0 {
		r.Browser.ViewportHeight = 720
	}
	if r.Browser.Quality == "" {
		r.Browser.Quality = QualityMedium
	}
	if r.Browser.Headless == nil {
		headless := true
		r.Browser.Headless = &headless
	}
	if r.Narration.Speed == 0 {
		r.Narration.Speed = 1.0
	}
	if r.Narration.Voice == "" {
		r.Narration.Voice = "alloy"
	}
	if r.Narration.Style == "" {
		r.Narration.Style = "professional"
	}
	if r.Composition.Format == "" {
		r.Composition.Format = "mp4"
	}
	if r.Composition.Avatar.Enabled {
		if r.Composition.Avatar.Position == "" {
			r.Composition.Avatar.Position = AvatarBottomRight
		}
		if r.Composition.Avatar.Size == 0 {
			r.Composition.Avatar.Size = 200
		}
	}
}

// NewRecording materialises a validated request as a pending recording.
func NewRecording(id string, req CreateRequest, now time.Time) *Recording {
	return &Recording{
		ID:           id,
		Description:  req.Description,
		TargetURL:    req.TargetURL,
		Instructions: append([]string(nil), req.Instructions...),
		Browser:      req.Browser,
		Narration:    req.Narration,
		Composition:  req.Composition,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Steps:        []Step{},
	}
}

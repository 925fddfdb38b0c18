// Package domain holds the recording model shared by the engine, the stores
// and the HTTP layer.
package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a recording.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether an execution currently owns the recording.
func (s Status) Active() bool {
	return s == StatusRecording || s == StatusProcessing
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRecording, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal one-directional move.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRecording || to == StatusFailed
	case StatusRecording:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// StopReason is the current-step annotation of a recording stopped on request.
const StopReason = "Stopped by user"

var (
	// ErrNotFound is returned when a recording id is unknown.
	ErrNotFound = errors.New("recording not found")
	// ErrConflict is returned when an operation is incompatible with the
	// recording's current status.
	ErrConflict = errors.New("recording state conflict")
)

// ActionKind is the resolved kind of an executed instruction.
type ActionKind string

const (
	ActionNavigate   ActionKind = "navigate"
	ActionClick      ActionKind = "click"
	ActionFill       ActionKind = "fill"
	ActionScroll     ActionKind = "scroll"
	ActionWait       ActionKind = "wait"
	ActionScreenshot ActionKind = "screenshot"
	ActionUnknown    ActionKind = "unknown"
)

// Engine names a supported browser engine.
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineChrome   Engine = "chrome"
	EngineEdge     Engine = "edge"
	EngineRemote   Engine = "remote"
)

// Quality selects encoding presets for the raw and final video.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

type BrowserConfig struct {
	Engine         Engine `json:"engine" yaml:"engine"`
	ViewportWidth  int    `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int    `json:"viewport_height" yaml:"viewport_height"`
	// Headless is nil until defaults run; a request that omits it gets a
	// headless browser.
	Headless *bool   `json:"headless,omitempty" yaml:"headless"`
	Quality  Quality `json:"quality" yaml:"quality"`
}

// IsHeadless reports whether the browser runs without a window.
func (c BrowserConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

type NarrationConfig struct {
	// Disabled skips narration and composition; the raw capture becomes
	// the final video.
	Disabled bool    `json:"disabled,omitempty" yaml:"disabled"`
	Voice    string  `json:"voice" yaml:"voice"`
	Style    string  `json:"style" yaml:"style"`
	Speed    float64 `json:"speed" yaml:"speed"`
}

// AvatarPosition is the overlay corner of the avatar image.
type AvatarPosition string

const (
	AvatarTopLeft     AvatarPosition = "top-left"
	AvatarTopRight    AvatarPosition = "top-right"
	AvatarBottomLeft  AvatarPosition = "bottom-left"
	AvatarBottomRight AvatarPosition = "bottom-right"
)

type AvatarConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	ImagePath string         `json:"image_path,omitempty" yaml:"image_path"`
	Position  AvatarPosition `json:"position,omitempty" yaml:"position"`
	// Size is the overlay width in pixels; height keeps the aspect ratio.
	Size int `json:"size,omitempty" yaml:"size"`
}

type CompositionConfig struct {
	Format string       `json:"format" yaml:"format"`
	Avatar AvatarConfig `json:"avatar" yaml:"avatar"`
}

// Recording is one end-to-end request to turn a description into a
// narrated demo video.
type Recording struct {
	ID           string            `json:"id"`
	Description  string            `json:"description"`
	TargetURL    string            `json:"target_url"`
	Instructions []string          `json:"instructions"`
	Browser      BrowserConfig     `json:"browser"`
	Narration    NarrationConfig   `json:"narration"`
	Composition  CompositionConfig `json:"composition"`

	Status          Status     `json:"status"`
	Progress        int        `json:"progress"`
	CurrentStep     string     `json:"current_step,omitempty"`
	VideoPath       string     `json:"video_path,omitempty"`
	AudioPath       string     `json:"audio_path,omitempty"`
	FinalVideoPath  string     `json:"final_video_path,omitempty"`
	ShareURL        string     `json:"share_url,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Steps           []Step     `json:"steps"`
}

// AuthoritativeVideo returns the one video path that represents the
// recording: the composed output when present, else the raw capture.
func (r *Recording) AuthoritativeVideo() string {
	if r.FinalVideoPath != "" {
		return r.FinalVideoPath
	}
	return r.VideoPath
}

// Clone returns a deep copy so callers cannot mutate store-owned state.
func (r *Recording) Clone() *Recording {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Instructions = append([]string(nil), r.Instructions...)
	cp.Steps = append([]Step(nil), r.Steps...)
	if r.DurationSeconds != nil {
		d := *r.DurationSeconds
		cp.DurationSeconds = &d
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Step is the immutable record of one executed instruction.
type Step struct {
	Sequence       int        `json:"sequence"`
	Instruction    string     `json:"instruction"`
	Action         ActionKind `json:"action"`
	Timestamp      time.Time  `json:"timestamp"`
	Success        bool       `json:"success"`
	ScreenshotPath string     `json:"screenshot_path,omitempty"`
	Error          string     `json:"error,omitempty"`
	Rationale      string     `json:"rationale,omitempty"`
}

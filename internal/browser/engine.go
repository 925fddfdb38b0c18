// Package browser owns browser processes, recording contexts and pages for
// recording executions.
package browser

import (
	"context"
	"time"

	"runthru/internal/domain"
)

// LaunchOptions selects and configures a browser process.
type LaunchOptions struct {
	Engine    domain.Engine
	Headless  bool
	ExecPath  string
	CDPURL    string
	NoSandbox bool
	Width     int
	Height    int
}

// ContextOptions configures an isolated browsing context. When RecordDir is
// set the context records the viewport into RecordDir and the video becomes
// available from VideoPath once Close returns.
type ContextOptions struct {
	Width       int
	Height      int
	RecordDir   string
	VideoFormat string
	// FrameQuality is the JPEG quality of captured frames, 1-100.
	FrameQuality int
	// Quality selects the encoding preset of the finished recording.
	Quality domain.Quality
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Process, error)
}

// Process is a running browser.
type Process interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// Context is an isolated browsing context inside a Process.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	// Close ends the context and finalises its recording.
	Close() error
	// VideoPath is the finished recording, "" until Close has returned or
	// when nothing was recorded.
	VideoPath() string
}

// Page is the single tab a recording drives. Every operation honours the
// deadline of ctx; callers set it explicitly.
type Page interface {
	Goto(ctx context.Context, url string) error
	ClickText(ctx context.Context, text string) error
	ClickSelector(ctx context.Context, selector string) error
	FillText(ctx context.Context, label, value string) error
	FillSelector(ctx context.Context, selector, value string) error
	Scroll(ctx context.Context, pixels int) error
	Wait(ctx context.Context, d time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

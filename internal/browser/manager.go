package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"runthru/internal/domain"
	"runthru/internal/logging"
)

// Config configures the session manager.
type Config struct {
	ChromePath    string
	EdgePath      string
	CDPURL        string
	NoSandbox     bool
	ActionTimeout time.Duration
	LaunchTimeout time.Duration
}

func (c Config) actionTimeoutOrDefault() time.Duration {
	if c.ActionTimeout > 0 {
		return c.ActionTimeout
	}
	return 30 * time.Second
}

func (c Config) launchTimeoutOrDefault() time.Duration {
	if c.LaunchTimeout > 0 {
		return c.LaunchTimeout
	}
	return 60 * time.Second
}

// AcquireOptions describes the browser a recording needs.
type AcquireOptions struct {
	RecordingID string
	Browser     domain.BrowserConfig
	RecordDir   string
	VideoFormat string
}

// Manager hands out one browser/context/page triple per recording and
// guarantees it is torn down again.
type Manager struct {
	cfg      Config
	launcher Launcher
	logger   logging.Logger
	live     atomic.Int64
}

// NewManager builds a Manager on top of launcher.
func NewManager(cfg Config, launcher Launcher, logger logging.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		launcher: launcher,
		logger:   logging.OrNop(logger),
	}
}

// Live reports how many acquired handles have not been released yet.
func (m *Manager) Live() int {
	return int(m.live.Load())
}

// Acquire launches a browser, opens a recording context sized to the
// configured viewport and opens its single page. On failure every resource
// opened so far is closed before the error is returned.
func (m *Manager) Acquire(ctx context.Context, opts AcquireOptions) (*Handle, error) {
	if m.launcher == nil {
		return nil, errors.New("browser launcher not configured")
	}
	launchOpts, err := m.launchOptions(opts.Browser)
	if err != nil {
		return nil, err
	}

	launchCtx, cancel := context.WithTimeout(ctx, m.cfg.launchTimeoutOrDefault())
	defer cancel()

	process, err := m.launcher.Launch(launchCtx, launchOpts)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", launchOpts.Engine, err)
	}

	bctx, err := process.NewContext(launchCtx, ContextOptions{
		Width:        launchOpts.Width,
		Height:       launchOpts.Height,
		RecordDir:    opts.RecordDir,
		VideoFormat:  opts.VideoFormat,
		FrameQuality: frameQuality(opts.Browser.Quality),
		Quality:      opts.Browser.Quality,
	})
	if err != nil {
		m.closeQuietly(opts.RecordingID, "process", process.Close)
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	page, err := bctx.NewPage(launchCtx)
	if err != nil {
		m.closeQuietly(opts.RecordingID, "context", bctx.Close)
		m.closeQuietly(opts.RecordingID, "process", process.Close)
		return nil, fmt.Errorf("open page: %w", err)
	}

	m.live.Add(1)
	m.logger.Info("[%s] browser acquired (engine=%s headless=%v viewport=%dx%d)",
		opts.RecordingID, launchOpts.Engine, launchOpts.Headless, launchOpts.Width, launchOpts.Height)

	return &Handle{
		recordingID:   opts.RecordingID,
		page:          page,
		context:       bctx,
		process:       process,
		actionTimeout: m.cfg.actionTimeoutOrDefault(),
	}, nil
}

// Release closes page, context and process in that order. Close errors are
// logged, never returned, so a failing page close cannot keep the process
// alive. Releasing twice is a no-op.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	h.release.Do(func() {
		m.closeQuietly(h.recordingID, "page", h.page.Close)
		m.closeQuietly(h.recordingID, "context", h.context.Close)
		m.closeQuietly(h.recordingID, "process", h.process.Close)

		h.mu.Lock()
		h.videoPath = h.context.VideoPath()
		h.released = true
		h.mu.Unlock()

		m.live.Add(-1)
		m.logger.Info("[%s] browser released", h.recordingID)
	})
}

func (m *Manager) closeQuietly(recordingID, what string, closeFn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("[%s] panic closing %s: %v", recordingID, what, r)
		}
	}()
	if err := closeFn(); err != nil {
		m.logger.Warn("[%s] close %s: %v", recordingID, what, err)
	}
}

func (m *Manager) launchOptions(cfg domain.BrowserConfig) (LaunchOptions, error) {
	opts := LaunchOptions{
		Engine:    cfg.Engine,
		Headless:  cfg.IsHeadless(),
		NoSandbox: m.cfg.NoSandbox,
		Width:     cfg.ViewportWidth,
		Height:    cfg.ViewportHeight,
	}
	if opts.Engine == "" {
		opts.Engine = domain.EngineChromium
	}
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	switch opts.Engine {
	case domain.EngineChromium:
	case domain.EngineChrome:
		opts.ExecPath = strings.TrimSpace(m.cfg.ChromePath)
	case domain.EngineEdge:
		opts.ExecPath = strings.TrimSpace(m.cfg.EdgePath)
	case domain.EngineRemote:
		opts.CDPURL = strings.TrimSpace(m.cfg.CDPURL)
		if opts.CDPURL == "" {
			return LaunchOptions{}, errors.New("remote engine requires browser.cdp_url")
		}
	default:
		return LaunchOptions{}, fmt.Errorf("unsupported browser engine %q", opts.Engine)
	}
	return opts, nil
}

func frameQuality(q domain.Quality) int {
	switch q {
	case domain.QualityLow:
		return 50
	case domain.QualityHigh:
		return 90
	default:
		return 75
	}
}

// ErrReleased is returned by Handle.Run after Release.
var ErrReleased = errors.New("browser handle released")

// Handle is an acquired browser session. It is used by one goroutine.
type Handle struct {
	recordingID   string
	page          Page
	context       Context
	process       Process
	actionTimeout time.Duration

	release   sync.Once
	mu        sync.Mutex
	released  bool
	videoPath string
}

// ActionTimeout is the per-operation bound applied by Run.
func (h *Handle) ActionTimeout() time.Duration { return h.actionTimeout }

// Run invokes fn against the page with the default action timeout.
func (h *Handle) Run(ctx context.Context, fn func(ctx context.Context, page Page) error) error {
	return h.RunFor(ctx, h.actionTimeout, fn)
}

// RunFor invokes fn against the page under an explicit timeout.
func (h *Handle) RunFor(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, page Page) error) error {
	if h.Released() {
		return ErrReleased
	}
	if timeout <= 0 {
		timeout = h.actionTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(runCtx, h.page)
}

// Released reports whether Release has completed.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// VideoPath returns the recorded video. It is empty until Release returns
// because the recording is only finalised when the context closes.
func (h *Handle) VideoPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.videoPath
}

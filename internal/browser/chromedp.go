package browser

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"runthru/internal/domain"
	"runthru/internal/logging"
)

// ChromedpLauncher launches Chromium-family browsers over the DevTools
// protocol. Recording uses the CDP screencast and Encoder to build the video.
type ChromedpLauncher struct {
	Encoder FrameEncoder
	Logger  logging.Logger
	// EncodeTimeout bounds frame encoding when a context closes.
	EncodeTimeout time.Duration
}

var engineBinaries = map[domain.Engine][]string{
	domain.EngineChrome: {"google-chrome", "google-chrome-stable", "chrome"},
	domain.EngineEdge:   {"microsoft-edge", "microsoft-edge-stable", "msedge"},
}

func (l *ChromedpLauncher) Launch(ctx context.Context, opts LaunchOptions) (Process, error) {
	logger := logging.OrNop(l.Logger)
	// The process outlives ctx, which only bounds start-up.
	base := context.Background()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.Engine == domain.EngineRemote {
		wsURL, err := resolveCDPURL(ctx, opts.CDPURL)
		if err != nil {
			return nil, fmt.Errorf("resolve cdp_url %q: %w", opts.CDPURL, err)
		}
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(base, wsURL)
	} else {
		execPath, err := resolveExecPath(opts.Engine, opts.ExecPath)
		if err != nil {
			return nil, err
		}
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-gpu", opts.Headless),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("mute-audio", true),
			chromedp.WindowSize(opts.Width, opts.Height),
		)
		if execPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(execPath))
		}
		if opts.NoSandbox {
			allocOpts = append(allocOpts, chromedp.NoSandbox)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(base, allocOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Debug))
	if err := runFirst(browserCtx, ctx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &chromeProcess{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		encoder:       l.Encoder,
		encodeTimeout: l.EncodeTimeout,
		logger:        logger,
	}, nil
}

func resolveExecPath(engine domain.Engine, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	candidates, ok := engineBinaries[engine]
	if !ok {
		// chromedp locates a Chromium build itself.
		return "", nil
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s binary found on PATH (tried %s)", engine, strings.Join(candidates, ", "))
}

type chromeProcess struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	encoder       FrameEncoder
	encodeTimeout time.Duration
	logger        logging.Logger
}

func (p *chromeProcess) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	tabCtx, tabCancel := chromedp.NewContext(p.browserCtx, chromedp.WithNewBrowserContext())

	c := &chromeContext{
		tabCtx:        tabCtx,
		tabCancel:     tabCancel,
		opts:          opts,
		encoder:       p.encoder,
		encodeTimeout: p.encodeTimeout,
		logger:        p.logger,
	}

	if err := runFirst(tabCtx, ctx, chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height))); err != nil {
		tabCancel()
		return nil, fmt.Errorf("emulate viewport: %w", err)
	}

	if opts.RecordDir != "" {
		if err := c.startScreencast(ctx); err != nil {
			tabCancel()
			return nil, err
		}
	}
	return c, nil
}

func (p *chromeProcess) Close() error {
	err := chromedp.Cancel(p.browserCtx)
	p.browserCancel()
	p.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type chromeContext struct {
	tabCtx        context.Context
	tabCancel     context.CancelFunc
	opts          ContextOptions
	encoder       FrameEncoder
	encodeTimeout time.Duration
	logger        logging.Logger

	recorder  *frameRecorder
	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	videoPath string
}

func (c *chromeContext) startScreencast(ctx context.Context) error {
	recorder, err := newFrameRecorder(filepath.Join(c.opts.RecordDir, "frames"))
	if err != nil {
		return err
	}
	c.recorder = recorder

	chromedp.ListenTarget(c.tabCtx, func(ev any) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		var at time.Time
		if frame.Metadata != nil && frame.Metadata.Timestamp != nil {
			at = frame.Metadata.Timestamp.Time()
		}
		recorder.add(frame.Data, at)
		go func() {
			target := chromedp.FromContext(c.tabCtx)
			if target == nil || target.Target == nil {
				return
			}
			_ = page.ScreencastFrameAck(frame.SessionID).Do(cdp.WithExecutor(c.tabCtx, target.Target))
		}()
	})

	quality := c.opts.FrameQuality
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	start := page.StartScreencast().
		WithFormat(page.ScreencastFormatJpeg).
		WithQuality(int64(quality)).
		WithMaxWidth(int64(c.opts.Width)).
		WithMaxHeight(int64(c.opts.Height)).
		WithEveryNthFrame(1)
	if err := runBound(c.tabCtx, ctx, start); err != nil {
		return fmt.Errorf("start screencast: %w", err)
	}
	return nil
}

func (c *chromeContext) NewPage(ctx context.Context) (Page, error) {
	if err := runBound(c.tabCtx, ctx, chromedp.Navigate("about:blank")); err != nil {
		return nil, fmt.Errorf("open blank page: %w", err)
	}
	return &chromePage{tabCtx: c.tabCtx}, nil
}

// Close stops the screencast, disposes the browser context and encodes the
// captured frames. The video path is set only when encoding succeeded.
func (c *chromeContext) Close() error {
	c.closeOnce.Do(func() {
		if c.recorder != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = runBound(c.tabCtx, stopCtx, page.StopScreencast())
			cancel()
		}
		end := time.Now()
		c.tabCancel()

		if c.recorder == nil {
			return
		}
		c.closeErr = c.encode(end)
	})
	return c.closeErr
}

func (c *chromeContext) encode(end time.Time) error {
	listPath, err := c.recorder.finish(end, time.Second)
	if err != nil {
		return err
	}
	if c.encoder == nil {
		return errors.New("no frame encoder configured")
	}
	format := c.opts.VideoFormat
	if format == "" {
		format = "mp4"
	}
	output := filepath.Join(c.opts.RecordDir, "recording."+format)

	timeout := c.encodeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.encoder.EncodeFrames(ctx, listPath, output, c.opts.Quality); err != nil {
		return fmt.Errorf("encode %d frames: %w", c.recorder.count(), err)
	}

	c.mu.Lock()
	c.videoPath = output
	c.mu.Unlock()
	return nil
}

func (c *chromeContext) VideoPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoPath
}

type chromePage struct {
	tabCtx context.Context
	mu     sync.Mutex
	closed bool
}

var errPageClosed = errors.New("page closed")

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errPageClosed
	}
	return runBound(p.tabCtx, ctx, actions...)
}

const settleDelay = 300 * time.Millisecond

// Goto navigates and waits for the load event, a ready body and a short
// quiet period standing in for network idle.
func (p *chromePage) Goto(ctx context.Context, url string) error {
	return p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitDocumentComplete(ctx)
		}),
		chromedp.Sleep(settleDelay),
	)
}

func waitDocumentComplete(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		var state string
		if err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx); err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *chromePage) ClickText(ctx context.Context, text string) error {
	return p.run(ctx, chromedp.Click(textXPath(text), chromedp.BySearch, chromedp.NodeVisible))
}

func (p *chromePage) ClickSelector(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromePage) FillText(ctx context.Context, label, value string) error {
	sel := inputXPath(label)
	return p.run(ctx,
		chromedp.SetValue(sel, "", chromedp.BySearch, chromedp.NodeVisible),
		chromedp.SendKeys(sel, value, chromedp.BySearch, chromedp.NodeVisible),
	)
}

func (p *chromePage) FillSelector(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.SetValue(selector, "", chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.SendKeys(selector, value, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (p *chromePage) Scroll(ctx context.Context, pixels int) error {
	var y float64
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d); window.scrollY", pixels), &y))
}

func (p *chromePage) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close detaches the page. The tab itself belongs to the context and is
// closed with it.
func (p *chromePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// runFirst performs the first Run on a chromedp context. That Run allocates
// the browser or target and ties it to the context it receives, so it must
// get the chromedp context itself; ctx only bounds how long we wait.
func runFirst(chromeCtx, ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(chromeCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runBound runs actions on the chromedp context tabCtx while honouring the
// deadline and cancellation of the caller's ctx.
func runBound(tabCtx, ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

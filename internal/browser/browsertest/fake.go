// Package browsertest provides an in-memory browser engine for tests.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"runthru/internal/browser"
)

// Page operation names used by Fail, PanicOn and Calls.
const (
	OpGoto          = "goto"
	OpClickText     = "click_text"
	OpClickSelector = "click_selector"
	OpFillText      = "fill_text"
	OpFillSelector  = "fill_selector"
	OpScroll        = "scroll"
	OpWait          = "wait"
	OpScreenshot    = "screenshot"
)

// PNG is a 1x1 transparent PNG returned by fake screenshots.
var PNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// Launcher is a fake browser.Launcher with fault injection.
type Launcher struct {
	mu sync.Mutex

	LaunchErr  error
	ContextErr error
	PageErr    error

	PageCloseErr    error
	ContextCloseErr error
	ProcessCloseErr error

	// Page configures every page handed out; nil means a fresh Page.
	Page *Page

	processes []*Process
}

func (l *Launcher) Launch(_ context.Context, opts browser.LaunchOptions) (browser.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	p := &Process{launcher: l, Options: opts}
	l.processes = append(l.processes, p)
	return p, nil
}

// Processes returns every launched process.
func (l *Launcher) Processes() []*Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Process(nil), l.processes...)
}

// OpenProcesses counts processes not yet closed.
func (l *Launcher) OpenProcesses() int {
	n := 0
	for _, p := range l.Processes() {
		if !p.Closed() {
			n++
		}
	}
	return n
}

// Process is a fake browser.Process.
type Process struct {
	launcher *Launcher
	Options  browser.LaunchOptions

	mu       sync.Mutex
	closed   bool
	contexts []*Context
}

func (p *Process) NewContext(_ context.Context, opts browser.ContextOptions) (browser.Context, error) {
	p.launcher.mu.Lock()
	err := p.launcher.ContextErr
	p.launcher.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c := &Context{process: p, Options: opts}
	p.mu.Lock()
	p.contexts = append(p.contexts, c)
	p.mu.Unlock()
	return c, nil
}

func (p *Process) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.launcher.mu.Lock()
	defer p.launcher.mu.Unlock()
	return p.launcher.ProcessCloseErr
}

func (p *Process) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Contexts returns every context opened in the process.
func (p *Process) Contexts() []*Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Context(nil), p.contexts...)
}

// Context is a fake browser.Context. Closing it writes a placeholder video
// into RecordDir when one was requested.
type Context struct {
	process *Process
	Options browser.ContextOptions

	mu        sync.Mutex
	closed    bool
	closedAt  time.Time
	videoPath string
	page      *Page
}

func (c *Context) NewPage(_ context.Context) (browser.Page, error) {
	l := c.process.launcher
	l.mu.Lock()
	err, page := l.PageErr, l.Page
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &Page{}
	}
	c.mu.Lock()
	c.page = page
	c.mu.Unlock()
	return page, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closedAt = time.Now()
	if c.Options.RecordDir != "" {
		format := c.Options.VideoFormat
		if format == "" {
			format = "mp4"
		}
		path := filepath.Join(c.Options.RecordDir, "recording."+format)
		if err := os.MkdirAll(c.Options.RecordDir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte("fake video"), 0o644); err != nil {
			return err
		}
		c.videoPath = path
	}
	l := c.process.launcher
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ContextCloseErr
}

func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) VideoPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoPath
}

// Page is a fake browser.Page that records every call.
type Page struct {
	mu sync.Mutex

	// Fail makes the named operation return the error.
	Fail map[string]error
	// FailNth makes the nth call (1-based, across all operations except
	// screenshots) return an error.
	FailNth map[int]error
	// PanicOn makes the named operation panic.
	PanicOn string
	// Block makes the named operation wait for its context to end.
	Block string
	// ScreenshotData overrides PNG.
	ScreenshotData []byte
	// OnCall runs before each operation, outside the page lock.
	OnCall func(op string)

	calls   []Call
	actions int
	closed  bool
	// CloseErr is returned from Close.
	CloseErr error
}

// Call is one recorded page operation.
type Call struct {
	Op   string
	Args []string
}

func (p *Page) do(ctx context.Context, op string, args ...string) error {
	p.mu.Lock()
	onCall := p.OnCall
	p.mu.Unlock()
	if onCall != nil {
		onCall(op)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%s: page closed", op)
	}
	p.calls = append(p.calls, Call{Op: op, Args: args})
	var nthErr error
	if op != OpScreenshot {
		p.actions++
		nthErr = p.FailNth[p.actions]
	}
	failErr := p.Fail[op]
	panicOn, block := p.PanicOn, p.Block
	p.mu.Unlock()

	if panicOn == op {
		panic(fmt.Sprintf("fake %s panic", op))
	}
	if block == op {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if nthErr != nil {
		return nthErr
	}
	return failErr
}

func (p *Page) Goto(ctx context.Context, url string) error { return p.do(ctx, OpGoto, url) }
func (p *Page) ClickText(ctx context.Context, text string) error {
	return p.do(ctx, OpClickText, text)
}
func (p *Page) ClickSelector(ctx context.Context, selector string) error {
	return p.do(ctx, OpClickSelector, selector)
}
func (p *Page) FillText(ctx context.Context, label, value string) error {
	return p.do(ctx, OpFillText, label, value)
}
func (p *Page) FillSelector(ctx context.Context, selector, value string) error {
	return p.do(ctx, OpFillSelector, selector, value)
}
func (p *Page) Scroll(ctx context.Context, pixels int) error {
	return p.do(ctx, OpScroll, fmt.Sprint(pixels))
}
func (p *Page) Wait(ctx context.Context, d time.Duration) error {
	return p.do(ctx, OpWait, d.String())
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.do(ctx, OpScreenshot); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotData != nil {
		return p.ScreenshotData, nil
	}
	return PNG, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.CloseErr
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Calls returns the recorded operations in order.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Ops returns just the operation names of Calls.
func (p *Page) Ops() []string {
	calls := p.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runthru/internal/browser"
	"runthru/internal/browser/browsertest"
	"runthru/internal/domain"
)

func acquireOpts(t *testing.T) browser.AcquireOptions {
	return browser.AcquireOptions{
		RecordingID: "rec-test",
		Browser:     domain.BrowserConfig{Engine: domain.EngineChromium, ViewportWidth: 800, ViewportHeight: 600, Quality: domain.QualityHigh},
		RecordDir:   t.TempDir(),
		VideoFormat: "webm",
	}
}

func TestAcquireReleaseLifecycle(t *testing.T) {
	launcher := &browsertest.Launcher{}
	m := browser.NewManager(browser.Config{}, launcher, nil)

	h, err := m.Acquire(context.Background(), acquireOpts(t))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Live())
	assert.Empty(t, h.VideoPath(), "video must not be exposed before release")

	proc := launcher.Processes()[0]
	assert.Equal(t, 800, proc.Options.Width)
	ctxs := proc.Contexts()
	require.Len(t, ctxs, 1)
	assert.Equal(t, 600, ctxs[0].Options.Height)
	assert.Equal(t, domain.QualityHigh, ctxs[0].Options.Quality)

	m.Release(h)
	assert.True(t, proc.Closed())
	assert.True(t, ctxs[0].Closed())
	assert.Equal(t, 0, m.Live())
	assert.Equal(t, 0, launcher.OpenProcesses())
	assert.FileExists(t, h.VideoPath())
	assert.Contains(t, h.VideoPath(), "recording.webm")
}

func TestReleaseIsIdempotent(t *testing.T) {
	launcher := &browsertest.Launcher{}
	m := browser.NewManager(browser.Config{}, launcher, nil)

	h, err := m.Acquire(context.Background(), acquireOpts(t))
	require.NoError(t, err)
	m.Release(h)
	m.Release(h)
	m.Release(nil)
	assert.Equal(t, 0, m.Live())

	err = h.Run(context.Background(), func(context.Context, browser.Page) error { return nil })
	assert.ErrorIs(t, err, browser.ErrReleased)
}

func TestAcquireContextFaultClosesProcess(t *testing.T) {
	launcher := &browsertest.Launcher{ContextErr: errors.New("context boom")}
	m := browser.NewManager(browser.Config{}, launcher, nil)

	h, err := m.Acquire(context.Background(), acquireOpts(t))
	require.Error(t, err)
	assert.Nil(t, h)
	require.Len(t, launcher.Processes(), 1)
	assert.True(t, launcher.Processes()[0].Closed(), "launched process must not leak")
	assert.Equal(t, 0, launcher.OpenProcesses())
	assert.Equal(t, 0, m.Live())
}

func TestAcquirePageFaultClosesContextAndProcess(t *testing.T) {
	launcher := &browsertest.Launcher{PageErr: errors.New("page boom")}
	m := browser.NewManager(browser.Config{}, launcher, nil)

	_, err := m.Acquire(context.Background(), acquireOpts(t))
	require.Error(t, err)
	proc := launcher.Processes()[0]
	assert.True(t, proc.Contexts()[0].Closed())
	assert.True(t, proc.Closed())
}

func TestAcquireLaunchFault(t *testing.T) {
	launcher := &browsertest.Launcher{LaunchErr: errors.New("no chrome")}
	m := browser.NewManager(browser.Config{}, launcher, nil)

	_, err := m.Acquire(context.Background(), acquireOpts(t))
	require.ErrorContains(t, err, "no chrome")
	assert.Empty(t, launcher.Processes())
}

func TestReleaseContinuesPastCloseErrors(t *testing.T) {
	page := &browsertest.Page{CloseErr: errors.New("page close failed")}
	launcher := &browsertest.Launcher{Page: page, ContextCloseErr: errors.New("context close failed")}
	m := browser.NewManager(browser.Config{}, launcher, nil)

	h, err := m.Acquire(context.Background(), acquireOpts(t))
	require.NoError(t, err)
	m.Release(h)

	assert.True(t, page.Closed())
	assert.True(t, launcher.Processes()[0].Closed(), "process must close even when earlier closes fail")
	assert.True(t, h.Released())
}

func TestEngineSelection(t *testing.T) {
	cases := []struct {
		engine  domain.Engine
		cfg     browser.Config
		wantErr bool
		check   func(t *testing.T, opts browser.LaunchOptions)
	}{
		{engine: "", check: func(t *testing.T, o browser.LaunchOptions) { assert.Equal(t, domain.EngineChromium, o.Engine) }},
		{engine: domain.EngineChrome, cfg: browser.Config{ChromePath: "/opt/chrome"}, check: func(t *testing.T, o browser.LaunchOptions) {
			assert.Equal(t, "/opt/chrome", o.ExecPath)
		}},
		{engine: domain.EngineEdge, cfg: browser.Config{EdgePath: "/opt/edge"}, check: func(t *testing.T, o browser.LaunchOptions) {
			assert.Equal(t, "/opt/edge", o.ExecPath)
		}},
		{engine: domain.EngineRemote, cfg: browser.Config{CDPURL: "ws://127.0.0.1:9222/devtools/browser/x"}, check: func(t *testing.T, o browser.LaunchOptions) {
			assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", o.CDPURL)
		}},
		{engine: domain.EngineRemote, wantErr: true},
		{engine: "lynx", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(string(tc.engine), func(t *testing.T) {
			launcher := &browsertest.Launcher{}
			m := browser.NewManager(tc.cfg, launcher, nil)
			opts := acquireOpts(t)
			opts.Browser.Engine = tc.engine
			h, err := m.Acquire(context.Background(), opts)
			if tc.wantErr {
				require.Error(t, err)
				assert.Empty(t, launcher.Processes())
				return
			}
			require.NoError(t, err)
			defer m.Release(h)
			tc.check(t, launcher.Processes()[0].Options)
		})
	}
}

func TestRunAppliesActionTimeout(t *testing.T) {
	page := &browsertest.Page{Block: browsertest.OpGoto}
	launcher := &browsertest.Launcher{Page: page}
	m := browser.NewManager(browser.Config{ActionTimeout: 20 * time.Millisecond}, launcher, nil)

	h, err := m.Acquire(context.Background(), acquireOpts(t))
	require.NoError(t, err)
	defer m.Release(h)

	start := time.Now()
	err = h.Run(context.Background(), func(ctx context.Context, p browser.Page) error {
		return p.Goto(ctx, "https://example.com")
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 20*time.Millisecond, h.ActionTimeout())
}

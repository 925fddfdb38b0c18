package pipeline_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runthru/internal/artifacts"
	"runthru/internal/browser"
	"runthru/internal/browser/browsertest"
	"runthru/internal/domain"
	"runthru/internal/events"
	"runthru/internal/executor"
	"runthru/internal/ffmpeg"
	"runthru/internal/logging"
	"runthru/internal/pipeline"
	"runthru/internal/storage/blobstore"
	"runthru/internal/store"
	"runthru/internal/store/memstore"
	"runthru/internal/tts"
)

type fakeComposer struct {
	mu   sync.Mutex
	jobs []ffmpeg.ComposeJob
	err  error
}

func (c *fakeComposer) Compose(_ context.Context, job ffmpeg.ComposeJob) error {
	c.mu.Lock()
	c.jobs = append(c.jobs, job)
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(job.Output, []byte("composed"), 0o644)
}

func (c *fakeComposer) Jobs() []ffmpeg.ComposeJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ffmpeg.ComposeJob(nil), c.jobs...)
}

type fakeProber struct{ d time.Duration }

func (p fakeProber) Probe(context.Context, string) (ffmpeg.ProbeResult, error) {
	return ffmpeg.ProbeResult{Duration: p.d}, nil
}

type failingSpeech struct{}

func (failingSpeech) Name() string { return "broken" }
func (failingSpeech) Synthesize(context.Context, tts.Request) (tts.ProviderResult, error) {
	return tts.ProviderResult{}, errors.New("voice service unavailable")
}

type stepsGenerator struct{ steps []string }

func (g stepsGenerator) GenerateSteps(_ context.Context, _, targetURL string, _ int) ([]string, error) {
	return append([]string{"navigate to " + targetURL}, g.steps...), nil
}

func (g stepsGenerator) GenerateNarration(context.Context, *domain.Recording) (string, error) {
	return "Here is the demo.", nil
}

type harness struct {
	svc      *pipeline.Service
	store    *memstore.Store
	page     *browsertest.Page
	launcher *browsertest.Launcher
	composer *fakeComposer
	layout   *artifacts.Layout
	blobs    *blobstore.FilesystemStore
}

type harnessOption func(*pipeline.Config, *pipeline.Deps)

func newHarness(t *testing.T, page *browsertest.Page, opts ...harnessOption) *harness {
	t.Helper()
	if page == nil {
		page = &browsertest.Page{}
	}
	launcher := &browsertest.Launcher{Page: page}
	layout, err := artifacts.NewLayout(t.TempDir())
	require.NoError(t, err)
	blobs, err := blobstore.NewFilesystemStore(t.TempDir(), "http://localhost:8080/blobs", "secret")
	require.NoError(t, err)

	st := memstore.New()
	composer := &fakeComposer{}
	ex := executor.New(layout, logging.Nop())
	ex.TextLookupBudget = 20 * time.Millisecond
	ex.ScreenshotTimeout = time.Second

	cfg := pipeline.Config{}
	deps := pipeline.Deps{
		Store:    st,
		Events:   events.NewBroadcaster(events.WithBuffer(512)),
		Browsers: browser.NewManager(browser.Config{ActionTimeout: time.Second}, launcher, logging.Nop()),
		Executor: ex,
		Layout:   layout,
		Speech:   tts.MockProvider{},
		Composer: composer,
		Prober:   fakeProber{d: 4500 * time.Millisecond},
		Blobs:    blobs,
		Logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	svc, err := pipeline.New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &harness{svc: svc, store: st, page: page, launcher: launcher, composer: composer, layout: layout, blobs: blobs}
}

func request(instructions ...string) domain.CreateRequest {
	return domain.CreateRequest{
		Description:  "Login demo",
		TargetURL:    "https://example.com",
		Instructions: instructions,
	}
}

func (h *harness) runToEnd(t *testing.T, req domain.CreateRequest) *domain.Recording {
	t.Helper()
	ctx := context.Background()
	rec, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	_, err = h.svc.Start(ctx, rec.ID)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	done, err := h.svc.Wait(waitCtx, rec.ID)
	require.NoError(t, err)
	return done
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestHappyPathCompletes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	rec, err := h.svc.Create(ctx, request("navigate to https://example.com", "click Login", "scroll down", "wait 1 second"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)

	ch, cancel := h.svc.Events().Subscribe(rec.ID)
	defer cancel()
	_, err = h.svc.Start(ctx, rec.ID)
	require.NoError(t, err)
	done, err := h.svc.Wait(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.Len(t, done.Steps, 4)
	for i, step := range done.Steps {
		assert.Equal(t, i+1, step.Sequence, "sequences are gapless")
		assert.True(t, step.Success, step.Instruction)
	}
	assert.FileExists(t, done.VideoPath)
	assert.FileExists(t, done.AudioPath)
	assert.Equal(t, h.layout.FinalVideo(rec.ID, "mp4"), done.FinalVideoPath)
	assert.Equal(t, done.FinalVideoPath, done.AuthoritativeVideo())
	require.NotNil(t, done.DurationSeconds)
	assert.InDelta(t, 4.5, *done.DurationSeconds, 0.001)
	assert.Contains(t, done.ShareURL, "http://localhost:8080/blobs/")
	assert.Equal(t, 0, h.launcher.OpenProcesses())

	jobs := h.composer.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, done.VideoPath, jobs[0].Video)
	assert.Equal(t, done.AudioPath, jobs[0].Audio)
	assert.Equal(t, domain.QualityMedium, jobs[0].Quality)

	evs := drain(ch)
	require.NotEmpty(t, evs)
	last := -1
	var steps int
	for _, e := range evs {
		assert.GreaterOrEqual(t, e.Progress, last, "progress never decreases")
		last = e.Progress
		if e.Type == events.TypeStep {
			steps++
		}
	}
	assert.Equal(t, 4, steps)
	assert.True(t, evs[len(evs)-1].Terminal())
	assert.Equal(t, domain.StatusCompleted, evs[len(evs)-1].Status)
}

func TestFailedStepDoesNotAbortRecording(t *testing.T) {
	page := &browsertest.Page{Fail: map[string]error{
		browsertest.OpClickText:     errors.New("no element"),
		browsertest.OpClickSelector: errors.New("no element"),
	}}
	h := newHarness(t, page)
	done := h.runToEnd(t, request("navigate to https://example.com", "click Missing Button", "scroll down"))

	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.Len(t, done.Steps, 3)
	assert.True(t, done.Steps[0].Success)
	assert.False(t, done.Steps[1].Success)
	assert.NotEmpty(t, done.Steps[1].Error)
	assert.True(t, done.Steps[2].Success, "later steps still run")
}

func TestStopDuringExecution(t *testing.T) {
	var h *harness
	var recordingID atomic.Value
	var stopped atomic.Bool
	page := &browsertest.Page{}
	page.OnCall = func(op string) {
		if op == browsertest.OpScroll && stopped.CompareAndSwap(false, true) {
			_, _ = h.svc.Stop(context.Background(), recordingID.Load().(string))
		}
	}
	h = newHarness(t, page)
	ctx := context.Background()
	rec, err := h.svc.Create(ctx, request("navigate to https://example.com", "scroll down", "click Login", "scroll down"))
	require.NoError(t, err)
	recordingID.Store(rec.ID)

	_, err = h.svc.Start(ctx, rec.ID)
	require.NoError(t, err)
	done, err := h.svc.Wait(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.Equal(t, domain.StopReason, done.CurrentStep)
	assert.Len(t, done.Steps, 2, "the in-flight step is kept and no further step runs")
	assert.Empty(t, h.composer.Jobs())
	assert.Equal(t, 0, h.launcher.OpenProcesses())
	require.NotNil(t, done.CompletedAt)
}

func TestStopPendingAndTerminal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	rec, err := h.svc.Create(ctx, request("navigate to https://example.com"))
	require.NoError(t, err)

	stopped, err := h.svc.Stop(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stopped.Status)
	assert.Equal(t, domain.StopReason, stopped.CurrentStep)

	_, err = h.svc.Stop(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = h.svc.Start(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = h.svc.Stop(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentStartHasOneWinner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	rec, err := h.svc.Create(ctx, request("navigate to https://example.com", "scroll down"))
	require.NoError(t, err)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Start(ctx, rec.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), conflicts.Load())

	done, err := h.svc.Wait(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Len(t, done.Steps, 2)
	assert.Len(t, h.launcher.Processes(), 1)
}

func TestCompositionFailureKeepsStepsAndCapture(t *testing.T) {
	h := newHarness(t, nil)
	h.composer.err = errors.New("ffmpeg exited with code 1: invalid filter")
	done := h.runToEnd(t, request("navigate to https://example.com", "scroll down"))

	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.Contains(t, done.CurrentStep, "composition failed")
	assert.Contains(t, done.CurrentStep, "invalid filter")
	assert.Len(t, done.Steps, 2)
	assert.FileExists(t, done.VideoPath)
	assert.Empty(t, done.FinalVideoPath)
	assert.Equal(t, done.VideoPath, done.AuthoritativeVideo())
}

func TestSpeechFailureFallsBackToSilentVideo(t *testing.T) {
	h := newHarness(t, nil, func(_ *pipeline.Config, d *pipeline.Deps) { d.Speech = failingSpeech{} })
	done := h.runToEnd(t, request("navigate to https://example.com"))

	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Empty(t, done.AudioPath)
	jobs := h.composer.Jobs()
	require.Len(t, jobs, 1)
	assert.Empty(t, jobs[0].Audio)
}

func TestNarrationDisabledUsesRawCapture(t *testing.T) {
	h := newHarness(t, nil)
	req := request("navigate to https://example.com")
	req.Narration.Disabled = true
	done := h.runToEnd(t, req)

	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Empty(t, h.composer.Jobs())
	assert.Equal(t, done.VideoPath, done.FinalVideoPath)
}

func TestBrowserLaunchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.LaunchErr = errors.New("chrome not found")
	done := h.runToEnd(t, request("navigate to https://example.com"))

	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.Contains(t, done.CurrentStep, "chrome not found")
	assert.Empty(t, done.Steps)
}

func TestCreateGeneratesSteps(t *testing.T) {
	h := newHarness(t, nil, func(_ *pipeline.Config, d *pipeline.Deps) {
		d.Generator = stepsGenerator{steps: []string{"click Sign up", "  ", "scroll down"}}
	})
	rec, err := h.svc.Create(context.Background(), domain.CreateRequest{
		Description: "Show the sign-up flow",
		TargetURL:   "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"navigate to https://example.com", "click Sign up", "scroll down"}, rec.Instructions)
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Create(context.Background(), domain.CreateRequest{TargetURL: "https://example.com"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "instructions", verr.Field)

	many := make([]string, 51)
	for i := range many {
		many[i] = "scroll down"
	}
	_, err = h.svc.Create(context.Background(), request(many...))
	require.ErrorAs(t, err, &verr)
}

func TestDeleteRules(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	done := h.runToEnd(t, request("navigate to https://example.com"))
	blobPath, err := h.blobs.Path(artifacts.SanitizeID(done.ID) + "/final.mp4")
	require.NoError(t, err)
	assert.FileExists(t, blobPath)

	require.NoError(t, h.svc.Delete(ctx, done.ID))
	_, err = h.svc.Get(ctx, done.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoDirExists(t, h.layout.Dir(done.ID))
	assert.NoFileExists(t, blobPath)

	active, err := h.svc.Create(ctx, request("navigate to https://example.com"))
	require.NoError(t, err)
	_, err = h.store.Update(ctx, active.ID, store.Patch{Status: store.Ptr(domain.StatusRecording)})
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.Delete(ctx, active.ID), domain.ErrConflict)
}

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	var ids []string
	for _, status := range []domain.Status{domain.StatusRecording, domain.StatusProcessing, domain.StatusPending} {
		rec, err := h.svc.Create(ctx, request("navigate to https://example.com"))
		require.NoError(t, err)
		if status != domain.StatusPending {
			_, err = h.store.Update(ctx, rec.ID, store.Patch{Status: store.Ptr(domain.StatusRecording)})
			require.NoError(t, err)
		}
		if status == domain.StatusProcessing {
			_, err = h.store.Update(ctx, rec.ID, store.Patch{Status: store.Ptr(domain.StatusProcessing)})
			require.NoError(t, err)
		}
		ids = append(ids, rec.ID)
	}

	n, err := h.svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for i, rid := range ids {
		rec, err := h.svc.Get(ctx, rid)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, domain.StatusFailed, rec.Status)
			assert.Equal(t, pipeline.InterruptedReason, rec.CurrentStep)
		} else {
			assert.Equal(t, domain.StatusPending, rec.Status)
		}
	}
}

func TestConcurrencyLimitQueuesRuns(t *testing.T) {
	release := make(chan struct{})
	var inFlight, peak atomic.Int32
	page := &browsertest.Page{}
	page.OnCall = func(op string) {
		if op != browsertest.OpGoto {
			return
		}
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
	}
	h := newHarness(t, page, func(c *pipeline.Config, _ *pipeline.Deps) { c.MaxConcurrent = 1 })
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := h.svc.Create(ctx, request("navigate to https://example.com"))
		require.NoError(t, err)
		_, err = h.svc.Start(ctx, rec.ID)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	assert.Len(t, h.svc.Active(), 3)
	close(release)
	for _, rid := range ids {
		done, err := h.svc.Wait(ctx, rid)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, done.Status)
	}
	assert.Equal(t, int32(1), peak.Load())
}

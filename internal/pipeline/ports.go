package pipeline

import (
	"context"
	"time"

	"runthru/internal/browser"
	"runthru/internal/domain"
	"runthru/internal/executor"
	"runthru/internal/ffmpeg"
)

// Browsers hands out browser sessions. *browser.Manager implements it.
type Browsers interface {
	Acquire(ctx context.Context, opts browser.AcquireOptions) (*browser.Handle, error)
	Release(h *browser.Handle)
}

// StepExecutor runs one instruction. *executor.Executor implements it.
type StepExecutor interface {
	Execute(ctx context.Context, session executor.Session, req executor.Request) domain.Step
}

// Generator writes instructions and narration. *llm.Client and
// llm.MockClient implement it.
type Generator interface {
	GenerateSteps(ctx context.Context, description, targetURL string, max int) ([]string, error)
	GenerateNarration(ctx context.Context, rec *domain.Recording) (string, error)
}

// Composer produces the final video.
type Composer interface {
	Compose(ctx context.Context, job ffmpeg.ComposeJob) error
}

// BlobStore publishes final videos.
type BlobStore interface {
	PutFile(ctx context.Context, key, src string) (string, error)
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// Observer receives run-level measurements.
type Observer interface {
	RecordingStarted()
	RecordingFinished(status domain.Status, elapsed time.Duration)
	StageFinished(stage string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) RecordingStarted()                              {}
func (nopObserver) RecordingFinished(domain.Status, time.Duration) {}
func (nopObserver) StageFinished(string, time.Duration, error)     {}

// Prober measures the final video.
type Prober interface {
	Probe(ctx context.Context, path string) (ffmpeg.ProbeResult, error)
}

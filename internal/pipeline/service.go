// Package pipeline coordinates recordings from creation to their terminal
// state: it owns the per-recording worker goroutines and their
// cancellation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"runthru/internal/artifacts"
	"runthru/internal/async"
	"runthru/internal/domain"
	"runthru/internal/events"
	"runthru/internal/id"
	"runthru/internal/interpreter"
	"runthru/internal/lifecycle"
	"runthru/internal/logging"
	"runthru/internal/notify"
	"runthru/internal/store"
	"runthru/internal/tts"
)

// ErrStoppedByUser is the cancellation cause of a stop request.
var ErrStoppedByUser = errors.New("stopped by user")

// InterruptedReason marks recordings left active by a previous process.
const InterruptedReason = "Interrupted by service restart"

type Config struct {
	// MaxConcurrent caps simultaneously executing recordings; excess starts
	// wait for a slot. Zero means unlimited.
	MaxConcurrent      int
	Limits             domain.Limits
	CompositionTimeout time.Duration
	NarrationTimeout   time.Duration
	ShareURLTTL        time.Duration
}

// Deps are the collaborators of a Service. Store, Browsers, Executor and
// Layout are required; the rest degrade when nil.
type Deps struct {
	Store     store.Store
	Events    *events.Broadcaster
	Browsers  Browsers
	Executor  StepExecutor
	Strategy  interpreter.Strategy
	Layout    *artifacts.Layout
	Generator Generator
	Speech    tts.Provider
	Composer  Composer
	Prober    Prober
	Blobs     BlobStore
	Notifier  notify.Notifier
	Observer  Observer
	Tracer    trace.Tracer
	Logger    logging.Logger
}

type run struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Service is the entry point for every recording operation.
type Service struct {
	cfg  Config
	deps Deps
	sem  *semaphore.Weighted
	now  func() time.Time

	logger logging.Logger

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Browsers == nil:
		return nil, errors.New("pipeline: browser manager is required")
	case deps.Executor == nil:
		return nil, errors.New("pipeline: step executor is required")
	case deps.Layout == nil:
		return nil, errors.New("pipeline: artifact layout is required")
	}
	if deps.Events == nil {
		deps.Events = events.NewBroadcaster()
	}
	if deps.Strategy == nil {
		deps.Strategy = interpreter.Heuristic{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("runthru/pipeline")
	}
	if logging.IsNil(deps.Logger) {
		deps.Logger = logging.NewComponentLogger("Pipeline")
	}
	if cfg.Limits.MaxInstructions <= 0 {
		cfg.Limits = domain.DefaultLimits()
	}
	if cfg.CompositionTimeout <= 0 {
		cfg.CompositionTimeout = 10 * time.Minute
	}
	if cfg.NarrationTimeout <= 0 {
		cfg.NarrationTimeout = 3 * time.Minute
	}
	if cfg.ShareURLTTL <= 0 {
		cfg.ShareURLTTL = 7 * 24 * time.Hour
	}
	s := &Service{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: deps.Logger,
		runs:   make(map[string]*run),
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return s, nil
}

// Events exposes the broadcaster progress is published on.
func (s *Service) Events() *events.Broadcaster { return s.deps.Events }

func (s *Service) machine(rec *domain.Recording) *lifecycle.Machine {
	return lifecycle.New(s.deps.Store, s.deps.Events, rec,
		lifecycle.WithClock(s.now), lifecycle.WithLogger(s.logger))
}

// Create validates req and stores it as a pending recording. A request
// with a description but no instructions has its steps generated first.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Recording, error) {
	req.Normalize()
	if len(req.Instructions) == 0 && strings.TrimSpace(req.Description) != "" && req.TargetURL != "" && s.deps.Generator != nil {
		steps, err := s.deps.Generator.GenerateSteps(ctx, req.Description, req.TargetURL, s.cfg.Limits.MaxInstructions)
		if err != nil {
			return nil, fmt.Errorf("generate steps: %w", err)
		}
		req.Instructions = steps
		req.Normalize()
	}
	if err := req.Validate(s.cfg.Limits); err != nil {
		return nil, err
	}
	req.ApplyDefaults()

	rec := domain.NewRecording(id.NewRecordingID(), req, s.now())
	if err := s.deps.Store.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.deps.Events.Publish(events.Event{
		RecordingID: rec.ID,
		Type:        events.TypeStatus,
		Status:      rec.Status,
		Timestamp:   rec.CreatedAt,
	})
	logging.FromContext(ctx, s.logger).Info("Recording %s created with %d instructions", rec.ID, len(rec.Instructions))
	return rec, nil
}

func (s *Service) Get(ctx context.Context, recordingID string) (*domain.Recording, error) {
	return s.deps.Store.Get(ctx, recordingID)
}

func (s *Service) List(ctx context.Context, opts store.ListOptions) ([]*domain.Recording, error) {
	return s.deps.Store.List(ctx, opts)
}

func (s *Service) running(recordingID string) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[recordingID]
}

// Start claims a pending recording and executes it in the background. A
// recording that is not pending yields domain.ErrConflict.
func (s *Service) Start(ctx context.Context, recordingID string) (*domain.Recording, error) {
	rec, err := s.deps.Store.Get(ctx, recordingID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, busy := s.runs[recordingID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is already executing", domain.ErrConflict, recordingID)
	}
	// Detached from the caller so the run outlives the request; Stop
	// cancels it with a cause.
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(id.WithRecordingID(ctx, recordingID)))
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.runs[recordingID] = r
	s.mu.Unlock()

	m := s.machine(rec)
	begun, err := m.Begin(ctx)
	if err != nil {
		s.forget(recordingID, r)
		cancel(nil)
		close(r.done)
		return nil, err
	}

	s.wg.Add(1)
	async.Go(s.logger, "pipeline.run", func() {
		defer s.wg.Done()
		defer close(r.done)
		defer s.forget(recordingID, r)
		defer cancel(nil)
		s.execute(runCtx, m, begun)
	})
	return begun, nil
}

func (s *Service) forget(recordingID string, r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[recordingID] == r {
		delete(s.runs, recordingID)
	}
}

// Stop requests cancellation of a recording. An executing recording stops
// at its next checkpoint; a pending one fails immediately. Stopping a
// terminal recording yields domain.ErrConflict.
func (s *Service) Stop(ctx context.Context, recordingID string) (*domain.Recording, error) {
	if r := s.running(recordingID); r != nil {
		r.cancel(ErrStoppedByUser)
		return s.deps.Store.Get(ctx, recordingID)
	}
	rec, err := s.deps.Store.Get(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is already %s", domain.ErrConflict, recordingID, rec.Status)
	}
	failed, err := s.machine(rec).Fail(ctx, domain.StopReason)
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent Start claimed it first.
		if r := s.running(recordingID); r != nil {
			r.cancel(ErrStoppedByUser)
			return s.deps.Store.Get(ctx, recordingID)
		}
	}
	return failed, err
}

// Wait blocks until the recording has no executing worker in this
// process, then returns its stored state.
func (s *Service) Wait(ctx context.Context, recordingID string) (*domain.Recording, error) {
	if r := s.running(recordingID); r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.deps.Store.Get(ctx, recordingID)
}

// Delete removes a recording with its artifacts and published video.
// Executing recordings yield domain.ErrConflict.
func (s *Service) Delete(ctx context.Context, recordingID string) error {
	if s.running(recordingID) != nil {
		return fmt.Errorf("%w: %s is executing", domain.ErrConflict, recordingID)
	}
	rec, err := s.deps.Store.Get(ctx, recordingID)
	if err != nil {
		return err
	}
	if rec.Status.Active() {
		return fmt.Errorf("%w: %s is %s", domain.ErrConflict, recordingID, rec.Status)
	}
	if err := s.deps.Store.Delete(ctx, recordingID); err != nil {
		return err
	}
	logger := logging.FromContext(ctx, s.logger)
	if err := s.deps.Layout.Remove(recordingID); err != nil {
		logger.Warn("Recording %s: %v", recordingID, err)
	}
	if s.deps.Blobs != nil && rec.FinalVideoPath != "" {
		if err := s.deps.Blobs.DeleteObject(ctx, blobKey(rec.ID, rec.FinalVideoPath)); err != nil {
			logger.Warn("Recording %s: delete published video: %v", recordingID, err)
		}
	}
	logger.Info("Recording %s deleted", recordingID)
	return nil
}

// RecoverInterrupted fails recordings that a previous process left in an
// active state, since no worker will ever finish them.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	var recovered int
	for _, status := range []domain.Status{domain.StatusRecording, domain.StatusProcessing} {
		recs, err := s.deps.Store.List(ctx, store.ListOptions{Status: status})
		if err != nil {
			return recovered, err
		}
		for _, rec := range recs {
			if s.running(rec.ID) != nil {
				continue
			}
			if _, err := s.machine(rec).Fail(ctx, InterruptedReason); err != nil {
				s.logger.Warn("Recording %s: recover: %v", rec.ID, err)
				continue
			}
			recovered++
		}
	}
	return recovered, nil
}

// Active returns the ids of recordings executing in this process.
func (s *Service) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runs))
	for rid := range s.runs {
		ids = append(ids, rid)
	}
	return ids
}

// Shutdown stops every executing recording and waits for the workers to
// record their terminal state, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, r := range s.runs {
		r.cancel(ErrStoppedByUser)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func blobKey(recordingID, finalPath string) string {
	return artifacts.SanitizeID(recordingID) + "/" + filepath.Base(finalPath)
}

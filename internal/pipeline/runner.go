package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"runthru/internal/async"
	"runthru/internal/browser"
	"runthru/internal/domain"
	rterrors "runthru/internal/errors"
	"runthru/internal/executor"
	"runthru/internal/ffmpeg"
	"runthru/internal/lifecycle"
	"runthru/internal/llm"
	"runthru/internal/logging"
	"runthru/internal/tts"
)

const maxReason = 300

// stageError tags a session-fatal error with the stage it ended.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + " failed: " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failed(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

// execute drives one claimed recording to a terminal state. It is the
// only writer for the recording while it runs.
func (s *Service) execute(ctx context.Context, m *lifecycle.Machine, rec *domain.Recording) {
	// Persistence and notification must survive a stop request.
	persist := context.WithoutCancel(ctx)
	logger := logging.WithPrefix(s.logger, rec.ID)
	started := s.now()
	status := domain.StatusFailed

	ctx, span := s.deps.Tracer.Start(ctx, "recording.execute",
		trace.WithAttributes(attribute.String("recording.id", rec.ID), attribute.Int("recording.instructions", len(rec.Instructions))))
	s.deps.Observer.RecordingStarted()
	defer func() {
		span.SetAttributes(attribute.String("recording.status", string(status)))
		span.End()
		s.deps.Observer.RecordingFinished(status, s.now().Sub(started))
	}()
	defer async.RecoverWith(s.logger, "pipeline.execute", func(r any) {
		if _, err := m.Fail(persist, fmt.Sprintf("internal error: %v", r)); err != nil {
			logger.Error("record panic failure: %v", err)
		}
	})

	final, err := s.runStages(ctx, persist, m, rec)
	if err != nil {
		reason := s.failureReason(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		failedRec, ferr := m.Fail(persist, reason)
		if ferr != nil {
			logger.Error("record failure %q: %v", reason, ferr)
			return
		}
		s.notify(persist, logger, failedRec)
		return
	}
	status = domain.StatusCompleted
	logger.Info("completed in %s", s.now().Sub(started).Round(time.Millisecond))
	s.notify(persist, logger, final)
}

func (s *Service) failureReason(ctx context.Context, err error) string {
	if errors.Is(context.Cause(ctx), ErrStoppedByUser) {
		return domain.StopReason
	}
	return rterrors.Describe(err, maxReason)
}

func (s *Service) notify(ctx context.Context, logger logging.Logger, rec *domain.Recording) {
	if rec == nil {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, rec); err != nil {
		logger.Warn("notification failed: %v", err)
	}
}

// stage runs fn as a traced, measured stage.
func (s *Service) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := s.deps.Tracer.Start(ctx, "stage."+name)
	defer span.End()
	began := s.now()
	err := fn(ctx)
	s.deps.Observer.StageFinished(name, s.now().Sub(began), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// checkpoint reports a pending stop request.
func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ctx.Err()
	}
	return nil
}

func (s *Service) runStages(ctx, persist context.Context, m *lifecycle.Machine, rec *domain.Recording) (*domain.Recording, error) {
	logger := logging.WithPrefix(s.logger, rec.ID)

	if s.sem != nil {
		if err := m.Advance(persist, lifecycle.StageSetup, 0, "Waiting for a free browser slot"); err != nil {
			return nil, err
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, failed("setup", err)
		}
		defer s.sem.Release(1)
	}

	dir, err := s.deps.Layout.Ensure(rec.ID)
	if err != nil {
		return nil, failed("setup", err)
	}

	var handle *browser.Handle
	err = s.stage(ctx, "setup", func(ctx context.Context) error {
		if err := m.Advance(persist, lifecycle.StageSetup, 0, "Launching browser"); err != nil {
			return err
		}
		h, err := s.deps.Browsers.Acquire(ctx, browser.AcquireOptions{
			RecordingID: rec.ID,
			Browser:     rec.Browser,
			RecordDir:   dir,
			VideoFormat: rec.Composition.Format,
		})
		if err != nil {
			return err
		}
		handle = h
		return m.Advance(persist, lifecycle.StageSetup, 1, "Browser ready")
	})
	if err != nil {
		if handle != nil {
			s.deps.Browsers.Release(handle)
		}
		return nil, failed("browser setup", err)
	}
	released := false
	defer func() {
		if !released {
			s.deps.Browsers.Release(handle)
		}
	}()

	if err := s.stage(ctx, "steps", func(ctx context.Context) error {
		return s.runSteps(ctx, persist, m, rec, handle)
	}); err != nil {
		return nil, failed("steps", err)
	}

	// Closing the context finalises the capture.
	s.deps.Browsers.Release(handle)
	released = true
	video := handle.VideoPath()
	if err := s.deps.Layout.RemoveFrames(rec.ID); err != nil {
		logger.Warn("%v", err)
	}
	if err := m.BeginProcessing(persist, video); err != nil {
		return nil, err
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	if video == "" {
		return nil, failed("capture", errors.New("no video was captured"))
	}

	completion := lifecycle.Completion{FinalVideoPath: video}
	if !rec.Narration.Disabled {
		var audioPath string
		if err := s.stage(ctx, "narration", func(ctx context.Context) error {
			var err error
			audioPath, err = s.narrate(ctx, persist, m, rec.ID)
			return err
		}); err != nil {
			return nil, failed("narration", err)
		}
		completion.AudioPath = audioPath

		if err := s.stage(ctx, "composition", func(ctx context.Context) error {
			out, err := s.compose(ctx, persist, m, rec, video, audioPath)
			if err == nil {
				completion.FinalVideoPath = out
			}
			return err
		}); err != nil {
			return nil, failed("composition", err)
		}
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	var done *domain.Recording
	err = s.stage(ctx, "finalize", func(ctx context.Context) error {
		if err := m.Advance(persist, lifecycle.StageFinalize, 0, "Finalizing"); err != nil {
			return err
		}
		completion.DurationSeconds = s.probe(ctx, logger, completion.FinalVideoPath)
		completion.ShareURL = s.publish(ctx, logger, rec.ID, completion.FinalVideoPath)
		var err error
		done, err = m.Complete(persist, completion)
		return err
	})
	if err != nil {
		return nil, failed("finalize", err)
	}
	return done, nil
}

// runSteps executes instructions strictly in order. Stop requests are
// honoured between steps.
func (s *Service) runSteps(ctx, persist context.Context, m *lifecycle.Machine, rec *domain.Recording, session executor.Session) error {
	total := len(rec.Instructions)
	for i, instruction := range rec.Instructions {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		current := fmt.Sprintf("Step %d/%d: %s", i+1, total, instruction)
		if err := m.Advance(persist, lifecycle.StageSteps, float64(i)/float64(total), current); err != nil {
			return err
		}
		res := s.deps.Strategy.Resolve(ctx, instruction)
		step := s.deps.Executor.Execute(ctx, session, executor.Request{
			RecordingID: rec.ID,
			Sequence:    m.NextSequence(),
			Instruction: instruction,
			Resolution:  res,
		})
		if err := m.RecordStep(persist, step); err != nil {
			return err
		}
	}
	if err := checkpoint(ctx); err != nil {
		return err
	}
	return m.Advance(persist, lifecycle.StageSteps, 1, "All steps executed")
}

// narrate writes the narration track and returns its path. Without a
// generator, or when it fails, the step list itself is narrated. Without a
// speech provider, or when synthesis fails, the video stays silent.
func (s *Service) narrate(ctx, persist context.Context, m *lifecycle.Machine, recordingID string) (string, error) {
	logger := logging.WithPrefix(s.logger, recordingID)
	if err := m.Advance(persist, lifecycle.StageNarration, 0, "Writing narration"); err != nil {
		return "", err
	}
	rec, err := s.deps.Store.Get(persist, recordingID)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.NarrationTimeout)
	defer cancel()

	text := ""
	if s.deps.Generator != nil {
		text, err = s.deps.Generator.GenerateNarration(ctx, rec)
		if err != nil {
			if cerr := checkpoint(ctx); cerr != nil && errors.Is(cerr, ErrStoppedByUser) {
				return "", cerr
			}
			logger.Warn("narration generation failed, narrating the step list: %v", err)
			text = ""
		}
	}
	if text == "" {
		text = llm.FallbackNarration(rec)
	}
	if s.deps.Speech == nil || text == "" {
		return "", nil
	}

	if err := m.Advance(persist, lifecycle.StageNarration, 0.5, "Synthesizing voice-over"); err != nil {
		return "", err
	}
	res, err := s.deps.Speech.Synthesize(ctx, tts.Request{
		Text:  text,
		Voice: rec.Narration.Voice,
		Style: rec.Narration.Style,
		Speed: rec.Narration.Speed,
	})
	if err != nil {
		if cerr := checkpoint(ctx); cerr != nil && errors.Is(cerr, ErrStoppedByUser) {
			return "", cerr
		}
		logger.Warn("speech synthesis via %s failed, continuing without audio: %v", s.deps.Speech.Name(), err)
		return "", nil
	}
	path := s.deps.Layout.Narration(recordingID, res.Extension())
	if err := os.WriteFile(path, res.Audio, 0o644); err != nil {
		return "", fmt.Errorf("write narration: %w", err)
	}
	if err := m.AttachAudio(persist, path); err != nil {
		return "", err
	}
	return path, m.Advance(persist, lifecycle.StageNarration, 1, "Narration ready")
}

func (s *Service) compose(ctx, persist context.Context, m *lifecycle.Machine, rec *domain.Recording, video, audio string) (string, error) {
	if s.deps.Composer == nil {
		return video, nil
	}
	if err := m.Advance(persist, lifecycle.StageComposition, 0, "Composing final video"); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CompositionTimeout)
	defer cancel()
	out := s.deps.Layout.FinalVideo(rec.ID, rec.Composition.Format)
	if err := s.deps.Composer.Compose(ctx, ffmpeg.ComposeJob{
		Video:   video,
		Audio:   audio,
		Output:  out,
		Quality: rec.Browser.Quality,
		Avatar:  rec.Composition.Avatar,
	}); err != nil {
		return "", err
	}
	return out, m.Advance(persist, lifecycle.StageComposition, 1, "Video composed")
}

func (s *Service) probe(ctx context.Context, logger logging.Logger, path string) *float64 {
	if s.deps.Prober == nil || path == "" {
		return nil
	}
	res, err := s.deps.Prober.Probe(ctx, path)
	if err != nil {
		logger.Warn("probe %s: %v", path, err)
		return nil
	}
	secs := res.Seconds()
	return &secs
}

func (s *Service) publish(ctx context.Context, logger logging.Logger, recordingID, path string) string {
	if s.deps.Blobs == nil || path == "" {
		return ""
	}
	key, err := s.deps.Blobs.PutFile(ctx, blobKey(recordingID, path), path)
	if err != nil {
		logger.Warn("publish video: %v", err)
		return ""
	}
	link, err := s.deps.Blobs.GetSignedURL(ctx, key, s.cfg.ShareURLTTL)
	if err != nil {
		logger.Warn("sign video url: %v", err)
		return ""
	}
	return link
}

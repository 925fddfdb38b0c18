// Package executor performs one interpreted instruction against a browser
// page and records the outcome as a Step.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"runthru/internal/browser"
	"runthru/internal/domain"
	rterrors "runthru/internal/errors"
	"runthru/internal/interpreter"
	"runthru/internal/logging"
)

// Session is the part of a browser handle the executor drives.
type Session interface {
	Run(ctx context.Context, fn func(ctx context.Context, page browser.Page) error) error
	RunFor(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, page browser.Page) error) error
	ActionTimeout() time.Duration
}

// ScreenshotWriter persists step screenshots.
type ScreenshotWriter interface {
	WriteScreenshot(recordingID string, seq int, png []byte) (string, error)
}

// StepObserver receives one call per executed step.
type StepObserver interface {
	ObserveStep(kind domain.ActionKind, success bool, elapsed time.Duration)
}

// Request is one instruction to execute. Sequence is assigned by the
// lifecycle machine.
type Request struct {
	RecordingID string
	Sequence    int
	Instruction string
	Resolution  interpreter.Resolution
}

// Executor turns a resolved action into browser operations.
type Executor struct {
	screenshots ScreenshotWriter
	observer    StepObserver
	logger      logging.Logger
	now         func() time.Time

	// TextLookupBudget bounds the visible-text attempt of click and fill
	// before the selector fallback runs.
	TextLookupBudget time.Duration
	// ScreenshotTimeout bounds the evidence capture after each step.
	ScreenshotTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

func WithObserver(o StepObserver) Option { return func(e *Executor) { e.observer = o } }

func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// New returns an Executor that stores screenshots through screenshots.
func New(screenshots ScreenshotWriter, logger logging.Logger, opts ...Option) *Executor {
	e := &Executor{
		screenshots:       screenshots,
		logger:            logging.OrNop(logger),
		now:               time.Now,
		TextLookupBudget:  5 * time.Second,
		ScreenshotTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const maxStepError = 500

// Execute runs req on session and always returns a Step. Driver failures
// and panics become a failed step; they are never returned or rethrown.
func (e *Executor) Execute(ctx context.Context, session Session, req Request) (step domain.Step) {
	action := req.Resolution.Action
	if action == nil {
		action = interpreter.Unknown{Reason: "no action resolved"}
	}
	started := e.now()
	step = domain.Step{
		Sequence:    req.Sequence,
		Instruction: req.Instruction,
		Action:      action.Kind(),
		Timestamp:   started,
		Rationale:   req.Resolution.Rationale,
	}
	logger := logging.WithPrefix(e.logger, req.RecordingID)

	defer func() {
		if e.observer != nil {
			e.observer.ObserveStep(step.Action, step.Success, e.now().Sub(started))
		}
	}()

	note, err := e.perform(ctx, session, action)
	if err != nil {
		step.Error = rterrors.Describe(err, maxStepError)
		logger.Warn("step %d (%s) failed: %s", req.Sequence, step.Action, step.Error)
	} else if unknown, ok := action.(interpreter.Unknown); ok {
		step.Success = true
		logger.Warn("step %d: no browser action for %q (%s)", req.Sequence, req.Instruction, unknown.Reason)
	} else {
		step.Success = true
		logger.Info("step %d (%s) ok", req.Sequence, step.Action)
	}
	if note != "" {
		step.Rationale = joinNotes(step.Rationale, note)
	}

	path, shotErr := e.capture(ctx, session, req)
	if shotErr != nil {
		logger.Warn("step %d screenshot: %v", req.Sequence, shotErr)
		step.Rationale = joinNotes(step.Rationale, "screenshot unavailable: "+rterrors.Describe(shotErr, 200))
	} else {
		step.ScreenshotPath = path
	}
	return step
}

// perform dispatches on the action variant. The returned note is attached
// to the step rationale.
func (e *Executor) perform(ctx context.Context, session Session, action interpreter.Action) (note string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("browser driver panic: %v", r)
		}
	}()

	switch a := action.(type) {
	case interpreter.Navigate:
		return "", session.Run(ctx, func(ctx context.Context, page browser.Page) error {
			return page.Goto(ctx, a.URL)
		})
	case interpreter.Click:
		return "", e.textThenSelector(ctx, session, "click", a.Target,
			func(ctx context.Context, p browser.Page) error { return p.ClickText(ctx, a.Target) },
			func(ctx context.Context, p browser.Page) error { return p.ClickSelector(ctx, a.Target) },
		)
	case interpreter.Fill:
		return "", e.textThenSelector(ctx, session, "fill", a.Target,
			func(ctx context.Context, p browser.Page) error { return p.FillText(ctx, a.Target, a.Value) },
			func(ctx context.Context, p browser.Page) error { return p.FillSelector(ctx, a.Target, a.Value) },
		)
	case interpreter.Scroll:
		pixels := a.Pixels
		if pixels == 0 {
			pixels = interpreter.DefaultScrollPixels
		}
		return "", session.Run(ctx, func(ctx context.Context, page browser.Page) error {
			return page.Scroll(ctx, pixels)
		})
	case interpreter.Wait:
		d := a.Duration
		if d <= 0 {
			d = interpreter.DefaultWait
		}
		if d > interpreter.MaxWait {
			d = interpreter.MaxWait
		}
		return "", session.RunFor(ctx, d+session.ActionTimeout(), func(ctx context.Context, page browser.Page) error {
			return page.Wait(ctx, d)
		})
	case interpreter.Screenshot:
		return "", nil
	case interpreter.Unknown:
		return "unrecognised instruction, no interaction performed: " + a.Reason, nil
	default:
		return "", fmt.Errorf("unsupported action %T", action)
	}
}

// textThenSelector tries the visible-text lookup under a short budget and
// falls back to treating target as a CSS selector.
func (e *Executor) textThenSelector(
	ctx context.Context,
	session Session,
	verb, target string,
	byText, bySelector func(ctx context.Context, p browser.Page) error,
) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%s: empty target", verb)
	}
	total := session.ActionTimeout()
	budget := e.TextLookupBudget
	if budget <= 0 || budget > total/2 {
		budget = total / 2
	}

	textErr := session.RunFor(ctx, budget, byText)
	if textErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return textErr
	}
	selErr := session.RunFor(ctx, total-budget, bySelector)
	if selErr == nil {
		return nil
	}
	return fmt.Errorf("%s %q: by text: %v; by selector: %w", verb, target, textErr, selErr)
}

// capture stores a screenshot of the current view. It runs even when ctx
// was cancelled so a stopped step still leaves evidence.
func (e *Executor) capture(ctx context.Context, session Session, req Request) (path string, err error) {
	if e.screenshots == nil {
		return "", errors.New("no screenshot writer")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("screenshot panic: %v", r)
		}
	}()
	var png []byte
	err = session.RunFor(context.WithoutCancel(ctx), e.ScreenshotTimeout, func(ctx context.Context, page browser.Page) error {
		var shotErr error
		png, shotErr = page.Screenshot(ctx)
		return shotErr
	})
	if err != nil {
		return "", err
	}
	return e.screenshots.WriteScreenshot(req.RecordingID, req.Sequence, png)
}

func joinNotes(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

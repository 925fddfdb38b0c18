// Package lifecycle owns the status, progress and step sequence of one
// executing recording. Every transition is persisted before it is
// published.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"runthru/internal/artifacts"
	"runthru/internal/domain"
	"runthru/internal/events"
	"runthru/internal/logging"
	"runthru/internal/store"
)

// Stage is a weighted slice of the overall progress range.
type Stage int

const (
	StageQueued Stage = iota
	StageSetup
	StageSteps
	StageNarration
	StageComposition
	StageFinalize
)

type span struct {
	name     string
	from, to int
}

// stages is the single ordered progress table.
var stages = [...]span{
	StageQueued:      {"queued", 0, 0},
	StageSetup:       {"setup", 5, 10},
	StageSteps:       {"steps", 20, 70},
	StageNarration:   {"narration", 70, 85},
	StageComposition: {"composition", 85, 95},
	StageFinalize:    {"finalize", 95, 100},
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stages) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stages[s].name
}

// Progress maps a fraction of stage s onto the overall 0..100 range.
func (s Stage) Progress(fraction float64) int {
	if s < 0 || int(s) >= len(stages) {
		return 0
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	sp := stages[s]
	return sp.from + int(float64(sp.to-sp.from)*fraction)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(events.Event)
}

// Completion carries the outputs recorded when a recording succeeds.
type Completion struct {
	FinalVideoPath  string
	AudioPath       string
	ShareURL        string
	DurationSeconds *float64
}

// Machine drives one recording. It is used by the recording's single
// worker; the mutex only guards against concurrent reads such as Snapshot.
type Machine struct {
	store  store.Store
	pub    Publisher
	logger logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	id       string
	status   domain.Status
	progress int
	current  string
	seq      int
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(m *Machine) { m.logger = logging.OrNop(logger) }
}

// New builds a machine seeded from a stored snapshot of rec.
func New(st store.Store, pub Publisher, rec *domain.Recording, opts ...Option) *Machine {
	m := &Machine{
		store:    st,
		pub:      pub,
		logger:   logging.NewComponentLogger("Lifecycle"),
		now:      time.Now,
		id:       rec.ID,
		status:   rec.Status,
		progress: rec.Progress,
		current:  rec.CurrentStep,
		seq:      len(rec.Steps),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) ID() string { return m.id }

// Snapshot returns the machine's view of status and progress.
func (m *Machine) Snapshot() (domain.Status, int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.progress, m.current
}

func (m *Machine) publish(t events.Type, step *domain.Step) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(events.Event{
		RecordingID: m.id,
		Type:        t,
		Status:      m.status,
		Progress:    m.progress,
		CurrentStep: m.current,
		Step:        step,
		Timestamp:   m.now(),
	})
}

// apply persists p as a compare-and-set against the machine's status and
// adopts the stored result.
func (m *Machine) apply(ctx context.Context, p store.Patch) (*domain.Recording, error) {
	expect := m.status
	p.ExpectStatus = &expect
	rec, err := m.store.Update(ctx, m.id, p)
	if err != nil {
		return nil, err
	}
	m.status = rec.Status
	m.progress = rec.Progress
	m.current = rec.CurrentStep
	return rec, nil
}

// monotonic never lets progress go backwards.
func (m *Machine) monotonic(p int) int {
	if p < m.progress {
		return m.progress
	}
	return p
}

// Begin claims a pending recording for execution. A recording that is not
// pending yields domain.ErrConflict, which makes Begin the single-writer
// lock on the recording.
func (m *Machine) Begin(ctx context.Context) (*domain.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != domain.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrConflict, m.id, m.status)
	}
	rec, err := m.apply(ctx, store.Patch{
		Status:      store.Ptr(domain.StatusRecording),
		Progress:    store.Ptr(m.monotonic(StageSetup.Progress(0))),
		CurrentStep: store.Ptr("Launching browser"),
		StartedAt:   store.Ptr(m.now()),
	})
	if err != nil {
		return nil, err
	}
	m.publish(events.TypeStatus, nil)
	return rec, nil
}

// Advance reports progress within stage. Progress below the last published
// value is raised to it.
func (m *Machine) Advance(ctx context.Context, stage Stage, fraction float64, current string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := store.Patch{Progress: store.Ptr(m.monotonic(stage.Progress(fraction)))}
	if current != "" {
		p.CurrentStep = &current
	}
	if _, err := m.apply(ctx, p); err != nil {
		return err
	}
	m.publish(events.TypeProgress, nil)
	return nil
}

// NextSequence reserves the next step sequence number.
func (m *Machine) NextSequence() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

// RecordStep persists step and publishes it. A rejected append releases
// its sequence number so the next step reuses it.
func (m *Machine) RecordStep(ctx context.Context, step domain.Step) error {
	if err := m.store.AppendStep(ctx, m.id, step); err != nil {
		m.mu.Lock()
		if step.Sequence == m.seq {
			m.seq--
		}
		m.mu.Unlock()
		return fmt.Errorf("record step %d: %w", step.Sequence, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := step
	m.publish(events.TypeStep, &s)
	return nil
}

// BeginProcessing leaves the recording state once the browser is released.
func (m *Machine) BeginProcessing(ctx context.Context, videoPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := store.Patch{
		Status:      store.Ptr(domain.StatusProcessing),
		Progress:    store.Ptr(m.monotonic(StageNarration.Progress(0))),
		CurrentStep: store.Ptr("Processing recording"),
	}
	if videoPath != "" {
		p.VideoPath = &videoPath
	}
	if _, err := m.apply(ctx, p); err != nil {
		return err
	}
	m.publish(events.TypeStatus, nil)
	return nil
}

// AttachAudio records the narration track.
func (m *Machine) AttachAudio(ctx context.Context, audioPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.apply(ctx, store.Patch{AudioPath: &audioPath})
	return err
}

// Complete finishes the recording at 100%. A duration that is already
// stored is kept.
func (m *Machine) Complete(ctx context.Context, c Completion) (*domain.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := store.Patch{
		Status:          store.Ptr(domain.StatusCompleted),
		Progress:        store.Ptr(100),
		CurrentStep:     store.Ptr("Completed"),
		DurationSeconds: c.DurationSeconds,
		CompletedAt:     store.Ptr(m.now()),
	}
	if c.FinalVideoPath != "" {
		p.FinalVideoPath = &c.FinalVideoPath
	}
	if c.AudioPath != "" {
		p.AudioPath = &c.AudioPath
	}
	if c.ShareURL != "" {
		p.ShareURL = &c.ShareURL
	}
	rec, err := m.apply(ctx, p)
	if err != nil {
		return nil, err
	}
	m.publish(events.TypeStatus, nil)
	return rec, nil
}

// Fail moves the recording to failed with reason as its current step.
// Artifact paths whose files are missing are cleared so a failed
// recording never points at nothing.
func (m *Machine) Fail(ctx context.Context, reason string) (*domain.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Terminal() {
		return nil, fmt.Errorf("%w: %s is already %s", domain.ErrConflict, m.id, m.status)
	}
	if reason == "" {
		reason = "Recording failed"
	}
	p := store.Patch{
		Status:      store.Ptr(domain.StatusFailed),
		CurrentStep: &reason,
		CompletedAt: store.Ptr(m.now()),
	}
	if cur, err := m.store.Get(ctx, m.id); err == nil {
		empty := ""
		if cur.VideoPath != "" && !artifacts.Exists(cur.VideoPath) {
			p.VideoPath = &empty
		}
		if cur.AudioPath != "" && !artifacts.Exists(cur.AudioPath) {
			p.AudioPath = &empty
		}
		if cur.FinalVideoPath != "" && !artifacts.Exists(cur.FinalVideoPath) {
			p.FinalVideoPath = &empty
		}
	} else {
		m.logger.Warn("Recording %s: could not load artifacts before failing: %v", m.id, err)
	}
	rec, err := m.apply(ctx, p)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Recording %s failed: %s", m.id, reason)
	m.publish(events.TypeStatus, nil)
	return rec, nil
}

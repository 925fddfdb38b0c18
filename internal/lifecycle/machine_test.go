package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runthru/internal/domain"
	"runthru/internal/events"
	"runthru/internal/logging"
	"runthru/internal/store"
	"runthru/internal/store/memstore"
)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

func setup(t *testing.T) (*Machine, store.Store, *eventLog) {
	t.Helper()
	st := memstore.New()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := &domain.Recording{ID: "rec-1", TargetURL: "https://example.com", Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.Create(context.Background(), rec))
	log := &eventLog{}
	m := New(st, log, rec, WithClock(func() time.Time { return now }), WithLogger(logging.Nop()))
	return m, st, log
}

func TestStageProgressTable(t *testing.T) {
	assert.Equal(t, 0, StageQueued.Progress(0.5))
	assert.Equal(t, 5, StageSetup.Progress(0))
	assert.Equal(t, 10, StageSetup.Progress(1))
	assert.Equal(t, 20, StageSteps.Progress(0))
	assert.Equal(t, 45, StageSteps.Progress(0.5))
	assert.Equal(t, 70, StageSteps.Progress(2), "fraction is clamped")
	assert.Equal(t, 85, StageComposition.Progress(0))
	assert.Equal(t, 100, StageFinalize.Progress(1))
	assert.Equal(t, "composition", StageComposition.String())
}

func TestHappyPathTransitions(t *testing.T) {
	m, st, log := setup(t)
	ctx := context.Background()

	rec, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRecording, rec.Status)
	assert.Equal(t, 5, rec.Progress)
	require.NotNil(t, rec.StartedAt)

	require.NoError(t, m.Advance(ctx, StageSetup, 1, "Browser ready"))
	for i := 1; i <= 2; i++ {
		seq := m.NextSequence()
		require.NoError(t, m.RecordStep(ctx, domain.Step{Sequence: seq, Instruction: "click", Action: domain.ActionClick, Success: true}))
		require.NoError(t, m.Advance(ctx, StageSteps, float64(i)/2, ""))
	}
	require.NoError(t, m.BeginProcessing(ctx, "/tmp/rec-1/recording.mp4"))
	require.NoError(t, m.Advance(ctx, StageComposition, 0, "Composing video"))

	d := 12.5
	done, err := m.Complete(ctx, Completion{FinalVideoPath: "/tmp/rec-1/final.mp4", DurationSeconds: &d})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, "/tmp/rec-1/final.mp4", done.AuthoritativeVideo())
	require.NotNil(t, done.CompletedAt)

	stored, err := st.Get(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, stored.Steps, 2)
	assert.Equal(t, 1, stored.Steps[0].Sequence)
	assert.Equal(t, 2, stored.Steps[1].Sequence)

	evs := log.snapshot()
	last := -1
	for _, e := range evs {
		assert.GreaterOrEqual(t, e.Progress, last, "progress never decreases")
		last = e.Progress
		assert.Equal(t, "rec-1", e.RecordingID)
	}
	assert.True(t, evs[len(evs)-1].Terminal())
	assert.Equal(t, 100, evs[len(evs)-1].Progress)

	var steps int
	for _, e := range evs {
		if e.Type == events.TypeStep {
			steps++
			require.NotNil(t, e.Step)
		}
	}
	assert.Equal(t, 2, steps)
}

func TestBeginTwiceConflicts(t *testing.T) {
	m, st, _ := setup(t)
	_, err := m.Begin(context.Background())
	require.NoError(t, err)
	_, err = m.Begin(context.Background())
	assert.ErrorIs(t, err, domain.ErrConflict)

	stale := New(st, nil, &domain.Recording{ID: "rec-1", Status: domain.StatusPending})
	_, err = stale.Begin(context.Background())
	assert.ErrorIs(t, err, domain.ErrConflict, "store compare-and-set rejects a stale machine")
}

func TestAdvanceIsMonotonic(t *testing.T) {
	m, _, log := setup(t)
	ctx := context.Background()
	_, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, StageSteps, 0.8, ""))
	require.NoError(t, m.Advance(ctx, StageSetup, 1, "late setup report"))

	_, progress, current := m.Snapshot()
	assert.Equal(t, StageSteps.Progress(0.8), progress)
	assert.Equal(t, "late setup report", current)
	evs := log.snapshot()
	assert.Equal(t, evs[len(evs)-2].Progress, evs[len(evs)-1].Progress)
}

func TestDurationIsWrittenOnce(t *testing.T) {
	m, st, _ := setup(t)
	ctx := context.Background()
	first := 30.0
	_, err := st.Update(ctx, "rec-1", store.Patch{DurationSeconds: &first})
	require.NoError(t, err)

	_, err = m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, m.BeginProcessing(ctx, ""))
	second := 99.0
	done, err := m.Complete(ctx, Completion{DurationSeconds: &second})
	require.NoError(t, err)
	require.NotNil(t, done.DurationSeconds)
	assert.Equal(t, 30.0, *done.DurationSeconds)
}

func TestFailClearsMissingArtifacts(t *testing.T) {
	m, st, log := setup(t)
	ctx := context.Background()
	dir := t.TempDir()
	video := filepath.Join(dir, "recording.mp4")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o644))
	missing := filepath.Join(dir, "narration.wav")

	_, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, m.BeginProcessing(ctx, video))
	require.NoError(t, m.AttachAudio(ctx, missing))

	failed, err := m.Fail(ctx, "composition failed: ffmpeg exited with code 1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "composition failed: ffmpeg exited with code 1", failed.CurrentStep)
	assert.Equal(t, video, failed.VideoPath)
	assert.Empty(t, failed.AudioPath)
	assert.NotNil(t, failed.CompletedAt)

	evs := log.snapshot()
	assert.True(t, evs[len(evs)-1].Terminal())

	_, err = m.Fail(ctx, "again")
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = st.Update(ctx, "rec-1", store.Patch{Status: store.Ptr(domain.StatusCompleted)})
	assert.ErrorIs(t, err, domain.ErrConflict, "failed is terminal")
}

func TestFailPendingRecording(t *testing.T) {
	m, _, _ := setup(t)
	rec, err := m.Fail(context.Background(), domain.StopReason)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, domain.StopReason, rec.CurrentStep)
}

func TestRecordStepRejectsGapAndReleasesSequence(t *testing.T) {
	m, st, _ := setup(t)
	ctx := context.Background()
	_, err := m.Begin(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, m.RecordStep(ctx, domain.Step{Sequence: 3}), domain.ErrConflict)
	seq := m.NextSequence()
	assert.Equal(t, 1, seq)
	require.NoError(t, m.RecordStep(ctx, domain.Step{Sequence: seq}))

	// A failed append of a reserved number hands it out again.
	seq = m.NextSequence()
	assert.Equal(t, 2, seq)
	require.NoError(t, st.Delete(ctx, "rec-1"))
	assert.ErrorIs(t, m.RecordStep(ctx, domain.Step{Sequence: seq}), domain.ErrNotFound)
	assert.Equal(t, 2, m.NextSequence())
}

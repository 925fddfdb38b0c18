// Package storetest holds the behaviour every store.Store backend must
// share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runthru/internal/domain"
	"runthru/internal/store"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) store.Store

func newRecording(id string, created time.Time) *domain.Recording {
	return &domain.Recording{
		ID:           id,
		TargetURL:    "https://example.com",
		Instructions: []string{"navigate to https://example.com", "click Login"},
		Browser:      domain.BrowserConfig{Engine: domain.EngineChromium, ViewportWidth: 1280, ViewportHeight: 720},
		Status:       domain.StatusPending,
		CreatedAt:    created,
		UpdatedAt:    created,
		Steps:        []domain.Step{},
	}
}

// Run exercises the full contract against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, factory(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, factory(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, factory(t)) })
	t.Run("ListOrderAndPaging", func(t *testing.T) { testList(t, factory(t)) })
	t.Run("UpdateCompareAndSet", func(t *testing.T) { testCAS(t, factory(t)) })
	t.Run("IllegalTransition", func(t *testing.T) { testIllegalTransition(t, factory(t)) })
	t.Run("DurationWrittenOnce", func(t *testing.T) { testDurationOnce(t, factory(t)) })
	t.Run("AppendStepGapless", func(t *testing.T) { testAppendStep(t, factory(t)) })
	t.Run("ReturnedCopiesAreIsolated", func(t *testing.T) { testIsolation(t, factory(t)) })
	t.Run("ConcurrentBegin", func(t *testing.T) { testConcurrentBegin(t, factory(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory(t)) })
}

func testCreateGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(ctx, newRecording("rec-a", created)))

	got, err := s.Get(ctx, "rec-a")
	require.NoError(t, err)
	assert.Equal(t, "rec-a", got.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, []string{"navigate to https://example.com", "click Login"}, got.Instructions)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.NotNil(t, got.Steps)
	assert.Empty(t, got.Steps)
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecording("rec-a", time.Now())))
	assert.ErrorIs(t, s.Create(ctx, newRecording("rec-a", time.Now())), domain.ErrConflict)
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Get(ctx, "rec-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Update(ctx, "rec-missing", store.Patch{Progress: store.Ptr(1)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.AppendStep(ctx, "rec-missing", domain.Step{Sequence: 1}), domain.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "rec-missing"), domain.ErrNotFound)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(ctx, newRecording(fmt.Sprintf("rec-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	_, err := s.Update(ctx, "rec-1", store.Patch{Status: store.Ptr(domain.StatusFailed)})
	require.NoError(t, err)

	all, err := s.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "rec-4", all[0].ID, "newest first")
	assert.Equal(t, "rec-0", all[4].ID)

	page, err := s.List(ctx, store.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "rec-3", page[0].ID)
	assert.Equal(t, "rec-2", page[1].ID)

	failed, err := s.List(ctx, store.ListOptions{Status: domain.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "rec-1", failed[0].ID)

	older, err := s.List(ctx, store.ListOptions{CreatedBefore: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, older, 2)

	beyond, err := s.List(ctx, store.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func testCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecording("rec-a", time.Now())))

	begin := store.Patch{
		ExpectStatus: store.Ptr(domain.StatusPending),
		Status:       store.Ptr(domain.StatusRecording),
		Progress:     store.Ptr(5),
		CurrentStep:  store.Ptr("Launching browser"),
		StartedAt:    store.Ptr(time.Now()),
	}
	got, err := s.Update(ctx, "rec-a", begin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRecording, got.Status)
	assert.Equal(t, 5, got.Progress)
	assert.Equal(t, "Launching browser", got.CurrentStep)
	assert.NotNil(t, got.StartedAt)

	_, err = s.Update(ctx, "rec-a", begin)
	assert.ErrorIs(t, err, domain.ErrConflict)

	stored, err := s.Get(ctx, "rec-a")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Progress, "rejected patch must not apply partially")
}

func testIllegalTransition(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecording("rec-a", time.Now())))
	_, err := s.Update(ctx, "rec-a", store.Patch{Status: store.Ptr(domain.StatusCompleted)})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.Update(ctx, "rec-a", store.Patch{Status: store.Ptr(domain.StatusFailed)})
	require.NoError(t, err)
	_, err = s.Update(ctx, "rec-a", store.Patch{Status: store.Ptr(domain.StatusPending)})
	assert.ErrorIs(t, err, domain.ErrConflict, "terminal states are final")
}

func testDurationOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecording("rec-a", time.Now())))
	_, err := s.Update(ctx, "rec-a", store.Patch{DurationSeconds: store.Ptr(12.5)})
	require.NoError(t, err)
	got, err := s.Update(ctx, "rec-a", store.Patch{DurationSeconds: store.Ptr(99.0)})
	require.NoError(t, err)
	require.NotNil(t, got.DurationSeconds)
	assert.InDelta(t, 12.5, *got.DurationSeconds, 1e-9)
}

func testAppendStep(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecording("rec-a", time.Now())))

	for seq := 1; seq <= 3; seq++ {
		step := domain.Step{
			Sequence:    seq,
			Instruction: fmt.Sprintf("step %d", seq),
			Action:      domain.ActionClick,
			Success:     true,
		}
		if seq == 2 {
			step.Success, step.Error = false, "boom"
		}
		require.NoError(t, s.AppendStep(ctx, "rec-a", step))
	}
	assert.ErrorIs(t, s.AppendStep(ctx, "rec-a", domain.Step{Sequence: 3}), domain.ErrConflict, "duplicate")
	assert.ErrorIs(t, s.AppendStep(ctx, "rec-a", domain.Step{Sequence: 5}), domain.ErrConflict, "gap")

	got, err := s.Get(ctx, "rec-a")
	require.NoError(t, err)
	require.Len(t, got.Steps, 3)
	for i, step := range got.Steps {
		assert.Equal(t, i+1, step.Sequence)
	}
	assert.False(t, got.Steps[1].Success)
	assert.Equal(t, "boom", got.Steps[1].Error)
}

func testIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := newRecording("rec-a", time.Now())
	require.NoError(t, s.Create(ctx, rec))
	rec.Instructions[0] = "mutated after create"

	got, err := s.Get(ctx, "rec-a")
	require.NoError(t, err)
	got.Instructions[1] = "mutated after get"
	got.Status = domain.StatusCompleted

	again, err := s.Get(ctx, "rec-a")
	require.NoError(t, err)
	assert.Equal(t, "navigate to https://example.com", again.Instructions[0])
	assert.Equal(t, "click Login", again.Instructions[1])
	assert.Equal(t, domain.StatusPending, again.Status)
}

func testConcurrentBegin(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecording("rec-a", time.Now())))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "rec-a", store.Patch{
				ExpectStatus: store.Ptr(domain.StatusPending),
				Status:       store.Ptr(domain.StatusRecording),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrConflict)
	}
	assert.Equal(t, 1, wins)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecording("rec-a", time.Now())))
	require.NoError(t, s.Delete(ctx, "rec-a"))
	_, err := s.Get(ctx, "rec-a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

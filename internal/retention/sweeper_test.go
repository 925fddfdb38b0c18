package retention

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runthru/internal/domain"
	"runthru/internal/logging"
	"runthru/internal/store"
	"runthru/internal/store/memstore"
)

type recordings struct {
	*memstore.Store
	failOn string
}

func (r *recordings) Delete(ctx context.Context, id string) error {
	if id == r.failOn {
		return errors.New("disk busy")
	}
	return r.Store.Delete(ctx, id)
}

var now = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, st *memstore.Store, id string, status domain.Status, age time.Duration) {
	t.Helper()
	created := now.Add(-age)
	require.NoError(t, st.Create(context.Background(), &domain.Recording{
		ID: id, TargetURL: "https://example.com", Status: status, CreatedAt: created, UpdatedAt: created,
	}))
}

func TestSweepRemovesOnlyOldTerminalRecordings(t *testing.T) {
	st := memstore.New()
	seed(t, st, "old-done", domain.StatusCompleted, 40*24*time.Hour)
	seed(t, st, "old-failed", domain.StatusFailed, 31*24*time.Hour)
	seed(t, st, "old-active", domain.StatusRecording, 60*24*time.Hour)
	seed(t, st, "old-pending", domain.StatusPending, 60*24*time.Hour)
	seed(t, st, "fresh-done", domain.StatusCompleted, time.Hour)

	s, err := New(Config{MaxAge: 30 * 24 * time.Hour}, &recordings{Store: st}, logging.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := st.List(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	var ids []string
	for _, r := range left {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"old-active", "old-pending", "fresh-done"}, ids)
}

func TestSweepPagesPastFailures(t *testing.T) {
	st := memstore.New()
	for i := 0; i < pageSize+5; i++ {
		seed(t, st, fmt.Sprintf("rec-%03d", i), domain.StatusCompleted, 48*time.Hour+time.Duration(i)*time.Minute)
	}
	s, err := New(Config{MaxAge: 24 * time.Hour}, &recordings{Store: st, failOn: "rec-004"}, logging.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pageSize+4, n)
	_, err = st.Get(context.Background(), "rec-004")
	assert.NoError(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, &recordings{Store: memstore.New()}, nil)
	assert.Error(t, err)
	_, err = New(Config{Schedule: "not a cron", MaxAge: time.Hour}, &recordings{Store: memstore.New()}, nil)
	assert.Error(t, err)

	s, err := New(Config{MaxAge: time.Hour}, &recordings{Store: memstore.New()}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()
	s.Stop()
}

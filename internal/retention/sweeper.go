// Package retention periodically deletes old terminal recordings together
// with their artifacts.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"runthru/internal/async"
	"runthru/internal/domain"
	"runthru/internal/logging"
	"runthru/internal/store"
)

// Recordings is the part of the pipeline service the sweeper uses.
// *pipeline.Service implements it.
type Recordings interface {
	List(ctx context.Context, opts store.ListOptions) ([]*domain.Recording, error)
	Delete(ctx context.Context, recordingID string) error
}

type Config struct {
	// Schedule is a five-field cron expression or a descriptor such as
	// "@every 1h".
	Schedule string
	// MaxAge is how long a terminal recording is kept after creation.
	MaxAge time.Duration
	// SweepTimeout bounds one sweep.
	SweepTimeout time.Duration
}

const pageSize = 100

// Sweeper runs retention sweeps on a cron schedule.
type Sweeper struct {
	cfg    Config
	recs   Recordings
	logger logging.Logger
	now    func() time.Time
	cron   *cron.Cron

	stopOnce sync.Once
}

func New(cfg Config, recs Recordings, logger logging.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "17 3 * * *"
	}
	if cfg.MaxAge <= 0 {
		return nil, errors.New("retention: max age must be positive")
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 10 * time.Minute
	}
	s := &Sweeper{
		cfg:    cfg,
		recs:   recs,
		logger: logging.OrNop(logger),
		now:    time.Now,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.runScheduled); err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins scheduling; the sweeper stops when ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("Retention sweeper started (schedule %q, max age %s)", s.cfg.Schedule, s.cfg.MaxAge)
	async.Go(s.logger, "retention.stop", func() {
		<-ctx.Done()
		s.Stop()
	})
}

// Stop waits for a running sweep to finish. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.logger.Info("Retention sweeper stopped")
	})
}

func (s *Sweeper) runScheduled() {
	defer async.Recover(s.logger, "retention.sweep")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Warn("Retention sweep failed: %v", err)
	}
}

// Sweep deletes terminal recordings created before now minus MaxAge and
// returns how many were removed. Active recordings are never touched.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.MaxAge)
	var deleted int
	for _, status := range []domain.Status{domain.StatusCompleted, domain.StatusFailed} {
		offset := 0
		for {
			page, err := s.recs.List(ctx, store.ListOptions{
				Status:        status,
				CreatedBefore: cutoff,
				Limit:         pageSize,
				Offset:        offset,
			})
			if err != nil {
				return deleted, err
			}
			for _, rec := range page {
				if err := s.recs.Delete(ctx, rec.ID); err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						continue
					}
					s.logger.Warn("Retention: delete %s: %v", rec.ID, err)
					offset++
					continue
				}
				deleted++
			}
			if len(page) < pageSize {
				break
			}
		}
	}
	if deleted > 0 {
		s.logger.Info("Retention removed %d recordings older than %s", deleted, cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// Package sqlitestore persists recordings in SQLite through gorm.
package sqlitestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"runthru/internal/domain"
	"runthru/internal/logging"
	"runthru/internal/store"
)

// RecordingModel is the table row. The full recording lives in Data.
type RecordingModel struct {
	ID        string    `gorm:"primaryKey"`
	Status    string    `gorm:"index;not null"`
	Data      []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (RecordingModel) TableName() string { return "recordings" }

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// gormLogger forwards slow queries and errors to the component logger.
type gormLogger struct {
	level  gormlogger.LogLevel
	logger logging.Logger
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{level: level, logger: l.logger}
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.logger.Info(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.logger.Error(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.Error("query failed after %s (rows=%d): %v: %s", elapsed, rows, err, sql)
	case elapsed > 200*time.Millisecond && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn("slow query %s (rows=%d): %s", elapsed, rows, sql)
	}
}

// New opens (creating when missing) the database at path. ":memory:" is
// accepted for tests.
func New(path string) (*Store, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  (&gormLogger{logger: logging.NewComponentLogger("RecordingSQLiteStore")}).LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	if err := db.AutoMigrate(&RecordingModel{}); err != nil {
		return nil, fmt.Errorf("migrate recordings: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared.
	sqlDB.SetMaxOpenConns(1)

	return &Store{db: db, now: time.Now}, nil
}

func toModel(rec *domain.Recording) (*RecordingModel, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode recording: %w", err)
	}
	return &RecordingModel{
		ID:        rec.ID,
		Status:    string(rec.Status),
		Data:      data,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func fromModel(m *RecordingModel) (*domain.Recording, error) {
	var rec domain.Recording
	if err := json.Unmarshal(m.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode recording %s: %w", m.ID, err)
	}
	if rec.Steps == nil {
		rec.Steps = []domain.Step{}
	}
	return &rec, nil
}

func (s *Store) Create(ctx context.Context, rec *domain.Recording) error {
	if rec == nil || rec.ID == "" {
		return errors.New("recording id is required")
	}
	cp := rec.Clone()
	if cp.Steps == nil {
		cp.Steps = []domain.Step{}
	}
	m, err := toModel(cp)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&RecordingModel{}).Where("id = ?", cp.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s already exists", domain.ErrConflict, cp.ID)
		}
		return tx.Create(m).Error
	})
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Recording, error) {
	var m RecordingModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("load recording %s: %w", id, err)
	}
	return fromModel(&m)
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]*domain.Recording, error) {
	q := s.db.WithContext(ctx).Model(&RecordingModel{})
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", opts.CreatedBefore)
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "created_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}})
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			q = q.Limit(-1)
		}
		q = q.Offset(opts.Offset)
	}

	var models []RecordingModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	out := make([]*domain.Recording, 0, len(models))
	for i := range models {
		rec, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) modify(ctx context.Context, id string, fn func(rec *domain.Recording) error) (*domain.Recording, error) {
	var result *domain.Recording
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m RecordingModel
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
			}
			return err
		}
		rec, err := fromModel(&m)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		next, err := toModel(rec)
		if err != nil {
			return err
		}
		if err := tx.Model(&RecordingModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":     next.Status,
			"data":       next.Data,
			"updated_at": next.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Update(ctx context.Context, id string, p store.Patch) (*domain.Recording, error) {
	return s.modify(ctx, id, func(rec *domain.Recording) error {
		return store.Apply(rec, p, s.now())
	})
}

func (s *Store) AppendStep(ctx context.Context, id string, step domain.Step) error {
	_, err := s.modify(ctx, id, func(rec *domain.Recording) error {
		if err := store.CheckAppend(rec, step); err != nil {
			return err
		}
		rec.Steps = append(rec.Steps, step)
		rec.UpdatedAt = s.now()
		return nil
	})
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&RecordingModel{})
	if res.Error != nil {
		return fmt.Errorf("delete recording: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

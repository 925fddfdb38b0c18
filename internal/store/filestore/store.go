// Package filestore persists each recording as a JSON file in one
// directory. It serialises writers within a process only.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"runthru/internal/domain"
	"runthru/internal/logging"
	"runthru/internal/store"
)

var safeID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type Store struct {
	dir    string
	mu     sync.RWMutex
	logger logging.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates dir when missing. A leading ~/ is expanded.
func New(dir string) (*Store, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logging.NewComponentLogger("RecordingFileStore"),
		now:    time.Now,
	}, nil
}

func (s *Store) path(id string) (string, error) {
	if !safeID.MatchString(id) {
		return "", fmt.Errorf("%w: invalid id %q", domain.ErrNotFound, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *Store) read(id string) (*domain.Recording, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("read recording %s: %w", id, err)
	}
	var rec domain.Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode recording %s: %w", id, err)
	}
	if rec.Steps == nil {
		rec.Steps = []domain.Step{}
	}
	return &rec, nil
}

// write replaces the file atomically via rename.
func (s *Store) write(rec *domain.Recording) error {
	path, err := s.path(rec.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode recording %s: %w", rec.ID, err)
	}
	tmp, err := os.CreateTemp(s.dir, rec.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write recording %s: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close recording %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename recording %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, rec *domain.Recording) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("recording is nil")
	}
	path, err := s.path(rec.ID)
	if err != nil {
		return fmt.Errorf("invalid recording id %q", rec.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s already exists", domain.ErrConflict, rec.ID)
	}
	cp := rec.Clone()
	if cp.Steps == nil {
		cp.Steps = []domain.Step{}
	}
	return s.write(cp)
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]*domain.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list store dir: %w", err)
	}
	all := make([]*domain.Recording, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn("skip unreadable recording file %s: %v", name, err)
			continue
		}
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return store.Page(all, opts), nil
}

func (s *Store) Update(ctx context.Context, id string, p store.Patch) (*domain.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := store.Apply(rec, p, s.now()); err != nil {
		return nil, err
	}
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) AppendStep(ctx context.Context, id string, step domain.Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(id)
	if err != nil {
		return err
	}
	if err := store.CheckAppend(rec, step); err != nil {
		return err
	}
	rec.Steps = append(rec.Steps, step)
	rec.UpdatedAt = s.now()
	return s.write(rec)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return fmt.Errorf("delete recording %s: %w", id, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
